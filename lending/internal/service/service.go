package service

import (
	"context"
	"time"

	"github.com/astlibr/lending-service/lending/internal/errs"
	"github.com/astlibr/lending-service/lending/internal/model"
	"github.com/astlibr/lending-service/lending/internal/repository"
	"github.com/astlibr/lending-service/pkg/auth"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is the borrowing engine. It is the sole writer of transaction
// records and book availability; every invariant lives here.
type Service struct {
	log  *zap.Logger
	repo repository.Repository
	now  func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo repository.Repository, log *zap.Logger, ops ...Option) *Service {
	s := &Service{
		log:  log,
		repo: repo,
		now:  time.Now,
	}
	for _, op := range ops {
		op(s)
	}
	return s
}

// BorrowBook checks the borrow preconditions in order (first failure wins)
// and then reserves a copy and creates the transaction. A create failure
// rolls the reservation back.
func (s *Service) BorrowBook(ctx context.Context, req model.BorrowRequest) (model.TransactionResponse, error) {
	book, err := s.repo.GetBook(ctx, req.BookUid)
	if err != nil {
		return model.TransactionResponse{}, err
	}
	if book.AvailableQuantity <= 0 {
		return model.TransactionResponse{}, errs.ErrBookUnavailable
	}
	member, err := s.repo.GetMember(ctx, req.UserName)
	if err != nil {
		return model.TransactionResponse{}, err
	}
	if !member.IsActive {
		return model.TransactionResponse{}, errs.ErrMemberNotFound
	}
	active, err := s.repo.CountActiveByUser(ctx, req.UserName)
	if err != nil {
		return model.TransactionResponse{}, err
	}
	if active >= LimitFor(member.MembershipType) {
		return model.TransactionResponse{}, errs.ErrLimitReached
	}
	if _, err := s.repo.GetActiveTransaction(ctx, req.UserName, req.BookUid); err == nil {
		return model.TransactionResponse{}, errs.ErrAlreadyBorrowed
	} else if !errors.Is(err, errs.ErrTransactionNotFound) {
		return model.TransactionResponse{}, err
	}

	if err := s.repo.ReserveBook(ctx, req.BookUid); err != nil {
		return model.TransactionResponse{}, err
	}

	now := s.now().UTC()
	tr, err := s.repo.CreateTransaction(ctx, model.Transaction{
		TransactionUid: uuid.NewString(),
		UserName:       req.UserName,
		BookUid:        req.BookUid,
		BorrowDate:     now,
		DueDate:        now.AddDate(0, 0, LoanPeriodDays(member.MembershipType)),
		Status:         model.StatusBorrowed,
		LateFee:        0,
		RenewalCount:   0,
		Notes:          req.Notes,
	})
	if err != nil {
		if _, rbErr := s.repo.ReleaseBook(ctx, req.BookUid); rbErr != nil {
			s.log.Warn("BorrowBook release rollback", zap.String("bookUid", req.BookUid), zap.Error(rbErr))
		}
		return model.TransactionResponse{}, err
	}

	s.log.Info("book borrowed",
		zap.String("transactionUid", tr.TransactionUid),
		zap.String("userName", tr.UserName),
		zap.String("bookUid", tr.BookUid))

	return s.enrich(ctx, tr, now)
}

// ReturnBook closes a transaction, computes the late fee and puts the copy
// back on the shelf. The copy is released exactly once even if the caller
// retries.
func (s *Service) ReturnBook(ctx context.Context, transactionUid, caller string, req model.ReturnRequest) (model.TransactionResponse, error) {
	tr, err := s.repo.GetTransaction(ctx, transactionUid)
	if err != nil {
		return model.TransactionResponse{}, err
	}
	if tr.UserName != caller && !auth.IsAdmin(ctx) {
		return model.TransactionResponse{}, errs.ErrForbidden
	}
	if tr.Status == model.StatusReturned {
		return model.TransactionResponse{}, errs.ErrAlreadyReturned
	}

	now := s.now().UTC()
	fee := LateFee(tr.DueDate, now)

	var condition *model.Condition
	if req.Condition != "" {
		c := req.Condition
		condition = &c
	}
	updated, err := s.repo.CompleteReturn(ctx, transactionUid, now, fee, condition, req.Notes)
	if err != nil {
		return model.TransactionResponse{}, err
	}

	clamped, err := s.repo.ReleaseBook(ctx, tr.BookUid)
	if err != nil {
		return model.TransactionResponse{}, err
	}
	if clamped {
		// counter was already at total; someone released a copy that was
		// never reserved
		s.log.Warn("release clamped at total quantity", zap.String("bookUid", tr.BookUid))
	}

	s.log.Info("book returned",
		zap.String("transactionUid", updated.TransactionUid),
		zap.Int64("lateFeeCents", int64(updated.LateFee)),
		zap.Int("daysOverdue", DaysOverdue(updated.DueDate, now)))

	return s.enrich(ctx, updated, now)
}

// RenewBook extends the due date from the previous due date, not from now.
// Overdue transactions cannot be renewed; they must be returned first.
func (s *Service) RenewBook(ctx context.Context, transactionUid, caller string) (model.TransactionResponse, error) {
	tr, err := s.repo.GetTransaction(ctx, transactionUid)
	if err != nil {
		return model.TransactionResponse{}, err
	}
	if tr.UserName != caller {
		return model.TransactionResponse{}, errs.ErrForbidden
	}
	if tr.Status == model.StatusReturned {
		return model.TransactionResponse{}, errs.ErrNotRenewable
	}
	if tr.RenewalCount >= 3 {
		return model.TransactionResponse{}, errs.ErrRenewalLimitReached
	}
	now := s.now().UTC()
	if now.After(tr.DueDate) {
		return model.TransactionResponse{}, errs.ErrOverdue
	}

	member, err := s.repo.GetMember(ctx, tr.UserName)
	if err != nil {
		return model.TransactionResponse{}, err
	}
	newDue := tr.DueDate.AddDate(0, 0, LoanPeriodDays(member.MembershipType))

	updated, err := s.repo.RenewTransaction(ctx, transactionUid, newDue)
	if err != nil {
		return model.TransactionResponse{}, err
	}

	s.log.Info("transaction renewed",
		zap.String("transactionUid", updated.TransactionUid),
		zap.Time("dueDate", updated.DueDate),
		zap.Int("renewalCount", updated.RenewalCount))

	return s.enrich(ctx, updated, now)
}

// GetTransactions lists the caller's transactions with the derived status,
// optionally filtered by status (OVERDUE is computed on the fly).
func (s *Service) GetTransactions(ctx context.Context, userName string, status model.Status, page, size int) (model.ListTransactions, error) {
	all, err := s.repo.ListTransactionsByUser(ctx, userName)
	if err != nil {
		return model.ListTransactions{}, err
	}
	now := s.now().UTC()

	filtered := all[:0:0]
	for _, tr := range all {
		if status != "" && tr.StatusAt(now) != status {
			continue
		}
		filtered = append(filtered, tr)
	}
	total := len(filtered)
	if page != 0 && size != 0 {
		lo := (page - 1) * size
		if lo > total {
			lo = total
		}
		hi := lo + size
		if hi > total {
			hi = total
		}
		filtered = filtered[lo:hi]
	}

	items := make([]model.TransactionResponse, 0, len(filtered))
	for _, tr := range filtered {
		resp, err := s.enrich(ctx, tr, now)
		if err != nil {
			return model.ListTransactions{}, err
		}
		items = append(items, resp)
	}

	return model.ListTransactions{
		Paging: model.Paging{Page: page, PageSize: size, TotalElements: total},
		Items:  items,
	}, nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionUid, caller string) (model.TransactionResponse, error) {
	tr, err := s.repo.GetTransaction(ctx, transactionUid)
	if err != nil {
		return model.TransactionResponse{}, err
	}
	if tr.UserName != caller && !auth.IsAdmin(ctx) {
		return model.TransactionResponse{}, errs.ErrForbidden
	}
	return s.enrich(ctx, tr, s.now().UTC())
}

func (s *Service) CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error) {
	available := req.TotalQuantity
	if req.AvailableQuantity != nil {
		available = *req.AvailableQuantity
	}
	if available > req.TotalQuantity {
		available = req.TotalQuantity
	}
	return s.repo.CreateBook(ctx, model.Book{
		BookUid:           uuid.NewString(),
		Name:              req.Name,
		Author:            req.Author,
		Genre:             req.Genre,
		TotalQuantity:     req.TotalQuantity,
		AvailableQuantity: available,
	})
}

func (s *Service) GetBook(ctx context.Context, bookUid string) (model.Book, error) {
	return s.repo.GetBook(ctx, bookUid)
}

func (s *Service) ListBooks(ctx context.Context, showAll bool, page, size int) (model.ListBooks, error) {
	return s.repo.ListBooks(ctx, showAll, page, size)
}

func (s *Service) CreateMember(ctx context.Context, req model.CreateMemberRequest) (model.Member, error) {
	return s.repo.CreateMember(ctx, model.Member{
		Name:           req.Name,
		MembershipType: req.MembershipType,
		IsActive:       true,
	})
}

func (s *Service) GetMember(ctx context.Context, name string) (model.Member, error) {
	return s.repo.GetMember(ctx, name)
}

// AdjustQuantity applies a restock delta from the inventory feed.
func (s *Service) AdjustQuantity(ctx context.Context, bookUid string, delta int) error {
	book, err := s.repo.AdjustQuantity(ctx, bookUid, delta)
	if err != nil {
		return err
	}
	s.log.Debug("quantity adjusted",
		zap.String("bookUid", bookUid),
		zap.Int("delta", delta),
		zap.Int("total", book.TotalQuantity),
		zap.Int("available", book.AvailableQuantity))
	return nil
}

// enrich attaches book/member summaries and the derived status for display.
func (s *Service) enrich(ctx context.Context, tr model.Transaction, now time.Time) (model.TransactionResponse, error) {
	var (
		book   model.Book
		member model.Member
	)
	gg, ctx := errgroup.WithContext(ctx)
	gg.Go(func() error {
		var err error
		book, err = s.repo.GetBook(ctx, tr.BookUid)
		return err
	})
	gg.Go(func() error {
		var err error
		member, err = s.repo.GetMember(ctx, tr.UserName)
		return err
	})
	if err := gg.Wait(); err != nil {
		return model.TransactionResponse{}, err
	}

	tr.Status = tr.StatusAt(now)
	daysOverdue := 0
	if tr.ReturnDate != nil {
		daysOverdue = DaysOverdue(tr.DueDate, *tr.ReturnDate)
	} else if tr.Status == model.StatusOverdue {
		daysOverdue = DaysOverdue(tr.DueDate, now)
	}

	return model.TransactionResponse{
		Transaction: tr,
		Book: model.BookSummary{
			BookUid: book.BookUid,
			Name:    book.Name,
			Author:  book.Author,
		},
		Member: model.MemberSummary{
			Name:           member.Name,
			MembershipType: member.MembershipType,
		},
		DaysOverdue: daysOverdue,
	}, nil
}
