package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/astlibr/lending-service/lending/internal/errs"
	"github.com/astlibr/lending-service/lending/internal/model"
	"github.com/astlibr/lending-service/lending/internal/repository"
	"github.com/astlibr/lending-service/lending/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	repo *repository.Memory
	svc  *service.Service
	now  time.Time
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		repo: repository.NewMemory(),
		now:  now,
	}
	f.svc = service.NewService(f.repo, zap.NewExample().Named("test"),
		service.WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) addBook(t *testing.T, total, available int) model.Book {
	t.Helper()
	book, err := f.repo.CreateBook(context.Background(), model.Book{
		BookUid:           uuid.NewString(),
		Name:              "The Go Programming Language",
		Author:            "Donovan, Kernighan",
		TotalQuantity:     total,
		AvailableQuantity: available,
	})
	require.NoError(t, err)
	return book
}

func (f *fixture) addMember(t *testing.T, name string, mt model.MembershipType, active bool) model.Member {
	t.Helper()
	member, err := f.repo.CreateMember(context.Background(), model.Member{
		Name:           name,
		MembershipType: mt,
		IsActive:       active,
	})
	require.NoError(t, err)
	return member
}

func TestBorrowBook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	t.Run("premium member borrows available book", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, now)
		book := f.addBook(t, 5, 5)
		f.addMember(t, "alice", model.MembershipPremium, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)
		require.Equal(t, model.StatusBorrowed, resp.Status)
		require.Equal(t, now, resp.BorrowDate)
		require.Equal(t, now.AddDate(0, 0, 30), resp.DueDate)
		require.Equal(t, model.Cents(0), resp.LateFee)
		require.Equal(t, 0, resp.RenewalCount)
		require.Equal(t, book.BookUid, resp.Book.BookUid)
		require.Equal(t, model.MembershipPremium, resp.Member.MembershipType)

		got, err := f.repo.GetBook(ctx, book.BookUid)
		require.NoError(t, err)
		require.Equal(t, 4, got.AvailableQuantity)
	})

	t.Run("unknown book", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, now)
		f.addMember(t, "alice", model.MembershipBasic, true)

		_, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: uuid.NewString(), UserName: "alice"})
		require.ErrorIs(t, err, errs.ErrBookNotFound)
	})

	t.Run("no copies left", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, now)
		book := f.addBook(t, 2, 0)
		f.addMember(t, "alice", model.MembershipBasic, true)

		_, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.ErrorIs(t, err, errs.ErrBookUnavailable)
	})

	t.Run("inactive member", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, now)
		book := f.addBook(t, 2, 2)
		f.addMember(t, "alice", model.MembershipBasic, false)

		_, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.ErrorIs(t, err, errs.ErrMemberNotFound)
	})

	t.Run("basic member hits borrowing limit", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, now)
		f.addMember(t, "bob", model.MembershipBasic, true)
		for i := 0; i < 3; i++ {
			book := f.addBook(t, 1, 1)
			_, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "bob"})
			require.NoError(t, err)
		}

		fourth := f.addBook(t, 1, 1)
		_, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: fourth.BookUid, UserName: "bob"})
		require.ErrorIs(t, err, errs.ErrLimitReached)

		// the target book is untouched
		got, err := f.repo.GetBook(ctx, fourth.BookUid)
		require.NoError(t, err)
		require.Equal(t, 1, got.AvailableQuantity)
	})

	t.Run("same book twice", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, now)
		book := f.addBook(t, 3, 3)
		f.addMember(t, "alice", model.MembershipPremium, true)

		_, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)
		_, err = f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.ErrorIs(t, err, errs.ErrAlreadyBorrowed)

		got, err := f.repo.GetBook(ctx, book.BookUid)
		require.NoError(t, err)
		require.Equal(t, 2, got.AvailableQuantity)
	})
}

func TestReturnBook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("six days late costs three dollars", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 5, 5)
		f.addMember(t, "alice", model.MembershipBasic, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)
		// due 2024-02-14 (basic, 14 days), returned 2024-02-20
		require.Equal(t, time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC), resp.DueDate)

		f.now = time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
		returned, err := f.svc.ReturnBook(ctx, resp.TransactionUid, "alice", model.ReturnRequest{Condition: model.ConditionGood})
		require.NoError(t, err)
		require.Equal(t, model.StatusReturned, returned.Status)
		require.Equal(t, model.Cents(300), returned.LateFee)
		require.Equal(t, 6, returned.DaysOverdue)
		require.NotNil(t, returned.ReturnDate)

		got, err := f.repo.GetBook(ctx, book.BookUid)
		require.NoError(t, err)
		require.Equal(t, 5, got.AvailableQuantity)
	})

	t.Run("on-time return has no fee", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 1, 1)
		f.addMember(t, "alice", model.MembershipBasic, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)

		f.now = f.now.AddDate(0, 0, 7)
		returned, err := f.svc.ReturnBook(ctx, resp.TransactionUid, "alice", model.ReturnRequest{})
		require.NoError(t, err)
		require.Equal(t, model.Cents(0), returned.LateFee)
		require.Equal(t, 0, returned.DaysOverdue)
	})

	t.Run("second return fails and releases once", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 5, 5)
		f.addMember(t, "alice", model.MembershipBasic, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)

		_, err = f.svc.ReturnBook(ctx, resp.TransactionUid, "alice", model.ReturnRequest{})
		require.NoError(t, err)
		_, err = f.svc.ReturnBook(ctx, resp.TransactionUid, "alice", model.ReturnRequest{})
		require.ErrorIs(t, err, errs.ErrAlreadyReturned)

		got, err := f.repo.GetBook(ctx, book.BookUid)
		require.NoError(t, err)
		require.Equal(t, 5, got.AvailableQuantity)
	})

	t.Run("someone else's transaction", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 1, 1)
		f.addMember(t, "alice", model.MembershipBasic, true)
		f.addMember(t, "mallory", model.MembershipBasic, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)

		_, err = f.svc.ReturnBook(ctx, resp.TransactionUid, "mallory", model.ReturnRequest{})
		require.ErrorIs(t, err, errs.ErrForbidden)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		_, err := f.svc.ReturnBook(ctx, uuid.NewString(), "alice", model.ReturnRequest{})
		require.ErrorIs(t, err, errs.ErrTransactionNotFound)
	})

	t.Run("overdue transaction still releases the copy", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 1, 1)
		f.addMember(t, "alice", model.MembershipBasic, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)

		f.now = f.now.AddDate(0, 2, 0)
		returned, err := f.svc.ReturnBook(ctx, resp.TransactionUid, "alice", model.ReturnRequest{})
		require.NoError(t, err)
		require.Equal(t, model.StatusReturned, returned.Status)

		got, err := f.repo.GetBook(ctx, book.BookUid)
		require.NoError(t, err)
		require.Equal(t, 1, got.AvailableQuantity)
	})
}

func TestRenewBook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("extends from the old due date", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 12, 11, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 1, 1)
		f.addMember(t, "carol", model.MembershipStudent, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "carol"})
		require.NoError(t, err)
		// student: 21 days -> due 2025-01-01
		oldDue := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		require.Equal(t, oldDue, resp.DueDate)

		f.now = time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)
		renewed, err := f.svc.RenewBook(ctx, resp.TransactionUid, "carol")
		require.NoError(t, err)
		// the clock does not reset to the renewal moment
		require.Equal(t, oldDue.AddDate(0, 0, 21), renewed.DueDate)
		require.Equal(t, 1, renewed.RenewalCount)
	})

	t.Run("fourth renewal is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 12, 11, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 1, 1)
		f.addMember(t, "carol", model.MembershipStudent, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "carol"})
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			renewed, err := f.svc.RenewBook(ctx, resp.TransactionUid, "carol")
			require.NoError(t, err)
			require.Equal(t, i, renewed.RenewalCount)
		}
		_, err = f.svc.RenewBook(ctx, resp.TransactionUid, "carol")
		require.ErrorIs(t, err, errs.ErrRenewalLimitReached)
	})

	t.Run("overdue blocks renewal", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 1, 1)
		f.addMember(t, "alice", model.MembershipBasic, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)

		f.now = resp.DueDate.AddDate(0, 0, 2)
		_, err = f.svc.RenewBook(ctx, resp.TransactionUid, "alice")
		require.ErrorIs(t, err, errs.ErrOverdue)

		tr, err := f.repo.GetTransaction(ctx, resp.TransactionUid)
		require.NoError(t, err)
		require.Equal(t, 0, tr.RenewalCount)
	})

	t.Run("returned transaction is not renewable", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 1, 1)
		f.addMember(t, "alice", model.MembershipBasic, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)
		_, err = f.svc.ReturnBook(ctx, resp.TransactionUid, "alice", model.ReturnRequest{})
		require.NoError(t, err)

		_, err = f.svc.RenewBook(ctx, resp.TransactionUid, "alice")
		require.ErrorIs(t, err, errs.ErrNotRenewable)
	})

	t.Run("only the owner renews", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		book := f.addBook(t, 1, 1)
		f.addMember(t, "alice", model.MembershipBasic, true)
		f.addMember(t, "mallory", model.MembershipBasic, true)

		resp, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
		require.NoError(t, err)

		_, err = f.svc.RenewBook(ctx, resp.TransactionUid, "mallory")
		require.ErrorIs(t, err, errs.ErrForbidden)
	})
}

func TestGetTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.addMember(t, "alice", model.MembershipPremium, true)

	first := f.addBook(t, 1, 1)
	second := f.addBook(t, 1, 1)
	third := f.addBook(t, 1, 1)

	borrowed, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: first.BookUid, UserName: "alice"})
	require.NoError(t, err)
	_, err = f.svc.ReturnBook(ctx, borrowed.TransactionUid, "alice", model.ReturnRequest{})
	require.NoError(t, err)

	_, err = f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: second.BookUid, UserName: "alice"})
	require.NoError(t, err)

	// third loan goes overdue once the clock moves past its due date
	lateLoan, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: third.BookUid, UserName: "alice"})
	require.NoError(t, err)

	f.now = lateLoan.DueDate.AddDate(0, 0, 3)

	all, err := f.svc.GetTransactions(ctx, "alice", "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, all.TotalElements)

	overdue, err := f.svc.GetTransactions(ctx, "alice", model.StatusOverdue, 0, 0)
	require.NoError(t, err)
	require.Len(t, overdue.Items, 2)
	for _, item := range overdue.Items {
		require.Equal(t, model.StatusOverdue, item.Status)
		require.Equal(t, 3, item.DaysOverdue)
	}

	returned, err := f.svc.GetTransactions(ctx, "alice", model.StatusReturned, 0, 0)
	require.NoError(t, err)
	require.Len(t, returned.Items, 1)
	require.Equal(t, borrowed.TransactionUid, returned.Items[0].TransactionUid)

	// stored status stays BORROWED; OVERDUE is derived per read
	raw, err := f.repo.GetTransaction(ctx, lateLoan.TransactionUid)
	require.NoError(t, err)
	require.Equal(t, model.StatusBorrowed, raw.Status)

	paged, err := f.svc.GetTransactions(ctx, "alice", "", 1, 2)
	require.NoError(t, err)
	require.Len(t, paged.Items, 2)
	require.Equal(t, 3, paged.TotalElements)
}

func TestAvailabilityInvariant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	book := f.addBook(t, 2, 2)
	f.addMember(t, "alice", model.MembershipPremium, true)
	f.addMember(t, "bob", model.MembershipPremium, true)
	f.addMember(t, "carol", model.MembershipPremium, true)

	check := func() {
		got, err := f.repo.GetBook(ctx, book.BookUid)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got.AvailableQuantity, 0)
		require.LessOrEqual(t, got.AvailableQuantity, got.TotalQuantity)
	}

	a, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "alice"})
	require.NoError(t, err)
	check()
	b, err := f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "bob"})
	require.NoError(t, err)
	check()

	// both copies out
	_, err = f.svc.BorrowBook(ctx, model.BorrowRequest{BookUid: book.BookUid, UserName: "carol"})
	require.ErrorIs(t, err, errs.ErrBookUnavailable)
	check()

	_, err = f.svc.ReturnBook(ctx, a.TransactionUid, "alice", model.ReturnRequest{})
	require.NoError(t, err)
	check()
	_, err = f.svc.ReturnBook(ctx, b.TransactionUid, "bob", model.ReturnRequest{})
	require.NoError(t, err)
	check()

	got, err := f.repo.GetBook(ctx, book.BookUid)
	require.NoError(t, err)
	require.Equal(t, 2, got.AvailableQuantity)
}

func TestAdjustQuantity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	book := f.addBook(t, 2, 1)

	require.NoError(t, f.svc.AdjustQuantity(ctx, book.BookUid, 3))
	got, err := f.repo.GetBook(ctx, book.BookUid)
	require.NoError(t, err)
	require.Equal(t, 5, got.TotalQuantity)
	require.Equal(t, 4, got.AvailableQuantity)

	// shrinking never drops totals below one or availability below zero
	require.NoError(t, f.svc.AdjustQuantity(ctx, book.BookUid, -10))
	got, err = f.repo.GetBook(ctx, book.BookUid)
	require.NoError(t, err)
	require.Equal(t, 1, got.TotalQuantity)
	require.Equal(t, 0, got.AvailableQuantity)

	require.ErrorIs(t, f.svc.AdjustQuantity(ctx, uuid.NewString(), 1), errs.ErrBookNotFound)
}
