package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/astlibr/lending-service/lending/internal/errs"
	"github.com/astlibr/lending-service/lending/internal/model"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type Repository interface {
	CreateBook(ctx context.Context, book model.Book) (model.Book, error)
	GetBook(ctx context.Context, bookUid string) (model.Book, error)
	ListBooks(ctx context.Context, showAll bool, page, size int) (model.ListBooks, error)
	ReserveBook(ctx context.Context, bookUid string) error
	ReleaseBook(ctx context.Context, bookUid string) (clamped bool, err error)
	AdjustQuantity(ctx context.Context, bookUid string, delta int) (model.Book, error)

	CreateMember(ctx context.Context, member model.Member) (model.Member, error)
	GetMember(ctx context.Context, name string) (model.Member, error)

	CreateTransaction(ctx context.Context, tr model.Transaction) (model.Transaction, error)
	GetTransaction(ctx context.Context, transactionUid string) (model.Transaction, error)
	GetActiveTransaction(ctx context.Context, userName, bookUid string) (model.Transaction, error)
	CountActiveByUser(ctx context.Context, userName string) (int, error)
	ListTransactionsByUser(ctx context.Context, userName string) ([]model.Transaction, error)
	CompleteReturn(ctx context.Context, transactionUid string, returnDate time.Time, fee model.Cents, condition *model.Condition, notes string) (model.Transaction, error)
	RenewTransaction(ctx context.Context, transactionUid string, newDue time.Time) (model.Transaction, error)
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
	}, nil
}

const (
	booksTableName        = `books`
	membersTableName      = `members`
	transactionsTableName = `transactions`
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func (r *repository) CreateBook(ctx context.Context, book model.Book) (model.Book, error) {
	q, args, err := qb.Insert(booksTableName).
		Columns("book_uid", "name", "author", "genre", "total_quantity", "available_quantity").
		Values(book.BookUid, book.Name, book.Author, book.Genre, book.TotalQuantity, book.AvailableQuantity).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var res model.Book
	if err := r.db.GetContext(ctx, &res, q, args...); err != nil {
		if isUniqueViolation(err) {
			return model.Book{}, errs.ErrAlreadyExists
		}
		r.log.Error("CreateBook", zap.String("q", q), zap.Error(err))
		return model.Book{}, err
	}
	return res, nil
}

func (r *repository) GetBook(ctx context.Context, bookUid string) (model.Book, error) {
	q, args, err := qb.Select("id", "book_uid", "name", "author", "genre", "total_quantity", "available_quantity").
		From(booksTableName).
		Where(sq.Eq{"book_uid": bookUid}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var book model.Book
	if err := r.db.GetContext(ctx, &book, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errs.ErrBookNotFound
		}
		return model.Book{}, err
	}
	return book, nil
}

func (r *repository) ListBooks(ctx context.Context, showAll bool, page, size int) (model.ListBooks, error) {
	q := qb.Select("id", "book_uid", "name", "author", "genre", "total_quantity", "available_quantity").
		From(booksTableName).
		OrderBy("id")

	if !showAll {
		q = q.Where(sq.Gt{"available_quantity": 0})
	}
	if page != 0 && size != 0 {
		q = q.Limit(uint64(size)).Offset(uint64((page - 1) * size))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return model.ListBooks{}, err
	}
	var books []model.Book
	if err := r.db.SelectContext(ctx, &books, query, args...); err != nil {
		return model.ListBooks{}, err
	}

	return model.ListBooks{
		Paging: model.Paging{
			Page:          page,
			PageSize:      size,
			TotalElements: len(books),
		},
		Items: books,
	}, nil
}

// ReserveBook takes one copy off the shelf. The guarded update keeps the
// counter from ever going below zero under concurrent borrows.
func (r *repository) ReserveBook(ctx context.Context, bookUid string) error {
	q := `
update books
	set available_quantity = available_quantity - 1
where book_uid = $1 and available_quantity > 0`
	res, err := r.db.ExecContext(ctx, q, bookUid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetBook(ctx, bookUid); err != nil {
			return err
		}
		return errs.ErrBookUnavailable
	}
	return nil
}

// ReleaseBook puts one copy back, clamped at total_quantity. A clamped
// release signals a caller bug and is reported so the engine can flag it.
func (r *repository) ReleaseBook(ctx context.Context, bookUid string) (bool, error) {
	q := `
update books
	set available_quantity = available_quantity + 1
where book_uid = $1 and available_quantity < total_quantity`
	res, err := r.db.ExecContext(ctx, q, bookUid)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := r.GetBook(ctx, bookUid); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (r *repository) AdjustQuantity(ctx context.Context, bookUid string, delta int) (model.Book, error) {
	q := `
update books
	set total_quantity = greatest(1, total_quantity + $2),
	    available_quantity = least(greatest(1, total_quantity + $2), greatest(0, available_quantity + $2))
where book_uid = $1
returning *`
	var book model.Book
	if err := r.db.GetContext(ctx, &book, q, bookUid, delta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errs.ErrBookNotFound
		}
		return model.Book{}, err
	}
	return book, nil
}

func (r *repository) CreateMember(ctx context.Context, member model.Member) (model.Member, error) {
	q, args, err := qb.Insert(membersTableName).
		Columns("name", "membership_type", "is_active").
		Values(member.Name, member.MembershipType, member.IsActive).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.Member{}, err
	}
	var res model.Member
	if err := r.db.GetContext(ctx, &res, q, args...); err != nil {
		if isUniqueViolation(err) {
			return model.Member{}, errs.ErrAlreadyExists
		}
		r.log.Error("CreateMember", zap.String("q", q), zap.Error(err))
		return model.Member{}, err
	}
	return res, nil
}

func (r *repository) GetMember(ctx context.Context, name string) (model.Member, error) {
	q, args, err := qb.Select("id", "name", "membership_type", "is_active").
		From(membersTableName).
		Where(sq.Eq{"name": name}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.Member{}, err
	}
	var member model.Member
	if err := r.db.GetContext(ctx, &member, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Member{}, errs.ErrMemberNotFound
		}
		return model.Member{}, err
	}
	return member, nil
}

func (r *repository) CreateTransaction(ctx context.Context, tr model.Transaction) (model.Transaction, error) {
	q, args, err := qb.Insert(transactionsTableName).
		Columns("transaction_uid", "user_name", "book_uid", "borrow_date", "due_date", "status", "late_fee_cents", "renewal_count", "notes").
		Values(tr.TransactionUid, tr.UserName, tr.BookUid, tr.BorrowDate, tr.DueDate, tr.Status, tr.LateFee, tr.RenewalCount, tr.Notes).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.Transaction{}, err
	}
	var res model.Transaction
	if err := r.db.GetContext(ctx, &res, q, args...); err != nil {
		// the partial unique index on active (user_name, book_uid) pairs
		if isUniqueViolation(err) {
			return model.Transaction{}, errs.ErrAlreadyBorrowed
		}
		r.log.Error("CreateTransaction", zap.String("q", q), zap.Error(err))
		return model.Transaction{}, err
	}
	return res, nil
}

func (r *repository) GetTransaction(ctx context.Context, transactionUid string) (model.Transaction, error) {
	q, args, err := qb.Select("*").
		From(transactionsTableName).
		Where(sq.Eq{"transaction_uid": transactionUid}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.Transaction{}, err
	}
	var tr model.Transaction
	if err := r.db.GetContext(ctx, &tr, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, errs.ErrTransactionNotFound
		}
		return model.Transaction{}, err
	}
	return tr, nil
}

func (r *repository) GetActiveTransaction(ctx context.Context, userName, bookUid string) (model.Transaction, error) {
	q, args, err := qb.Select("*").
		From(transactionsTableName).
		Where(sq.Eq{"user_name": userName}).
		Where(sq.Eq{"book_uid": bookUid}).
		Where(sq.NotEq{"status": model.StatusReturned}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.Transaction{}, err
	}
	var tr model.Transaction
	if err := r.db.GetContext(ctx, &tr, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, errs.ErrTransactionNotFound
		}
		return model.Transaction{}, err
	}
	return tr, nil
}

func (r *repository) CountActiveByUser(ctx context.Context, userName string) (int, error) {
	q := `
select count(*) from transactions
where user_name = $1 and status != 'RETURNED'
`
	var count int
	if err := r.db.QueryRowContext(ctx, q, userName).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) ListTransactionsByUser(ctx context.Context, userName string) ([]model.Transaction, error) {
	q, args, err := qb.Select("*").
		From(transactionsTableName).
		Where(sq.Eq{"user_name": userName}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	var items []model.Transaction
	if err := r.db.SelectContext(ctx, &items, q, args...); err != nil {
		return nil, err
	}
	return items, nil
}

// CompleteReturn flips a transaction to RETURNED exactly once. The status
// guard makes a second return of the same transaction a no-row update.
func (r *repository) CompleteReturn(ctx context.Context, transactionUid string, returnDate time.Time, fee model.Cents, condition *model.Condition, notes string) (model.Transaction, error) {
	q := `
update transactions
	set status = 'RETURNED',
	    return_date = $2,
	    late_fee_cents = $3,
	    return_condition = $4,
	    notes = case when $5 = '' then notes else $5 end
where transaction_uid = $1 and status != 'RETURNED'
returning *`
	var tr model.Transaction
	if err := r.db.GetContext(ctx, &tr, q, transactionUid, returnDate, fee, condition, notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, errs.ErrAlreadyReturned
		}
		return model.Transaction{}, err
	}
	return tr, nil
}

func (r *repository) RenewTransaction(ctx context.Context, transactionUid string, newDue time.Time) (model.Transaction, error) {
	q := `
update transactions
	set due_date = $2,
	    renewal_count = renewal_count + 1
where transaction_uid = $1 and status = 'BORROWED' and renewal_count < 3
returning *`
	var tr model.Transaction
	if err := r.db.GetContext(ctx, &tr, q, transactionUid, newDue); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, errs.ErrNotRenewable
		}
		return model.Transaction{}, err
	}
	return tr, nil
}
