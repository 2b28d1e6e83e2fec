package errs

import (
	"errors"
)

// Business outcomes form a closed set. They are deterministic policy
// rejections, never retried; anything else is an internal storage fault.
var (
	ErrBookNotFound        = errors.New("book not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrBookUnavailable     = errors.New("no available copies")
	ErrLimitReached        = errors.New("borrowing limit reached")
	ErrAlreadyBorrowed     = errors.New("book already borrowed by this member")
	ErrAlreadyReturned     = errors.New("transaction already returned")
	ErrRenewalLimitReached = errors.New("renewal limit reached")
	ErrOverdue             = errors.New("transaction is overdue")
	ErrNotRenewable        = errors.New("transaction is not renewable")
	ErrForbidden           = errors.New("forbidden")

	ErrAlreadyExists = errors.New("already exists")
	ErrUserName      = errors.New("username is required")
)
