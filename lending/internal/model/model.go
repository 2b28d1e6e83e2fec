package model

import (
	"math"
	"strconv"
	"time"
)

type MembershipType string

const (
	MembershipBasic   MembershipType = "BASIC"
	MembershipPremium MembershipType = "PREMIUM"
	MembershipStudent MembershipType = "STUDENT"
)

// Status of a lending transaction. OVERDUE is never stored: it is derived
// from the due date at read time, see Transaction.StatusAt.
type Status string

const (
	StatusBorrowed Status = "BORROWED"
	StatusOverdue  Status = "OVERDUE"
	StatusReturned Status = "RETURNED"
)

type Condition string

const (
	ConditionExcellent Condition = "EXCELLENT"
	ConditionGood      Condition = "GOOD"
	ConditionBad       Condition = "BAD"
)

// Cents is a fixed-point money amount. JSON renders it as a decimal with
// two places so 300 marshals to 3.00.
type Cents int64

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(c)/100, 'f', 2, 64)), nil
}

func (c *Cents) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*c = Cents(math.Round(f * 100))
	return nil
}

type Book struct {
	ID                int    `json:"-" db:"id"`
	BookUid           string `json:"bookUid" db:"book_uid"`
	Name              string `json:"name" db:"name"`
	Author            string `json:"author" db:"author"`
	Genre             string `json:"genre" db:"genre"`
	TotalQuantity     int    `json:"totalQuantity" db:"total_quantity"`
	AvailableQuantity int    `json:"availableQuantity" db:"available_quantity"`
}

type Member struct {
	ID             int            `json:"-" db:"id"`
	Name           string         `json:"name" db:"name"`
	MembershipType MembershipType `json:"membershipType" db:"membership_type"`
	IsActive       bool           `json:"isActive" db:"is_active"`
}

type Transaction struct {
	ID             int        `json:"-" db:"id"`
	TransactionUid string     `json:"transactionUid" db:"transaction_uid"`
	UserName       string     `json:"userName" db:"user_name"`
	BookUid        string     `json:"bookUid" db:"book_uid"`
	BorrowDate     time.Time  `json:"borrowDate" db:"borrow_date"`
	DueDate        time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate     *time.Time `json:"returnDate,omitempty" db:"return_date"`
	Status         Status     `json:"status" db:"status"`
	LateFee        Cents      `json:"lateFee" db:"late_fee_cents"`
	RenewalCount   int        `json:"renewalCount" db:"renewal_count"`
	Condition      *Condition `json:"condition,omitempty" db:"return_condition"`
	Notes          string     `json:"notes,omitempty" db:"notes"`
}

// StatusAt derives the effective status at the given moment. A BORROWED
// transaction past its due date reads as OVERDUE.
func (t Transaction) StatusAt(now time.Time) Status {
	if t.Status == StatusBorrowed && now.After(t.DueDate) {
		return StatusOverdue
	}
	return t.Status
}

// IsActive reports whether the transaction still holds a book copy.
func (t Transaction) IsActive() bool {
	return t.Status != StatusReturned
}

type Paging struct {
	Page          int `json:"page"`
	PageSize      int `json:"pageSize"`
	TotalElements int `json:"totalElements"`
}

type ListBooks struct {
	Paging `json:",inline"`
	Items  []Book `json:"items"`
}

type CreateBookRequest struct {
	Name              string `json:"name" validate:"required"`
	Author            string `json:"author"`
	Genre             string `json:"genre"`
	TotalQuantity     int    `json:"totalQuantity" validate:"required,min=1"`
	AvailableQuantity *int   `json:"availableQuantity" validate:"omitempty,min=0"`
}

type CreateMemberRequest struct {
	Name           string         `json:"name" validate:"required"`
	MembershipType MembershipType `json:"membershipType" validate:"required,oneof=BASIC PREMIUM STUDENT"`
}

type BorrowRequest struct {
	BookUid  string `json:"bookUid" validate:"required"`
	Notes    string `json:"notes"`
	UserName string `json:"-" validate:"required"`
}

type ReturnRequest struct {
	Condition Condition `json:"condition" validate:"omitempty,oneof=EXCELLENT GOOD BAD"`
	Notes     string    `json:"notes"`
}

type BookSummary struct {
	BookUid string `json:"bookUid"`
	Name    string `json:"name"`
	Author  string `json:"author"`
}

type MemberSummary struct {
	Name           string         `json:"name"`
	MembershipType MembershipType `json:"membershipType"`
}

// TransactionResponse is the enriched display form of a transaction with
// the derived status and book/member summaries.
type TransactionResponse struct {
	Transaction `json:",inline"`
	Book        BookSummary   `json:"book"`
	Member      MemberSummary `json:"member"`
	DaysOverdue int           `json:"daysOverdue"`
}

type ListTransactions struct {
	Paging `json:",inline"`
	Items  []TransactionResponse `json:"items"`
}

// TransactionEvent is published to the lending-events topic after every
// successful lifecycle operation.
type TransactionEvent struct {
	Event          string    `json:"event"`
	TransactionUid string    `json:"transactionUid"`
	UserName       string    `json:"userName"`
	BookUid        string    `json:"bookUid"`
	Status         Status    `json:"status"`
	LateFee        Cents     `json:"lateFee"`
	OccurredAt     time.Time `json:"occurredAt"`
}

const (
	EventBorrowed = "borrowed"
	EventReturned = "returned"
	EventRenewed  = "renewed"
)

// RestockRequest arrives from the inventory system on the lending-restock topic.
type RestockRequest struct {
	BookUid string `json:"bookUid"`
	Delta   int    `json:"delta"`
}
