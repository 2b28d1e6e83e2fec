package handler

import (
	"context"

	"github.com/astlibr/lending-service/lending/internal/model"
	"github.com/astlibr/lending-service/lending/internal/service"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

type LendingService interface {
	BorrowBook(ctx context.Context, req model.BorrowRequest) (model.TransactionResponse, error)
	ReturnBook(ctx context.Context, transactionUid, caller string, req model.ReturnRequest) (model.TransactionResponse, error)
	RenewBook(ctx context.Context, transactionUid, caller string) (model.TransactionResponse, error)
	GetTransaction(ctx context.Context, transactionUid, caller string) (model.TransactionResponse, error)
	GetTransactions(ctx context.Context, userName string, status model.Status, page, size int) (model.ListTransactions, error)

	CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error)
	GetBook(ctx context.Context, bookUid string) (model.Book, error)
	ListBooks(ctx context.Context, showAll bool, page, size int) (model.ListBooks, error)

	CreateMember(ctx context.Context, req model.CreateMemberRequest) (model.Member, error)
	GetMember(ctx context.Context, name string) (model.Member, error)

	AdjustQuantity(ctx context.Context, bookUid string, delta int) error
}

var _ LendingService = (*service.Service)(nil)
