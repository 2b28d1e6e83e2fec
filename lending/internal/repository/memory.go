package repository

import (
	"context"
	"sync"
	"time"

	"github.com/astlibr/lending-service/lending/internal/errs"
	"github.com/astlibr/lending-service/lending/internal/model"
)

// Memory is an in-process Repository used by tests and embedded setups.
// It keeps the same contracts as the Postgres implementation: guarded
// reserve, clamped release, one active transaction per (user, book).
type Memory struct {
	mu           sync.RWMutex
	books        map[string]*model.Book
	members      map[string]*model.Member
	transactions map[string]*model.Transaction
	order        []string
	nextID       int
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		books:        make(map[string]*model.Book),
		members:      make(map[string]*model.Member),
		transactions: make(map[string]*model.Transaction),
	}
}

func (m *Memory) CreateBook(_ context.Context, book model.Book) (model.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[book.BookUid]; ok {
		return model.Book{}, errs.ErrAlreadyExists
	}
	m.nextID++
	book.ID = m.nextID
	m.books[book.BookUid] = &book
	return book, nil
}

func (m *Memory) GetBook(_ context.Context, bookUid string) (model.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[bookUid]
	if !ok {
		return model.Book{}, errs.ErrBookNotFound
	}
	return *book, nil
}

func (m *Memory) ListBooks(_ context.Context, showAll bool, page, size int) (model.ListBooks, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]model.Book, 0, len(m.books))
	for _, b := range m.books {
		if !showAll && b.AvailableQuantity == 0 {
			continue
		}
		items = append(items, *b)
	}
	return model.ListBooks{
		Paging: model.Paging{Page: page, PageSize: size, TotalElements: len(items)},
		Items:  items,
	}, nil
}

func (m *Memory) ReserveBook(_ context.Context, bookUid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[bookUid]
	if !ok {
		return errs.ErrBookNotFound
	}
	if book.AvailableQuantity <= 0 {
		return errs.ErrBookUnavailable
	}
	book.AvailableQuantity--
	return nil
}

func (m *Memory) ReleaseBook(_ context.Context, bookUid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[bookUid]
	if !ok {
		return false, errs.ErrBookNotFound
	}
	if book.AvailableQuantity >= book.TotalQuantity {
		return true, nil
	}
	book.AvailableQuantity++
	return false, nil
}

func (m *Memory) AdjustQuantity(_ context.Context, bookUid string, delta int) (model.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[bookUid]
	if !ok {
		return model.Book{}, errs.ErrBookNotFound
	}
	total := book.TotalQuantity + delta
	if total < 1 {
		total = 1
	}
	available := book.AvailableQuantity + delta
	if available < 0 {
		available = 0
	}
	if available > total {
		available = total
	}
	book.TotalQuantity = total
	book.AvailableQuantity = available
	return *book, nil
}

func (m *Memory) CreateMember(_ context.Context, member model.Member) (model.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[member.Name]; ok {
		return model.Member{}, errs.ErrAlreadyExists
	}
	m.nextID++
	member.ID = m.nextID
	m.members[member.Name] = &member
	return member, nil
}

func (m *Memory) GetMember(_ context.Context, name string) (model.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[name]
	if !ok {
		return model.Member{}, errs.ErrMemberNotFound
	}
	return *member, nil
}

func (m *Memory) CreateTransaction(_ context.Context, tr model.Transaction) (model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range m.order {
		existing := m.transactions[uid]
		if existing.UserName == tr.UserName && existing.BookUid == tr.BookUid && existing.IsActive() {
			return model.Transaction{}, errs.ErrAlreadyBorrowed
		}
	}
	m.nextID++
	tr.ID = m.nextID
	m.transactions[tr.TransactionUid] = &tr
	m.order = append(m.order, tr.TransactionUid)
	return tr, nil
}

func (m *Memory) GetTransaction(_ context.Context, transactionUid string) (model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.transactions[transactionUid]
	if !ok {
		return model.Transaction{}, errs.ErrTransactionNotFound
	}
	return *tr, nil
}

func (m *Memory) GetActiveTransaction(_ context.Context, userName, bookUid string) (model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, uid := range m.order {
		tr := m.transactions[uid]
		if tr.UserName == userName && tr.BookUid == bookUid && tr.IsActive() {
			return *tr, nil
		}
	}
	return model.Transaction{}, errs.ErrTransactionNotFound
}

func (m *Memory) CountActiveByUser(_ context.Context, userName string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, tr := range m.transactions {
		if tr.UserName == userName && tr.IsActive() {
			count++
		}
	}
	return count, nil
}

func (m *Memory) ListTransactionsByUser(_ context.Context, userName string) ([]model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []model.Transaction
	for _, uid := range m.order {
		if tr := m.transactions[uid]; tr.UserName == userName {
			items = append(items, *tr)
		}
	}
	return items, nil
}

func (m *Memory) CompleteReturn(_ context.Context, transactionUid string, returnDate time.Time, fee model.Cents, condition *model.Condition, notes string) (model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.transactions[transactionUid]
	if !ok {
		return model.Transaction{}, errs.ErrTransactionNotFound
	}
	if tr.Status == model.StatusReturned {
		return model.Transaction{}, errs.ErrAlreadyReturned
	}
	rd := returnDate
	tr.Status = model.StatusReturned
	tr.ReturnDate = &rd
	tr.LateFee = fee
	tr.Condition = condition
	if notes != "" {
		tr.Notes = notes
	}
	return *tr, nil
}

func (m *Memory) RenewTransaction(_ context.Context, transactionUid string, newDue time.Time) (model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.transactions[transactionUid]
	if !ok {
		return model.Transaction{}, errs.ErrTransactionNotFound
	}
	if tr.Status != model.StatusBorrowed || tr.RenewalCount >= 3 {
		return model.Transaction{}, errs.ErrNotRenewable
	}
	tr.DueDate = newDue
	tr.RenewalCount++
	return *tr, nil
}
