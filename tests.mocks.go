package main

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// This file contains mocks definitions needed to perform unit tests.

type MockBookStorage struct {
	AddFunc    func(ctx context.Context, id string, book Book) error
	GetOneFunc func(ctx context.Context, id string) (Book, error)
	DeleteFunc func(ctx context.Context, id string) error
	UpdateFunc func(ctx context.Context, id string, book Book) (Book, error)
	GetAllFunc func(ctx context.Context) ([]Book, error)
}

// Add mocks the behavior of book creation by the repository.
func (m *MockBookStorage) Add(ctx context.Context, id string, book Book) error {
	return m.AddFunc(ctx, id, book)
}

// GetOne mocks the behavior of retrieving a book by the repository.
func (m *MockBookStorage) GetOne(ctx context.Context, id string) (Book, error) {
	return m.GetOneFunc(ctx, id)
}

// Delete mocks the behavior of deleting a book by the repository.
func (m *MockBookStorage) Delete(ctx context.Context, id string) error {
	return m.DeleteFunc(ctx, id)
}

// Update mocks the behavior of updating a book by the repository.
func (m *MockBookStorage) Update(ctx context.Context, id string, book Book) (Book, error) {
	return m.UpdateFunc(ctx, id, book)
}

// GetAll mocks the behavior of retrieving all books by the repository.
func (m *MockBookStorage) GetAll(ctx context.Context) ([]Book, error) {
	return m.GetAllFunc(ctx)
}

// MockBookService implements BookServiceProvider with overridable calls.
type MockBookService struct {
	ListFunc           func(ctx context.Context) ([]BookDetails, error)
	GetOneFunc         func(ctx context.Context, id string) (BookDetails, error)
	AddFunc            func(ctx context.Context, in BookInput) (BookDetails, error)
	UpdateFunc         func(ctx context.Context, id string, patch BookPatch) (BookDetails, error)
	RemoveFunc         func(ctx context.Context, id string) error
	SearchFunc         func(ctx context.Context, q SearchQuery) ([]BookDetails, error)
	ImportExternalFunc func(ctx context.Context, n int) ([]BookDetails, error)
}

func (m *MockBookService) List(ctx context.Context) ([]BookDetails, error) {
	return m.ListFunc(ctx)
}

func (m *MockBookService) GetOne(ctx context.Context, id string) (BookDetails, error) {
	return m.GetOneFunc(ctx, id)
}

func (m *MockBookService) Add(ctx context.Context, in BookInput) (BookDetails, error) {
	return m.AddFunc(ctx, in)
}

func (m *MockBookService) Update(ctx context.Context, id string, patch BookPatch) (BookDetails, error) {
	return m.UpdateFunc(ctx, id, patch)
}

func (m *MockBookService) Remove(ctx context.Context, id string) error {
	return m.RemoveFunc(ctx, id)
}

func (m *MockBookService) Search(ctx context.Context, q SearchQuery) ([]BookDetails, error) {
	return m.SearchFunc(ctx, q)
}

func (m *MockBookService) ImportExternal(ctx context.Context, n int) ([]BookDetails, error) {
	return m.ImportExternalFunc(ctx, n)
}

// MockClocker implements a fake Clocker.
type MockClocker struct {
	MockNow time.Time
}

// NewMockClocker returns a mocked instance with fixed time.
func NewMockClocker() *MockClocker {
	return &MockClocker{time.Date(2023, 0o7, 0o2, 0o0, 0o0, 0o0, 0o00000000, time.UTC)}
}

// Now returns an already defined time to be used as mock. This
// equals to `Sun, 02 Jul 2023 00:00:00 UTC` in time.RFC1123 format.
func (mck *MockClocker) Now() time.Time {
	return mck.MockNow
}

// MockUIDHandler implements a fake UIDHandler.
type MockUIDHandler struct {
	MockedUID string
	Valid     bool
}

// NewMockUIDHandler returns a mocked instance with predictable id.
func NewMockUIDHandler(id string, valid bool) *MockUIDHandler {
	return &MockUIDHandler{MockedUID: id, Valid: valid}
}

// Generate constructs a predictable id to be used as mock.
func (muid *MockUIDHandler) Generate(prefix string) string {
	return prefix + ":" + muid.MockedUID
}

// IsValid mocks IsValid behavior by providing configured status.
func (muid *MockUIDHandler) IsValid(_, _ string) bool {
	return muid.Valid
}

// SeqUIDHandler hands out ids `b:1`, `b:2` and so on.
type SeqUIDHandler struct {
	mu sync.Mutex
	n  int
}

func (s *SeqUIDHandler) Generate(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return prefix + ":" + strconv.Itoa(s.n)
}

func (s *SeqUIDHandler) IsValid(_, _ string) bool {
	return true
}

// QueuedBook is a book pushed on a MockQueuer.
type QueuedBook struct {
	QID  string
	Book Book
}

// MockQueuer records pushed books and serves them back on Pop.
type MockQueuer struct {
	mu     sync.Mutex
	Pushed []QueuedBook
	items  chan QueuedBook
	Err    error
}

func NewMockQueuer(size int) *MockQueuer {
	return &MockQueuer{items: make(chan QueuedBook, size)}
}

func (mq *MockQueuer) Push(_ context.Context, qid string, book Book) error {
	if mq.Err != nil {
		return mq.Err
	}
	mq.mu.Lock()
	mq.Pushed = append(mq.Pushed, QueuedBook{qid, book})
	mq.mu.Unlock()
	mq.items <- QueuedBook{qid, book}
	return nil
}

func (mq *MockQueuer) Pop(ctx context.Context, _ ...string) (string, Book, error) {
	select {
	case <-ctx.Done():
		return "", Book{}, ctx.Err()
	case item := <-mq.items:
		return item.QID, item.Book, nil
	}
}

// Items returns a copy of the pushed books.
func (mq *MockQueuer) Items() []QueuedBook {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return append([]QueuedBook(nil), mq.Pushed...)
}

// MockFetcher serves fixed posts.
type MockFetcher struct {
	Posts []ExternalPost
	Err   error
	Calls int
}

func (mf *MockFetcher) FetchPosts(_ context.Context, limit int) ([]ExternalPost, error) {
	mf.Calls++
	if mf.Err != nil {
		return nil, mf.Err
	}
	if limit < len(mf.Posts) {
		return mf.Posts[:limit], nil
	}
	return mf.Posts, nil
}
