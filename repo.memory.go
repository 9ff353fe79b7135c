package main

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type memoryBookStorage struct {
	logger *zap.Logger
	mu     sync.RWMutex
	books  map[string]Book
	isbns  map[string]string
}

// NewMemoryBookStorage provides an in-process book storage. It starts
// empty and is lost when the process exits.
func NewMemoryBookStorage(logger *zap.Logger) BookStorage {
	return newMemoryBookStorage(logger, nil)
}

func newMemoryBookStorage(logger *zap.Logger, books []Book) *memoryBookStorage {
	ms := &memoryBookStorage{
		logger: logger,
		books:  make(map[string]Book, len(books)),
		isbns:  make(map[string]string, len(books)),
	}
	for _, b := range books {
		ms.books[b.ID] = b
		ms.isbns[b.ISBN] = b.ID
	}
	return ms
}

// Add inserts a new book record.
func (ms *memoryBookStorage) Add(_ context.Context, id string, book Book) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.add(id, book)
}

func (ms *memoryBookStorage) add(id string, book Book) error {
	if _, ok := ms.books[id]; ok {
		return ConflictError("book " + id + " already exists")
	}
	if _, ok := ms.isbns[book.ISBN]; ok {
		return ConflictError("a book with isbn " + book.ISBN + " already exists")
	}
	book.ID = id
	ms.books[id] = book
	ms.isbns[book.ISBN] = id
	return nil
}

// GetOne retrieves a book record based on its ID.
func (ms *memoryBookStorage) GetOne(_ context.Context, id string) (Book, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	book, ok := ms.books[id]
	if !ok {
		return Book{}, NotFoundError(id)
	}
	return book, nil
}

// Delete removes a book record based on its ID.
func (ms *memoryBookStorage) Delete(_ context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.delete(id)
}

func (ms *memoryBookStorage) delete(id string) error {
	book, ok := ms.books[id]
	if !ok {
		return NotFoundError(id)
	}
	delete(ms.isbns, book.ISBN)
	delete(ms.books, id)
	return nil
}

// Update replaces an existing book record. The isbn index moves
// with the record and a collision leaves both books untouched.
func (ms *memoryBookStorage) Update(_ context.Context, id string, book Book) (Book, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.update(id, book)
}

func (ms *memoryBookStorage) update(id string, book Book) (Book, error) {
	old, ok := ms.books[id]
	if !ok {
		return Book{}, NotFoundError(id)
	}
	if owner, ok := ms.isbns[book.ISBN]; ok && owner != id {
		return Book{}, ConflictError("a book with isbn " + book.ISBN + " already exists")
	}
	book.ID = id
	delete(ms.isbns, old.ISBN)
	ms.isbns[book.ISBN] = id
	ms.books[id] = book
	return book, nil
}

// GetAll retrieves a list of all books.
func (ms *memoryBookStorage) GetAll(_ context.Context) ([]Book, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.snapshot(), nil
}

func (ms *memoryBookStorage) snapshot() []Book {
	books := make([]Book, 0, len(ms.books))
	for _, b := range ms.books {
		books = append(books, b)
	}
	return books
}
