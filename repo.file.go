package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var fileJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// fileBookStorage keeps the catalog in memory and rewrites the whole
// json file after each mutation. A failed write reverts the mutation.
type fileBookStorage struct {
	*memoryBookStorage
	path string
}

// NewFileBookStorage loads the json catalog at path. A missing
// file is treated as an empty catalog and created on first write.
func NewFileBookStorage(logger *zap.Logger, path string) (BookStorage, error) {
	books, err := loadBooksFile(path)
	if err != nil {
		return nil, err
	}
	logger.Info("file storage loaded", zap.String("file.path", path), zap.Int("books.count", len(books)))
	return &fileBookStorage{memoryBookStorage: newMemoryBookStorage(logger, books), path: path}, nil
}

func loadBooksFile(path string) ([]Book, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read books file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var books []Book
	if err = fileJSON.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("failed to decode books file: %w", err)
	}
	return books, nil
}

// flush must be called with the write lock held.
func (fs *fileBookStorage) flush() error {
	books := fs.snapshot()
	sort.Slice(books, func(i, j int) bool { return books[i].CreatedAt < books[j].CreatedAt })
	data, err := fileJSON.MarshalIndent(books, "", "  ")
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(fs.path, data, 0o644)
}

// Add inserts a new book record and persists the catalog.
func (fs *fileBookStorage) Add(_ context.Context, id string, book Book) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.add(id, book); err != nil {
		return err
	}
	if err := fs.flush(); err != nil {
		_ = fs.delete(id)
		return StorageError("failed to save books file", err)
	}
	return nil
}

// Delete removes a book record and persists the catalog.
func (fs *fileBookStorage) Delete(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	old, ok := fs.books[id]
	if err := fs.delete(id); err != nil {
		return err
	}
	if err := fs.flush(); err != nil {
		if ok {
			_ = fs.add(id, old)
		}
		return StorageError("failed to save books file", err)
	}
	return nil
}

// Update replaces an existing book record and persists the catalog.
func (fs *fileBookStorage) Update(_ context.Context, id string, book Book) (Book, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	old := fs.books[id]
	updated, err := fs.update(id, book)
	if err != nil {
		return Book{}, err
	}
	if err = fs.flush(); err != nil {
		_, _ = fs.update(id, old)
		return Book{}, StorageError("failed to save books file", err)
	}
	return updated, nil
}
