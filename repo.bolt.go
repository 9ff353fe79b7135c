package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

type boltBookStorage struct {
	logger *zap.Logger
	client *bolt.DB
	config *BoltDBConfig
}

// isbnBucket is the name of the bucket indexing book ids by isbn.
func isbnBucket(name string) []byte {
	return []byte(name + ".isbn")
}

// GetBoltDBClient setup the database and its buckets then provides a ready to use client.
func GetBoltDBClient(config *BoltDBConfig) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create the database folder, %v", err)
	}
	db, err := bolt.Open(config.FilePath, 0o600, &bolt.Options{Timeout: config.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open the database, %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{[]byte(config.BucketName), isbnBucket(config.BucketName)} {
			if _, errB := tx.CreateBucketIfNotExists(name); errB != nil {
				return fmt.Errorf("failed to create %s bucket: %v", name, errB)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up bucket: %v", err)
	}
	return db, nil
}

// NewBoltBookStorage provides an instance of bolt-based book storage.
func NewBoltBookStorage(logger *zap.Logger, boltConfig *BoltDBConfig, client *bolt.DB) BookStorage {
	return &boltBookStorage{
		logger: logger,
		client: client,
		config: boltConfig,
	}
}

// Close shuts down the bolt-based book storage.
func (bs *boltBookStorage) Close() error {
	return bs.client.Close()
}

func (bs *boltBookStorage) buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket) {
	return tx.Bucket([]byte(bs.config.BucketName)), tx.Bucket(isbnBucket(bs.config.BucketName))
}

// Add inserts a new book record into boltdb store.
func (bs *boltBookStorage) Add(_ context.Context, id string, book Book) error {
	book.ID = id
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return StorageError("failed to encode book", err)
	}
	err = bs.client.Update(func(tx *bolt.Tx) error {
		books, isbns := bs.buckets(tx)
		if books.Get([]byte(id)) != nil {
			return ConflictError("book " + id + " already exists")
		}
		if isbns.Get([]byte(book.ISBN)) != nil {
			return ConflictError("a book with isbn " + book.ISBN + " already exists")
		}
		if err := books.Put([]byte(id), bookBytes); err != nil {
			return err
		}
		return isbns.Put([]byte(book.ISBN), []byte(id))
	})
	if err != nil {
		return StorageError("failed to add book", err)
	}
	return nil
}

// GetOne retrieves a book record based on its ID from boltdb store.
func (bs *boltBookStorage) GetOne(_ context.Context, id string) (Book, error) {
	var book Book
	// initialize a readable transaction.
	tx, err := bs.client.Begin(false)
	if err != nil {
		return book, StorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	books, _ := bs.buckets(tx)
	result := books.Get([]byte(id))
	if result == nil {
		return book, NotFoundError(id)
	}
	if err = json.Unmarshal(result, &book); err != nil {
		return Book{}, StorageError("failed to decode book", err)
	}
	return book, nil
}

// Delete removes a book record based on its ID from boltdb store.
func (bs *boltBookStorage) Delete(_ context.Context, id string) error {
	err := bs.client.Update(func(tx *bolt.Tx) error {
		books, isbns := bs.buckets(tx)
		result := books.Get([]byte(id))
		if result == nil {
			return NotFoundError(id)
		}
		var old Book
		if err := json.Unmarshal(result, &old); err != nil {
			return err
		}
		if err := isbns.Delete([]byte(old.ISBN)); err != nil {
			return err
		}
		return books.Delete([]byte(id))
	})
	if err != nil {
		return StorageError("failed to delete book", err)
	}
	return nil
}

// Update replaces an existing book record. It never creates a missing one.
func (bs *boltBookStorage) Update(_ context.Context, id string, book Book) (Book, error) {
	book.ID = id
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return Book{}, StorageError("failed to encode book", err)
	}
	err = bs.client.Update(func(tx *bolt.Tx) error {
		books, isbns := bs.buckets(tx)
		result := books.Get([]byte(id))
		if result == nil {
			return NotFoundError(id)
		}
		if owner := isbns.Get([]byte(book.ISBN)); owner != nil && string(owner) != id {
			return ConflictError("a book with isbn " + book.ISBN + " already exists")
		}
		var old Book
		if err := json.Unmarshal(result, &old); err != nil {
			return err
		}
		if old.ISBN != book.ISBN {
			if err := isbns.Delete([]byte(old.ISBN)); err != nil {
				return err
			}
		}
		if err := isbns.Put([]byte(book.ISBN), []byte(id)); err != nil {
			return err
		}
		return books.Put([]byte(id), bookBytes)
	})
	if err != nil {
		return Book{}, StorageError("failed to update book", err)
	}
	return book, nil
}

// GetAll retrieves a list of all books stored in the bolt database.
func (bs *boltBookStorage) GetAll(_ context.Context) ([]Book, error) {
	tx, err := bs.client.Begin(false)
	if err != nil {
		return nil, StorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	// Create a cursor on the books' bucket.
	books, _ := bs.buckets(tx)
	c := books.Cursor()

	all := []Book{}
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var book Book
		if err = json.Unmarshal(v, &book); err != nil {
			return nil, StorageError("failed to decode book", err)
		}
		all = append(all, book)
	}
	return all, nil
}
