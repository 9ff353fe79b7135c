package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis keys of the books hash and of its isbn index.
const (
	HBooks     string = "books"
	HBooksISBN string = "books:isbn"
)

type redisBookStorage struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedisBookStorage provides an instance of redis-based book storage.
func NewRedisBookStorage(logger *zap.Logger, client *redis.Client) BookStorage {
	return &redisBookStorage{
		logger: logger,
		client: client,
	}
}

// GetRedisClient provides a ready to use redis client.
func GetRedisClient(config *RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", config.Host, config.Port),
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
		PoolTimeout:  config.PoolTimeout,
		Password:     config.Password,
		Username:     config.Username,
		DB:           config.DatabaseIndex,
	})

	// test connection.
	if pong, err := client.Ping(context.Background()).Result(); pong != "PONG" || err != nil {
		return client, fmt.Errorf("test connection failed: %v", err)
	}
	return client, nil
}

// watch runs fn in an optimistic transaction over both hashes. A concurrent
// write on a watched key aborts it and no retry is attempted.
func (rs *redisBookStorage) watch(ctx context.Context, fn func(tx *redis.Tx) error) error {
	err := rs.client.Watch(ctx, fn, HBooks, HBooksISBN)
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		rs.logger.Warn("redis: transaction aborted by concurrent write", zap.Error(err))
		return StorageError("concurrent modification of the catalog", err)
	}
	return StorageError("redis transaction failed", err)
}

// isbnOwner returns the id of the book holding isbn, or an empty string.
func isbnOwner(ctx context.Context, tx *redis.Tx, isbn string) (string, error) {
	owner, err := tx.HGet(ctx, HBooksISBN, isbn).Result()
	if err == redis.Nil {
		return "", nil
	}
	return owner, err
}

func getBook(ctx context.Context, tx *redis.Tx, id string) (Book, error) {
	var book Book
	bookJSONString, err := tx.HGet(ctx, HBooks, id).Result()
	if err == redis.Nil {
		return book, NotFoundError(id)
	}
	if err != nil {
		return book, err
	}
	err = json.Unmarshal([]byte(bookJSONString), &book)
	return book, err
}

// Add inserts a new book record and indexes its isbn.
func (rs *redisBookStorage) Add(ctx context.Context, id string, book Book) error {
	book.ID = id
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return StorageError("failed to encode book", err)
	}
	return rs.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, HBooks, id).Result()
		if err != nil {
			return err
		}
		if exists {
			return ConflictError("book " + id + " already exists")
		}
		owner, err := isbnOwner(ctx, tx, book.ISBN)
		if err != nil {
			return err
		}
		if owner != "" {
			return ConflictError("a book with isbn " + book.ISBN + " already exists")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, HBooks, id, bookBytes)
			pipe.HSet(ctx, HBooksISBN, book.ISBN, id)
			return nil
		})
		return err
	})
}

// GetOne retrieves a book record based on its ID.
func (rs *redisBookStorage) GetOne(ctx context.Context, id string) (Book, error) {
	var book Book
	bookJSONString, err := rs.client.HGet(ctx, HBooks, id).Result()
	if err == redis.Nil {
		return book, NotFoundError(id)
	}
	if err != nil {
		return book, StorageError("failed to get book", err)
	}
	if err = json.Unmarshal([]byte(bookJSONString), &book); err != nil {
		return Book{}, StorageError("failed to decode book", err)
	}
	return book, nil
}

// Delete removes a book record and its isbn index entry.
func (rs *redisBookStorage) Delete(ctx context.Context, id string) error {
	return rs.watch(ctx, func(tx *redis.Tx) error {
		book, err := getBook(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, HBooks, id)
			pipe.HDel(ctx, HBooksISBN, book.ISBN)
			return nil
		})
		return err
	})
}

// Update replaces an existing book record. It never creates a missing one.
func (rs *redisBookStorage) Update(ctx context.Context, id string, book Book) (Book, error) {
	book.ID = id
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return Book{}, StorageError("failed to encode book", err)
	}
	err = rs.watch(ctx, func(tx *redis.Tx) error {
		old, err := getBook(ctx, tx, id)
		if err != nil {
			return err
		}
		owner, err := isbnOwner(ctx, tx, book.ISBN)
		if err != nil {
			return err
		}
		if owner != "" && owner != id {
			return ConflictError("a book with isbn " + book.ISBN + " already exists")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old.ISBN != book.ISBN {
				pipe.HDel(ctx, HBooksISBN, old.ISBN)
			}
			pipe.HSet(ctx, HBooks, id, bookBytes)
			pipe.HSet(ctx, HBooksISBN, book.ISBN, id)
			return nil
		})
		return err
	})
	if err != nil {
		return Book{}, err
	}
	return book, nil
}

// GetAll retrieves a list of all books stored in the redis database.
func (rs *redisBookStorage) GetAll(ctx context.Context) ([]Book, error) {
	mapBooks, err := rs.client.HVals(ctx, HBooks).Result()
	if err != nil {
		return nil, StorageError("failed to list books", err)
	}
	books := []Book{}
	for _, bookJSONString := range mapBooks {
		var book Book
		if err = json.Unmarshal([]byte(bookJSONString), &book); err != nil {
			return nil, StorageError("failed to decode book", err)
		}
		books = append(books, book)
	}
	return books, nil
}
