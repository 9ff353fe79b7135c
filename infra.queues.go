package main

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

// Predefined queue ids. Each committed catalog change is pushed
// onto the queue matching its kind.
const (
	CreateQueue = "catalog:created"
	UpdateQueue = "catalog:updated"
	DeleteQueue = "catalog:deleted"
)

var _ Queuer = (*redisQueue)(nil)

// ErrQueueEmpty is returned by Pop when no book arrived during the wait.
var ErrQueueEmpty = errors.New("queue: no item available")

// popWait is the max blocking time of a single pop so consumers
// can notice a cancelled context.
const popWait = 2 * time.Second

// Queuer describes a queue of book changes.
type Queuer interface {
	Push(ctx context.Context, qid string, book Book) error
	Pop(ctx context.Context, qids ...string) (string, Book, error)
}

// redisQueue is a Queuer backed by redis lists.
type redisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) Queuer {
	return &redisQueue{client: client}
}

// Push appends a book onto the queue identified by qid.
func (q *redisQueue) Push(ctx context.Context, qid string, book Book) error {
	bookBytes, err := jsoniter.ConfigFastest.Marshal(book)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, qid, bookBytes).Err()
}

// Pop waits for a book on one of the queues and returns it with the id
// of the queue it came from. It gives up with ErrQueueEmpty after popWait.
func (q *redisQueue) Pop(ctx context.Context, qids ...string) (string, Book, error) {
	var book Book
	infos, err := q.client.BLPop(ctx, popWait, qids...).Result()
	if errors.Is(err, redis.Nil) {
		return "", book, ErrQueueEmpty
	}
	if err != nil {
		return "", book, err
	}
	if err = jsoniter.ConfigFastest.Unmarshal([]byte(infos[1]), &book); err != nil {
		return "", book, err
	}
	return infos[0], book, nil
}

// noopQueue is used when replication is disabled.
type noopQueue struct{}

func (noopQueue) Push(context.Context, string, Book) error { return nil }

func (noopQueue) Pop(ctx context.Context, _ ...string) (string, Book, error) {
	<-ctx.Done()
	return "", Book{}, ctx.Err()
}
