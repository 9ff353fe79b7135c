package main

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

type Consumer interface {
	Consume(ctx context.Context, qids ...string) error
}

// replicaConsumer applies queued catalog changes onto a mirror storage.
type replicaConsumer struct {
	logger *zap.Logger
	queue  Queuer
	repo   BookStorage
}

func NewReplicaConsumer(logger *zap.Logger, q Queuer, repo BookStorage) Consumer {
	return &replicaConsumer{logger, q, repo}
}

// Consume loops until ctx is done. Failures are logged and skipped so
// one bad change never blocks the following ones.
func (rc *replicaConsumer) Consume(ctx context.Context, qids ...string) error {
	for {
		qid, book, err := rc.queue.Pop(ctx, qids...)
		if err != nil && ctx.Err() != nil {
			rc.logger.Info("consumer: queue pop call: context is done: exit", zap.String("reason", ctx.Err().Error()))
			return nil
		}

		if errors.Is(err, ErrQueueEmpty) {
			continue
		}

		if err != nil {
			rc.logger.Error("consumer: error on queue pop call", zap.Error(err))
			continue
		}

		rc.apply(ctx, qid, book)
	}
}

func (rc *replicaConsumer) apply(ctx context.Context, qid string, book Book) {
	switch qid {
	case CreateQueue:
		if err := rc.repo.Add(ctx, book.ID, book); err != nil {
			rc.logger.Error("consumer: failed to create", zap.String("book.id", book.ID), zap.Error(err))
		}
	case UpdateQueue:
		_, err := rc.repo.Update(ctx, book.ID, book)
		if KindOf(err) == KindNotFound {
			// the mirror missed the creation, catch up.
			err = rc.repo.Add(ctx, book.ID, book)
		}
		if err != nil {
			rc.logger.Error("consumer: failed to update", zap.String("book.id", book.ID), zap.Error(err))
		}
	case DeleteQueue:
		if err := rc.repo.Delete(ctx, book.ID); err != nil && KindOf(err) != KindNotFound {
			rc.logger.Error("consumer: failed to delete", zap.String("book.id", book.ID), zap.Error(err))
		}
	default:
		rc.logger.Warn("consumer: received book on unknown queue id", zap.String("qid", qid), zap.String("book.id", book.ID))
	}
}
