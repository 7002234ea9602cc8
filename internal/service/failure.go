package service

import (
	"Parley/internal/pkg/errclass"
	"Parley/internal/pkg/metrics"
	"Parley/internal/pkg/retryqueue"
	"context"
	"fmt"
	log "log/slog"
)

// deferOrFail 根据错误分类决定：可重试错误入队并吞掉，其余同步返回
func deferOrFail(ctx context.Context, q retryqueue.Enqueuer, op retryqueue.OperationType, payload any, err error) (bool, error) {
	if isDomainError(err) {
		return false, err
	}

	class := errclass.Classify(err)
	metrics.StoreFailures.WithLabelValues(string(class)).Inc()

	switch class {
	case errclass.Network, errclass.Quota:
		if _, qerr := q.Enqueue(ctx, op, payload); qerr != nil {
			log.ErrorContext(ctx, "enqueue failed", "operation", op, "err", qerr, "cause", err)
			return false, fmt.Errorf("%w: %w", ErrUnexpected, qerr)
		}
		log.WarnContext(ctx, "store unavailable, operation deferred", "operation", op, "class", class, "err", err)
		return true, nil
	case errclass.Permission:
		return false, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	log.ErrorContext(ctx, "unexpected store error", "operation", op, "err", err)
	return false, fmt.Errorf("%w: %w", ErrUnexpected, err)
}

// syncError 用于不入队的操作
func syncError(ctx context.Context, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}

	class := errclass.Classify(err)
	metrics.StoreFailures.WithLabelValues(string(class)).Inc()

	switch class {
	case errclass.Permission:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errclass.Network, errclass.Quota:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	log.ErrorContext(ctx, "unexpected store error", "err", err)
	return fmt.Errorf("%w: %w", ErrUnexpected, err)
}

// replayResult maps the outcome of a replayed operation onto the queue policy.
func replayResult(it *retryqueue.Item, err error) retryqueue.Result {
	if err == nil {
		return retryqueue.Success
	}
	it.LastError = err.Error()
	if isDomainError(err) {
		return retryqueue.PermanentFailure
	}
	return retryqueue.ResultFor(errclass.Classify(err))
}

func decodeFailed(ctx context.Context, it *retryqueue.Item, err error) retryqueue.Result {
	log.ErrorContext(ctx, "undecodable retry payload", "operation", it.OperationType, "item_id", it.ID, "err", err)
	it.LastError = err.Error()
	return retryqueue.PermanentFailure
}
