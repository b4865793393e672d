package sync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ActionStore persists the per-device FIFO of offline actions.
type ActionStore interface {
	Create(ctx context.Context, action *models.PendingAction) error
	List(ctx context.Context, businessId string, deviceId string) ([]*models.PendingAction, error)
	Delete(ctx context.Context, id uint) error
	MarkAttempt(ctx context.Context, id uint, lastError string) error
}

// ActionSink delivers one action to the server side. Delivery must be
// idempotent; a replayed action is a success.
type ActionSink interface {
	Deliver(ctx context.Context, action *models.PendingAction) error
}

// Queue replays queued device actions in enqueue order. Concurrent flush
// requests for the same device coalesce into the in-flight one; a redis lock
// keeps instances from interleaving when available.
type Queue struct {
	store   ActionStore
	sink    ActionSink
	backoff Backoff
	flights singleflight.Group
	logger  *logrus.Logger
}

func NewQueue(store ActionStore, sink ActionSink) *Queue {
	return &Queue{
		store:   store,
		sink:    sink,
		backoff: DefaultBackoff(),
		logger:  config.GetLogger(),
	}
}

func (q *Queue) Enqueue(ctx context.Context, action *models.PendingAction) error {
	if action.BusinessId == "" || action.DeviceId == "" {
		return utils.NewValidationError("business and device are required")
	}
	if action.EntityId == "" {
		return utils.NewValidationError("entity id is required")
	}
	return q.store.Create(ctx, action)
}

// Flush delivers the device queue in order. Delivery stops at the first
// action that fails permanently (or exhausts its retries); that action and
// everything behind it stay queued in their original order.
func (q *Queue) Flush(ctx context.Context, businessId string, deviceId string) (*FlushResult, error) {
	key := businessId + ":" + deviceId
	value, err, _ := q.flights.Do(key, func() (interface{}, error) {
		return q.flush(ctx, businessId, deviceId)
	})
	if err != nil {
		return nil, err
	}
	return value.(*FlushResult), nil
}

func (q *Queue) flush(ctx context.Context, businessId string, deviceId string) (*FlushResult, error) {
	lock, err := utils.ObtainBusinessLock(ctx, businessId, "queue-flush:"+deviceId, "sync", "Flush")
	if err != nil {
		// Lock contention: another instance is flushing this device.
		return &FlushResult{Partial: false}, nil
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(context.Background()); releaseErr != nil {
				config.LogError(q.logger, "sync", "Flush", "release lock", deviceId, releaseErr)
			}
		}()
	}

	actions, err := q.store.List(ctx, businessId, deviceId)
	if err != nil {
		return nil, err
	}

	result := &FlushResult{Remaining: len(actions)}
	for _, action := range actions {
		deliverErr := q.backoff.Do(ctx, func() error {
			return q.sink.Deliver(ctx, action)
		})
		if deliverErr != nil {
			if markErr := q.store.MarkAttempt(ctx, action.ID, deliverErr.Error()); markErr != nil {
				config.LogError(q.logger, "sync", "Flush", "mark attempt", action.ID, markErr)
			}
			result.Error = deliverErr.Error()
			break
		}
		if err := q.store.Delete(ctx, action.ID); err != nil {
			// The action was applied but not dequeued; it will replay and
			// dedupe on the next flush.
			config.LogError(q.logger, "sync", "Flush", "dequeue action", action.ID, err)
			result.Error = err.Error()
			break
		}
		result.Delivered++
		result.Remaining--
	}

	result.Partial = result.Delivered > 0 && result.Remaining > 0
	return result, nil
}

// FlushAll flushes every device that has something queued. Used by the
// scheduler tick and the reconnect trigger.
func (q *Queue) FlushAll(ctx context.Context) error {
	devices, err := models.DevicesWithPendingActions(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, device := range devices {
		deviceCtx := utils.SetBusinessIdInContext(ctx, device.BusinessId)
		if _, err := q.Flush(deviceCtx, device.BusinessId, device.DeviceId); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			config.LogError(q.logger, "sync", "FlushAll", "flush device", device.DeviceId, err)
		}
	}
	return firstErr
}

// Pending reports queue depth for a device.
func (q *Queue) Pending(ctx context.Context, businessId string, deviceId string) (int64, error) {
	return models.CountPendingActions(ctx, businessId, deviceId)
}

var errFlushTimeout = errors.New("flush timed out")

// FlushWithTimeout bounds a flush so a stuck delivery cannot hold the
// scheduler tick forever.
func (q *Queue) FlushWithTimeout(ctx context.Context, businessId string, deviceId string, timeout time.Duration) (*FlushResult, error) {
	if timeout <= 0 {
		return q.Flush(ctx, businessId, deviceId)
	}
	flushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := q.Flush(flushCtx, businessId, deviceId)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, errFlushTimeout
	}
	return result, err
}
