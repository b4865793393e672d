package sync_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/sync"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

type fakeActionStore struct {
	actions   []*models.PendingAction
	attempts  map[uint]int
	listCalls int32
}

func newFakeActionStore(actions ...*models.PendingAction) *fakeActionStore {
	return &fakeActionStore{actions: actions, attempts: make(map[uint]int)}
}

func (s *fakeActionStore) Create(ctx context.Context, action *models.PendingAction) error {
	action.ID = uint(len(s.actions) + 1)
	s.actions = append(s.actions, action)
	return nil
}

func (s *fakeActionStore) List(ctx context.Context, businessId string, deviceId string) ([]*models.PendingAction, error) {
	atomic.AddInt32(&s.listCalls, 1)
	out := make([]*models.PendingAction, len(s.actions))
	copy(out, s.actions)
	return out, nil
}

func (s *fakeActionStore) Delete(ctx context.Context, id uint) error {
	kept := s.actions[:0]
	for _, action := range s.actions {
		if action.ID != id {
			kept = append(kept, action)
		}
	}
	s.actions = kept
	return nil
}

func (s *fakeActionStore) MarkAttempt(ctx context.Context, id uint, lastError string) error {
	s.attempts[id]++
	return nil
}

type fakeSink struct {
	delivered []uint
	failOnId  uint
	failErr   error
	started   chan struct{}
	release   chan struct{}
}

func (s *fakeSink) Deliver(ctx context.Context, action *models.PendingAction) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.failOnId != 0 && action.ID == s.failOnId {
		return s.failErr
	}
	s.delivered = append(s.delivered, action.ID)
	return nil
}

func action(id uint, entityId string) *models.PendingAction {
	return &models.PendingAction{
		ID:         id,
		BusinessId: "biz-1",
		DeviceId:   "dev-1",
		ActionType: models.ActionTypeUpdate,
		EntityType: models.EntityTypeProduct,
		EntityId:   entityId,
	}
}

func TestQueueEnqueue_Validates(t *testing.T) {
	q := sync.NewQueue(newFakeActionStore(), &fakeSink{})
	ctx := context.Background()

	err := q.Enqueue(ctx, &models.PendingAction{BusinessId: "biz-1", DeviceId: "dev-1"})
	if !utils.IsValidationError(err) {
		t.Fatalf("missing entity id: got %v, want validation error", err)
	}
	err = q.Enqueue(ctx, &models.PendingAction{DeviceId: "dev-1", EntityId: "p1"})
	if !utils.IsValidationError(err) {
		t.Fatalf("missing business: got %v, want validation error", err)
	}
	if err := q.Enqueue(ctx, action(0, "p1")); err != nil {
		t.Fatalf("valid enqueue: %v", err)
	}
}

func TestQueueFlush_DeliversInFIFOOrder(t *testing.T) {
	store := newFakeActionStore(action(1, "p1"), action(2, "p2"), action(3, "p3"))
	sink := &fakeSink{}
	q := sync.NewQueue(store, sink)

	result, err := q.Flush(context.Background(), "biz-1", "dev-1")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.Delivered != 3 || result.Remaining != 0 || result.Partial {
		t.Fatalf("result = %+v, want 3 delivered, 0 remaining", result)
	}
	if len(sink.delivered) != 3 || sink.delivered[0] != 1 || sink.delivered[1] != 2 || sink.delivered[2] != 3 {
		t.Fatalf("delivery order = %v, want [1 2 3]", sink.delivered)
	}
	if len(store.actions) != 0 {
		t.Fatalf("%d actions left queued after full flush", len(store.actions))
	}
}

func TestQueueFlush_StopsAtFirstPermanentFailure(t *testing.T) {
	t.Setenv("SYNC_RETRY_ATTEMPTS", "1")
	store := newFakeActionStore(action(1, "p1"), action(2, "p2"), action(3, "p3"))
	sink := &fakeSink{failOnId: 2, failErr: utils.NewValidationError("bad payload")}
	q := sync.NewQueue(store, sink)

	result, err := q.Flush(context.Background(), "biz-1", "dev-1")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if result.Delivered != 1 {
		t.Fatalf("delivered = %d, want 1", result.Delivered)
	}
	if result.Remaining != 2 {
		t.Fatalf("remaining = %d, want 2 (failed item and everything behind it)", result.Remaining)
	}
	if !result.Partial {
		t.Fatal("a flush that delivered some but not all is partial")
	}
	if result.Error == "" {
		t.Fatal("the failure must be reported")
	}

	// The failed action and its successor stay queued in original order.
	if len(store.actions) != 2 || store.actions[0].ID != 2 || store.actions[1].ID != 3 {
		t.Fatalf("queue after partial flush = %v", store.actions)
	}
	if store.attempts[2] != 1 {
		t.Fatalf("failed action attempts = %d, want 1", store.attempts[2])
	}
	if len(sink.delivered) != 1 {
		t.Fatalf("actions behind the failure must not be attempted, delivered %v", sink.delivered)
	}
}

func TestQueueFlush_PermanentFailureIsNotRetried(t *testing.T) {
	t.Setenv("SYNC_RETRY_ATTEMPTS", "3")
	attempts := 0
	store := newFakeActionStore(action(1, "p1"))
	sink := &countingSink{err: utils.NewValidationError("bad payload"), count: &attempts}
	q := sync.NewQueue(store, sink)

	if _, err := q.Flush(context.Background(), "biz-1", "dev-1"); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("permanent failure attempted %d times, want 1", attempts)
	}
}

type countingSink struct {
	err   error
	count *int
}

func (s *countingSink) Deliver(ctx context.Context, action *models.PendingAction) error {
	*s.count++
	return s.err
}

func TestQueueFlush_ConcurrentFlushesCoalesce(t *testing.T) {
	store := newFakeActionStore(action(1, "p1"))
	sink := &fakeSink{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	q := sync.NewQueue(store, sink)

	results := make(chan *sync.FlushResult, 2)
	flush := func() {
		result, err := q.Flush(context.Background(), "biz-1", "dev-1")
		if err != nil {
			t.Errorf("flush: %v", err)
		}
		results <- result
	}

	go flush()
	// Wait until the first flush is inside Deliver, then start the second
	// caller; it joins the in-flight flush instead of listing again.
	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never started")
	}
	go flush()
	time.Sleep(50 * time.Millisecond)
	close(sink.release)

	first := <-results
	second := <-results
	if first != second {
		t.Fatal("concurrent flushes should share one result")
	}
	if atomic.LoadInt32(&store.listCalls) != 1 {
		t.Fatalf("queue listed %d times, want 1", store.listCalls)
	}
}
