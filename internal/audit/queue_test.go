package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"task-service/internal/domain"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func testEvent(entityType string, id int64) domain.ChangeEvent {
	return domain.ChangeEvent{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   id,
		Action:     domain.ActionCreate,
		OccurredAt: time.Now().UTC(),
	}
}

func fastConfig() QueueConfig {
	return QueueConfig{
		Name:           "test",
		Workers:        2,
		BufferSize:     64,
		DropIfFull:     true,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func closeQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func consumerFailures(hook *test.Hook) []*domain.ConsumerFailure {
	var out []*domain.ConsumerFailure
	for _, entry := range hook.AllEntries() {
		if entry.Level != log.ErrorLevel {
			continue
		}
		var cf *domain.ConsumerFailure
		if err, ok := entry.Data[log.ErrorKey].(error); ok && errors.As(err, &cf) {
			out = append(out, cf)
		}
	}
	return out
}

func TestQueueDeliversEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var handled atomic.Int32
	q := NewQueue(fastConfig(), HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		handled.Add(1)
		return nil
	}), metrics)

	for i := int64(1); i <= 10; i++ {
		if err := q.Receive(context.Background(), testEvent("Task", i)); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}
	closeQueue(t, q)

	if got := handled.Load(); got != 10 {
		t.Fatalf("handled %d events, want 10", got)
	}
	if got := testutil.ToFloat64(metrics.enqueued.WithLabelValues("test")); got != 10 {
		t.Fatalf("enqueued = %v", got)
	}
	if got := testutil.ToFloat64(metrics.delivered.WithLabelValues("test")); got != 10 {
		t.Fatalf("delivered = %v", got)
	}
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	metrics := NewMetrics(nil)

	var calls atomic.Int32
	cfg := fastConfig()
	cfg.MaxAttempts = 5
	q := NewQueue(cfg, HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		if calls.Add(1) < 3 {
			return errors.New("database is down")
		}
		return nil
	}), metrics)

	if err := q.Receive(context.Background(), testEvent("Task", 1)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	closeQueue(t, q)

	if got := calls.Load(); got != 3 {
		t.Fatalf("handler called %d times, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.retried.WithLabelValues("test")); got != 2 {
		t.Fatalf("retried = %v", got)
	}
	if got := testutil.ToFloat64(metrics.failed.WithLabelValues("test")); got != 0 {
		t.Fatalf("failed = %v", got)
	}
}

func TestQueueLogsConsumerFailureWhenAttemptsRunOut(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	storeErr := errors.New("insert rejected")
	var calls atomic.Int32
	q := NewQueue(fastConfig(), HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		calls.Add(1)
		return storeErr
	}), nil)

	event := testEvent("Task", 42)
	if err := q.Receive(context.Background(), event); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	closeQueue(t, q)

	if got := calls.Load(); got != 3 {
		t.Fatalf("handler called %d times, want 3", got)
	}
	failures := consumerFailures(hook)
	if len(failures) != 1 {
		t.Fatalf("expected 1 consumer failure, got %d", len(failures))
	}
	f := failures[0]
	if f.Consumer != "test" || f.Attempts != 3 || f.Event.ID != event.ID || !errors.Is(f, storeErr) {
		t.Fatalf("unexpected failure %+v", f)
	}
}

func TestQueueDoesNotRetryInvalidEvents(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	var calls atomic.Int32
	q := NewQueue(fastConfig(), HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		calls.Add(1)
		return event.Validate()
	}), nil)

	if err := q.Receive(context.Background(), domain.ChangeEvent{EntityType: "Task", EntityID: 1, Action: 9}); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	closeQueue(t, q)

	if got := calls.Load(); got != 1 {
		t.Fatalf("handler called %d times, want 1", got)
	}
	failures := consumerFailures(hook)
	if len(failures) != 1 || !errors.Is(failures[0], domain.ErrInvalidChangeEvent) {
		t.Fatalf("unexpected failures %v", failures)
	}
}

func TestQueueRecoversHandlerPanics(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	q := NewQueue(cfg, HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		panic("boom")
	}), nil)

	if err := q.Receive(context.Background(), testEvent("Task", 1)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	closeQueue(t, q)

	if got := len(consumerFailures(hook)); got != 1 {
		t.Fatalf("expected 1 consumer failure, got %d", got)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	cfg := fastConfig()
	cfg.Workers = 1
	cfg.BufferSize = 1
	metrics := NewMetrics(nil)
	q := NewQueue(cfg, HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}), metrics)

	if err := q.Receive(context.Background(), testEvent("Task", 1)); err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	<-started

	if err := q.Receive(context.Background(), testEvent("Task", 2)); err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if err := q.Receive(context.Background(), testEvent("Task", 3)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Receive = %v, want ErrQueueFull", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("Dropped() = %d", q.Dropped())
	}
	if got := testutil.ToFloat64(metrics.dropped.WithLabelValues("test")); got != 1 {
		t.Fatalf("dropped = %v", got)
	}

	close(release)
	closeQueue(t, q)
}

func TestQueueBlocksWhenNotDropping(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	cfg := fastConfig()
	cfg.Workers = 1
	cfg.BufferSize = 1
	cfg.DropIfFull = false
	q := NewQueue(cfg, HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}), nil)

	_ = q.Receive(context.Background(), testEvent("Task", 1))
	<-started
	_ = q.Receive(context.Background(), testEvent("Task", 2))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Receive(ctx, testEvent("Task", 3)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive = %v, want context.DeadlineExceeded", err)
	}

	close(release)
	closeQueue(t, q)
}

func TestQueuePreservesOrderPerEntity(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]int{}

	cfg := fastConfig()
	cfg.Workers = 4
	cfg.BufferSize = 512
	q := NewQueue(cfg, HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seq := event.Diff.New["seq"].(int)
		seen[event.Key()] = append(seen[event.Key()], seq)
		return nil
	}), nil)

	for seq := 0; seq < 50; seq++ {
		for id := int64(1); id <= 4; id++ {
			ev := testEvent("Task", id)
			ev.Action = domain.ActionUpdate
			ev.Diff = &domain.Diff{Old: map[string]any{}, New: map[string]any{"seq": seq}}
			if err := q.Receive(context.Background(), ev); err != nil {
				t.Fatalf("Receive: %v", err)
			}
		}
	}
	closeQueue(t, q)

	for id := int64(1); id <= 4; id++ {
		key := fmt.Sprintf("Task:%d", id)
		got := seen[key]
		if len(got) != 50 {
			t.Fatalf("%s: handled %d events, want 50", key, len(got))
		}
		for i, seq := range got {
			if seq != i {
				t.Fatalf("%s: event %d handled at position %d", key, seq, i)
			}
		}
	}
}

func TestQueueCloseDrainsAndRejects(t *testing.T) {
	var handled atomic.Int32
	q := NewQueue(fastConfig(), HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		time.Sleep(time.Millisecond)
		handled.Add(1)
		return nil
	}), nil)

	for i := int64(1); i <= 20; i++ {
		if err := q.Receive(context.Background(), testEvent("User", i)); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}
	closeQueue(t, q)

	if got := handled.Load(); got != 20 {
		t.Fatalf("handled %d events before Close returned, want 20", got)
	}
	if q.Pending() != 0 {
		t.Fatalf("Pending() = %d", q.Pending())
	}
	if err := q.Receive(context.Background(), testEvent("User", 99)); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Receive after Close = %v, want ErrQueueClosed", err)
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestQueueHandlesEveryAcceptedEventDuringClose(t *testing.T) {
	for _, dropIfFull := range []bool{false, true} {
		t.Run(fmt.Sprintf("drop_if_full=%v", dropIfFull), func(t *testing.T) {
			for round := 0; round < 20; round++ {
				var handled atomic.Int64
				cfg := fastConfig()
				cfg.BufferSize = 4
				cfg.DropIfFull = dropIfFull
				q := NewQueue(cfg, HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
					handled.Add(1)
					return nil
				}), nil)

				var accepted atomic.Int64
				var wg sync.WaitGroup
				start := make(chan struct{})
				for p := 0; p < 8; p++ {
					wg.Add(1)
					go func(p int) {
						defer wg.Done()
						<-start
						for i := 0; i < 50; i++ {
							err := q.Receive(context.Background(), testEvent("Task", int64(p*100+i)))
							switch {
							case err == nil:
								accepted.Add(1)
							case errors.Is(err, ErrQueueClosed), errors.Is(err, ErrQueueFull):
							default:
								t.Errorf("Receive: %v", err)
							}
						}
					}(p)
				}

				close(start)
				closeQueue(t, q)
				wg.Wait()

				if got, want := handled.Load(), accepted.Load(); got != want {
					t.Fatalf("round %d: handled %d events, accepted %d", round, got, want)
				}
			}
		})
	}
}

func TestQueueCloseReleasesBlockedSenders(t *testing.T) {
	release := make(chan struct{})
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.BufferSize = 1
	cfg.DropIfFull = false
	q := NewQueue(cfg, HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		<-release
		return nil
	}), nil)

	_ = q.Receive(context.Background(), testEvent("Task", 1))
	_ = q.Receive(context.Background(), testEvent("Task", 2))

	blocked := make(chan error, 1)
	go func() { blocked <- q.Receive(context.Background(), testEvent("Task", 3)) }()

	closed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closed <- q.Close(ctx)
	}()

	select {
	case err := <-blocked:
		if err != nil && !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("blocked Receive = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not release the blocked sender")
	}

	close(release)
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestQueueCloseGivesUpWhenContextExpires(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	cfg := fastConfig()
	cfg.Workers = 1
	cfg.AttemptTimeout = time.Minute
	q := NewQueue(cfg, HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		<-ctx.Done()
		return ctx.Err()
	}), nil)

	if err := q.Receive(context.Background(), testEvent("Task", 1)); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close = %v, want context.DeadlineExceeded", err)
	}
	if got := len(consumerFailures(hook)); got != 1 {
		t.Fatalf("expected the abandoned event to be logged, got %d failures", got)
	}
}

func TestQueueAsBusSubscriber(t *testing.T) {
	var handled atomic.Int32
	q := NewQueue(fastConfig(), HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
		handled.Add(1)
		return nil
	}), nil)

	bus := NewBus()
	bus.Subscribe(q.Name(), q)
	notifier := NewNotifier(bus, NotifierConfig{})

	task := &domain.Task{ID: 42, Title: "A"}
	notifier.Created(context.Background(), task)
	updated := *task
	updated.Title = "B"
	notifier.Updated(context.Background(), task, &updated)
	notifier.Deleting(context.Background(), &updated)

	closeQueue(t, q)
	if got := handled.Load(); got != 3 {
		t.Fatalf("handled %d events, want 3", got)
	}
}
