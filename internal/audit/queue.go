package audit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"task-service/internal/domain"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("audit queue is full")
	ErrQueueClosed = errors.New("audit queue is closed")
)

// Handler does the actual work for a change event, outside the request that
// produced it.
type Handler interface {
	Handle(ctx context.Context, event domain.ChangeEvent) error
}

type HandlerFunc func(ctx context.Context, event domain.ChangeEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event domain.ChangeEvent) error {
	return f(ctx, event)
}

type QueueConfig struct {
	Name           string
	Workers        int
	BufferSize     int
	DropIfFull     bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Name == "" {
		c.Name = "audit"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BufferSize < c.Workers {
		c.BufferSize = c.Workers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 5 * time.Second
	}
	return c
}

// Queue is a bus subscriber that runs a Handler on a pool of workers. Events
// are sharded by entity so that events for one instance are handled in the
// order they were published. Failed deliveries are retried with exponential
// backoff; once the attempts are used up the event is logged and dropped.
type Queue struct {
	cfg     QueueConfig
	handler Handler
	metrics *Metrics

	shards   []chan domain.ChangeEvent
	// stopping wakes blocked senders; done tells workers to drain and exit.
	stopping chan struct{}
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// mu is held for reading across every hand-off to a shard, so once Close
	// has taken it for writing no further event can reach a worker.
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

func NewQueue(cfg QueueConfig, handler Handler, metrics *Metrics) *Queue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	perShard := (cfg.BufferSize + cfg.Workers - 1) / cfg.Workers

	q := &Queue{
		cfg:     cfg,
		handler: handler,
		metrics: metrics,
		shards:   make([]chan domain.ChangeEvent, cfg.Workers),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := range q.shards {
		q.shards[i] = make(chan domain.ChangeEvent, perShard)
		q.wg.Add(1)
		go q.run(q.shards[i])
	}

	log.WithFields(log.Fields{
		"queue":        cfg.Name,
		"workers":      cfg.Workers,
		"buffer_size":  cfg.BufferSize,
		"max_attempts": cfg.MaxAttempts,
	}).Info("Change event queue started")

	return q
}

func (q *Queue) Name() string { return q.cfg.Name }

// Receive enqueues the event. With DropIfFull the call never blocks and a full
// queue drops the event; otherwise it waits for room, ctx or Close. An event
// accepted with a nil error is always handed to the handler, even when Close
// runs concurrently.
func (q *Queue) Receive(ctx context.Context, event domain.ChangeEvent) error {
	if q == nil {
		return ErrQueueClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	ch := q.shardFor(event)

	if q.cfg.DropIfFull {
		select {
		case ch <- event:
			q.metrics.incEnqueued(q.cfg.Name)
			return nil
		default:
			q.dropped.Add(1)
			q.metrics.incDropped(q.cfg.Name)
			return ErrQueueFull
		}
	}

	select {
	case ch <- event:
		q.metrics.incEnqueued(q.cfg.Name)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopping:
		return ErrQueueClosed
	}
}

// Dropped returns the number of events rejected because the queue was full.
func (q *Queue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}

// Pending returns the number of events waiting for a worker.
func (q *Queue) Pending() int {
	n := 0
	for _, ch := range q.shards {
		n += len(ch)
	}
	return n
}

// Close stops accepting events and waits until the queued ones are handled.
// When ctx expires first, in-flight attempts and retries are cancelled; the
// remaining events fail and are logged.
func (q *Queue) Close(ctx context.Context) error {
	if q == nil {
		return nil
	}
	var err error
	q.closeOnce.Do(func() {
		close(q.stopping)
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)

		finished := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
		case <-ctx.Done():
			err = ctx.Err()
			q.cancel()
			<-finished
		}
		q.cancel()

		log.WithFields(log.Fields{
			"queue":   q.cfg.Name,
			"dropped": q.dropped.Load(),
		}).Info("Change event queue stopped")
	})
	return err
}

func (q *Queue) shardFor(event domain.ChangeEvent) chan domain.ChangeEvent {
	if len(q.shards) == 1 {
		return q.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(event.Key()))
	return q.shards[h.Sum32()%uint32(len(q.shards))]
}

func (q *Queue) run(ch chan domain.ChangeEvent) {
	defer q.wg.Done()

	for {
		select {
		case event := <-ch:
			q.deliver(event)
		case <-q.done:
			for {
				select {
				case event := <-ch:
					q.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(event domain.ChangeEvent) {
	start := time.Now()
	attempts := 0

	operation := func() error {
		attempts++
		err := q.attempt(event)
		if err != nil && errors.Is(err, domain.ErrInvalidChangeEvent) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		q.metrics.incRetried(q.cfg.Name)
		log.WithError(err).WithFields(log.Fields{
			"queue":     q.cfg.Name,
			"event_id":  event.ID,
			"entity":    event.EntityType,
			"entity_id": event.EntityID,
			"attempt":   attempts,
			"retry_in":  wait.String(),
		}).Warn("Change event delivery failed, retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(q.policy(), q.ctx), notify)
	if err == nil {
		q.metrics.observe(q.cfg.Name, true, time.Since(start))
		return
	}

	q.metrics.observe(q.cfg.Name, false, time.Since(start))
	failure := &domain.ConsumerFailure{
		Consumer: q.cfg.Name,
		Event:    event,
		Attempts: attempts,
		Err:      err,
	}
	log.WithError(failure).WithFields(log.Fields{
		"queue":     q.cfg.Name,
		"event_id":  event.ID,
		"entity":    event.EntityType,
		"entity_id": event.EntityID,
		"action":    event.Action.Label(),
		"actor_id":  event.ActorID,
		"diff":      event.Diff,
		"attempts":  attempts,
	}).Error("Giving up on change event")
}

func (q *Queue) attempt(event domain.ChangeEvent) (err error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.AttemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return q.handler.Handle(ctx, event)
}

func (q *Queue) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialBackoff
	b.MaxInterval = q.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(q.cfg.MaxAttempts-1))
}
