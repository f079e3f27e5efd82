package event

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/metrics"
)

var (
	ErrBusStarted = errors.New("event bus: subscriptions are closed once the bus has started")
	ErrNilHandler = errors.New("event bus: nil handler")
)

type Config struct {
	// Workers is the number of dispatch shards.
	Workers int
	// QueueSize is the buffered capacity of each shard.
	QueueSize int
	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	return c
}

// Bus is an in-process publish/subscribe dispatcher. Publish never blocks:
// when a shard queue is full the event is dropped and counted. Handlers for
// one event run one after another on the shard goroutine, each isolated from
// the others' errors and panics.
type Bus struct {
	cfg     Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string][]Handler
	started  bool
	closed   bool

	shards []chan Event
	rr     atomic.Uint64
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

func NewBus(cfg Config, log *logger.Logger, m *metrics.Metrics) *Bus {
	cfg = cfg.withDefaults()
	shards := make([]chan Event, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan Event, cfg.QueueSize)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		cfg:      cfg,
		logger:   log.With("event_bus"),
		metrics:  m,
		handlers: make(map[string][]Handler),
		shards:   shards,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Subscribe registers h for events named name. The registry is fixed once
// Start has been called.
func (b *Bus) Subscribe(name string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrBusStarted
	}
	b.handlers[name] = append(b.handlers[name], h)
	return nil
}

// MustSubscribe is Subscribe for wiring code that runs before Start.
func (b *Bus) MustSubscribe(name string, h Handler) {
	if err := b.Subscribe(name, h); err != nil {
		panic(err)
	}
}

// Start launches the shard workers. Events published earlier are delivered.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	for i, ch := range b.shards {
		b.wg.Add(1)
		go b.run(i, ch)
	}
	b.logger.Info("event bus started", "workers", b.cfg.Workers, "queue_size", b.cfg.QueueSize)
}

// Publish enqueues an event and returns immediately.
func (b *Bus) Publish(_ context.Context, name string, payload interface{}) {
	evt := Event{Name: name, Payload: payload, OccurredAt: b.now()}
	if k, ok := payload.(Keyed); ok {
		evt.Key = k.PartitionKey()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.drop(evt, "bus closed")
		return
	}

	select {
	case b.shards[b.shardFor(evt.Key)] <- evt:
		b.metrics.EventsPublished.WithLabelValues(name).Inc()
	default:
		b.drop(evt, "queue full")
	}
}

// Shutdown stops accepting events and waits for queued ones to drain or for
// ctx to expire, whichever comes first.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, ch := range b.shards {
		close(ch)
	}
	started := b.started
	b.mu.Unlock()

	if !started {
		b.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		return fmt.Errorf("event bus shutdown: %w", ctx.Err())
	}
}

func (b *Bus) shardFor(key string) int {
	n := len(b.shards)
	if key == "" {
		return int(b.rr.Add(1) % uint64(n))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (b *Bus) drop(evt Event, reason string) {
	b.metrics.EventsDropped.WithLabelValues(evt.Name).Inc()
	b.logger.Warn("event dropped", "event", evt.Name, "key", evt.Key, "reason", reason)
}

func (b *Bus) run(shard int, ch <-chan Event) {
	defer b.wg.Done()
	for evt := range ch {
		for _, h := range b.handlers[evt.Name] {
			b.invoke(evt, h)
		}
	}
	b.logger.Debug("event shard stopped", "shard", shard)
}

func (b *Bus) invoke(evt Event, h Handler) {
	timer := prometheus.NewTimer(b.metrics.HandlerLatency.WithLabelValues(evt.Name))
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.metrics.HandlerFailures.WithLabelValues(evt.Name).Inc()
			b.logger.Error(fmt.Errorf("panic: %v", r), "event handler panicked", "event", evt.Name)
		}
	}()

	if err := h(ctx, evt); err != nil {
		b.metrics.HandlerFailures.WithLabelValues(evt.Name).Inc()
		b.logger.Error(err, "event handler failed", "event", evt.Name, "key", evt.Key)
	}
}
