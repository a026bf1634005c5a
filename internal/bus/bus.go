// Package bus implements the in-process event bus: a single-worker
// publish/subscribe dispatcher with global FIFO delivery, per-handler failure
// isolation, and a bounded in-memory event history.
package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrBusNotRunning is returned by Publish when the bus has not been started
// or has already been stopped. The caller must restart the bus; publishes are
// never silently dropped.
var ErrBusNotRunning = errors.New("event bus is not running")

const (
	defaultQueueSize   = 1024
	defaultHistorySize = 1000
)

// Config controls bus sizing. Zero values fall back to defaults.
type Config struct {
	QueueSize   int
	HistorySize int
	// Registerer receives the bus metrics. Leave nil to keep metrics
	// unregistered (isolated bus instances in tests).
	Registerer prometheus.Registerer
}

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches events to subscribed handlers in strict publish order.
// A single worker goroutine drains the queue; handlers for one event run
// concurrently, but the worker does not advance to the next event until all
// of them have returned, so every handler observes the global publish order.
type Bus struct {
	logger *zap.Logger
	cfg    Config

	mu         sync.RWMutex
	subs       map[string][]subscription
	middleware []Middleware
	running    bool
	queue      chan Event

	done    chan struct{}
	history *ring
	metrics *Metrics
}

// New creates a stopped bus. Call Start before publishing.
func New(logger *zap.Logger, cfg Config) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	return &Bus{
		logger:  logger,
		cfg:     cfg,
		subs:    make(map[string][]subscription),
		history: newRing(cfg.HistorySize),
		metrics: NewMetrics(cfg.Registerer),
	}
}

// Start launches the dispatch worker. Idempotent.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.queue = make(chan Event, b.cfg.QueueSize)
	b.done = make(chan struct{})
	b.running = true
	go b.worker(b.queue, b.done)
	b.logger.Info("event bus started",
		zap.Int("queue_size", b.cfg.QueueSize),
		zap.Int("history_size", b.cfg.HistorySize))
}

// Stop rejects further publishes, drains every event already enqueued, and
// returns once the last dispatch has completed. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.queue)
	done := b.done
	b.mu.Unlock()

	<-done
	b.logger.Info("event bus stopped")
}

// Publish enqueues an event for dispatch. The event ID and timestamp are
// assigned here if unset; the assigned event ID is returned. Publish blocks
// only for the enqueue itself.
func (b *Bus) Publish(evt Event) (uuid.UUID, error) {
	if evt.Metadata.EventID == uuid.Nil {
		evt.Metadata.EventID = uuid.New()
	}
	if evt.Metadata.Timestamp.IsZero() {
		evt.Metadata.Timestamp = time.Now().UTC()
	}
	if evt.Metadata.SchemaVersion == 0 {
		evt.Metadata.SchemaVersion = 1
	}
	if evt.Metadata.Type == "" && evt.Payload != nil {
		evt.Metadata.Type = evt.Payload.EventType()
	}

	// The read lock is held across the send so Stop cannot close the queue
	// underneath an in-flight publish.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return uuid.Nil, ErrBusNotRunning
	}
	b.queue <- evt
	b.metrics.Published.Inc()
	return evt.Metadata.EventID, nil
}

// Subscribe registers a named handler for a topic. The name identifies the
// handler in logs and is the key for Unsubscribe.
func (b *Bus) Subscribe(topic, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscription{name: name, handler: handler})
	b.logger.Debug("handler subscribed",
		zap.String("topic", topic),
		zap.String("handler", name))
}

// Unsubscribe removes the named handler from a topic.
func (b *Bus) Unsubscribe(topic, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.name == name {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Use appends a middleware. Middleware run in registration order before an
// event is recorded or dispatched.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// History returns the most recent retained events, most-recent-last,
// optionally filtered by topic. Pass an empty topic for all topics.
func (b *Bus) History(topic string, limit int) []Event {
	return b.history.tail(topic, limit)
}

func (b *Bus) worker(queue <-chan Event, done chan<- struct{}) {
	for evt := range queue {
		b.dispatch(evt)
	}
	close(done)
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	middleware := b.middleware
	b.mu.RUnlock()

	var err error
	for _, mw := range middleware {
		evt, err = mw(evt)
		if err != nil {
			b.metrics.Rejected.Inc()
			b.logger.Warn("event rejected by middleware",
				zap.String("event_id", evt.Metadata.EventID.String()),
				zap.String("event_type", evt.Metadata.Type),
				zap.Error(err))
			return
		}
	}

	// Subscribers are resolved after the middleware chain so a rewritten
	// event type routes to the rewritten topic's handlers.
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[evt.Metadata.Type]...)
	b.mu.RUnlock()

	if evicted := b.history.add(evt); evicted {
		b.metrics.Evicted.Inc()
	}

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.metrics.HandlerErrors.Inc()
					b.logger.Error("event handler panic",
						zap.String("event_id", evt.Metadata.EventID.String()),
						zap.String("event_type", evt.Metadata.Type),
						zap.String("handler", s.name),
						zap.Any("recover", r))
				}
			}()
			if err := s.handler(evt); err != nil {
				b.metrics.HandlerErrors.Inc()
				b.logger.Error("event handler failed",
					zap.String("event_id", evt.Metadata.EventID.String()),
					zap.String("event_type", evt.Metadata.Type),
					zap.String("handler", s.name),
					zap.Error(err))
				return
			}
			b.metrics.Delivered.Inc()
		}(sub)
	}
	wg.Wait()
}
