package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/budget-approval/internal/domain/event"
)

// ErrClosed is returned when dispatching on a closed dispatcher
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher fans workflow events out to named subscribers. Subscribers of
// one event type run in the order they were first registered.
type Dispatcher interface {
	Subscribe(eventType event.Type, name string, handler Handler)
	SubscribeAll(name string, handler Handler)
	Unsubscribe(eventType event.Type, name string)

	// Dispatch stops at the first failing subscriber and returns its error
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync queues the event for each subscriber and returns. A
	// subscriber sees async events in the order they were dispatched; its
	// deliveries are detached from the caller's cancellation.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers reports subscribers without their functions
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close refuses new events and waits for running async subscribers
	Close() error
}

// Logger is the subset of the application logger used here
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu     sync.RWMutex
	routes map[event.Type][]HandlerInfo
	closed bool

	queuesMu sync.Mutex
	queues   map[string]*queue

	inflight sync.WaitGroup
	logger   Logger
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		routes: make(map[event.Type][]HandlerInfo),
		queues: make(map[string]*queue),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe adds handler under name. Reusing a name swaps the function in
// place and keeps its position.
func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry := HandlerInfo{Name: name, EventType: eventType, Handler: handler}
	if i := indexOf(d.routes[eventType], name); i >= 0 {
		d.routes[eventType][i] = entry
		d.info("Handler replaced", eventType, name)
		return
	}
	d.routes[eventType] = append(d.routes[eventType], entry)
	d.info("Handler registered", eventType, name)
}

func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	for _, t := range event.AllTypes() {
		d.Subscribe(t, name, handler)
	}
}

func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	route := d.routes[eventType]
	i := indexOf(route, name)
	if i < 0 {
		return
	}
	d.routes[eventType] = append(route[:i:i], route[i+1:]...)
	d.info("Handler unregistered", eventType, name)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	route := append([]HandlerInfo(nil), d.routes[evt.Type]...)
	d.mu.RUnlock()

	for _, h := range route {
		if err := d.call(ctx, evt, h); err != nil {
			d.fail("Handler error", evt, h.Name, err)
			return fmt.Errorf("handler %s: %w", h.Name, err)
		}
	}
	return nil
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	// Deliveries join inflight under the read lock so Close cannot return
	// while one is being queued.
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.fail("Cannot dispatch async event, dispatcher is closed", evt, "", nil)
		return
	}

	detached := context.WithoutCancel(ctx)
	for _, h := range d.routes[evt.Type] {
		d.queueFor(h.Name).push(d, delivery{ctx: detached, evt: evt, handler: h})
	}
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]HandlerInfo, len(d.routes[eventType]))
	for i, h := range d.routes[eventType] {
		out[i] = HandlerInfo{Name: h.Name, EventType: h.EventType}
	}
	return out
}

func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}
	return nil
}

// call runs one subscriber, turning a panic into an error
func (d *eventDispatcher) call(ctx context.Context, evt *event.Event, h HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.fail("Handler panic recovered", evt, h.Name, err)
		}
	}()
	return h.Handler(ctx, evt)
}

func (d *eventDispatcher) info(msg string, eventType event.Type, name string) {
	if d.logger != nil {
		d.logger.Info(msg, "event_type", eventType, "handler_name", name)
	}
}

func (d *eventDispatcher) fail(msg string, evt *event.Event, name string, err error) {
	if d.logger == nil {
		return
	}
	kv := []interface{}{"event_type", evt.Type, "event_id", evt.ID, "request_id", evt.RequestID}
	if name != "" {
		kv = append(kv, "handler_name", name)
	}
	if err != nil {
		kv = append(kv, "error", err)
	}
	d.logger.Error(msg, kv...)
}

// queueFor returns the delivery queue of a subscriber name. Callers hold at
// least the read lock; queues are created under queuesMu.
func (d *eventDispatcher) queueFor(name string) *queue {
	d.queuesMu.Lock()
	defer d.queuesMu.Unlock()

	q, ok := d.queues[name]
	if !ok {
		q = &queue{}
		d.queues[name] = q
	}
	return q
}

type delivery struct {
	ctx     context.Context
	evt     *event.Event
	handler HandlerInfo
}

// queue serializes async deliveries to one subscriber. A drain goroutine
// runs only while deliveries are pending.
type queue struct {
	mu       sync.Mutex
	pending  []delivery
	draining bool
}

func (q *queue) push(d *eventDispatcher, dl delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, dl)
	if q.draining {
		return
	}
	q.draining = true
	d.inflight.Add(1)
	go q.drain(d)
}

func (q *queue) drain(d *eventDispatcher) {
	defer d.inflight.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		dl := q.pending[0]
		q.pending[0] = delivery{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := d.call(dl.ctx, dl.evt, dl.handler); err != nil {
			d.fail("Async handler error", dl.evt, dl.handler.Name, err)
		}
	}
}

func indexOf(route []HandlerInfo, name string) int {
	for i, h := range route {
		if h.Name == name {
			return i
		}
	}
	return -1
}
