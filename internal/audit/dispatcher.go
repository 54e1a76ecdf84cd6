package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering. Every route gets its own buffer of
// BufferSize events.
type Config struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// Route is a named destination. The name labels the route's drop count.
type Route struct {
	Name string
	Sink Sink
}

// Enricher copies request metadata from ctx onto an event before it is
// queued. The context is gone by the time a route delivers the event.
type Enricher func(ctx context.Context, event *Event)

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithEnricher sets the function that fills caller metadata.
func WithEnricher(fn Enricher) Option {
	return func(d *Dispatcher) { d.enrich = fn }
}

// OnDrop registers a hook called with the route name for every dropped event.
func OnDrop(fn func(route string)) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// Dispatcher stamps security events and fans them out to its routes. Each
// route drains its own queue from its own goroutine, so a slow realtime
// channel never holds back the log trail. A nil *Dispatcher discards
// everything.
type Dispatcher struct {
	dropIfFull bool
	now        func() time.Time
	enrich     Enricher
	onDrop     func(route string)
	lanes      []*lane

	// mu orders Emit against Close: queues are closed only once no Emit
	// holds the read lock.
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type lane struct {
	name    string
	sink    Sink
	events  chan Event
	dropped atomic.Uint64
}

// NewDispatcher starts one delivery goroutine per route, or returns nil when
// cfg is disabled or there is nowhere to deliver.
func NewDispatcher(cfg Config, routes []Route, opts ...Option) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &Dispatcher{dropIfFull: cfg.DropIfFull, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	for _, r := range routes {
		if r.Sink == nil {
			continue
		}
		d.lanes = append(d.lanes, &lane{
			name:   r.Name,
			sink:   r.Sink,
			events: make(chan Event, cfg.BufferSize),
		})
	}
	if len(d.lanes) == 0 {
		return nil
	}

	d.wg.Add(len(d.lanes))
	for _, l := range d.lanes {
		go d.deliver(l)
	}
	return d
}

func (d *Dispatcher) deliver(l *lane) {
	defer d.wg.Done()
	for event := range l.events {
		l.sink.Emit(context.Background(), event)
	}
}

// Emit enriches and stamps event, then queues a copy on every route. With
// DropIfFull a full route counts a drop instead of blocking; otherwise Emit
// waits for room or for ctx to end.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if d.enrich != nil {
		d.enrich(ctx, &event)
	}
	event = Stamp(event, d.now())

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, l := range d.lanes {
		if d.dropIfFull {
			select {
			case l.events <- event:
			default:
				d.drop(l)
			}
			continue
		}
		select {
		case l.events <- event:
		case <-ctx.Done():
			d.drop(l)
		}
	}
}

func (d *Dispatcher) drop(l *lane) {
	l.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop(l.name)
	}
}

// Close stops intake, lets every route drain its queue and waits for them.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		for _, l := range d.lanes {
			close(l.events)
		}
		d.mu.Unlock()
		d.wg.Wait()
	})
}

// Dropped is the number of events discarded so far across all routes.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	var n uint64
	for _, l := range d.lanes {
		n += l.dropped.Load()
	}
	return n
}

// DroppedBy returns the drop count of each route by name.
func (d *Dispatcher) DroppedBy() map[string]uint64 {
	if d == nil {
		return nil
	}
	out := make(map[string]uint64, len(d.lanes))
	for _, l := range d.lanes {
		out[l.name] += l.dropped.Load()
	}
	return out
}
