// Package callback provides asynchronous delivery of group lifecycle events
// to registered handlers.
//
// The dispatcher decouples the correlation hot path from downstream
// consumers (incident creation, notification fan-out, audit): events are
// queued to a bounded buffer and delivered by a worker pool. A slow or
// failing handler never blocks correlation and never prevents other
// handlers from running.
package callback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quellhq/quell/internal/core/domain"
	"github.com/quellhq/quell/internal/logging"
)

// EventType represents the type of group transition that triggers an event.
type EventType string

const (
	// EventGroupCreated is emitted when a new group is created
	EventGroupCreated EventType = "group.created"
	// EventGroupUpdated is emitted when an alert is merged into a group
	EventGroupUpdated EventType = "group.updated"
	// EventGroupSuppressed is emitted when a group transitions to suppressed
	EventGroupSuppressed EventType = "group.suppressed"
	// EventGroupResolved is emitted when a group transitions to resolved
	EventGroupResolved EventType = "group.resolved"
	// EventGroupReopened is emitted when a group is explicitly reopened
	EventGroupReopened EventType = "group.reopened"
)

// Event is delivered to every registered handler on a group transition.
// Group is a detached copy; handlers may inspect it freely.
type Event struct {
	Type      EventType         `json:"type"`
	Group     domain.AlertGroup `json:"group"`
	Timestamp time.Time         `json:"timestamp"`
}

// Handler consumes group lifecycle events. Handlers must tolerate
// out-of-order delivery across groups.
type Handler func(ctx context.Context, event Event)

// Dispatcher fans events out to registered handlers via a worker pool.
type Dispatcher struct {
	logger         *logging.Logger
	queue          chan Event
	workers        int
	handlerTimeout time.Duration

	mu       sync.RWMutex
	handlers []Handler
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	dropped int64
}

// Config contains configuration for the dispatcher.
type Config struct {
	Workers        int
	BufferSize     int
	HandlerTimeout time.Duration
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		BufferSize:     256,
		HandlerTimeout: 10 * time.Second,
	}
}

// NewDispatcher creates a dispatcher with the given configuration.
func NewDispatcher(cfg Config, logger *logging.Logger) (*Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultConfig().HandlerTimeout
	}

	return &Dispatcher{
		logger:         logger,
		queue:          make(chan Event, cfg.BufferSize),
		workers:        cfg.Workers,
		handlerTimeout: cfg.HandlerTimeout,
		stopChan:       make(chan struct{}),
	}, nil
}

// Register adds a handler. Handlers registered after Start still receive
// subsequent events.
func (d *Dispatcher) Register(handler Handler) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

// Start launches the worker pool.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("callback dispatcher is already started")
	}
	d.started = true

	d.logger.Info("Starting callback dispatcher",
		"workers", d.workers,
		"buffer_size", cap(d.queue))

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return nil
}

// Stop drains no further events and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()
	d.logger.Info("Callback dispatcher stopped")
}

// Dispatch enqueues an event without blocking. When the buffer is full the
// event is dropped and logged; correlation is never delayed by consumers.
func (d *Dispatcher) Dispatch(event Event) {
	select {
	case d.queue <- event:
	default:
		d.mu.Lock()
		d.dropped++
		dropped := d.dropped
		d.mu.Unlock()
		d.logger.Warn("Callback queue full, dropping event",
			"event_type", string(event.Type),
			"group_id", event.Group.ID,
			"total_dropped", dropped)
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (d *Dispatcher) Dropped() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropped
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stopChan:
			// Drain remaining events before exiting.
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver invokes every registered handler with panic isolation and a
// per-handler timeout. One handler's failure never prevents others from
// running.
func (d *Dispatcher) deliver(event Event) {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for i, handler := range handlers {
		d.invoke(i, handler, event)
	}
}

func (d *Dispatcher) invoke(index int, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Callback handler panicked",
				"handler_index", index,
				"event_type", string(event.Type),
				"group_id", event.Group.ID,
				"panic", fmt.Sprintf("%v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.handlerTimeout)
	defer cancel()
	handler(ctx, event)
}
