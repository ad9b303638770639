package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"

	"go.uber.org/zap"
)

var ErrHookQueueFull = errors.New("room event queue full")

// HookError reports a failed room event handler.
type HookError struct {
	Hook  string
	Event domain.RoomEvent
	Err   error
}

func (e HookError) Error() string {
	return fmt.Sprintf("room hook %s on %s: %v", e.Hook, e.Event.Type, e.Err)
}

func (e HookError) Unwrap() error { return e.Err }

type hook struct {
	name    string
	handler ports.RoomEventHandler
	queue   chan domain.RoomEvent
}

// RoomEventDispatcher delivers room lifecycle events to subscribers. Every
// subscriber has its own ordered queue and goroutine, so a slow or failing
// hook never blocks the registry or another hook. Failures are reported on
// Errors().
type RoomEventDispatcher struct {
	logger    *zap.SugaredLogger
	queueSize int

	mu      sync.RWMutex
	hooks   []*hook
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup

	errs chan HookError
}

func NewRoomEventDispatcher(queueSize int, logger *zap.SugaredLogger) *RoomEventDispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &RoomEventDispatcher{
		logger:    logger,
		queueSize: queueSize,
		errs:      make(chan HookError, queueSize),
	}
}

func (d *RoomEventDispatcher) Subscribe(name string, handler ports.RoomEventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	h := &hook{name: name, handler: handler, queue: make(chan domain.RoomEvent, d.queueSize)}
	d.hooks = append(d.hooks, h)
	d.workers.Add(1)
	go d.run(h)
}

func (d *RoomEventDispatcher) run(h *hook) {
	defer d.workers.Done()
	for event := range h.queue {
		d.invoke(h, event)
		d.pending.Done()
	}
}

func (d *RoomEventDispatcher) invoke(h *hook, event domain.RoomEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.report(HookError{Hook: h.name, Event: event, Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	if err := h.handler(context.Background(), event); err != nil {
		d.report(HookError{Hook: h.name, Event: event, Err: err})
	}
}

func (d *RoomEventDispatcher) report(hookErr HookError) {
	select {
	case d.errs <- hookErr:
	default:
		d.logger.Warnw("room hook error dropped",
			"hook", hookErr.Hook,
			"event", hookErr.Event.Type,
			"room_id", hookErr.Event.RoomID,
			"error", hookErr.Err,
		)
	}
}

// Dispatch enqueues event for every subscriber without blocking.
func (d *RoomEventDispatcher) Dispatch(event domain.RoomEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	for _, h := range d.hooks {
		d.pending.Add(1)
		select {
		case h.queue <- event:
		default:
			d.pending.Done()
			d.report(HookError{Hook: h.name, Event: event, Err: ErrHookQueueFull})
		}
	}
}

// Errors exposes hook failures. The channel is buffered; failures that do not
// fit are logged and dropped.
func (d *RoomEventDispatcher) Errors() <-chan HookError {
	return d.errs
}

// Wait blocks until every event dispatched so far has been handled.
func (d *RoomEventDispatcher) Wait() {
	d.pending.Wait()
}

// Close stops accepting events and waits for queued ones to drain.
func (d *RoomEventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, h := range d.hooks {
		close(h.queue)
	}
	d.mu.Unlock()

	d.workers.Wait()
}
