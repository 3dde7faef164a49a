package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/logger"
)

// DefaultIdleAfter is how long an empty lane survives before its worker
// goroutine is reaped.
const DefaultIdleAfter = 5 * time.Minute

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("dispatcher closed")

// Result is the outcome of one dispatched pipeline execution.
type Result struct {
	Answer core.Answer
	Err    error
}

// Handler runs one request/response exchange for a session.
type Handler interface {
	Handle(ctx context.Context, sessionID, question string) (core.Answer, error)
}

// Dispatcher fans inbound events out to per-session lanes. Within one lane
// jobs run strictly one at a time in arrival order; lanes for distinct
// sessions run concurrently and never block one another. A single global
// lock would serialize unrelated sessions; no lock at all would corrupt
// per-session ordering — the lane map is the middle ground.
type Dispatcher struct {
	handler   Handler
	idleAfter time.Duration

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	ctx       context.Context
	sessionID string
	question  string
	result    chan Result
}

// lane is one session's sequential execution channel. The queue is guarded
// by the dispatcher mutex; wake carries at most one pending signal.
type lane struct {
	queue []job
	wake  chan struct{}
}

// NewDispatcher creates a dispatcher over the given handler. idleAfter <= 0
// falls back to DefaultIdleAfter.
func NewDispatcher(handler Handler, idleAfter time.Duration) *Dispatcher {
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	return &Dispatcher{
		handler:   handler,
		idleAfter: idleAfter,
		lanes:     make(map[string]*lane),
	}
}

// Submit enqueues one question onto the session's lane, creating the lane on
// first use. The returned channel receives exactly one Result and is
// buffered, so the caller may abandon it.
//
// Arrival order is the order Submit calls take the dispatcher lock; two
// Submits for the same session from one goroutine therefore run in program
// order.
func (d *Dispatcher) Submit(ctx context.Context, sessionID, question string) <-chan Result {
	result := make(chan Result, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		result <- Result{Err: ErrClosed}
		return result
	}

	ln, ok := d.lanes[sessionID]
	if !ok {
		ln = &lane{wake: make(chan struct{}, 1)}
		d.lanes[sessionID] = ln
		d.wg.Add(1)
		go d.run(sessionID, ln)
		logger.PipelineDebug("session=%s lane created", sessionID)
	}
	ln.queue = append(ln.queue, job{ctx: ctx, sessionID: sessionID, question: question, result: result})
	d.mu.Unlock()

	select {
	case ln.wake <- struct{}{}:
	default:
	}
	return result
}

// Sessions returns the number of live lanes.
func (d *Dispatcher) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lanes)
}

// Close stops accepting new work, lets every queued job finish, and waits
// for all lane workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ln := range d.lanes {
		select {
		case ln.wake <- struct{}{}:
		default:
		}
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// run is the lane worker: pop, execute, repeat. It exits when the lane has
// been idle for idleAfter, or when the dispatcher is closed and the queue is
// drained.
func (d *Dispatcher) run(sessionID string, ln *lane) {
	defer d.wg.Done()

	idle := time.NewTimer(d.idleAfter)
	defer idle.Stop()

	for {
		d.mu.Lock()
		if len(ln.queue) == 0 {
			if d.closed {
				delete(d.lanes, sessionID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.idleAfter)

			select {
			case <-ln.wake:
				continue
			case <-idle.C:
				d.mu.Lock()
				if len(ln.queue) == 0 {
					delete(d.lanes, sessionID)
					d.mu.Unlock()
					logger.PipelineDebug("session=%s lane reaped after idle", sessionID)
					return
				}
				d.mu.Unlock()
				continue
			}
		}

		j := ln.queue[0]
		ln.queue = ln.queue[1:]
		d.mu.Unlock()

		answer, err := d.handler.Handle(j.ctx, j.sessionID, j.question)
		j.result <- Result{Answer: answer, Err: err}
	}
}
