package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrReaderStopped is returned when submitting to a stopped reader.
	ErrReaderStopped = errors.New("reader is stopped")

	// ErrReaderClosed is returned when starting a closed reader.
	ErrReaderClosed = errors.New("reader is closed")
)

// Listener receives scan outcomes. Calls are made from the reader's consumer
// goroutine, one at a time.
type Listener interface {
	// KeyPartDetected is called for every accepted payload.
	KeyPartDetected(res *Result)
	// WrongKeyPart is called when a payload is malformed, rejected or could
	// not be stored.
	WrongKeyPart(payload string, err error)
}

// Reader queues scanned payloads and hands them to an Ingester from a single
// goroutine. It can be stopped and started again; payloads still queued when
// it stops are processed after the next Start.
type Reader struct {
	ingester *Ingester
	listener Listener
	log      *slog.Logger

	mu     sync.Mutex
	queue  []string
	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	closed bool
}

// NewReader creates a stopped reader.
func NewReader(ingester *Ingester, listener Listener, log *slog.Logger) *Reader {
	return &Reader{
		ingester: ingester,
		listener: listener,
		log:      log,
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the consumer. Starting a running reader is a no-op. When ctx
// is done the consumer exits and the reader counts as stopped, so it can be
// started again with a fresh context.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrReaderClosed
	}
	if r.quit != nil {
		return nil
	}

	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(ctx, r.quit, r.done)

	if len(r.queue) > 0 {
		r.notify()
	}
	r.log.Debug("reader started", "queued", len(r.queue))
	return nil
}

// Stop stops dispatching payloads and waits for the one being processed.
// Stopping a stopped reader is a no-op.
func (r *Reader) Stop() {
	r.mu.Lock()
	if r.quit == nil {
		r.mu.Unlock()
		return
	}
	close(r.quit)
	done := r.done
	r.quit = nil
	r.done = nil
	r.mu.Unlock()

	<-done
	r.log.Debug("reader stopped")
}

// Restart stops and starts the reader.
func (r *Reader) Restart(ctx context.Context) error {
	r.Stop()
	return r.Start(ctx)
}

// Close stops the reader for good and drops queued payloads.
func (r *Reader) Close() {
	r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.queue = nil
}

// Submit queues a payload. It fails with ErrReaderStopped unless the reader
// is running.
func (r *Reader) Submit(payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quit == nil {
		return ErrReaderStopped
	}
	r.queue = append(r.queue, payload)
	r.notify()
	return nil
}

// Running reports whether the reader accepts payloads.
func (r *Reader) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quit != nil
}

// Pending returns the number of queued payloads.
func (r *Reader) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Reader) run(ctx context.Context, quit, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			r.detach(quit)
			return
		}
		payload, ok := r.next(quit)
		if !ok {
			select {
			case <-r.wake:
				continue
			case <-quit:
				return
			case <-ctx.Done():
				r.detach(quit)
				return
			}
		}
		r.handle(ctx, payload)
	}
}

// detach marks the reader stopped after its context is done, unless Stop or
// a later Start already replaced the generation owning quit.
func (r *Reader) detach(quit chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quit != quit {
		return
	}
	r.quit = nil
	r.done = nil
	r.log.Debug("reader context done", "queued", len(r.queue))
}

// next pops a payload unless the reader generation owning quit was stopped.
func (r *Reader) next(quit chan struct{}) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quit != quit || len(r.queue) == 0 {
		return "", false
	}
	payload := r.queue[0]
	r.queue[0] = ""
	r.queue = r.queue[1:]
	return payload, true
}

func (r *Reader) handle(ctx context.Context, payload string) {
	res, err := r.ingester.Ingest(ctx, payload)
	if err != nil {
		r.listener.WrongKeyPart(payload, err)
		return
	}
	r.listener.KeyPartDetected(res)
}

// notify wakes the consumer without blocking. Callers hold r.mu.
func (r *Reader) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
