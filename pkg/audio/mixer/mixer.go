// Package mixer serialises audio segments onto a single output stream.
//
// A [Queue] plays segments one after another in the order they were
// enqueued, so two sounds sent to the same voice channel never interleave.
package mixer

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrClosed is returned by [Queue.Play] once the queue has been closed.
var ErrClosed = errors.New("mixer: closed")

// entry is one enqueued segment.
type entry struct {
	frames []audio.Frame

	stopOnce sync.Once
	stop     chan struct{} // closed to abort this segment
	done     chan error    // buffered; receives the playback result
}

func (e *entry) abort() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Queue is a FIFO playback queue in front of an output channel. A single
// dispatch goroutine owns the output, so at most one segment is written at
// any time.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	out chan<- audio.Frame

	mu      sync.Mutex
	pending []*entry
	playing *entry
	closed  bool

	notify  chan struct{} // signalled when a segment is enqueued
	done    chan struct{} // closed by Close
	stopped chan struct{} // closed when dispatch returns
}

// New creates a queue writing to out and starts its dispatch goroutine.
// Call [Queue.Close] to stop it.
func New(out chan<- audio.Frame) *Queue {
	q := &Queue{
		out:     out,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.dispatch()
	return q
}

// Play enqueues frames behind every segment already waiting and blocks
// until all of them have been written to the output. If ctx ends first the
// segment is dropped from the queue, or stopped mid-play, and ctx.Err() is
// returned.
func (q *Queue) Play(ctx context.Context, frames []audio.Frame) error {
	e := &entry{
		frames: frames,
		stop:   make(chan struct{}),
		done:   make(chan error, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	select {
	case err := <-e.done:
		return err
	case <-ctx.Done():
		q.cancel(e)
		return ctx.Err()
	}
}

// Len returns the number of segments waiting or playing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.playing != nil {
		n++
	}
	return n
}

// Close stops the dispatch goroutine. Waiting and playing segments fail
// with [ErrClosed]. Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, e := range q.pending {
		e.done <- ErrClosed
	}
	q.pending = nil
	q.mu.Unlock()

	close(q.done)
	<-q.stopped
	return nil
}

// cancel removes e from the queue or stops it if it is playing.
func (q *Queue) cancel(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := slices.Index(q.pending, e); i >= 0 {
		q.pending = slices.Delete(q.pending, i, i+1)
		return
	}
	if q.playing == e {
		e.abort()
	}
}

// dispatch plays queued segments until Close.
func (q *Queue) dispatch() {
	defer close(q.stopped)
	for {
		e, ok := q.next()
		if !ok {
			select {
			case <-q.done:
				return
			case <-q.notify:
				continue
			}
		}

		err := q.play(e)

		q.mu.Lock()
		q.playing = nil
		q.mu.Unlock()
		e.done <- err
	}
}

// next pops the oldest segment and marks it as playing.
func (q *Queue) next() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return nil, false
	}
	e := q.pending[0]
	q.pending = q.pending[1:]
	q.playing = e
	return e, true
}

// play writes the frames of e to the output until they run out or playback
// is stopped.
func (q *Queue) play(e *entry) error {
	for _, f := range e.frames {
		select {
		case q.out <- f:
		case <-e.stop:
			return context.Canceled
		case <-q.done:
			return ErrClosed
		}
	}
	return nil
}
