// Package stream provides execution streams: ordering domains onto which the
// host enqueues kernel launches and runtime-initiated work. Work submitted to
// one stream runs in submission order; different streams run independently.
package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned when work is submitted to a closed stream.
var ErrClosed = errors.New("stream is closed")

const queueDepth = 256

// ID identifies a stream. The zero ID is the default stream.
type ID uuid.UUID

// DefaultID is the identifier of the process default stream.
var DefaultID ID

func (id ID) String() string {
	if id == DefaultID {
		return "default"
	}
	return uuid.UUID(id).String()
}

func (id ID) IsDefault() bool {
	return id == DefaultID
}

// Parse accepts "default" or a UUID.
func Parse(s string) (ID, error) {
	if s == "default" {
		return DefaultID, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return DefaultID, fmt.Errorf("invalid stream id %q: %w", s, err)
	}
	return ID(u), nil
}

type Stream struct {
	id   ID
	name string

	tasks chan func()
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

var (
	defaultOnce   sync.Once
	defaultStream *Stream
)

// Default returns the process default stream. It is never closed.
func Default() *Stream {
	defaultOnce.Do(func() {
		defaultStream = newStream(DefaultID, "default")
	})
	return defaultStream
}

// New creates a stream with a fresh identifier and starts its worker.
func New(name string) *Stream {
	return newStream(ID(uuid.New()), name)
}

func newStream(id ID, name string) *Stream {
	s := &Stream{
		id:    id,
		name:  name,
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *Stream) ID() ID {
	return s.id
}

func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) worker() {
	for task := range s.tasks {
		task()
	}
	close(s.done)
}

// Submit enqueues task. A non-nil error returned by the task is kept as the
// stream's sticky error and reported by the next Synchronize.
func (s *Stream) Submit(task func() error) error {
	return s.enqueue(func() {
		if err := task(); err != nil {
			s.recordErr(err)
		}
	})
}

func (s *Stream) enqueue(fn func()) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	s.tasks <- fn
	return nil
}

func (s *Stream) recordErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) takeErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.err
	s.err = nil
	return err
}

// Synchronize blocks until every task submitted before the call has finished,
// then returns (and clears) the first error raised since the last
// Synchronize.
func (s *Stream) Synchronize() error {
	barrier := make(chan struct{})
	if err := s.enqueue(func() { close(barrier) }); err != nil {
		// Closed streams have already drained.
		<-s.done
		return s.takeErr()
	}
	<-barrier
	return s.takeErr()
}

// Close drains pending work and stops the worker. Closing the default stream
// is a no-op.
func (s *Stream) Close() error {
	if s.id.IsDefault() {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.tasks)
	s.mu.Unlock()

	<-s.done
	return nil
}
