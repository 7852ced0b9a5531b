package acquire

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

var (
	// ErrRequestPending is returned when a request of the same kind is already open.
	ErrRequestPending = apperrors.New(apperrors.CodeRequestPending, "a request of this kind is already pending", apperrors.CategoryAcquisition)

	// ErrNoPendingRequest is returned when resolving a kind with nothing open.
	ErrNoPendingRequest = apperrors.New(apperrors.CodeNoPendingRequest, "no pending request", apperrors.CategoryAcquisition)
)

// Request is a value that will be supplied later by someone else. It
// resolves exactly once.
type Request[T any] struct {
	ID        uuid.UUID
	CreatedAt time.Time

	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newRequest[T any]() *Request[T] {
	return &Request[T]{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Resolve supplies the result. It reports false if the request was already resolved.
func (r *Request[T]) Resolve(value T, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.value = value
		r.err = err
		close(r.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the request is resolved.
func (r *Request[T]) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request is resolved or ctx ends.
func (r *Request[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Slot holds at most one open request of a kind.
type Slot[T any] struct {
	mu      sync.Mutex
	pending *Request[T]
}

// Open starts a new request, or fails with ErrRequestPending.
func (s *Slot[T]) Open() (*Request[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return nil, ErrRequestPending
	}
	s.pending = newRequest[T]()
	return s.pending, nil
}

// Resolve completes the open request and frees the slot.
func (s *Slot[T]) Resolve(value T, err error) (*Request[T], error) {
	s.mu.Lock()
	req := s.pending
	s.pending = nil
	s.mu.Unlock()

	if req == nil || !req.Resolve(value, err) {
		return nil, ErrNoPendingRequest
	}
	return req, nil
}

// Abandon frees the slot if req is still the open request. Callers use it
// when they stop waiting.
func (s *Slot[T]) Abandon(req *Request[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == req {
		s.pending = nil
	}
}

// Pending returns the open request, or nil.
func (s *Slot[T]) Pending() *Request[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Await opens a request and waits for it to be resolved or for ctx to end.
func (s *Slot[T]) Await(ctx context.Context) (T, error) {
	req, err := s.Open()
	if err != nil {
		var zero T
		return zero, err
	}
	defer s.Abandon(req)
	return req.Wait(ctx)
}
