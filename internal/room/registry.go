// Package room serializes access to per-room record stores.
//
// Every operation on a room runs inside that room's critical section:
// load, compute, commit, release. Operations on different rooms never wait
// for each other.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conorfennell/knolroom/internal/errs"
	"github.com/conorfennell/knolroom/internal/storage"
)

// ErrUnchanged may be returned by an Update function to keep the current
// sequence without writing it. Update then returns the current sequence and
// a nil error.
var ErrUnchanged = errors.New("room unchanged")

const defaultIOTimeout = 5 * time.Second

// Registry maps room ids to their stores and owns the per-room locks.
type Registry[T any] struct {
	backend   storage.Backend[T]
	log       *zap.Logger
	ioTimeout time.Duration

	mu       sync.Mutex
	rooms    map[string]*entry[T]
	closed   bool
	inflight sync.WaitGroup
}

// entry is the lock of one room. refs counts callers holding or waiting on
// it; the entry is dropped from the map when refs reaches zero.
type entry[T any] struct {
	sem   chan struct{}
	refs  int
	store storage.Store[T]
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	log       *zap.Logger
	ioTimeout time.Duration
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithIOTimeout bounds the storage work done inside one critical section.
func WithIOTimeout(d time.Duration) Option {
	return func(o *options) { o.ioTimeout = d }
}

// New returns a registry over backend.
func New[T any](backend storage.Backend[T], opts ...Option) *Registry[T] {
	o := options{log: zap.NewNop(), ioTimeout: defaultIOTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.ioTimeout <= 0 {
		o.ioTimeout = defaultIOTimeout
	}
	return &Registry[T]{
		backend:   backend,
		log:       o.log,
		ioTimeout: o.ioTimeout,
		rooms:     make(map[string]*entry[T]),
	}
}

// Update runs fn on the room's current records and commits what it returns,
// all inside the room's critical section. If fn fails nothing is written and
// its error is returned as is. The committed sequence is returned.
func (r *Registry[T]) Update(ctx context.Context, roomID string, fn func([]T) ([]T, error)) ([]T, error) {
	var out []T
	err := r.withRoom(ctx, roomID, func(ioCtx context.Context, st storage.Store[T]) error {
		current, err := st.Load(ioCtx)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if errors.Is(err, ErrUnchanged) {
			out = current
			return nil
		}
		if err != nil {
			return err
		}

		start := time.Now()
		if err := st.Commit(ioCtx, next); err != nil {
			r.log.Warn("commit failed", zap.String("room", roomID), zap.Error(err))
			return err
		}
		r.log.Debug("room committed",
			zap.String("room", roomID),
			zap.Int("records", len(next)),
			zap.Duration("dur", time.Since(start)),
		)
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// View returns the room's current records, creating the room if needed.
func (r *Registry[T]) View(ctx context.Context, roomID string) ([]T, error) {
	var out []T
	err := r.withRoom(ctx, roomID, func(ioCtx context.Context, st storage.Store[T]) error {
		recs, err := st.Load(ioCtx)
		out = recs
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Rooms lists rooms with persisted state.
func (r *Registry[T]) Rooms(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errs.ErrClosed
	}
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	ioCtx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	return r.backend.Rooms(ioCtx)
}

// Close stops accepting work and waits for running sections to finish.
func (r *Registry[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withRoom runs fn while holding roomID's lock. A caller cancelled before the
// lock is acquired never runs fn. Once acquired, fn runs on a context that
// ignores the caller's cancellation and is bounded only by the I/O timeout,
// so a commit is never abandoned halfway.
func (r *Registry[T]) withRoom(ctx context.Context, roomID string, fn func(context.Context, storage.Store[T]) error) error {
	if roomID == "" {
		return errs.Validation("empty room id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := r.acquire(ctx, roomID)
	if err != nil {
		return err
	}
	defer r.release(roomID, e)

	if e.store == nil {
		st, err := r.backend.Open(roomID)
		if err != nil {
			return err
		}
		e.store = st
	}

	ioCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.ioTimeout)
	defer cancel()
	return fn(ioCtx, e.store)
}

func (r *Registry[T]) acquire(ctx context.Context, roomID string) (*entry[T], error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errs.ErrClosed
	}
	e, ok := r.rooms[roomID]
	if !ok {
		e = &entry[T]{sem: make(chan struct{}, 1)}
		r.rooms[roomID] = e
	}
	e.refs++
	r.inflight.Add(1)
	r.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.unref(roomID, e)
		return nil, ctx.Err()
	}

	// Both cases of the select may be ready at once; a caller that gave up
	// while queued must still not start.
	if err := ctx.Err(); err != nil {
		<-e.sem
		r.unref(roomID, e)
		return nil, err
	}
	return e, nil
}

func (r *Registry[T]) release(roomID string, e *entry[T]) {
	<-e.sem
	r.unref(roomID, e)
}

func (r *Registry[T]) unref(roomID string, e *entry[T]) {
	r.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
	r.inflight.Done()
}

// active reports how many rooms currently have a lock entry.
func (r *Registry[T]) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
