// Package tree implements a hierarchical key-value store with change
// notification. Every subscriber receives the full current value of the
// subtree it watches, never a diff.
package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUnavailable  = errors.New("store unavailable")
	ErrInvalidPath  = errors.New("invalid path")
	ErrInvalidValue = errors.New("invalid value")
)

// Snapshot is the value of a subtree at the moment it was read.
type Snapshot struct {
	Path   string
	Value  any
	Exists bool
}

// Decode converts the snapshot value into out.
func (s Snapshot) Decode(out any) error {
	return Decode(s.Value, out)
}

// Listener receives either a fresh snapshot or the error that prevented
// reading one.
type Listener func(Snapshot, error)

// Store is the contract the chat core consumes.
type Store interface {
	Read(ctx context.Context, path string) (Snapshot, error)
	Write(ctx context.Context, path string, value any) error
	Patch(ctx context.Context, path string, fields map[string]any) error
	Update(ctx context.Context, path string, fields map[string]any) (int, error)
	Delete(ctx context.Context, path string) error
	Push(ctx context.Context, path string, value any) (string, error)
	Subscribe(path string, fn Listener) (func(), error)
	Now(ctx context.Context) (int64, error)
}

// Backend persists normalized values. Set, Merge and MergeExisting resolve
// ServerTimestamp placeholders from their own clock in the same critical
// section as the write, so timestamps follow commit order per parent path.
type Backend interface {
	Get(ctx context.Context, path string) (any, bool, error)
	Set(ctx context.Context, path string, value any) error
	Merge(ctx context.Context, path string, fields map[string]any) error
	// MergeExisting applies only the fields whose parent node is an
	// existing object and returns how many it applied.
	MergeExisting(ctx context.Context, path string, fields map[string]any) (int, error)
	Remove(ctx context.Context, path string) error
	Clock(ctx context.Context) (int64, error)
}

// Change announces that the subtree at Path was mutated.
type Change struct {
	Origin string `json:"origin"`
	Path   string `json:"path"`
}

// Bus carries change announcements between processes sharing a backend.
type Bus interface {
	Publish(ctx context.Context, change Change) error
	Listen(ctx context.Context, fn func(Change)) error
}

// Tree is the Store implementation used by the service.
type Tree struct {
	backend Backend
	bus     Bus
	origin  string
	logger  *slog.Logger

	clockMu sync.Mutex
	lastNow int64

	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

type Option func(*Tree)

// WithBus publishes local changes to, and applies remote changes from, bus.
func WithBus(bus Bus) Option {
	return func(t *Tree) { t.bus = bus }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tree) { t.logger = logger }
}

// New builds a Tree over backend.
func New(backend Backend, opts ...Option) *Tree {
	t := &Tree{
		backend: backend,
		origin:  uuid.NewString(),
		logger:  slog.Default(),
		subs:    make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func unavailable(op, path string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%s %q: %w: %w", op, path, ErrUnavailable, err)
}

// Read returns the current value at path.
func (t *Tree) Read(ctx context.Context, path string) (Snapshot, error) {
	if err := Validate(path); err != nil {
		return Snapshot{}, err
	}
	value, ok, err := t.backend.Get(ctx, Join(path))
	if err != nil {
		return Snapshot{}, unavailable("read", path, err)
	}
	return Snapshot{Path: Join(path), Value: value, Exists: ok}, nil
}

// Write replaces the node at path. A nil value deletes it.
func (t *Tree) Write(ctx context.Context, path string, value any) error {
	if err := Validate(path); err != nil {
		return err
	}
	prepared, err := normalize(value)
	if err != nil {
		return err
	}
	if err := t.backend.Set(ctx, Join(path), prepared); err != nil {
		return unavailable("write", path, err)
	}
	t.changed(ctx, path)
	return nil
}

// Patch merges fields into the node at path. Keys may be relative paths.
func (t *Tree) Patch(ctx context.Context, path string, fields map[string]any) error {
	if err := Validate(path); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	prepared, err := prepareFields(fields)
	if err != nil {
		return err
	}
	if err := t.backend.Merge(ctx, Join(path), prepared); err != nil {
		return unavailable("patch", path, err)
	}
	t.changed(ctx, path)
	return nil
}

// Update is Patch restricted to nodes that still exist: a field is applied
// only when its parent is an existing object, so a concurrent delete is
// never undone. It returns the number of fields applied.
func (t *Tree) Update(ctx context.Context, path string, fields map[string]any) (int, error) {
	if err := Validate(path); err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, nil
	}
	prepared, err := prepareFields(fields)
	if err != nil {
		return 0, err
	}
	n, err := t.backend.MergeExisting(ctx, Join(path), prepared)
	if err != nil {
		return 0, unavailable("update", path, err)
	}
	if n > 0 {
		t.changed(ctx, path)
	}
	return n, nil
}

func prepareFields(fields map[string]any) (map[string]any, error) {
	prepared := make(map[string]any, len(fields))
	for key, value := range fields {
		if Join(key) == "" {
			return nil, fmt.Errorf("%w: empty field key", ErrInvalidPath)
		}
		if err := Validate(key); err != nil {
			return nil, err
		}
		v, err := normalize(value)
		if err != nil {
			return nil, err
		}
		prepared[Join(key)] = v
	}
	return prepared, nil
}

// Delete removes the subtree at path.
func (t *Tree) Delete(ctx context.Context, path string) error {
	if err := Validate(path); err != nil {
		return err
	}
	if err := t.backend.Remove(ctx, Join(path)); err != nil {
		return unavailable("delete", path, err)
	}
	t.changed(ctx, path)
	return nil
}

// Push writes value under a new time-ordered child key of path and returns
// the key.
func (t *Tree) Push(ctx context.Context, path string, value any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate entry id: %w", err)
	}
	key := id.String()
	if err := t.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Now returns the store clock in Unix milliseconds. It never goes
// backwards for one Tree.
func (t *Tree) Now(ctx context.Context) (int64, error) {
	now, err := t.backend.Clock(ctx)
	if err != nil {
		return 0, unavailable("clock", "", err)
	}
	t.clockMu.Lock()
	defer t.clockMu.Unlock()
	if now < t.lastNow {
		now = t.lastNow
	}
	t.lastNow = now
	return now, nil
}

func (t *Tree) changed(ctx context.Context, path string) {
	t.notify(path)
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(ctx, Change{Origin: t.origin, Path: Join(path)}); err != nil {
		t.logger.Warn("publish tree change failed", "path", path, "error", err)
	}
}

func (t *Tree) notify(path string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for sub := range t.subs {
		if Related(sub.path, path) {
			sub.wake()
		}
	}
}

// Run applies changes announced by other processes until ctx is done.
func (t *Tree) Run(ctx context.Context) error {
	if t.bus == nil {
		<-ctx.Done()
		return nil
	}
	return t.bus.Listen(ctx, func(c Change) {
		if c.Origin == t.origin {
			return
		}
		t.notify(c.Path)
	})
}

// Subscribe calls fn with the current value of path and again after every
// change that touches it. The returned cancel func is synchronous: fn is
// never invoked after it returns. It must not be called from within fn.
func (t *Tree) Subscribe(path string, fn Listener) (func(), error) {
	if err := Validate(path); err != nil {
		return nil, err
	}
	ctx, stop := context.WithCancel(context.Background())
	sub := &subscription{
		tree:   t,
		path:   Join(path),
		fn:     fn,
		ctx:    ctx,
		stop:   stop,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	sub.wake()
	go sub.run()
	return sub.cancel, nil
}

// Subscribers reports the number of live subscriptions.
func (t *Tree) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

type subscription struct {
	tree *Tree
	path string
	fn   Listener

	ctx    context.Context
	stop   context.CancelFunc
	signal chan struct{}
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	closed bool
}

// wake coalesces notifications: one pending signal is enough because the
// next delivery re-reads the latest state.
func (s *subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		snap, err := s.tree.Read(s.ctx, s.path)
		s.mu.Lock()
		if !s.closed {
			s.fn(snap, err)
		}
		s.mu.Unlock()
	}
}

func (s *subscription) cancel() {
	s.once.Do(func() {
		s.tree.mu.Lock()
		delete(s.tree.subs, s)
		s.tree.mu.Unlock()

		s.stop()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}
