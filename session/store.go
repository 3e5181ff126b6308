package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStorageUnavailable is returned when the durable token slot cannot be
// read or written.
var ErrStorageUnavailable = errors.New("token storage unavailable")

// ErrInvalidSession is returned when a write would break the session
// invariants (empty token, profile without id or with an unknown role).
var ErrInvalidSession = errors.New("invalid session write")

// Store is the read side of the process-wide session. Any number of views may
// hold it; none of them can mutate it. Mutation goes through the [Writer]
// returned alongside it by [New].
type Store struct {
	tokens TokenStore

	// writeMu serializes writers, including their durable I/O, so the
	// in-memory state and the durable slot observe writes in the same order.
	writeMu sync.Mutex

	mu         sync.RWMutex
	token      string
	profile    *Profile
	loading    bool
	generation uint64

	subMu   sync.Mutex
	subs    map[uint64]func(Snapshot)
	nextSub uint64
}

// Writer is the single write capability for a [Store]. Only the auth
// controller and its 401 hook hold one.
type Writer struct {
	store *Store
}

// New creates an empty session in the loading state, backed by the durable
// slot tokens. A nil tokens uses an in-memory slot.
func New(tokens TokenStore) (*Store, *Writer) {
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	s := &Store{
		tokens:  tokens,
		loading: true,
		subs:    make(map[uint64]func(Snapshot)),
	}
	return s, &Writer{store: s}
}

// Get returns a copy of the current session. It has no side effects.
func (s *Store) Get() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to be called with the new snapshot after every
// observable change. The returned func removes the subscription.
// Callbacks run on the writer's goroutine after every session lock is
// released, so a callback may call back into the [Writer].
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	if s == nil || fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Token:      s.token,
		Loading:    s.loading,
		Generation: s.generation,
	}
	if s.profile != nil {
		profile := *s.profile
		identity := profile.Identity()
		snap.Profile = &profile
		snap.Identity = &identity
	}
	return snap
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Store returns the read side this writer mutates.
func (w *Writer) Store() *Store {
	return w.store
}

// Generation returns the current write generation. Every Set or Clear that
// changes the session advances it.
func (w *Writer) Generation() uint64 {
	s := w.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Restore loads the durable token into memory without a profile. It returns
// the token, or "" when the slot is empty. A session already holding the
// same token keeps its profile and generation. The loading flag is left as
// is; callers finish it with [Writer.FinishLoading] once hydration settles.
func (w *Writer) Restore(ctx context.Context) (string, error) {
	s := w.store
	s.writeMu.Lock()

	token, err := s.tokens.Load(ctx)
	if err != nil {
		s.writeMu.Unlock()
		return "", err
	}
	if token == "" {
		s.writeMu.Unlock()
		return "", nil
	}

	s.mu.Lock()
	if s.token == token {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return token, nil
	}
	s.token = token
	s.profile = nil
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.notify(snap)
	return token, nil
}

// Set stores token durably, then atomically replaces token, identity and
// profile and clears the loading flag. On a durable write failure nothing
// in memory changes.
func (w *Writer) Set(ctx context.Context, token string, profile Profile) error {
	_, err := w.set(ctx, token, profile, 0, false)
	return err
}

// SetIfGeneration behaves like [Writer.Set] but only when no other write
// happened since gen was observed. It reports whether the write was applied.
func (w *Writer) SetIfGeneration(ctx context.Context, gen uint64, token string, profile Profile) (bool, error) {
	return w.set(ctx, token, profile, gen, true)
}

func (w *Writer) set(ctx context.Context, token string, profile Profile, gen uint64, conditional bool) (bool, error) {
	if token == "" {
		return false, fmt.Errorf("%w: empty token", ErrInvalidSession)
	}
	if err := profile.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	s := w.store
	s.writeMu.Lock()

	s.mu.RLock()
	current := s.generation
	currentToken := s.token
	s.mu.RUnlock()

	if conditional && current != gen {
		s.writeMu.Unlock()
		return false, nil
	}

	if token != currentToken {
		if err := s.tokens.Save(ctx, token); err != nil {
			s.writeMu.Unlock()
			return false, err
		}
	}

	s.mu.Lock()
	s.token = token
	s.profile = &profile
	s.loading = false
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.notify(snap)
	return true, nil
}

// Clear atomically drops token, identity and profile and removes the durable
// token. Memory is always cleared; a failed durable delete is returned
// wrapped in [ErrStorageUnavailable]. Clearing an empty session is a no-op
// apart from the durable delete.
func (w *Writer) Clear(ctx context.Context) error {
	_, err := w.clear(ctx, 0, false)
	return err
}

// ClearIfGeneration clears only when no other write happened since gen was
// observed. It reports whether the session was cleared.
func (w *Writer) ClearIfGeneration(ctx context.Context, gen uint64) (bool, error) {
	return w.clear(ctx, gen, true)
}

func (w *Writer) clear(ctx context.Context, gen uint64, conditional bool) (bool, error) {
	s := w.store
	s.writeMu.Lock()

	s.mu.Lock()
	if conditional && s.generation != gen {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return false, nil
	}
	changed := s.token != "" || s.profile != nil
	s.token = ""
	s.profile = nil
	if changed {
		s.generation++
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	err := s.tokens.Delete(ctx)
	s.writeMu.Unlock()

	if changed {
		s.notify(snap)
	}
	return true, err
}

// FinishLoading ends the initial hydration window. It is idempotent and does
// not advance the generation.
func (w *Writer) FinishLoading() {
	s := w.store
	s.mu.Lock()
	if !s.loading {
		s.mu.Unlock()
		return
	}
	s.loading = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}
