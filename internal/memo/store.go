// Package memo implements the memoized slot store behind module state.
//
// A Store is an arena of slots addressed by string key (and by index through
// typed handles). Each slot carries a runtime tag:
//
//	empty    created by GetOrCreate, factory running
//	pending  declared build slot, waiting for the build to fill it
//	ready    holds its value; immutable from here on
//	failed   its factory failed; the factory is never run again
//
// GetOrCreate runs a factory at most once per key for the life of the store,
// including under concurrent callers: one caller runs the factory while the
// others block on the slot and observe the result.
package memo

import (
	"fmt"
	"sync"
)

type tag uint8

const (
	tagEmpty tag = iota
	tagPending
	tagReady
	tagFailed
)

func (t tag) String() string {
	switch t {
	case tagEmpty:
		return "empty"
	case tagPending:
		return "pending"
	case tagReady:
		return "ready"
	case tagFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type slot struct {
	mu    sync.Mutex
	key   string
	build bool
	tag   tag
	value any
	err   error
}

// Store maps keys to memoized values.
type Store struct {
	mu    sync.RWMutex
	index map[string]int
	slots []*slot
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

func (s *Store) lookup(key string) *slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.index[key]; ok {
		return s.slots[i]
	}
	return nil
}

// at resolves a handle: the index is tried first and the key is the fallback.
func (s *Store) at(index int, key string) *slot {
	s.mu.RLock()
	if index >= 0 && index < len(s.slots) && s.slots[index].key == key {
		sl := s.slots[index]
		s.mu.RUnlock()
		return sl
	}
	s.mu.RUnlock()
	return s.lookup(key)
}

// insert adds a slot for key unless one exists. Returns the slot, its index
// and whether it was created.
func (s *Store) insert(key string, build bool) (*slot, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[key]; ok {
		return s.slots[i], i, false
	}
	sl := &slot{key: key, build: build}
	if build {
		sl.tag = tagPending
	}
	s.index[key] = len(s.slots)
	s.slots = append(s.slots, sl)
	return sl, len(s.slots) - 1, true
}

// GetOrCreate returns the value stored under key, running factory to create
// it if the key is absent.
//
// A declared build slot that has not been filled yields NotBuiltYetError and
// factory is not run. If factory fails (or panics) the slot is marked failed
// and every later call returns FactoryFailedError.
//
// factory must not call GetOrCreate for its own key.
func (s *Store) GetOrCreate(key string, factory func() (any, error)) (any, error) {
	sl, _, _ := s.insert(key, false)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	switch sl.tag {
	case tagReady:
		return sl.value, nil
	case tagPending:
		return nil, &NotBuiltYetError{Key: key}
	case tagFailed:
		return nil, &FactoryFailedError{Key: key, Err: sl.err}
	}

	v, err := sl.run(factory)
	if err != nil {
		return nil, &FactoryFailedError{Key: key, Err: err}
	}
	return v, nil
}

// run executes factory for an empty slot. Caller must hold sl.mu.
func (sl *slot) run(factory func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			sl.tag = tagFailed
			sl.err = fmt.Errorf("panic: %v", r)
			panic(r)
		}
	}()

	v, err = factory()
	if err != nil {
		sl.tag = tagFailed
		sl.err = err
		return nil, err
	}
	sl.tag = tagReady
	sl.value = v
	return v, nil
}

// Declare creates a pending build slot and returns its index.
// Declaring an existing key is a KeyCollisionError.
func (s *Store) Declare(key string) (int, error) {
	_, i, created := s.insert(key, true)
	if !created {
		return -1, &KeyCollisionError{Key: key}
	}
	return i, nil
}

// Get returns the value stored under key without creating anything.
func (s *Store) Get(key string) (any, error) {
	return s.read(s.lookup(key), key)
}

func (s *Store) read(sl *slot, key string) (any, error) {
	if sl == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	switch sl.tag {
	case tagReady:
		return sl.value, nil
	case tagPending:
		return nil, &NotBuiltYetError{Key: key}
	case tagFailed:
		return nil, &FactoryFailedError{Key: key, Err: sl.err}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
}

// Fill stores the value of a pending build slot. This is the build path;
// it fails for ready slots and for slots created by GetOrCreate.
func (s *Store) Fill(key string, v any) error {
	return s.fill(s.lookup(key), key, v)
}

func (s *Store) fill(sl *slot, key string, v any) error {
	if sl == nil {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !sl.build {
		return fmt.Errorf("%w: %q", ErrNotBuildSlot, key)
	}
	if sl.tag != tagPending {
		return fmt.Errorf("%w: %q", ErrAlreadyPopulated, key)
	}
	sl.tag = tagReady
	sl.value = v
	return nil
}

// ResetBuild returns every build slot to pending, dropping values a partial
// build may have written. Remembered slots are kept.
func (s *Store) ResetBuild() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sl := range s.slots {
		sl.mu.Lock()
		if sl.build {
			sl.tag = tagPending
			sl.value = nil
		}
		sl.mu.Unlock()
	}
}

// DropRemembered removes every slot created by GetOrCreate, so the next
// GetOrCreate for those keys runs its factory again. Build slots keep their
// place; handles stay valid through the key fallback.
func (s *Store) DropRemembered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.slots[:0]
	for _, sl := range s.slots {
		if sl.build {
			kept = append(kept, sl)
		}
	}
	clear(s.slots[len(kept):])
	s.slots = kept
	s.index = make(map[string]int, len(kept))
	for i, sl := range kept {
		s.index[sl.key] = i
	}
}

// Keys returns the keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, len(s.slots))
	for i, sl := range s.slots {
		keys[i] = sl.key
	}
	return keys
}

// Len returns the number of slots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Ready reports whether key holds a value.
func (s *Store) Ready(key string) bool {
	sl := s.lookup(key)
	if sl == nil {
		return false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.tag == tagReady
}

// Describe returns "key=tag" pairs in insertion order, for diagnostics.
func (s *Store) Describe() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.slots))
	for i, sl := range s.slots {
		sl.mu.Lock()
		out[i] = sl.key + "=" + sl.tag.String()
		sl.mu.Unlock()
	}
	return out
}
