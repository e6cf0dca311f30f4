package module

import (
	"fmt"

	"github.com/born-ml/weaver/internal/build"
	"github.com/born-ml/weaver/internal/keys"
	"github.com/born-ml/weaver/internal/memo"
)

// BuildSlot is a slot filled by the module build.
type BuildSlot[T any] struct {
	module *Module
	handle memo.Handle[T]
}

// Key returns the slot key.
func (s *BuildSlot[T]) Key() string { return s.handle.Key() }

// Get reads the slot from the state c resolves for the slot's module.
// Reading before the build returns memo.NotBuiltYetError; Get never builds.
func (s *BuildSlot[T]) Get(c *Context) (T, error) {
	return s.handle.Get(c.StateOf(s.module).store)
}

// MustGet is like Get but panics on error.
func (s *BuildSlot[T]) MustGet(c *Context) T {
	v, err := s.Get(c)
	if err != nil {
		panic(err)
	}
	return v
}

// DeclareBuildSlot declares a slot that init fills during the module build.
// Build slots must be declared before the module is first used.
func DeclareBuildSlot[T any](m *Module, key string, init func(c *Context) (T, error)) (*BuildSlot[T], error) {
	return DeclareBuildSlotAt(m, 1, key, init)
}

// MustDeclareBuildSlot is like DeclareBuildSlot but panics on error.
func MustDeclareBuildSlot[T any](m *Module, key string, init func(c *Context) (T, error)) *BuildSlot[T] {
	s, err := DeclareBuildSlotAt(m, 1, key, init)
	if err != nil {
		panic(err)
	}
	return s
}

// DeclareBuildSlotAt is DeclareBuildSlot for wrappers. skip is the number of
// frames between the declaration site and the caller of DeclareBuildSlotAt.
func DeclareBuildSlotAt[T any](m *Module, skip int, key string, init func(c *Context) (T, error)) (*BuildSlot[T], error) {
	if init == nil {
		return nil, fmt.Errorf("module %s: nil initializer for %q", m.name, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return nil, fmt.Errorf("%w: module %s: can't declare %q after first use", build.ErrRegistryClosed, m.name, key)
	}

	k, err := m.keys.Derive(key, keys.KindBuild, skip+1)
	if err != nil {
		return nil, err
	}
	h, err := memo.Declare[T](m.schema, k)
	if err != nil {
		return nil, err
	}
	err = m.template.Register(k, func(c *Context) error {
		v, err := init(c)
		if err != nil {
			return err
		}
		return h.Fill(c.state.store, v)
	})
	if err != nil {
		return nil, err
	}
	return &BuildSlot[T]{module: m, handle: h}, nil
}

// OnBuild registers a build action that fills no slot. Hooks and slot
// initializers run together in declaration order.
func (m *Module) OnBuild(name string, fn func(c *Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return fmt.Errorf("%w: module %s: can't add hook %q after first use", build.ErrRegistryClosed, m.name, name)
	}
	return m.template.Register(name, fn)
}

// Remember returns the value stored under key in the state of the module
// being run, calling factory to create it on first use. Every call site
// must use its own key; reusing a key from another call site is a
// memo.ErrKeyCollision.
func Remember[T any](c *Context, key string, factory func() (T, error)) (T, error) {
	return RememberAt(c, 1, key, factory)
}

// MustRemember is like Remember but panics on error.
func MustRemember[T any](c *Context, key string, factory func() (T, error)) T {
	v, err := RememberAt(c, 1, key, factory)
	if err != nil {
		panic(err)
	}
	return v
}

// RememberAt is Remember for wrappers. skip is the number of frames between
// the call site and the caller of RememberAt.
func RememberAt[T any](c *Context, skip int, key string, factory func() (T, error)) (T, error) {
	var zero T
	if c.module == nil {
		return zero, fmt.Errorf("%w: remember %q", ErrNoModule, key)
	}
	k, err := c.module.keys.Derive(key, keys.KindRemember, skip+1)
	if err != nil {
		return zero, err
	}
	if err := c.state.bind(c); err != nil {
		return zero, err
	}
	return memo.GetOrCreate(c.state.store, k, factory)
}
