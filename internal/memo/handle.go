package memo

import "fmt"

// Handle is a typed reference to a slot. The index makes lookups on the
// declaring store a slice access; on other stores the key is used.
type Handle[T any] struct {
	key   string
	index int
}

// Declare creates a pending build slot and returns its typed handle.
func Declare[T any](s *Store, key string) (Handle[T], error) {
	i, err := s.Declare(key)
	if err != nil {
		return Handle[T]{}, err
	}
	return Handle[T]{key: key, index: i}, nil
}

// Key returns the slot key.
func (h Handle[T]) Key() string { return h.key }

// Get reads the slot from s.
func (h Handle[T]) Get(s *Store) (T, error) {
	v, err := s.read(s.at(h.index, h.key), h.key)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](h.key, v)
}

// Fill stores v in the pending slot of s.
func (h Handle[T]) Fill(s *Store, v T) error {
	return s.fill(s.at(h.index, h.key), h.key, v)
}

// GetOrCreate is the typed form of Store.GetOrCreate.
func GetOrCreate[T any](s *Store, key string, factory func() (T, error)) (T, error) {
	v, err := s.GetOrCreate(key, func() (any, error) { return factory() })
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](key, v)
}

func cast[T any](key string, v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T, want %T", ErrTypeMismatch, key, v, zero)
	}
	return t, nil
}
