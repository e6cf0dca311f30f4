package memo

import (
	"errors"
	"fmt"
)

// Sentinel errors for slot store operations.
var (
	// ErrNotBuiltYet matches NotBuiltYetError.
	ErrNotBuiltYet = errors.New("memo: not built yet")

	// ErrKeyCollision matches KeyCollisionError.
	ErrKeyCollision = errors.New("memo: key collision")

	// ErrUnknownKey is returned when reading a key that was never stored or declared.
	ErrUnknownKey = errors.New("memo: unknown key")

	// ErrAlreadyPopulated is returned when filling a slot that already holds a value.
	ErrAlreadyPopulated = errors.New("memo: slot already populated")

	// ErrNotBuildSlot is returned when the build path targets a slot created by GetOrCreate.
	ErrNotBuildSlot = errors.New("memo: not a build slot")

	// ErrFactoryFailed matches FactoryFailedError.
	ErrFactoryFailed = errors.New("memo: factory failed")

	// ErrTypeMismatch is returned when a typed handle reads a value of another type.
	ErrTypeMismatch = errors.New("memo: type mismatch")
)

// NotBuiltYetError reports a read of a build slot before the build ran.
type NotBuiltYetError struct {
	Key string
}

func (e *NotBuiltYetError) Error() string {
	return fmt.Sprintf("memo: can't read build slot %q before the module is built (i.e. called for the first time)", e.Key)
}

// Is reports whether target is ErrNotBuiltYet.
func (e *NotBuiltYetError) Is(target error) bool {
	return target == ErrNotBuiltYet
}

// KeyCollisionError reports a second declaration of an existing key.
type KeyCollisionError struct {
	Key string
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("memo: key %q is already declared", e.Key)
}

// Is reports whether target is ErrKeyCollision.
func (e *KeyCollisionError) Is(target error) bool {
	return target == ErrKeyCollision
}

// FactoryFailedError is returned for a slot whose factory failed.
// The factory is not run again; Err is the first failure.
type FactoryFailedError struct {
	Key string
	Err error
}

func (e *FactoryFailedError) Error() string {
	return fmt.Sprintf("memo: factory for %q failed: %v", e.Key, e.Err)
}

func (e *FactoryFailedError) Unwrap() []error {
	return []error{ErrFactoryFailed, e.Err}
}
