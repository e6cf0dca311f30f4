// Package keys derives and polices the call-site keys that address module slots.
//
// Every memoized declaration carries an explicit identity string. A Deriver
// validates the identity and records where it was first declared, so that two
// distinct declarations reusing one key are reported instead of silently
// sharing a slot:
//
//   - a build declaration runs once at definition time, so any second
//     derivation of its key is a collision;
//   - a remember declaration is re-evaluated on every invocation, so the same
//     call site (source file and line) may derive its key again, while
//     another call site may not.
//
// The derived key depends only on the identity, never on invocation count,
// argument values, or timing.
package keys

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/born-ml/weaver/internal/memo"
)

// ErrInvalidKey is returned for identities that cannot be used as keys.
var ErrInvalidKey = errors.New("keys: invalid key")

// Kind is the kind of declaration deriving a key.
type Kind uint8

// Declaration kinds.
const (
	KindBuild Kind = iota + 1
	KindRemember
)

func (k Kind) String() string {
	switch k {
	case KindBuild:
		return "build"
	case KindRemember:
		return "remember"
	default:
		return "unknown"
	}
}

// Site is the source location of a declaration. PC is informational only:
// inlined copies of one call site get distinct PCs, so sites are compared
// by File and Line.
type Site struct {
	PC   uintptr
	File string
	Line int
}

// Same reports whether s and o are the same source location.
func (s Site) Same(o Site) bool {
	return s.File != "" && s.File == o.File && s.Line == o.Line
}

func (s Site) String() string {
	if s.File == "" {
		return "unknown site"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(s.File), s.Line)
}

// CollisionError reports two distinct declarations deriving the same key.
// It matches memo.ErrKeyCollision.
type CollisionError struct {
	Key        string
	First      Site
	FirstKind  Kind
	Second     Site
	SecondKind Kind
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("keys: %s declaration of %q at %s collides with %s declaration at %s",
		e.SecondKind, e.Key, e.Second, e.FirstKind, e.First)
}

// Is reports whether target is memo.ErrKeyCollision.
func (e *CollisionError) Is(target error) bool {
	return target == memo.ErrKeyCollision
}

// Validate checks that identity can be used as a key.
func Validate(identity string) error {
	switch {
	case identity == "":
		return fmt.Errorf("%w: empty identity", ErrInvalidKey)
	case strings.TrimSpace(identity) != identity:
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidKey, identity)
	case strings.Contains(identity, "/"):
		return fmt.Errorf("%w: %q contains '/', which is reserved for scope paths", ErrInvalidKey, identity)
	}
	return nil
}

type record struct {
	kind Kind
	site Site
}

// Deriver derives keys for one module definition.
type Deriver struct {
	mu      sync.Mutex
	records map[string]record
	order   []string
}

// NewDeriver creates an empty deriver.
func NewDeriver() *Deriver {
	return &Deriver{records: make(map[string]record)}
}

// Derive returns the key for identity declared by a declaration of the given
// kind. skip is the number of stack frames between Derive's caller and the
// declaration site (0 means Derive's caller is the site).
func (d *Deriver) Derive(identity string, kind Kind, skip int) (string, error) {
	if err := Validate(identity); err != nil {
		return "", err
	}
	site := caller(skip + 2)

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, seen := d.records[identity]
	if !seen {
		d.records[identity] = record{kind: kind, site: site}
		d.order = append(d.order, identity)
		return identity, nil
	}
	if kind == KindRemember && prev.kind == KindRemember && prev.site.Same(site) {
		return identity, nil
	}
	return "", &CollisionError{
		Key:        identity,
		First:      prev.site,
		FirstKind:  prev.kind,
		Second:     site,
		SecondKind: kind,
	}
}

// Keys returns the derived keys in first-seen order.
func (d *Deriver) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

// Site returns where key was first declared.
func (d *Deriver) Site(key string) (Site, Kind, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.records[key]
	return r.site, r.kind, ok
}

// caller resolves the frame skip levels up. CallersFrames expands inlined
// calls, so the logical frame is found whether or not the compiler inlined
// the declaring function.
func caller(skip int) Site {
	pcs := make([]uintptr, skip+8)
	n := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for i := 0; ; i++ {
		f, more := frames.Next()
		if i == skip {
			return Site{PC: f.PC, File: f.File, Line: f.Line}
		}
		if !more {
			return Site{}
		}
	}
}
