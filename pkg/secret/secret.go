// Package secret holds short-lived credential material such as access
// tokens, refresh tokens, PKCE verifiers and anti-CSRF state values.
//
// A Secret owns a private copy of its bytes and exposes them only through
// a scoped Reveal, which hands the callback a temporary copy and wipes that
// copy when the callback returns. Equality checks run in constant time so
// state comparison does not leak timing information. Zero overwrites the
// backing storage; it is also installed as a finalizer so material does not
// outlive the value even if the caller forgets.
//
// Secrets never appear in logs or serialized output: the Stringer,
// GoStringer and JSON/text marshaler implementations all emit "[REDACTED]".
package secret

import (
	"crypto/subtle"
	"runtime"
	"sync"
)

// Redacted is the placeholder emitted wherever a Secret would otherwise
// appear in formatted or serialized output.
const Redacted = "[REDACTED]"

// Secret is an immutable byte sequence with defensive zeroization.
// The zero value is an empty secret. Safe for concurrent readers.
type Secret struct {
	mu    sync.RWMutex
	bytes []byte
}

// New copies b into protected storage. The caller keeps ownership of b and
// should wipe it if it holds live credential material.
func New(b []byte) *Secret {
	s := &Secret{bytes: append([]byte(nil), b...)}
	runtime.SetFinalizer(s, func(s *Secret) { s.Zero() })
	return s
}

// NewFromString copies the bytes of v into protected storage.
func NewFromString(v string) *Secret {
	return New([]byte(v))
}

// Reveal invokes f with a temporary copy of the secret bytes and wipes the
// copy when f returns, including on panic. The callback must not retain the
// slice beyond its own scope.
func (s *Secret) Reveal(f func(b []byte)) {
	s.mu.RLock()
	exposed := append([]byte(nil), s.bytes...)
	s.mu.RUnlock()

	defer wipe(exposed)
	f(exposed)
}

// Len returns the length of the secret in bytes.
func (s *Secret) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bytes)
}

// IsEmpty reports whether the secret holds no bytes.
func (s *Secret) IsEmpty() bool {
	return s.Len() == 0
}

// Equal compares two secrets in constant time over their contents.
// Two nil or empty secrets compare equal.
func (s *Secret) Equal(other *Secret) bool {
	var a, b []byte
	if s != nil {
		s.mu.RLock()
		a = s.bytes
		defer s.mu.RUnlock()
	}
	if other != nil {
		other.mu.RLock()
		b = other.bytes
		defer other.mu.RUnlock()
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// EqualBytes compares the secret against raw bytes in constant time.
func (s *Secret) EqualBytes(b []byte) bool {
	if s == nil {
		return len(b) == 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return subtle.ConstantTimeCompare(s.bytes, b) == 1
}

// Clone returns an independent copy. Copying is deliberately explicit;
// Secret values must not be duplicated by assignment.
func (s *Secret) Clone() *Secret {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return New(s.bytes)
}

// Zero overwrites the backing storage and empties the secret.
// The secret remains usable afterwards as an empty value.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wipe(s.bytes)
	s.bytes = nil
}

// String implements fmt.Stringer, returning Redacted to prevent
// accidental logging of the secret value.
func (s *Secret) String() string {
	return Redacted
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s *Secret) GoString() string {
	return "secret.Secret{" + Redacted + "}"
}

// MarshalText implements encoding.TextMarshaler, returning Redacted.
func (s *Secret) MarshalText() ([]byte, error) {
	return []byte(Redacted), nil
}

// MarshalJSON implements json.Marshaler, returning Redacted.
func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
