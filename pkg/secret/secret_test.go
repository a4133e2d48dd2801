package secret

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CopiesInput(t *testing.T) {
	input := []byte("sensitive-value")
	s := New(input)

	// Mutating the caller's slice must not affect the secret.
	input[0] = 'X'
	assert.True(t, s.EqualBytes([]byte("sensitive-value")))
}

func TestReveal_ZeroizesExposure(t *testing.T) {
	s := NewFromString("token-material")

	var captured []byte
	s.Reveal(func(b []byte) {
		assert.Equal(t, []byte("token-material"), b)
		captured = b
	})

	// The exposed copy must be wiped after the callback returns.
	for i, c := range captured {
		assert.Zerof(t, c, "byte %d not wiped", i)
	}

	// The secret itself is unaffected.
	assert.True(t, s.EqualBytes([]byte("token-material")))
}

func TestReveal_WipesOnPanic(t *testing.T) {
	s := NewFromString("panic-material")

	var captured []byte
	func() {
		defer func() { _ = recover() }()
		s.Reveal(func(b []byte) {
			captured = b
			panic("handler failure")
		})
	}()

	for i, c := range captured {
		assert.Zerof(t, c, "byte %d not wiped", i)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     *Secret
		expected bool
	}{
		{name: "equal values", a: NewFromString("abc"), b: NewFromString("abc"), expected: true},
		{name: "different values", a: NewFromString("abc"), b: NewFromString("abd"), expected: false},
		{name: "different lengths", a: NewFromString("abc"), b: NewFromString("abcd"), expected: false},
		{name: "both empty", a: New(nil), b: NewFromString(""), expected: true},
		{name: "nil vs empty", a: nil, b: New(nil), expected: true},
		{name: "nil vs value", a: nil, b: NewFromString("x"), expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.a.Equal(tc.b))
			assert.Equal(t, tc.expected, tc.b.Equal(tc.a))
		})
	}
}

func TestZero(t *testing.T) {
	s := NewFromString("short-lived")
	s.Zero()

	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.Len())

	// Zeroed secrets remain usable as empty values.
	assert.True(t, s.EqualBytes(nil))
}

func TestClone_Independent(t *testing.T) {
	s := NewFromString("original")
	c := s.Clone()

	s.Zero()
	assert.True(t, c.EqualBytes([]byte("original")))
}

func TestRedaction(t *testing.T) {
	s := NewFromString("super-secret")

	assert.Equal(t, Redacted, fmt.Sprint(s))
	assert.Equal(t, Redacted, fmt.Sprintf("%v", s))
	assert.Contains(t, fmt.Sprintf("%#v", s), Redacted)
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", s, s, s), "super-secret")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"`+Redacted+`"`, string(data))

	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, Redacted, string(text))
}
