// Package b64url implements the base64url encoding without padding
// (RFC 4648 section 5 with trailing '=' omitted).
//
// This is the encoding OAuth uses for PKCE code verifiers and challenges,
// state parameters, and the at-rest token blob. It wraps the standard
// library's RawURLEncoding but rejects inputs the decoder would otherwise
// silently tolerate, so a malformed state parameter fails loudly.
package b64url

import (
	"encoding/base64"
	"fmt"
)

// Encode returns the base64url no-pad encoding of b.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode reverses Encode. The input length modulo 4 must be 0, 2 or 3;
// a remainder of 1 can never be produced by the encoder and is rejected.
// Characters outside the URL-safe alphabet are rejected.
func Decode(s string) ([]byte, error) {
	if len(s)%4 == 1 {
		return nil, fmt.Errorf("invalid base64url length %d", len(s))
	}
	// The standard decoder skips '\r' and '\n'; they are not in the alphabet.
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			return nil, fmt.Errorf("invalid base64url character at offset %d", i)
		}
	}
	b, err := base64.RawURLEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url input: %w", err)
	}
	return b, nil
}
