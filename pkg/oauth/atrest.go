package oauth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"sync"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/scrypt"
)

// atRestEntropy is the fixed library-defined entropy used as the scrypt
// salt for the at-rest key. It must never change: blobs written with one
// salt are unreadable under another.
var atRestEntropy = [64]byte{
	0x83, 0xb3, 0x15, 0xa2, 0x81, 0x57, 0x01, 0x0d,
	0x8c, 0x21, 0x04, 0xd9, 0x11, 0xb3, 0xa7, 0x32,
	0xba, 0xb9, 0x8c, 0x15, 0x7b, 0x64, 0x32, 0x2b,
	0x2f, 0x5f, 0x0e, 0x0d, 0xe5, 0x0a, 0x91, 0xc4,
	0x46, 0x81, 0xae, 0x72, 0xf6, 0xa7, 0x01, 0x67,
	0x01, 0x91, 0x66, 0x1b, 0x5e, 0x5a, 0x51, 0xaa,
	0xbe, 0xf3, 0x23, 0x2a, 0x01, 0xc5, 0x8d, 0x01,
	0x24, 0x56, 0x9b, 0xbd, 0xa6, 0xa3, 0x87, 0x87,
}

// scrypt parameters for the at-rest key derivation, matching the cost
// commonly used for interactive-strength keys (N=2^15, r=8, p=1).
const (
	atRestScryptN      = 32768
	atRestScryptR      = 8
	atRestScryptP      = 1
	atRestScryptKeyLen = 32
)

// At-rest blob framing. The blob is a version byte followed by
// tag/length/value fields; unknown tags are skipped on read so the format
// can grow. The whole frame is base64-encoded for transport.
const atRestVersion = 1

const (
	fieldToken      = 1 // AES-GCM ciphertext of the UTF-16LE token material
	fieldRefresh    = 2 // AES-GCM ciphertext of the UTF-16LE refresh material
	fieldAuthorized = 3 // UTC unix seconds, 8 bytes big-endian
	fieldExpires    = 4 // UTC unix seconds, 8 bytes big-endian
	fieldScope      = 5 // uvarint count, then length-prefixed strings, sorted
)

var (
	atRestKeyOnce sync.Once
	atRestKeyVal  []byte
	atRestKeyErr  error
)

// atRestKey derives the per-user encryption key. This is the documented
// DPAPI substitute: the user identity (username, uid and home directory)
// is stretched with scrypt under the fixed entropy salt. Blobs are
// readable only by the same user on the same platform; cross-platform
// reads are not supported.
func atRestKey() ([]byte, error) {
	atRestKeyOnce.Do(func() {
		identity := userIdentity()
		atRestKeyVal, atRestKeyErr = scrypt.Key(
			[]byte(identity), atRestEntropy[:],
			atRestScryptN, atRestScryptR, atRestScryptP, atRestScryptKeyLen)
	})
	return atRestKeyVal, atRestKeyErr
}

func userIdentity() string {
	if u, err := user.Current(); err == nil {
		return u.Username + "\x00" + u.Uid + "\x00" + u.HomeDir
	}
	// Degraded fallback when user lookup is unavailable (static binaries
	// without cgo on unusual systems).
	home, _ := os.UserHomeDir()
	return os.Getenv("USER") + "\x00" + home
}

// protect encrypts plaintext with AES-256-GCM under the at-rest key. The
// random 12-byte nonce is prepended to the ciphertext.
func protect(plaintext []byte) ([]byte, error) {
	key, err := atRestKey()
	if err != nil {
		return nil, fmt.Errorf("deriving at-rest key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// unprotect reverses protect.
func unprotect(data []byte) ([]byte, error) {
	key, err := atRestKey()
	if err != nil {
		return nil, fmt.Errorf("deriving at-rest key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New("at-rest ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting at-rest material: %w", err)
	}
	return plaintext, nil
}

// utf16leBytes encodes s as UTF-16LE, the byte layout the at-rest format
// stores for token material.
func utf16leBytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	return b
}

func utf16leString(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", errors.New("odd-length UTF-16 payload")
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(units)), nil
}

func appendField(frame []byte, tag byte, payload []byte) []byte {
	frame = append(frame, tag)
	frame = binary.AppendUvarint(frame, uint64(len(payload)))
	return append(frame, payload...)
}

func timestampField(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UTC().Unix()))
	return b
}

// MarshalAtRest serializes the token to the confidential at-rest blob:
// a versioned binary frame, base64-encoded, with token and refresh
// material encrypted under the per-user at-rest key.
func (t *AccessToken) MarshalAtRest() (string, error) {
	frame := []byte{atRestVersion}

	var material string
	t.material.Reveal(func(b []byte) { material = string(b) })
	ciphertext, err := protect(utf16leBytes(material))
	if err != nil {
		return "", fmt.Errorf("protecting token material: %w", err)
	}
	frame = appendField(frame, fieldToken, ciphertext)

	if t.IsRefreshable() {
		var refreshMaterial string
		t.refresh.Reveal(func(b []byte) { refreshMaterial = string(b) })
		ciphertext, err := protect(utf16leBytes(refreshMaterial))
		if err != nil {
			return "", fmt.Errorf("protecting refresh material: %w", err)
		}
		frame = appendField(frame, fieldRefresh, ciphertext)
	}

	if !t.authorizedAt.IsZero() {
		frame = appendField(frame, fieldAuthorized, timestampField(t.authorizedAt))
	}
	if !t.expiresAt.IsZero() {
		frame = appendField(frame, fieldExpires, timestampField(t.expiresAt))
	}

	if t.scope != nil {
		var payload []byte
		scopes := t.scope.Sorted()
		payload = binary.AppendUvarint(payload, uint64(len(scopes)))
		for _, scope := range scopes {
			payload = binary.AppendUvarint(payload, uint64(len(scope)))
			payload = append(payload, scope...)
		}
		frame = appendField(frame, fieldScope, payload)
	}

	return base64.StdEncoding.EncodeToString(frame), nil
}

// UnmarshalAtRest recovers a token from an at-rest blob produced by
// MarshalAtRest on the same user account.
func UnmarshalAtRest(blob string) (*AccessToken, error) {
	frame, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decoding at-rest blob: %w", err)
	}
	if len(frame) == 0 || frame[0] != atRestVersion {
		return nil, errors.New("unsupported at-rest blob version")
	}

	var (
		material  string
		haveToken bool
		opts      []TokenOption
		rest      = frame[1:]
	)

	for len(rest) > 0 {
		tag := rest[0]
		rest = rest[1:]
		length, n := binary.Uvarint(rest)
		if n <= 0 || uint64(len(rest)-n) < length {
			return nil, errors.New("truncated at-rest blob")
		}
		payload := rest[n : n+int(length)]
		rest = rest[n+int(length):]

		switch tag {
		case fieldToken:
			plaintext, err := unprotect(payload)
			if err != nil {
				return nil, err
			}
			material, err = utf16leString(plaintext)
			if err != nil {
				return nil, err
			}
			haveToken = true
		case fieldRefresh:
			plaintext, err := unprotect(payload)
			if err != nil {
				return nil, err
			}
			refreshMaterial, err := utf16leString(plaintext)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithRefreshToken(refreshMaterial))
		case fieldAuthorized:
			if len(payload) != 8 {
				return nil, errors.New("malformed timestamp in at-rest blob")
			}
			opts = append(opts, WithAuthorizedAt(time.Unix(int64(binary.BigEndian.Uint64(payload)), 0).UTC()))
		case fieldExpires:
			if len(payload) != 8 {
				return nil, errors.New("malformed timestamp in at-rest blob")
			}
			opts = append(opts, WithExpiresAt(time.Unix(int64(binary.BigEndian.Uint64(payload)), 0).UTC()))
		case fieldScope:
			scopes, err := decodeScopePayload(payload)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithScope(NewScopeSet(scopes...)))
		default:
			// Unknown field from a newer writer: skip.
		}
	}

	if !haveToken {
		return nil, &MissingParameterError{Name: "Token"}
	}
	return NewAccessToken(material, opts...)
}

func decodeScopePayload(payload []byte) ([]string, error) {
	buf := bytes.NewBuffer(payload)
	count, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, errors.New("malformed scope field in at-rest blob")
	}
	scopes := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		length, err := binary.ReadUvarint(buf)
		if err != nil || uint64(buf.Len()) < length {
			return nil, errors.New("malformed scope field in at-rest blob")
		}
		scopes = append(scopes, string(buf.Next(int(length))))
	}
	return scopes, nil
}

// Envelope is the unencrypted JSON interop form. It is only emitted on
// explicit request; note that its expires_in field is an absolute unix
// timestamp of the expiry, not a duration.
type Envelope struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// MarshalEnvelope serializes the token to the JSON envelope form,
// exposing the raw material. Callers must treat the result as
// confidential.
func (t *AccessToken) MarshalEnvelope() ([]byte, error) {
	env := Envelope{}
	t.material.Reveal(func(b []byte) { env.AccessToken = string(b) })
	if t.IsRefreshable() {
		t.refresh.Reveal(func(b []byte) { env.RefreshToken = string(b) })
	}
	if !t.expiresAt.IsZero() {
		env.ExpiresIn = t.expiresAt.UTC().Unix()
	}
	return json.Marshal(env)
}
