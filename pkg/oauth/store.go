package oauth

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"deskauth/pkg/logging"
)

// storeExpiryMargin is the safety margin when deciding whether a stored
// token is still worth returning. Expired tokens without refresh material
// are dropped on read.
const storeExpiryMargin = 60 * time.Second

var storeBucket = []byte("tokens")

// Store persists access tokens at rest, keyed by a caller-chosen string
// (typically the issuer or token endpoint URL). Values are the encrypted
// at-rest blobs, so the database file never holds plaintext material.
// The file is created owner-only.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) the token store at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating token store directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(storeBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing token store: %w", err)
	}

	return &Store{db: db}, nil
}

// Put stores the token under key, replacing any previous value.
func (s *Store) Put(key string, tok *AccessToken) error {
	blob, err := tok.MarshalAtRest()
	if err != nil {
		return fmt.Errorf("serializing token: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Put([]byte(key), []byte(blob))
	})
	if err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}

	logging.Debug("Store", "stored token for key %s (refreshable: %t)", key, tok.IsRefreshable())
	return nil
}

// Get retrieves the token stored under key. Returns (nil, nil) when no
// token is stored, and drops tokens that are expired or expire within the
// safety margin and have no refresh material to recover them.
func (s *Store) Get(key string) (*AccessToken, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(storeBucket).Get([]byte(key)); v != nil {
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading token store: %w", err)
	}
	if blob == nil {
		return nil, nil
	}

	tok, err := UnmarshalAtRest(string(blob))
	if err != nil {
		return nil, fmt.Errorf("recovering token for key %s: %w", key, err)
	}

	if tok.IsExpired(storeExpiryMargin) && !tok.IsRefreshable() {
		logging.Debug("Store", "token for key %s expired, dropping", key)
		tok.Zero()
		if err := s.Delete(key); err != nil {
			logging.Warn("Store", "failed to drop expired token for key %s: %v", key, err)
		}
		return nil, nil
	}
	return tok, nil
}

// Delete removes the token stored under key. Deleting a missing key is
// not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).Delete([]byte(key))
	})
}

// Keys lists the keys with stored tokens.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(storeBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
