// Package slot stores named byte slots: the local persistence primitive the
// activity queue reads and rewrites as a whole.
package slot

import "errors"

// ErrNotFound is returned by Load when the slot has never been written.
var ErrNotFound = errors.New("slot not found")

// Store persists whole values under a key. Implementations must make Save
// durable before returning.
type Store interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
	Delete(key string) error
	Close() error
}
