// Package localid generates client-side identifiers for queued activities.
//
// Local ids carry a "local-" prefix followed by a UUID v7 (millisecond
// timestamp plus random bits), so they never collide with each other and
// never equal an identifier assigned by the remote store.
package localid

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Prefix marks identifiers generated on this client.
const Prefix = "local-"

// UUID v7 format: xxxxxxxx-xxxx-7xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var localIDRegex = regexp.MustCompile(`^local-[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// Generator produces new local ids.
type Generator interface {
	NewID() (string, error)
}

// V7 generates "local-<uuidv7>" identifiers.
type V7 struct{}

// NewID returns a fresh local id.
func (V7) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate local id: %w", err)
	}
	return Prefix + id.String(), nil
}

// New generates a local id with the default generator.
func New() (string, error) {
	return V7{}.NewID()
}

// IsLocal reports whether id was generated on this client.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, Prefix)
}

// IsValid checks if a string is a well-formed V7 local id.
func IsValid(s string) bool {
	return localIDRegex.MatchString(s)
}

// Sequence is a deterministic generator for tests: prefix-1, prefix-2, ...
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a Sequence. An empty prefix defaults to "local-test".
func NewSequence(prefix string) *Sequence {
	if prefix == "" {
		prefix = Prefix + "test"
	}
	return &Sequence{prefix: prefix}
}

// NewID returns the next id in the sequence.
func (s *Sequence) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n), nil
}
