// Package db provides repository interfaces for local slot persistence.
package db

// SlotRepository defines operations for slot persistence.
// This interface allows mocking for testing.
type SlotRepository interface {
	// GetSlot returns the stored bytes, or ErrSlotNotFound.
	GetSlot(key string) ([]byte, error)

	// PutSlot replaces the stored bytes.
	PutSlot(key string, value []byte) error

	// DeleteSlot removes the slot.
	DeleteSlot(key string) error

	// Close releases cached statements.
	Close() error
}

// Ensure *Repository implements the interface at compile time.
var _ SlotRepository = (*Repository)(nil)
