// Package db provides repository operations over the local_slots table.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSlotNotFound is returned when a slot has never been written.
var ErrSlotNotFound = errors.New("slot not found")

// Repository provides slot read/write operations.
type Repository struct {
	db *sql.DB

	// Prepared statements keyed by query text, prepared on first use.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// =====================================================
// Slot Operations
// =====================================================

// GetSlot returns the stored bytes for key.
func (r *Repository) GetSlot(key string) ([]byte, error) {
	stmt, err := r.PrepareStmt(`SELECT value FROM local_slots WHERE slot_key = ?`)
	if err != nil {
		return nil, err
	}

	var value []byte
	err = stmt.QueryRow(key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// PutSlot replaces the stored bytes for key.
func (r *Repository) PutSlot(key string, value []byte) error {
	stmt, err := r.PrepareStmt(`
	INSERT INTO local_slots (slot_key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(slot_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err = stmt.Exec(key, value, time.Now().UnixNano())
	return err
}

// DeleteSlot removes key. Deleting a missing slot is not an error.
func (r *Repository) DeleteSlot(key string) error {
	stmt, err := r.PrepareStmt(`DELETE FROM local_slots WHERE slot_key = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(key)
	return err
}

// ListSlotKeys returns every stored key in key order.
func (r *Repository) ListSlotKeys() ([]string, error) {
	rows, err := r.db.Query(`SELECT slot_key FROM local_slots ORDER BY slot_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
