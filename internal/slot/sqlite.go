package slot

import (
	"errors"

	"github.com/kimhsiao/timeaudit/internal/db"
)

// SQLiteStore keeps slots in the local_slots table of the local database.
type SQLiteStore struct {
	database *db.DB
	repo     db.SlotRepository
}

// OpenSQLite opens (or creates) the local database in dataDir.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	database, err := db.Open(dataDir)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(database), nil
}

// NewSQLiteStore wraps an already opened database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{
		database: database,
		repo:     db.NewRepository(database.DB),
	}
}

func (s *SQLiteStore) Load(key string) ([]byte, error) {
	data, err := s.repo.GetSlot(key)
	if errors.Is(err, db.ErrSlotNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *SQLiteStore) Save(key string, data []byte) error {
	return s.repo.PutSlot(key, data)
}

func (s *SQLiteStore) Delete(key string) error {
	return s.repo.DeleteSlot(key)
}

// Close closes cached statements and the database.
func (s *SQLiteStore) Close() error {
	stmtErr := s.repo.Close()
	if err := s.database.Close(); err != nil {
		return err
	}
	return stmtErr
}
