package remote

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/models"
)

const postgresOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore reads and writes the hosted activities table directly.
// The connection is opened lazily on first use.
type PostgresStore struct {
	dsn       string
	tableName string
	timeout   time.Duration
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore creates a store for dsn. A zero timeout uses 5s.
func NewPostgresStore(dsn string, timeout time.Duration) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New(errors.ErrConfigInvalid, "postgres dsn is required")
	}
	if timeout <= 0 {
		timeout = postgresOperationTimeout
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: models.RemoteActivity{}.TableName(),
		timeout:   timeout,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, activity models.NewActivity) (*models.RemoteActivity, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, activity_text, logged_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, activity_text, logged_at, created_at`, pq.QuoteIdentifier(s.tableName))

	var row models.RemoteActivity
	err := s.db.QueryRowContext(ctx, query, activity.OwnerID, activity.Text, activity.LoggedAt.UTC()).
		Scan(&row.ID, &row.OwnerID, &row.Text, &row.LoggedAt, &row.CreatedAt)
	if err != nil {
		return nil, classifyPostgresError("insert activity", err)
	}
	return &row, nil
}

func (s *PostgresStore) Query(ctx context.Context, ownerID string, r models.DateRange) ([]models.RemoteActivity, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, activity_text, logged_at, created_at
		FROM %s
		WHERE user_id = $1 AND logged_at >= $2 AND logged_at < $3
		ORDER BY logged_at DESC`, pq.QuoteIdentifier(s.tableName))

	rows, err := s.db.QueryContext(ctx, query, ownerID, r.Start.UTC(), r.End.UTC())
	if err != nil {
		return nil, classifyPostgresError("query activities", err)
	}
	defer rows.Close()

	var out []models.RemoteActivity
	for rows.Next() {
		var row models.RemoteActivity
		if err := rows.Scan(&row.ID, &row.OwnerID, &row.Text, &row.LoggedAt, &row.CreatedAt); err != nil {
			return nil, classifyPostgresError("scan activity", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresError("iterate activities", err)
	}
	return out, nil
}

// Latest returns the owner's newest activity, or nil when there is none.
func (s *PostgresStore) Latest(ctx context.Context, ownerID string) (*models.RemoteActivity, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, user_id, activity_text, logged_at, created_at
		FROM %s
		WHERE user_id = $1
		ORDER BY logged_at DESC
		LIMIT 1`, pq.QuoteIdentifier(s.tableName))

	var row models.RemoteActivity
	err := s.db.QueryRowContext(ctx, query, ownerID).
		Scan(&row.ID, &row.OwnerID, &row.Text, &row.LoggedAt, &row.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgresError("query latest activity", err)
	}
	return &row, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = errors.Wrap(errors.ErrRemoteUnavailable, "failed to open postgres", err)
			return
		}
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				user_id TEXT NOT NULL,
				activity_text TEXT NOT NULL,
				logged_at TIMESTAMPTZ NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, pq.QuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = classifyPostgresError("prepare activities table", err)
			return
		}
		s.db = db
	})
	return s.initErr
}

// classifyPostgresError maps data and constraint errors to REMOTE_REJECTED
// and everything else (network, timeouts, server shutdown) to REMOTE_UNAVAILABLE.
func classifyPostgresError(op string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return errors.Wrap(errors.ErrRemoteRejected, op, err)
		case "28":
			return errors.Wrap(errors.ErrNotAuthenticated, op, err)
		}
	}
	return errors.Wrap(errors.ErrRemoteUnavailable, op, err)
}
