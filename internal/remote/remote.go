// Package remote provides the collaborators that talk to the hosted
// activities store: inserting confirmed activities, querying them back,
// and resolving the signed-in owner.
package remote

import (
	"context"

	"github.com/kimhsiao/timeaudit/internal/models"
)

// Inserter durably writes one activity to the remote store.
type Inserter interface {
	// Insert returns the stored row, including the remote-assigned ID.
	Insert(ctx context.Context, activity models.NewActivity) (*models.RemoteActivity, error)
}

// Querier reads activities back from the remote store.
type Querier interface {
	// Query returns the owner's activities whose LoggedAt falls inside r,
	// newest first.
	Query(ctx context.Context, ownerID string, r models.DateRange) ([]models.RemoteActivity, error)
}

// LatestQuerier finds the owner's most recently logged activity without a
// date filter.
type LatestQuerier interface {
	// Latest returns nil when the owner has no activities.
	Latest(ctx context.Context, ownerID string) (*models.RemoteActivity, error)
}

// Store is a remote store that supports both insert and query.
type Store interface {
	Inserter
	Querier
}

// Authenticator resolves the signed-in owner.
type Authenticator interface {
	// CurrentUser returns ok=false when nobody is signed in.
	CurrentUser(ctx context.Context) (ownerID string, ok bool, err error)
}

// StaticAuthenticator returns a fixed owner, typically from configuration.
// An empty OwnerID means not signed in.
type StaticAuthenticator struct {
	OwnerID string
	Err     error
}

func (a StaticAuthenticator) CurrentUser(ctx context.Context) (string, bool, error) {
	if a.Err != nil {
		return "", false, a.Err
	}
	return a.OwnerID, a.OwnerID != "", nil
}
