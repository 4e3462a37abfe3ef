package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/kimhsiao/timeaudit/internal/clock"
	"github.com/kimhsiao/timeaudit/internal/config"
	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/remote"
	"github.com/kimhsiao/timeaudit/internal/slot"
	syncpkg "github.com/kimhsiao/timeaudit/internal/sync"
	"github.com/kimhsiao/timeaudit/internal/sync/queue"
	"github.com/kimhsiao/timeaudit/internal/view"
)

// App is the set of collaborators a command works with.
type App struct {
	Config   *config.Config
	Store    slot.Store
	Queue    *queue.LocalQueue
	Remote   remote.Store
	Auth     remote.Authenticator
	Sync     *syncpkg.Synchronizer
	Views    *view.Builder
	Clock    clock.Clock
	Location *time.Location

	closers []io.Closer
}

// AppOpener builds an App from configuration.
type AppOpener func(cfg *config.Config, opts ...syncpkg.Option) (*App, error)

// OpenApp opens the configured local store and remote store and wires the
// synchronizer over them.
func OpenApp(cfg *config.Config, opts ...syncpkg.Option) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	c := clock.System{}
	rs, err := openRemote(cfg, c)
	if err != nil {
		store.Close()
		return nil, err
	}

	app := NewApp(cfg, store, rs, c, loc, opts...)
	if closer, ok := rs.(io.Closer); ok {
		app.closers = append(app.closers, closer)
	}
	return app, nil
}

// NewApp wires an App over already opened stores.
func NewApp(cfg *config.Config, store slot.Store, rs remote.Store, c clock.Clock, loc *time.Location, opts ...syncpkg.Option) *App {
	q := queue.NewLocalQueue(store, queue.WithClock(c), queue.WithSlotKey(cfg.SlotKey))
	auth := remote.StaticAuthenticator{OwnerID: cfg.OwnerID}

	base := []syncpkg.Option{
		syncpkg.WithClock(c),
		syncpkg.WithAuthenticator(auth),
	}
	return &App{
		Config:   cfg,
		Store:    store,
		Queue:    q,
		Remote:   rs,
		Auth:     auth,
		Sync:     syncpkg.NewSynchronizer(q, rs, append(base, opts...)...),
		Views:    view.NewBuilder(q, rs),
		Clock:    c,
		Location: loc,
		closers:  []io.Closer{store},
	}
}

// Close waits for background deliveries, then releases the stores.
func (a *App) Close() error {
	a.Sync.Wait()
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OwnerID returns the signed-in owner or NOT_AUTHENTICATED.
func (a *App) OwnerID() (string, error) {
	if a.Config.OwnerID == "" {
		return "", errors.New(errors.ErrNotAuthenticated, "not signed in: set owner_id or TIMEAUDIT_OWNER_ID")
	}
	return a.Config.OwnerID, nil
}

func openStore(cfg *config.Config) (slot.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := slot.OpenSQLite(cfg.DataDir)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to open local database", err)
		}
		return store, nil
	case config.StoreFile:
		store, err := slot.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, errors.Wrap(errors.ErrLocalWrite, "failed to open local store", err)
		}
		return store, nil
	case config.StoreMemory:
		return slot.NewMemoryStore(), nil
	}
	return nil, errors.New(errors.ErrConfigInvalid, fmt.Sprintf("unknown store %q", cfg.Store))
}

func openRemote(cfg *config.Config, c clock.Clock) (remote.Store, error) {
	switch cfg.Remote.Kind {
	case config.RemotePostgres:
		return remote.NewPostgresStore(cfg.Remote.DSN, cfg.Remote.Timeout)
	case config.RemoteREST:
		return remote.NewRESTStore(cfg.Remote.URL, cfg.Remote.APIKey, cfg.Remote.AccessToken, cfg.Remote.Timeout)
	case config.RemoteMemory:
		return remote.NewMemoryStore(c), nil
	}
	return nil, errors.New(errors.ErrConfigInvalid, fmt.Sprintf("unknown remote kind %q", cfg.Remote.Kind))
}

func (o *RootOptions) open(opts ...syncpkg.Option) (*App, error) {
	return o.openApp(o.cfg, opts...)
}
