package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/timeaudit/internal/api"
	"github.com/kimhsiao/timeaudit/internal/api/handlers"
	"github.com/kimhsiao/timeaudit/internal/logging"
	"github.com/kimhsiao/timeaudit/internal/slot"
	syncpkg "github.com/kimhsiao/timeaudit/internal/sync"
	"github.com/kimhsiao/timeaudit/internal/sync/scheduler"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local API and background retry loop",
		Long: `Serve the local HTTP API and websocket event stream, and retry
queued activities on an interval until interrupted.

Endpoints:
  POST /api/activities           log an activity
  GET  /api/activities?date=     merged view of a day
  GET  /api/activities/latest    most recent activity today
  POST /api/sync                 start a retry pass
  GET  /api/status               queue and scheduler state
  GET  /api/health               liveness
  GET  /ws                       queue events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config, 127.0.0.1:8787)")

	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *ServeOptions, out io.Writer) error {
	hub := api.NewHub()
	defer hub.Close()

	app, err := rootOpts.open(syncpkg.WithNotifier(hub))
	if err != nil {
		return err
	}
	defer app.Close()

	sched := scheduler.NewScheduler(app.Sync, &scheduler.SchedulerConfig{
		RetryInterval: app.Config.RetryInterval,
	})
	// Nothing can be delivered without a signed-in owner.
	sched.SetOnlineStatus(app.Config.OwnerID != "")

	router := api.NewRouter(api.Routes{
		Activities: handlers.NewActivityHandler(app.Sync, app.Views, app.Auth, app.Clock, app.Location),
		Sync:       handlers.NewSyncHandler(sched, app.Queue, app.Sync),
		Hub:        hub,
	})

	addr := opts.Addr
	if addr == "" {
		addr = app.Config.HTTPAddr
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	server := api.NewServer(addr, router)

	sched.Start(ctx)
	defer sched.Stop()

	// Another process (the CLI) may append to a file-backed queue.
	if fs, ok := app.Store.(*slot.FileStore); ok {
		go func() {
			err := fs.Watch(ctx, app.Queue.SlotKey(), func() {
				logging.Debug("Queue changed on disk, triggering sync", nil)
				sched.TriggerSync(ctx)
			})
			if err != nil {
				logging.Warn("Queue watcher stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	fmt.Fprintf(out, "Listening on http://%s\n", listener.Addr())
	logging.Info("Server started", map[string]interface{}{
		"addr":           listener.Addr().String(),
		"store":          app.Config.Store,
		"remote":         app.Config.Remote.Kind,
		"retry_interval": app.Config.RetryInterval.String(),
	})

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logging.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("HTTP shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	return nil
}
