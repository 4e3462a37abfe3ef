package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/timeaudit/internal/errors"
	syncpkg "github.com/kimhsiao/timeaudit/internal/sync"
	"github.com/kimhsiao/timeaudit/internal/sync/queue"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued activities now",
		Long: `Make one delivery attempt for every queued activity that has not
been delivered and still has attempts left.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), rootOpts, timeout, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum duration of the pass")

	return cmd
}

func runSync(ctx context.Context, rootOpts *RootOptions, timeout time.Duration, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(rootOpts, out)

	app, err := rootOpts.open()
	if err != nil {
		return formatter.Fail(err)
	}
	defer app.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := app.Sync.SyncPending(ctx)
	if err != nil && result == nil {
		return formatter.Fail(err)
	}

	if fmtErr := formatter.Success(result, func(w io.Writer) { printSyncResult(w, result) }); fmtErr != nil {
		return fmtErr
	}
	if err != nil {
		return formatter.Fail(err)
	}
	return nil
}

func printSyncResult(w io.Writer, result *syncpkg.SyncResult) {
	if result.Attempted == 0 {
		fmt.Fprintln(w, faint.Sprint("Nothing to sync"))
		return
	}
	fmt.Fprintf(w, "Attempted %d: %s, %s",
		result.Attempted,
		green.Sprintf("%d delivered", result.Confirmed),
		yellow.Sprintf("%d failed", result.Failed))
	if result.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", result.Skipped)
	}
	fmt.Fprintf(w, " (%s)\n", result.Duration.Round(time.Millisecond))
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove delivered and abandoned entries from the local queue",
		Long: `Remove entries delivered more than a day ago, and entries that
failed every delivery attempt. Abandoned entries are listed so they can be
logged again by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(rootOpts, cmd.OutOrStdout())
		},
	}
}

func runCleanup(rootOpts *RootOptions, out io.Writer) error {
	formatter := newFormatter(rootOpts, out)

	app, err := rootOpts.open()
	if err != nil {
		return formatter.Fail(err)
	}
	defer app.Close()

	report, err := app.Sync.Cleanup()
	if err != nil {
		return formatter.Fail(err)
	}

	return formatter.Success(report, func(w io.Writer) {
		fmt.Fprintf(w, "Removed %d (%d delivered, %d abandoned), %d remaining\n",
			report.Removed(), report.Expired, len(report.Abandoned), report.Remaining)
		for _, a := range report.Abandoned {
			fmt.Fprintf(w, "  %s %s %s\n",
				red.Sprint("✗"),
				a.LoggedAt.In(app.Location).Format("2006-01-02 15:04"),
				a.Text)
		}
	})
}

// StatusResult is the JSON payload of the status command.
type StatusResult struct {
	Queue         queue.Stats `json:"queue"`
	OldestPending *time.Time  `json:"oldest_pending,omitempty"`
	SignedIn      bool        `json:"signed_in"`
	StoreError    string      `json:"store_error,omitempty"`
	StoreCode     string      `json:"store_code,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd.OutOrStdout())
		},
	}
}

func runStatus(rootOpts *RootOptions, out io.Writer) error {
	formatter := newFormatter(rootOpts, out)

	app, err := rootOpts.open()
	if err != nil {
		return formatter.Fail(err)
	}
	defer app.Close()

	result := StatusResult{
		Queue:    app.Queue.Stats(),
		SignedIn: app.Config.OwnerID != "",
	}
	if syncable := app.Queue.ListSyncable(); len(syncable) > 0 {
		oldest := syncable[0].CreatedAt
		result.OldestPending = &oldest
	}
	if err := app.Queue.Health(); err != nil {
		result.StoreError = err.Error()
		result.StoreCode = string(errors.CodeOf(err))
	}

	now := app.Clock.Now()
	return formatter.Success(result, func(w io.Writer) {
		if !result.SignedIn {
			fmt.Fprintln(w, yellow.Sprint("Not signed in"))
		}
		if result.StoreError != "" {
			fmt.Fprintf(w, "%s %s\n", red.Sprint("Local store unreadable:"), result.StoreError)
		}
		s := result.Queue
		fmt.Fprintf(w, "Queued:    %d\n", s.Total)
		fmt.Fprintf(w, "  waiting: %d\n", s.Syncable)
		fmt.Fprintf(w, "  synced:  %d\n", s.Confirmed)
		if s.Exhausted > 0 {
			fmt.Fprintf(w, "  %s %d\n", red.Sprint("gave up:"), s.Exhausted)
		}
		if result.OldestPending != nil {
			fmt.Fprintf(w, "Oldest waiting entry queued %s\n", humanize.RelTime(*result.OldestPending, now, "ago", "from now"))
		}
	})
}
