package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/models"
	syncpkg "github.com/kimhsiao/timeaudit/internal/sync"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	At             string
	SameAsPrevious bool
	Wait           time.Duration
}

// LogResult is the JSON payload of the log command.
type LogResult struct {
	Activity     models.PendingActivity  `json:"activity"`
	Outcome      syncpkg.DeliveryOutcome `json:"outcome,omitempty"`
	SavedLocally bool                    `json:"saved_locally"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{}

	cmd := &cobra.Command{
		Use:   "log [text...]",
		Short: "Log an activity",
		Long: `Log an activity note.

The entry is saved locally before anything else happens, then delivered
to the remote store. When delivery fails the entry stays queued and is
retried by "timeaudit sync" or a running "timeaudit serve".

Examples:
  timeaudit log "Reviewed the billing PR"
  timeaudit log --at 14:30 Lunch with the team
  timeaudit log --same-as-previous`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd.Context(), rootOpts, opts, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "time of the activity (HH:MM today, or RFC3339)")
	cmd.Flags().BoolVar(&opts.SameAsPrevious, "same-as-previous", false, "repeat the most recent activity")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 10*time.Second, "how long to wait for delivery (0 to return immediately)")

	return cmd
}

func runLog(ctx context.Context, rootOpts *RootOptions, opts *LogOptions, text string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(rootOpts, out)

	app, err := rootOpts.open()
	if err != nil {
		return formatter.Fail(err)
	}
	defer app.Close()

	loggedAt, err := parseAt(opts.At, app.Clock.Now(), app.Location)
	if err != nil {
		return formatter.Fail(err)
	}

	if opts.SameAsPrevious {
		ownerID, err := app.OwnerID()
		if err != nil {
			return formatter.Fail(err)
		}
		latest, ok, err := app.Views.Latest(ctx, ownerID)
		if err != nil {
			return formatter.Fail(err)
		}
		if !ok {
			return formatter.Fail(errors.New(errors.ErrNotFound, "no previous activity"))
		}
		text = latest.Text
	}

	sub, err := app.Sync.SubmitForCurrentUser(ctx, text, loggedAt)
	if err != nil {
		return formatter.Fail(err)
	}

	result := LogResult{Activity: sub.Activity, SavedLocally: true}
	if opts.Wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
		outcome, _ := sub.Wait(waitCtx)
		cancel()
		result.Outcome = outcome
		result.SavedLocally = outcome != syncpkg.OutcomeDelivered
	}

	return formatter.Success(result, func(w io.Writer) {
		at := result.Activity.LoggedAt.In(app.Location).Format("15:04")
		if result.SavedLocally {
			fmt.Fprintf(w, "%s %s %s\n", yellow.Sprint("Saved locally"), at, result.Activity.Text)
			fmt.Fprintln(w, faint.Sprint("  will retry delivery in the background"))
			return
		}
		fmt.Fprintf(w, "%s %s %s\n", green.Sprint("Logged"), at, result.Activity.Text)
	})
}

// parseAt accepts "", "HH:MM" (today in loc) or RFC3339. Empty means now.
func parseAt(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	clockTime, err := time.ParseInLocation("15:04", raw, loc)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrInvalid, fmt.Sprintf("invalid --at %q: use HH:MM or RFC3339", raw), err)
	}
	day := now.In(loc)
	return time.Date(day.Year(), day.Month(), day.Day(), clockTime.Hour(), clockTime.Minute(), 0, 0, loc), nil
}
