package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/models"
	"github.com/kimhsiao/timeaudit/internal/view"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	Date string
}

// ListResult is the JSON payload of the list command.
type ListResult struct {
	Date        string       `json:"date"`
	Entries     []view.Entry `json:"entries"`
	LocalOnly   bool         `json:"local_only"`
	RemoteError string       `json:"remote_error,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the activities of a day",
		Long: `Show the activities of one day, newest first.

Delivered entries are merged with entries still waiting in the local
queue. If the remote store cannot be reached only local entries are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), rootOpts, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Date, "date", "d", "", "day to show (YYYY-MM-DD, default today)")

	return cmd
}

func runList(ctx context.Context, rootOpts *RootOptions, opts *ListOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(rootOpts, out)

	app, err := rootOpts.open()
	if err != nil {
		return formatter.Fail(err)
	}
	defer app.Close()

	ownerID, err := app.OwnerID()
	if err != nil {
		return formatter.Fail(err)
	}

	day, err := parseDay(opts.Date, app.Clock.Now(), app.Location)
	if err != nil {
		return formatter.Fail(err)
	}

	v, err := app.Views.Build(ctx, ownerID, models.DayRange(day, app.Location))
	if err != nil {
		return formatter.Fail(err)
	}

	result := ListResult{
		Date:      day.Format("2006-01-02"),
		Entries:   v.Entries,
		LocalOnly: v.LocalOnly(),
	}
	if result.Entries == nil {
		result.Entries = []view.Entry{}
	}
	if v.RemoteErr != nil {
		result.RemoteError = v.RemoteErr.Error()
	}

	now := app.Clock.Now()
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s\n", day.Format("Monday, 2 Jan 2006"))
		if result.LocalOnly {
			fmt.Fprintln(w, yellow.Sprint("Remote store unreachable, showing local entries only"))
		}
		if len(result.Entries) == 0 {
			fmt.Fprintln(w, faint.Sprint("  no activities"))
			return
		}
		for _, e := range result.Entries {
			fmt.Fprintf(w, "  %s  %s  %s", e.LoggedAt.In(app.Location).Format("15:04"), statusLabel(e.Status), e.Text)
			if e.Source == view.SourceLocal {
				fmt.Fprintf(w, " %s", faint.Sprintf("(%s)", humanize.RelTime(e.LoggedAt, now, "ago", "from now")))
			}
			fmt.Fprintln(w)
		}
		counts := v.Counts()
		fmt.Fprintf(w, "%d entries, %d synced", len(result.Entries), counts[view.DisplayConfirmed])
		if waiting := counts[view.DisplayPending] + counts[view.DisplayFailed]; waiting > 0 {
			fmt.Fprintf(w, ", %s", yellow.Sprintf("%d waiting", waiting))
		}
		if counts[view.DisplayAbandoned] > 0 {
			fmt.Fprintf(w, ", %s", red.Sprintf("%d abandoned", counts[view.DisplayAbandoned]))
		}
		fmt.Fprintln(w)
	})
}

// parseDay accepts "" (today) or YYYY-MM-DD in loc.
func parseDay(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return now.In(loc), nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrInvalid, fmt.Sprintf("invalid date %q: use YYYY-MM-DD", raw), err)
	}
	return day, nil
}
