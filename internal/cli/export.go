package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/export"
	"github.com/kimhsiao/timeaudit/internal/models"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	Output string
	From   string
	To     string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export activities to a tar.gz of daily CSV sheets",
		Long: `Export activities between --from and --to (inclusive days) to a
gzip-compressed tar archive with a manifest and one CSV sheet per day.
Both default to today.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), rootOpts, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "archive path (default time-audit-YYYY-MM-DD.tar.gz)")
	cmd.Flags().StringVar(&opts.From, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.To, "to", "", "last day (YYYY-MM-DD)")

	return cmd
}

func runExport(ctx context.Context, rootOpts *RootOptions, opts *ExportOptions, out io.Writer) error {
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

	now := app.Clock.Now()
	from, err := parseDay(opts.From, now, app.Location)
	if err != nil {
		return formatter.Fail(err)
	}
	to := from
	if opts.To != "" {
		if to, err = parseDay(opts.To, now, app.Location); err != nil {
			return formatter.Fail(err)
		}
	}
	if to.Before(from) {
		return formatter.Fail(errors.New(errors.ErrInvalid, "--to is before --from"))
	}
	r := models.DateRange{
		Start: models.DayRange(from, app.Location).Start,
		End:   models.DayRange(to, app.Location).End,
	}

	svc := export.NewExportService(app.Views, app.Clock, app.Location)
	result, err := svc.ExportToFile(ctx, ownerID, r, opts.Output)
	if err != nil {
		return formatter.Fail(err)
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s (%s, %d entries over %d days, %s)\n",
			green.Sprint("Exported"),
			result.FilePath,
			humanize.Bytes(uint64(result.SizeBytes)),
			result.EntryCount,
			result.Days,
			result.Duration.Round(time.Millisecond))
		if result.LocalOnly {
			fmt.Fprintln(w, yellow.Sprint("Remote store unreachable, archive holds local entries only"))
		}
	})
}
