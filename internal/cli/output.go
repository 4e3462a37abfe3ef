package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/view"
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newFormatter(opts *RootOptions, w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: w}
}

// Success writes data as JSON, or calls text for the text format.
func (f *OutputFormatter) Success(data interface{}, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.writeJSON(CLIResponse{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Fail reports err in the configured format and returns it.
func (f *OutputFormatter) Fail(err error) error {
	if f.Format == "json" {
		if writeErr := f.writeJSON(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: string(errors.CodeOf(err)), Message: err.Error()},
		}); writeErr != nil {
			return writeErr
		}
	}
	return err
}

func (f *OutputFormatter) writeJSON(v interface{}) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	faint  = color.New(color.Faint)
)

// statusLabel colors a display status for terminal output.
func statusLabel(s view.DisplayStatus) string {
	switch s {
	case view.DisplayConfirmed:
		return green.Sprint("✓ synced ")
	case view.DisplayPending:
		return yellow.Sprint("… pending")
	case view.DisplayFailed:
		return yellow.Sprint("! retry  ")
	case view.DisplayAbandoned:
		return red.Sprint("✗ failed ")
	}
	return fmt.Sprintf("%-9s", s)
}
