// Package view renders command output for sfbulk: aligned tables, JSON or
// tab-separated plain text on stdout, and status lines on stderr.
package view

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Format is an output format selected with --output.
type Format string

// Output formats.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatPlain Format = "plain"
)

// ValidFormats lists the accepted --output values.
func ValidFormats() []string {
	return []string{string(FormatTable), string(FormatJSON), string(FormatPlain)}
}

// ValidateFormat rejects unknown formats. Empty means table.
func ValidateFormat(format string) error {
	if format == "" {
		return nil
	}
	for _, f := range ValidFormats() {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid output format: %q (valid formats: %s)", format, strings.Join(ValidFormats(), ", "))
}

// View writes data to Out and human-facing status to Err.
type View struct {
	Format Format
	Out    io.Writer
	Err    io.Writer

	bold, green, yellow, cyan *color.Color
}

// New returns a View for format writing to out and errw.
func New(format string, noColor bool, out, errw io.Writer) *View {
	v := &View{
		Format: Format(format),
		Out:    out,
		Err:    errw,
		bold:   color.New(color.Bold),
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		cyan:   color.New(color.FgCyan),
	}
	if v.Format == "" {
		v.Format = FormatTable
	}
	if noColor {
		for _, c := range []*color.Color{v.bold, v.green, v.yellow, v.cyan} {
			c.DisableColor()
		}
	}
	return v
}

// Render picks the representation for the current format: jsonData for
// JSON, headers and rows otherwise.
func (v *View) Render(headers []string, rows [][]string, jsonData any) error {
	if v.Format == FormatJSON {
		return v.JSON(jsonData)
	}
	return v.Table(headers, rows)
}

// Table writes aligned columns under a bold header. JSON output becomes an
// array of objects keyed by lower-cased header; plain output drops the header.
func (v *View) Table(headers []string, rows [][]string) error {
	switch v.Format {
	case FormatJSON:
		objs := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			obj := make(map[string]string, len(headers))
			for i, h := range headers {
				if i < len(row) {
					obj[strings.ToLower(h)] = row[i]
				}
			}
			objs = append(objs, obj)
		}
		return v.JSON(objs)
	case FormatPlain:
		for _, row := range rows {
			if _, err := fmt.Fprintln(v.Out, strings.Join(row, "\t")); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(v.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, v.bold.Sprint(strings.Join(headers, "\t")))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Rows renders keyed rows under columns; missing keys render empty. JSON
// output keeps each row with its original keys.
func (v *View) Rows(columns []string, rows []map[string]string) error {
	if v.Format == FormatJSON {
		if rows == nil {
			rows = []map[string]string{}
		}
		return v.JSON(rows)
	}

	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, len(columns))
		for j, c := range columns {
			cells[i][j] = row[c]
		}
	}
	return v.Table(columns, cells)
}

// JSON writes data indented.
func (v *View) JSON(data any) error {
	enc := json.NewEncoder(v.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Info writes a line to Out.
func (v *View) Info(format string, args ...any) {
	_, _ = fmt.Fprintf(v.Out, format+"\n", args...)
}

// Print writes to Out without a newline, for prompts.
func (v *View) Print(format string, args ...any) {
	_, _ = fmt.Fprintf(v.Out, format, args...)
}

// Success writes a check-marked line to Out.
func (v *View) Success(format string, args ...any) {
	_, _ = v.green.Fprintln(v.Out, "✓ "+fmt.Sprintf(format, args...))
}

// Warning writes a line to Err.
func (v *View) Warning(format string, args ...any) {
	_, _ = v.yellow.Fprintln(v.Err, "⚠ "+fmt.Sprintf(format, args...))
}

// Progress writes a status line to Err, leaving Out for data such as query
// CSV.
func (v *View) Progress(format string, args ...any) {
	_, _ = v.cyan.Fprintln(v.Err, fmt.Sprintf(format, args...))
}

// Truncate shortens s to maxLen bytes, ending in "..." when cut.
func Truncate(s string, maxLen int) string {
	switch {
	case len(s) <= maxLen:
		return s
	case maxLen <= 3:
		return s[:maxLen]
	default:
		return s[:maxLen-3] + "..."
	}
}
