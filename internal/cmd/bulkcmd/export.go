package bulkcmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	"github.com/open-cli-collective/sfbulk/internal/logging"
)

type queryOptions struct {
	file         string
	noWait       bool
	pkChunking   bool
	timeout      time.Duration
	pollInterval time.Duration
}

func newQueryCommand(opts *root.Options) *cobra.Command {
	var o queryOptions

	cmd := &cobra.Command{
		Use:   "query <object> <soql>",
		Short: "Extract records with a bulk query job",
		Long: `Run a SOQL query as a Bulk API job and write the rows as CSV.

Rows are written as they are downloaded, to stdout or to --file. Columns
follow the SELECT list.

Examples:
  sfbulk query Account "SELECT Id, Name FROM Account"
  sfbulk query Account "SELECT Id, Name FROM Account" --file accounts.csv
  sfbulk query Account "SELECT Id FROM Account" --no-wait`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), opts, args[0], args[1], o)
		},
	}

	cmd.Flags().StringVarP(&o.file, "file", "f", "", "Write rows to this file instead of stdout")
	cmd.Flags().BoolVar(&o.noWait, "no-wait", false, "Submit the query and return without waiting")
	cmd.Flags().BoolVar(&o.pkChunking, "pk-chunking", false, "Enable PK chunking (leaves the job open)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", bulk.DefaultTimeout, "Maximum time to wait for results")
	cmd.Flags().DurationVar(&o.pollInterval, "poll-interval", bulk.DefaultPollInterval, "Pause between status checks")

	return cmd
}

func runQuery(ctx context.Context, opts *root.Options, object, soql string, o queryOptions) error {
	api, j, err := newAPI(ctx, opts)
	if err != nil {
		return err
	}

	v := opts.View()
	v.Progress("Submitting bulk query job on %s...", object)

	res, err := api.Query(ctx, object, soql,
		bulk.WithResponse(false),
		bulk.WithPKChunking(o.pkChunking),
		bulk.WithPollInterval(o.pollInterval),
	)
	if err != nil {
		return fmt.Errorf("bulk query failed: %w", err)
	}
	v.Progress("Job %s created.", res.JobID)

	if o.pkChunking {
		v.Progress("PK chunking leaves the job open. Fetch rows with 'sfbulk job results %s' once its batches complete.", res.JobID)
		return nil
	}
	if o.noWait {
		v.Progress("Use 'sfbulk job wait %s' and 'sfbulk job results %s' to collect the rows.", res.JobID, res.JobID)
		return nil
	}

	job := res.BulkJob()
	logging.WithFields(ctx, "job_id", res.JobID).Debug("waiting for query batches", "batches", len(job.BatchIDs()))

	v.Progress("Waiting for job %s...", res.JobID)
	results, err := job.WaitResults(ctx, false, o.timeout)
	if err != nil {
		return fmt.Errorf("failed waiting for job: %w", err)
	}

	n, err := writeOutput(opts, o.file, func(w io.Writer) (int, error) {
		return writeQueryRows(ctx, job, batchInfos(results), soqlFields(soql), w)
	})
	if err != nil {
		return err
	}

	markDone(opts, j, res.JobID)
	v.Progress("%d row(s) written.", n)
	return nil
}

// writeOutput runs write against the named file, or stdout when file is "".
func writeOutput(opts *root.Options, file string, write func(io.Writer) (int, error)) (int, error) {
	if file == "" {
		return write(opts.Stdout)
	}

	f, err := os.Create(file)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	n, err := write(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to write output file: %w", cerr)
	}
	return n, err
}

// writeQueryRows streams the rows of every Completed batch to w as CSV and
// returns the number of rows written. A Failed batch stops the export.
func writeQueryRows(ctx context.Context, job *bulk.Job, batches []bulk.BatchInfo, fields []string, w io.Writer) (int, error) {
	rw := &rowWriter{w: csv.NewWriter(w), fields: fields}

	for _, b := range batches {
		switch b.State {
		case bulk.BatchStateCompleted:
		case bulk.BatchStateFailed:
			return rw.count, fmt.Errorf("batch %s failed: %s", b.ID, b.StateMessage)
		default:
			continue
		}

		for row, err := range job.Results(ctx, b.ID) {
			if err != nil {
				return rw.count, err
			}
			if err := rw.write(row); err != nil {
				return rw.count, err
			}
		}
	}

	return rw.count, rw.close()
}

// rowWriter writes rows as CSV under a header fixed by the first row.
type rowWriter struct {
	w      *csv.Writer
	fields []string
	header []string
	count  int
}

func (rw *rowWriter) write(row bulk.Row) error {
	if rw.header == nil {
		rw.header = columnsFor(rw.fields, row)
		if err := rw.w.Write(rw.header); err != nil {
			return err
		}
	}

	cells := make([]string, len(rw.header))
	for i, h := range rw.header {
		cells[i] = row[h]
	}
	rw.count++
	return rw.w.Write(cells)
}

// close writes the SELECT list as header when no row arrived, then flushes.
func (rw *rowWriter) close() error {
	if rw.header == nil && len(rw.fields) > 0 {
		rw.header = rw.fields
		if err := rw.w.Write(rw.header); err != nil {
			return err
		}
	}
	rw.w.Flush()
	return rw.w.Error()
}

// columnsFor orders row's keys by the SELECT list when it names exactly the
// row's columns, and alphabetically otherwise.
func columnsFor(fields []string, row bulk.Row) []string {
	if len(fields) == len(row) {
		cols := make([]string, 0, len(fields))
		for _, f := range fields {
			key, ok := lookupFold(row, f)
			if !ok {
				break
			}
			cols = append(cols, key)
		}
		if len(cols) == len(fields) {
			return cols
		}
	}

	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	slices.Sort(cols)
	return cols
}

func lookupFold(row bulk.Row, field string) (string, bool) {
	if _, ok := row[field]; ok {
		return field, true
	}
	for k := range row {
		if strings.EqualFold(k, field) {
			return k, true
		}
	}
	return "", false
}

var selectPattern = regexp.MustCompile(`(?is)^\s*select\s+(.+?)\s+from\s`)

// soqlFields returns the SELECT list of a flat SOQL query, or nil for
// queries with subqueries or aggregates.
func soqlFields(soql string) []string {
	m := selectPattern.FindStringSubmatch(soql)
	if m == nil || strings.ContainsAny(m[1], "()") {
		return nil
	}

	var fields []string
	for _, f := range strings.Split(m[1], ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			return nil
		}
		fields = append(fields, f)
	}
	return fields
}
