package bulkcmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	clierr "github.com/open-cli-collective/sfbulk/internal/errors"
)

type dmlOptions struct {
	file         string
	externalID   string
	nullable     []string
	nullMarker   string
	batchSize    int
	serial       bool
	pkChunking   bool
	noClose      bool
	wait         bool
	timeout      time.Duration
	pollInterval time.Duration
}

func (o dmlOptions) bulkOptions() []bulk.Option {
	mode := bulk.ConcurrencyParallel
	if o.serial {
		mode = bulk.ConcurrencySerial
	}
	return []bulk.Option{
		bulk.WithExternalField(o.externalID),
		bulk.WithNullableFields(o.nullable...),
		bulk.WithBatchSize(o.batchSize),
		bulk.WithCloseJob(!o.noClose),
		bulk.WithPKChunking(o.pkChunking),
		bulk.WithResponse(o.wait),
		bulk.WithTimeout(o.timeout),
		bulk.WithConcurrencyMode(mode),
		bulk.WithPollInterval(o.pollInterval),
	}
}

var dmlDescriptions = map[bulk.Operation]string{
	bulk.OperationInsert: "Create records",
	bulk.OperationUpdate: "Update records by Id",
	bulk.OperationUpsert: "Insert or update records by an external id field",
	bulk.OperationDelete: "Delete records by Id",
}

func newDMLCommand(opts *root.Options, op bulk.Operation) *cobra.Command {
	var o dmlOptions

	cmd := &cobra.Command{
		Use:   string(op) + " <object>",
		Short: dmlDescriptions[op] + " with a bulk job",
		Long: fmt.Sprintf(`%s with a Bulk API job.

The input is CSV with a header row of field API names. Records are split into
batches of --batch-size and submitted to one job. Empty cells are rejected
unless the column is listed in --nullable; cells equal to --null-marker clear
the field on the server.

Examples:
  sfbulk %[2]s Account --file accounts.csv
  sfbulk %[2]s Account --file accounts.csv --wait
  cat accounts.csv | sfbulk %[2]s Account --file - --batch-size 2000`, dmlDescriptions[op], op),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDML(cmd.Context(), opts, op, args[0], o)
		},
	}

	cmd.Flags().StringVarP(&o.file, "file", "f", "", "Path to CSV file, - for stdin (required)")
	if op == bulk.OperationUpsert {
		cmd.Flags().StringVar(&o.externalID, "external-id", "", "External id field to match records on (required)")
	}
	cmd.Flags().StringSliceVar(&o.nullable, "nullable", nil, "Fields that may be sent empty")
	cmd.Flags().StringVar(&o.nullMarker, "null-marker", "", "Cell value that clears a field, e.g. NULL")
	cmd.Flags().IntVar(&o.batchSize, "batch-size", bulk.MaxBatchSize, "Records per batch")
	cmd.Flags().BoolVar(&o.serial, "serial", false, "Process batches one at a time")
	cmd.Flags().BoolVar(&o.pkChunking, "pk-chunking", false, "Enable PK chunking (leaves the job open)")
	cmd.Flags().BoolVar(&o.noClose, "no-close", false, "Leave the job open after submitting")
	cmd.Flags().BoolVar(&o.wait, "wait", false, "Wait for the batches and show per-record results")
	cmd.Flags().DurationVar(&o.timeout, "timeout", bulk.DefaultTimeout, "Maximum time to wait for results")
	cmd.Flags().DurationVar(&o.pollInterval, "poll-interval", bulk.DefaultPollInterval, "Pause between status checks")

	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runDML(ctx context.Context, opts *root.Options, op bulk.Operation, object string, o dmlOptions) error {
	if op == bulk.OperationUpsert && o.externalID == "" {
		return clierr.Usage("--external-id is required for upsert")
	}

	records, err := loadRecords(opts.Stdin, o.file, o.nullMarker)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return clierr.Usage("no records in %s", o.file)
	}

	api, j, err := newAPI(ctx, opts)
	if err != nil {
		return err
	}

	v := opts.View()
	v.Progress("Submitting %d record(s) to a bulk %s job on %s...", len(records), op, object)

	res, err := api.Do(ctx, op, object, records, "", o.bulkOptions()...)
	if err != nil {
		return fmt.Errorf("bulk %s failed: %w", op, err)
	}

	if o.wait && res.Job != nil {
		markDone(opts, j, res.JobID)
	}

	return renderResult(opts, res, o.wait)
}
