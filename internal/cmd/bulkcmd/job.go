package bulkcmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/cmd/completion"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	clierr "github.com/open-cli-collective/sfbulk/internal/errors"
	"github.com/open-cli-collective/sfbulk/internal/journal"
	"github.com/open-cli-collective/sfbulk/internal/logging"
)

func newJobCommand(opts *root.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage bulk jobs",
		Long: `Inspect and manage Bulk API jobs.

Jobs created by sfbulk are recorded in a local journal until their results
have been collected, so an interrupted run can be resumed with 'job wait'.

Examples:
  sfbulk job pending
  sfbulk job status 750xx000000001
  sfbulk job batches 750xx000000001
  sfbulk job wait 750xx000000001 --results
  sfbulk job results 750xx000000001 --file results.csv
  sfbulk job abort 750xx000000001`,
	}

	cmd.AddCommand(newJobStatusCommand(opts))
	cmd.AddCommand(newJobBatchesCommand(opts))
	cmd.AddCommand(newJobWaitCommand(opts))
	cmd.AddCommand(newJobResultsCommand(opts))
	cmd.AddCommand(newJobCloseCommand(opts))
	cmd.AddCommand(newJobAbortCommand(opts))
	cmd.AddCommand(newJobPendingCommand(opts))
	cmd.AddCommand(newJobForgetCommand(opts))

	return cmd
}

func jobFromID(ctx context.Context, opts *root.Options, jobID string, o ...bulk.Option) (*bulk.Job, error) {
	api, err := opts.BulkAPI(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk client: %w", err)
	}
	return api.JobFromID(jobID, o...), nil
}

func newJobStatusCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Get bulk job status",
		Long: `Get the state and batch counts of a bulk job.

Examples:
  sfbulk job status 750xx000000001
  sfbulk job status 750xx000000001 -o json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.PendingJobIDs(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobStatus(cmd.Context(), opts, args[0])
		},
	}
}

func runJobStatus(ctx context.Context, opts *root.Options, jobID string) error {
	job, err := jobFromID(ctx, opts, jobID)
	if err != nil {
		return err
	}

	info, err := job.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	v := opts.View()
	if opts.Output == "json" {
		return v.JSON(info)
	}
	renderJobInfo(v, info)
	return nil
}

func newJobBatchesCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "batches <job-id>",
		Short: "List the batches of a bulk job",
		Long: `List every batch of a bulk job with its state and record counts.

Examples:
  sfbulk job batches 750xx000000001
  sfbulk job batches 750xx000000001 -o json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.PendingJobIDs(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobBatches(cmd.Context(), opts, args[0])
		},
	}
}

func runJobBatches(ctx context.Context, opts *root.Options, jobID string) error {
	job, err := jobFromID(ctx, opts, jobID)
	if err != nil {
		return err
	}

	batches, err := job.Batches(ctx)
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}

	v := opts.View()
	if len(batches) == 0 && opts.Output != "json" {
		v.Info("Job %s has no batches", jobID)
		return nil
	}
	if err := renderBatches(v, batches); err != nil {
		return err
	}
	if opts.Output == "table" || opts.Output == "" {
		v.Info("\n%d batch(es)", len(batches))
	}
	return nil
}

func newJobWaitCommand(opts *root.Options) *cobra.Command {
	var (
		timeout      time.Duration
		pollInterval time.Duration
		results      bool
	)

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Wait for the batches of a bulk job",
		Long: `Poll a closed bulk job until every batch has been processed.

With --results, the per-record results of DML jobs are fetched and failures
listed. Waiting stops early if the job is not closed.

Examples:
  sfbulk job wait 750xx000000001
  sfbulk job wait 750xx000000001 --results --timeout 1h`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.PendingJobIDs(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobWait(cmd.Context(), opts, args[0], timeout, pollInterval, results)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", bulk.DefaultTimeout, "Maximum time to wait")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", bulk.DefaultPollInterval, "Pause between status checks")
	cmd.Flags().BoolVar(&results, "results", false, "Fetch per-record results of DML jobs")

	return cmd
}

func runJobWait(ctx context.Context, opts *root.Options, jobID string, timeout, pollInterval time.Duration, withResults bool) error {
	job, err := jobFromID(ctx, opts, jobID, bulk.WithPollInterval(pollInterval))
	if err != nil {
		return err
	}

	batchIDs, err := job.LoadBatches(ctx)
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}

	logging.WithFields(ctx, "job_id", jobID).Debug("waiting for batches", "batches", len(batchIDs))
	v := opts.View()
	v.Progress("Waiting for %d batch(es) of job %s...", len(batchIDs), jobID)

	withResponse := withResults && job.Operation() != bulk.OperationQuery
	batches, err := job.WaitResults(ctx, withResponse, timeout)
	if err != nil {
		return fmt.Errorf("failed waiting for job: %w", err)
	}

	info, err := job.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	if info.State == bulk.JobStateClosed && len(batches) == len(batchIDs) {
		if j, err := opts.Journal(); err == nil {
			markDone(opts, j, jobID)
		}
	} else if opts.Output != "json" {
		v.Warning("job %s is %s; close it with 'sfbulk job close %s' before waiting", jobID, info.State, jobID)
	}

	return renderResult(opts, &bulk.Result{JobID: jobID, Job: info, Batches: batches}, true)
}

func newJobResultsCommand(opts *root.Options) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "results <job-id>",
		Short: "Get the results of a bulk job",
		Long: `Get the results of the completed batches of a bulk job.

Query jobs are written as CSV rows. DML jobs list one row per submitted
record with its id, success flag and error.

Examples:
  sfbulk job results 750xx000000001
  sfbulk job results 750xx000000001 --file results.csv`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.PendingJobIDs(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobResults(cmd.Context(), opts, args[0], file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Write results to this file as CSV")

	return cmd
}

func runJobResults(ctx context.Context, opts *root.Options, jobID, file string) error {
	job, err := jobFromID(ctx, opts, jobID)
	if err != nil {
		return err
	}

	// fills in the job's operation
	if _, err := job.LoadBatches(ctx); err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}
	batches, err := job.Batches(ctx)
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}

	v := opts.View()

	if job.Operation() == bulk.OperationQuery {
		n, err := writeOutput(opts, file, func(w io.Writer) (int, error) {
			return writeQueryRows(ctx, job, batches, nil, w)
		})
		if err != nil {
			return err
		}
		v.Progress("%d row(s) written.", n)
		return nil
	}

	var rows []map[string]string
	for _, b := range batches {
		if b.State != bulk.BatchStateCompleted {
			continue
		}
		res, err := job.BatchResult(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("failed to get results of batch %s: %w", b.ID, err)
		}
		for _, row := range res {
			rows = append(rows, withBatch(b.ID, row))
		}
	}

	if file == "" {
		return v.Rows(dmlColumns, rows)
	}

	n, err := writeOutput(opts, file, func(w io.Writer) (int, error) {
		rw := &rowWriter{w: csv.NewWriter(w), fields: dmlColumns}
		for _, row := range rows {
			if err := rw.write(row); err != nil {
				return rw.count, err
			}
		}
		return rw.count, rw.close()
	})
	if err != nil {
		return err
	}
	v.Info("%d result(s) written to %s", n, file)
	return nil
}

func newJobCloseCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "close <job-id>",
		Short: "Close a bulk job",
		Long: `Close an open bulk job so that its batches are processed to completion.

Examples:
  sfbulk job close 750xx000000001`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.PendingJobIDs(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobSetState(cmd.Context(), opts, args[0], bulk.JobStateClosed)
		},
	}
}

func newJobAbortCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "abort <job-id>",
		Short: "Abort a bulk job",
		Long: `Abort a bulk job. Unprocessed batches are not processed.

Examples:
  sfbulk job abort 750xx000000001`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.PendingJobIDs(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobSetState(cmd.Context(), opts, args[0], bulk.JobStateAborted)
		},
	}
}

func runJobSetState(ctx context.Context, opts *root.Options, jobID string, state bulk.JobState) error {
	job, err := jobFromID(ctx, opts, jobID)
	if err != nil {
		return err
	}

	var info *bulk.JobInfo
	if state == bulk.JobStateAborted {
		info, err = job.Abort(ctx)
	} else {
		info, err = job.Close(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to set job %s to %s: %w", jobID, state, err)
	}

	if state == bulk.JobStateAborted {
		if j, err := opts.Journal(); err == nil {
			markDone(opts, j, jobID)
		}
	}

	v := opts.View()
	if opts.Output == "json" {
		return v.JSON(info)
	}
	v.Success("Job %s is %s", info.ID, info.State)
	return nil
}

func newJobPendingCommand(opts *root.Options) *cobra.Command {
	var operation string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List jobs whose results were not collected",
		Long: `List the jobs in the local journal that have not finished.

Examples:
  sfbulk job pending
  sfbulk job pending --operation query
  sfbulk job pending -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobPending(opts, operation)
		},
	}

	cmd.Flags().StringVar(&operation, "operation", "", "Only list jobs of this operation (insert, update, upsert, delete, query)")

	return cmd
}

func runJobPending(opts *root.Options, operation string) error {
	var only bulk.Operation
	if operation != "" {
		op, err := bulk.ParseOperation(strings.ToLower(operation))
		if err != nil {
			return clierr.Usage("%v", err)
		}
		only = op
	}

	j, err := opts.Journal()
	if err != nil {
		return fmt.Errorf("failed to open job journal: %w", err)
	}

	entries, err := j.Pending()
	if err != nil {
		return fmt.Errorf("failed to read job journal: %w", err)
	}
	if only != "" {
		entries = slices.DeleteFunc(entries, func(e journal.Entry) bool { return e.Operation != only })
	}

	v := opts.View()
	if opts.Output == "json" {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return v.JSON(entries)
	}

	if len(entries) == 0 {
		v.Info("No pending jobs")
		return nil
	}

	headers := []string{"Job", "Operation", "Object", "Created"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.JobID,
			string(e.Operation),
			e.Object,
			e.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return v.Table(headers, rows)
}

func newJobForgetCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <job-id>",
		Short: "Remove a job from the local journal",
		Long: `Remove a job from the local journal without touching the job itself.

Examples:
  sfbulk job forget 750xx000000001`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.PendingJobIDs(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobForget(opts, args[0])
		},
	}
}

func runJobForget(opts *root.Options, jobID string) error {
	j, err := opts.Journal()
	if err != nil {
		return fmt.Errorf("failed to open job journal: %w", err)
	}

	if err := j.Forget(jobID); err != nil {
		if errors.Is(err, journal.ErrUnknownJob) {
			return clierr.Usage("job %s is not in the journal", jobID)
		}
		return fmt.Errorf("failed to update job journal: %w", err)
	}

	opts.View().Success("Forgot job %s", jobID)
	return nil
}
