// Package bulkcmd provides the Bulk API data commands: insert, update,
// upsert, delete, query and job management.
package bulkcmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	"github.com/open-cli-collective/sfbulk/internal/journal"
)

// Register registers the bulk data commands with the root command.
func Register(parent *cobra.Command, opts *root.Options) {
	for _, op := range []bulk.Operation{
		bulk.OperationInsert,
		bulk.OperationUpdate,
		bulk.OperationUpsert,
		bulk.OperationDelete,
	} {
		parent.AddCommand(newDMLCommand(opts, op))
	}
	parent.AddCommand(newQueryCommand(opts))
	parent.AddCommand(newJobCommand(opts))
}

// newAPI returns the orchestrator with the job journal attached, so every
// job is recorded before its first batch is sent.
func newAPI(ctx context.Context, opts *root.Options) (*bulk.API, *journal.Journal, error) {
	api, err := opts.BulkAPI(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bulk client: %w", err)
	}

	j, err := opts.Journal()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job journal: %w", err)
	}
	api.OnJobCreated(j.Observer())

	return api, j, nil
}

// markDone clears a job from the journal. Failures only warn: the job
// itself has finished.
func markDone(opts *root.Options, j *journal.Journal, jobID string) {
	if err := j.MarkDone(jobID); err != nil {
		opts.View().Warning("failed to update job journal: %v", err)
	}
}
