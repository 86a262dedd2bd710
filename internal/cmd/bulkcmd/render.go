package bulkcmd

import (
	"fmt"
	"strconv"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	"github.com/open-cli-collective/sfbulk/internal/view"
)

var dmlColumns = []string{"batch", "id", "success", "created", "error"}

func renderResult(opts *root.Options, res *bulk.Result, waited bool) error {
	v := opts.View()

	if opts.Output == "json" {
		return v.JSON(res)
	}

	if res.Job == nil {
		v.Info("Job %s is open. Close it with 'sfbulk job close %s'.", res.JobID, res.JobID)
		return nil
	}

	if !waited {
		v.Info("Job %s is %s with %d batch(es).", res.JobID, res.Job.State, res.Job.NumberBatchesTotal)
		v.Info("Use 'sfbulk job wait %s' to wait for the results.", res.JobID)
		return nil
	}

	if len(res.Batches) == 0 {
		v.Info("Job %s returned no batch results.", res.JobID)
		return nil
	}

	if err := renderBatches(v, batchInfos(res.Batches)); err != nil {
		return err
	}
	return renderRecordFailures(v, res.Batches)
}

func batchInfos(results []bulk.BatchResult) []bulk.BatchInfo {
	infos := make([]bulk.BatchInfo, len(results))
	for i, r := range results {
		infos[i] = r.BatchInfo
	}
	return infos
}

func renderBatches(v *view.View, batches []bulk.BatchInfo) error {
	headers := []string{"Batch", "State", "Processed", "Failed", "Message"}
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		rows = append(rows, []string{
			b.ID,
			string(b.State),
			strconv.Itoa(b.NumberRecordsProcessed),
			strconv.Itoa(b.NumberRecordsFailed),
			view.Truncate(b.StateMessage, 60),
		})
	}
	return v.Render(headers, rows, batches)
}

// renderRecordFailures lists the result rows that did not succeed and a
// summary line.
func renderRecordFailures(v *view.View, results []bulk.BatchResult) error {
	var ok, failed int
	var failures []map[string]string
	for _, r := range results {
		for _, row := range r.Response {
			if row["success"] == "true" {
				ok++
				continue
			}
			failed++
			failures = append(failures, withBatch(r.ID, row))
		}
	}

	if ok+failed == 0 {
		return nil
	}

	v.Info("")
	if failed == 0 {
		v.Success("%d record(s) succeeded", ok)
		return nil
	}

	if err := v.Rows(dmlColumns, failures); err != nil {
		return err
	}
	v.Warning("%d record(s) succeeded, %d failed", ok, failed)
	return nil
}

func withBatch(batchID string, row bulk.Row) map[string]string {
	out := make(map[string]string, len(row)+1)
	for k, val := range row {
		out[k] = val
	}
	out["batch"] = batchID
	return out
}

func renderJobInfo(v *view.View, job *bulk.JobInfo) {
	v.Info("Job: %s", job.ID)
	v.Info("  Object:            %s", job.Object)
	v.Info("  Operation:         %s", job.Operation)
	v.Info("  State:             %s", job.State)
	if job.ExternalIDFieldName != "" {
		v.Info("  External ID:       %s", job.ExternalIDFieldName)
	}
	v.Info("  Concurrency:       %s", job.ConcurrencyMode)
	v.Info("  Batches:           %s", batchSummary(job))
	v.Info("  Records Processed: %d", job.NumberRecordsProcessed)
	v.Info("  Records Failed:    %d", job.NumberRecordsFailed)
	if job.CreatedDate != "" {
		v.Info("  Created:           %s", job.CreatedDate)
	}
}

func batchSummary(job *bulk.JobInfo) string {
	return fmt.Sprintf("%d total, %d queued, %d in progress, %d completed, %d failed",
		job.NumberBatchesTotal, job.NumberBatchesQueued, job.NumberBatchesInProgress,
		job.NumberBatchesCompleted, job.NumberBatchesFailed)
}
