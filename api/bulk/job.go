package bulk

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
)

// DefaultPollInterval is the pause between status rounds in WaitResults.
const DefaultPollInterval = 5 * time.Second

// JobConfig contains configuration for a bulk job.
type JobConfig struct {
	Operation Operation
	Object    string

	// ExternalField is the upsert key. It is ignored for other operations.
	ExternalField string

	// NullableFields may be sent empty.
	NullableFields []string

	// ConcurrencyMode defaults to ConcurrencyParallel.
	ConcurrencyMode ConcurrencyMode

	// PKChunking asks the service to split the job into extra batches.
	PKChunking bool

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Job is one remote bulk job. It is not safe for concurrent use.
type Job struct {
	id       string
	batchIDs []string

	operation       Operation
	object          string
	externalField   string
	nullable        map[string]bool
	concurrencyMode ConcurrencyMode
	pkChunking      bool
	pollInterval    time.Duration

	conn   *Connection
	logger *slog.Logger
}

// NewJob returns a job that has not been created on the server yet.
func NewJob(conn *Connection, cfg JobConfig) *Job {
	j := &Job{
		operation:       cfg.Operation,
		object:          cfg.Object,
		externalField:   cfg.ExternalField,
		nullable:        make(map[string]bool, len(cfg.NullableFields)),
		concurrencyMode: cfg.ConcurrencyMode,
		pkChunking:      cfg.PKChunking,
		pollInterval:    cfg.PollInterval,
		conn:            conn,
		logger:          cfg.Logger,
	}
	for _, f := range cfg.NullableFields {
		j.nullable[f] = true
	}
	if j.concurrencyMode == "" {
		j.concurrencyMode = ConcurrencyParallel
	}
	if j.pollInterval <= 0 {
		j.pollInterval = DefaultPollInterval
	}
	if j.logger == nil {
		j.logger = conn.logger
	}
	return j
}

// ID returns the server-assigned job id, or "" before creation.
func (j *Job) ID() string {
	return j.id
}

// BatchIDs returns the ids of the batches still awaiting collection, in
// submission order.
func (j *Job) BatchIDs() []string {
	return slices.Clone(j.batchIDs)
}

// Operation returns the job's operation.
func (j *Job) Operation() Operation {
	return j.operation
}

// Object returns the job's target object.
func (j *Job) Object() string {
	return j.object
}

// Create creates the job on the server.
func (j *Job) Create(ctx context.Context) error {
	if j.concurrencyMode != ConcurrencyParallel && j.concurrencyMode != ConcurrencySerial {
		return &ConfigurationError{Reason: fmt.Sprintf("unexpected concurrency mode %q, expected %q or %q",
			j.concurrencyMode, ConcurrencyParallel, ConcurrencySerial)}
	}

	req := createJobRequest{
		Xmlns:           asyncNamespace,
		Operation:       j.operation,
		Object:          j.object,
		ConcurrencyMode: j.concurrencyMode,
		ContentType:     "CSV",
	}
	if j.operation == OperationUpsert {
		req.ExternalIDFieldName = j.externalField
	}

	headers := xmlHeaders()
	if j.pkChunking {
		headers.Set("Sforce-Enable-PKChunking", "true")
	}

	var info JobInfo
	if err := j.postXML(ctx, "job", req, headers, &info); err != nil {
		return err
	}
	if info.ID == "" {
		return fmt.Errorf("job creation returned no job id")
	}

	j.id = info.ID
	j.logger.InfoContext(ctx, "bulk job created", "job_id", j.id, "operation", j.operation, "object", j.object)
	return nil
}

// Close marks the job as Closed so the service stops accepting batches.
func (j *Job) Close(ctx context.Context) (*JobInfo, error) {
	return j.setState(ctx, JobStateClosed)
}

// Abort aborts the job. Unprocessed batches are not processed.
func (j *Job) Abort(ctx context.Context) (*JobInfo, error) {
	return j.setState(ctx, JobStateAborted)
}

func (j *Job) setState(ctx context.Context, state JobState) (*JobInfo, error) {
	req := updateJobRequest{Xmlns: asyncNamespace, State: state}

	var info JobInfo
	if err := j.postXML(ctx, j.path(), req, xmlHeaders(), &info); err != nil {
		return nil, fmt.Errorf("failed to set job %s state to %s: %w", j.id, state, err)
	}
	j.logger.InfoContext(ctx, "bulk job state changed", "job_id", j.id, "state", info.State)
	return &info, nil
}

// AddQuery submits soql as the job's single batch and returns its id.
func (j *Job) AddQuery(ctx context.Context, soql string) (string, error) {
	id, err := j.addBatch(ctx, []byte(soql), 0)
	if err != nil {
		return "", err
	}
	j.batchIDs = append(j.batchIDs, id)
	return id, nil
}

// AddBatches serializes records into CSV batches of at most batchSize
// records and submits them in order. The first failure stops submission.
// It returns the ids of all batches submitted to the job so far.
func (j *Job) AddBatches(ctx context.Context, records []Record, batchSize int) ([]string, error) {
	if err := validateBatchSize(batchSize); err != nil {
		return nil, err
	}

	enc := &recordEncoder{keys: headerKeys(records), nullable: j.nullable}
	for _, chunk := range chunkRecords(records, batchSize) {
		payload, err := encodeCSV(enc, chunk)
		if err != nil {
			return nil, err
		}
		id, err := j.addBatch(ctx, payload, len(chunk))
		if err != nil {
			return nil, err
		}
		j.batchIDs = append(j.batchIDs, id)
	}
	return j.BatchIDs(), nil
}

func (j *Job) addBatch(ctx context.Context, payload []byte, records int) (string, error) {
	body, err := j.conn.Post(ctx, j.path()+"/batch", payload, csvHeaders())
	body, err = checkResponse(body, err)
	if err != nil {
		var rerr *RemoteServiceError
		if errors.As(err, &rerr) {
			return "", &BatchCreationError{JobID: j.id, Records: records, PayloadBytes: len(payload), Err: rerr}
		}
		return "", err
	}

	var info BatchInfo
	if err := xml.Unmarshal(body, &info); err != nil || info.ID == "" {
		return "", &BatchCreationError{JobID: j.id, Records: records, PayloadBytes: len(payload), Response: string(body)}
	}

	j.logger.DebugContext(ctx, "bulk batch created", "job_id", j.id, "batch_id", info.ID, "records", records, "bytes", len(payload))
	return info.ID, nil
}

// Status returns the job's current server-side state.
func (j *Job) Status(ctx context.Context) (*JobInfo, error) {
	var info JobInfo
	if err := j.getXML(ctx, j.path(), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// BatchStatus returns the state of one batch.
func (j *Job) BatchStatus(ctx context.Context, batchID string) (*BatchInfo, error) {
	var info BatchInfo
	if err := j.getXML(ctx, j.path()+"/batch/"+batchID, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Batches returns every batch of the job, including those the service
// created itself for PK chunking.
func (j *Job) Batches(ctx context.Context) ([]BatchInfo, error) {
	var list batchInfoList
	if err := j.getXML(ctx, j.path()+"/batch", &list); err != nil {
		return nil, err
	}
	return list.Batches, nil
}

// LoadBatches replaces the job's outstanding batch list with every batch the
// service knows for it, so that WaitResults can be used on a job obtained
// from JobFromID. The job's operation and object are filled in from the
// server if they are unset.
func (j *Job) LoadBatches(ctx context.Context) ([]string, error) {
	info, err := j.Status(ctx)
	if err != nil {
		return nil, err
	}
	if j.operation == "" {
		j.operation = info.Operation
	}
	if j.object == "" {
		j.object = info.Object
	}

	batches, err := j.Batches(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	j.batchIDs = ids
	return j.BatchIDs(), nil
}

// WaitResults polls the job until every submitted batch has been processed
// and returns their outcomes in submission order. If withResponse is set,
// Completed batches carry their parsed result rows.
//
// Polling stops early, returning what has been collected, if the job is not
// Closed. If timeout passes first a *JobTimeoutError is returned and nothing
// else.
func (j *Job) WaitResults(ctx context.Context, withResponse bool, timeout time.Duration) ([]BatchResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	collected, err := j.poll(waitCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, &JobTimeoutError{JobID: j.id, BatchIDs: j.BatchIDs()}
		}
		return nil, err
	}

	results := make([]BatchResult, len(collected))
	for i, info := range collected {
		results[i] = BatchResult{BatchInfo: info}
		if withResponse && info.State == BatchStateCompleted {
			rows, err := j.BatchResult(ctx, info.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch result of batch %s: %w", info.ID, err)
			}
			results[i].Response = rows
		}
	}
	return results, nil
}

func (j *Job) poll(ctx context.Context) ([]BatchInfo, error) {
	var collected []BatchInfo
	for len(j.batchIDs) > 0 {
		job, err := j.Status(ctx)
		if err != nil {
			return nil, err
		}
		if job.State != JobStateClosed {
			j.logger.DebugContext(ctx, "bulk job not closed, stop waiting", "job_id", j.id, "state", job.State)
			break
		}

		statuses := make([]BatchInfo, 0, len(j.batchIDs))
		ready := true
		for _, id := range j.batchIDs {
			info, err := j.BatchStatus(ctx, id)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, *info)
			if !info.State.Ready() {
				ready = false
				break
			}
		}

		if ready {
			collected = append(collected, statuses...)
			j.batchIDs = nil
			break
		}

		j.logger.DebugContext(ctx, "bulk batches pending", "job_id", j.id, "batches", len(j.batchIDs))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(j.pollInterval):
		}
	}
	return collected, nil
}

// BatchResult fetches the result rows of a processed batch. DML results are
// keyed by lower-cased header (id, success, created, error); query results
// by the queried field names.
func (j *Job) BatchResult(ctx context.Context, batchID string) ([]Row, error) {
	if j.operation == OperationQuery {
		rows := []Row{}
		for row, err := range j.Results(ctx, batchID) {
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	body, err := j.conn.Get(ctx, j.path()+"/batch/"+batchID+"/result", nil)
	body, err = checkResponse(body, err)
	if err != nil {
		return nil, err
	}
	return decodeCSV(body, strings.ToLower)
}

// Results streams the rows of a query batch. Each result set is fetched
// over its own connection and decoded as it arrives; stopping the iteration
// early closes the open connection.
func (j *Job) Results(ctx context.Context, batchID string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		var list resultList
		if err := j.getXML(ctx, j.path()+"/batch/"+batchID+"/result", &list); err != nil {
			yield(nil, err)
			return
		}

		for _, resultID := range list.Results {
			path := j.path() + "/batch/" + batchID + "/result/" + resultID
			stopped := false
			err := j.conn.Stream(ctx, path, csvHeaders(), func(r *StreamReader) error {
				dec := &csvStreamDecoder{src: r}
				for {
					row, err := dec.next()
					if err != nil {
						if errors.Is(err, io.EOF) {
							return nil
						}
						return err
					}
					if !yield(row, nil) {
						stopped = true
						return nil
					}
				}
			})
			if stopped {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("failed to read result %s of batch %s: %w", resultID, batchID, err))
				return
			}
		}
	}
}

func (j *Job) path() string {
	return "job/" + j.id
}

func (j *Job) postXML(ctx context.Context, path string, req any, headers http.Header, out any) error {
	payload, err := xml.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	payload = append([]byte(xml.Header), payload...)

	body, err := checkResponse(j.conn.Post(ctx, path, payload, headers))
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (j *Job) getXML(ctx context.Context, path string, out any) error {
	body, err := checkResponse(j.conn.Get(ctx, path, nil))
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func xmlHeaders() http.Header {
	return http.Header{"Content-Type": []string{"application/xml; charset=utf-8"}}
}

func csvHeaders() http.Header {
	return http.Header{"Content-Type": []string{"text/csv; charset=UTF-8"}}
}
