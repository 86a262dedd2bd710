package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds how long an operation waits for its batches.
const DefaultTimeout = 1500 * time.Second

// JobCreatedFunc is called after a job is created and before any batch is
// submitted to it. Returning an error aborts the operation.
type JobCreatedFunc func(ctx context.Context, job *Job) error

// Counters is a snapshot of request and operation counts.
type Counters struct {
	HTTPGet  int64 `json:"httpGet"`
	HTTPPost int64 `json:"httpPost"`
	Insert   int64 `json:"insert"`
	Update   int64 `json:"update"`
	Upsert   int64 `json:"upsert"`
	Delete   int64 `json:"delete"`
	Query    int64 `json:"query"`
}

// API runs bulk operations end to end over a Connection.
type API struct {
	conn   *Connection
	logger *slog.Logger

	mu        sync.Mutex
	listeners []JobCreatedFunc

	inserts atomic.Int64
	updates atomic.Int64
	upserts atomic.Int64
	deletes atomic.Int64
	queries atomic.Int64
}

// New creates an API over conn.
func New(conn *Connection) *API {
	return &API{conn: conn, logger: conn.logger}
}

// Connection returns the underlying connection.
func (a *API) Connection() *Connection {
	return a.conn
}

// OnJobCreated registers fn to be told about every job this API creates.
// Listeners run in registration order.
func (a *API) OnJobCreated(fn JobCreatedFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Counters returns a snapshot of the request and operation counters.
func (a *API) Counters() Counters {
	gets, posts := a.conn.Counters()
	return Counters{
		HTTPGet:  gets,
		HTTPPost: posts,
		Insert:   a.inserts.Load(),
		Update:   a.updates.Load(),
		Upsert:   a.upserts.Load(),
		Delete:   a.deletes.Load(),
		Query:    a.queries.Load(),
	}
}

// Insert creates records.
func (a *API) Insert(ctx context.Context, object string, records []Record, opts ...Option) (*Result, error) {
	a.inserts.Add(1)
	return a.run(ctx, OperationInsert, object, records, "", resolve(false, opts))
}

// Update updates records by Id.
func (a *API) Update(ctx context.Context, object string, records []Record, opts ...Option) (*Result, error) {
	a.updates.Add(1)
	return a.run(ctx, OperationUpdate, object, records, "", resolve(false, opts))
}

// Upsert inserts or updates records keyed by the WithExternalField field.
func (a *API) Upsert(ctx context.Context, object string, records []Record, opts ...Option) (*Result, error) {
	a.upserts.Add(1)
	return a.run(ctx, OperationUpsert, object, records, "", resolve(false, opts))
}

// Delete deletes records by Id.
func (a *API) Delete(ctx context.Context, object string, records []Record, opts ...Option) (*Result, error) {
	a.deletes.Add(1)
	return a.run(ctx, OperationDelete, object, records, "", resolve(false, opts))
}

// Query runs soql against object. Unlike the DML operations it waits for and
// returns the result rows unless WithResponse(false) is given.
func (a *API) Query(ctx context.Context, object, soql string, opts ...Option) (*Result, error) {
	a.queries.Add(1)
	return a.run(ctx, OperationQuery, object, nil, soql, resolve(true, opts))
}

// Do runs op. For OperationQuery, soql is used and records ignored.
func (a *API) Do(ctx context.Context, op Operation, object string, records []Record, soql string, opts ...Option) (*Result, error) {
	switch op {
	case OperationInsert:
		return a.Insert(ctx, object, records, opts...)
	case OperationUpdate:
		return a.Update(ctx, object, records, opts...)
	case OperationUpsert:
		return a.Upsert(ctx, object, records, opts...)
	case OperationDelete:
		return a.Delete(ctx, object, records, opts...)
	case OperationQuery:
		return a.Query(ctx, object, soql, opts...)
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown operation %q", op)}
	}
}

// JobFromID returns a Job bound to an existing remote job. Its batch list is
// empty until LoadBatches is called.
func (a *API) JobFromID(jobID string, opts ...Option) *Job {
	o := resolve(false, opts)
	j := NewJob(a.conn, o.jobConfig("", ""))
	j.id = jobID
	return j
}

func (a *API) run(ctx context.Context, op Operation, object string, records []Record, soql string, o options) (*Result, error) {
	if op != OperationQuery {
		if err := validateBatchSize(o.batchSize); err != nil {
			return nil, err
		}
	}

	job := NewJob(a.conn, o.jobConfig(op, object))
	if err := job.Create(ctx); err != nil {
		return nil, fmt.Errorf("failed to create %s job for %s: %w", op, object, err)
	}

	a.mu.Lock()
	listeners := append([]JobCreatedFunc(nil), a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		if err := fn(ctx, job); err != nil {
			return nil, fmt.Errorf("job created listener: %w", err)
		}
	}

	if op == OperationQuery {
		if _, err := job.AddQuery(ctx, soql); err != nil {
			return nil, err
		}
	} else {
		if _, err := job.AddBatches(ctx, records, o.batchSize); err != nil {
			return nil, err
		}
	}

	result := &Result{JobID: job.ID(), job: job}
	if o.closeJob && !o.pkChunking {
		info, err := job.Close(ctx)
		if err != nil {
			return nil, err
		}
		result.Job = info
	}

	if o.getResponse {
		batches, err := job.WaitResults(ctx, true, o.timeout)
		if err != nil {
			return nil, err
		}
		result.Batches = batches
	}

	a.logger.InfoContext(ctx, "bulk operation submitted",
		"job_id", result.JobID,
		"operation", op,
		"object", object,
		"batches", len(result.Batches),
	)
	return result, nil
}
