package bulk

import "time"

// Option configures a single bulk operation.
type Option func(*options)

type options struct {
	externalField   string
	nullableFields  []string
	batchSize       int
	closeJob        bool
	pkChunking      bool
	getResponse     bool
	timeout         time.Duration
	concurrencyMode ConcurrencyMode
	pollInterval    time.Duration
}

func resolve(getResponse bool, opts []Option) options {
	o := options{
		batchSize:       MaxBatchSize,
		closeJob:        true,
		getResponse:     getResponse,
		timeout:         DefaultTimeout,
		concurrencyMode: ConcurrencyParallel,
		pollInterval:    DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) jobConfig(op Operation, object string) JobConfig {
	return JobConfig{
		Operation:       op,
		Object:          object,
		ExternalField:   o.externalField,
		NullableFields:  o.nullableFields,
		ConcurrencyMode: o.concurrencyMode,
		PKChunking:      o.pkChunking,
		PollInterval:    o.pollInterval,
	}
}

// WithExternalField sets the upsert key field.
func WithExternalField(field string) Option {
	return func(o *options) { o.externalField = field }
}

// WithNullableFields lists fields that may be sent empty.
func WithNullableFields(fields ...string) Option {
	return func(o *options) { o.nullableFields = append(o.nullableFields, fields...) }
}

// WithBatchSize sets the number of records per batch, 1 to MaxBatchSize.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithCloseJob controls whether the job is closed after submission.
// Defaults to true. Jobs using PK chunking are never closed.
func WithCloseJob(close bool) Option {
	return func(o *options) { o.closeJob = close }
}

// WithPKChunking enables server-side PK chunking.
func WithPKChunking(enabled bool) Option {
	return func(o *options) { o.pkChunking = enabled }
}

// WithResponse controls whether the operation waits for the batches and
// returns their results.
func WithResponse(enabled bool) Option {
	return func(o *options) { o.getResponse = enabled }
}

// WithTimeout bounds the wait for results.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithConcurrencyMode sets the job's concurrency mode.
func WithConcurrencyMode(mode ConcurrencyMode) Option {
	return func(o *options) { o.concurrencyMode = mode }
}

// WithPollInterval sets the pause between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}
