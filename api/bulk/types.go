// Package bulk provides a client for the Salesforce Bulk API job/batch protocol.
//
// A Job wraps one remote job: it is created, receives one or more batches of
// CSV records (or a single SOQL query), is closed, and is then polled until
// every batch has been processed. The API type ties those steps together for
// the common insert, update, upsert, delete and query operations.
package bulk

import "encoding/xml"

// MaxBatchSize is the largest number of records the service accepts in a
// single batch.
const MaxBatchSize = 10000

// NotApplicable is the CSV token the service reads as "set this field to null".
const NotApplicable = "#N/A"

const asyncNamespace = "http://www.force.com/2009/06/asyncapi/dataload"

// Operation represents a bulk job operation type.
type Operation string

// Bulk job operations.
const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationUpsert Operation = "upsert"
	OperationDelete Operation = "delete"
	OperationQuery  Operation = "query"
)

// ParseOperation returns the Operation named by s.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OperationInsert, OperationUpdate, OperationUpsert, OperationDelete, OperationQuery:
		return op, nil
	default:
		return "", &ConfigurationError{Reason: "unknown operation " + s}
	}
}

// ConcurrencyMode controls whether the service may process a job's batches
// in parallel.
type ConcurrencyMode string

// Concurrency modes.
const (
	ConcurrencyParallel ConcurrencyMode = "Parallel"
	ConcurrencySerial   ConcurrencyMode = "Serial"
)

// JobState represents a bulk job state.
type JobState string

// Bulk job states.
const (
	JobStateOpen    JobState = "Open"
	JobStateClosed  JobState = "Closed"
	JobStateAborted JobState = "Aborted"
	JobStateFailed  JobState = "Failed"
)

// BatchState represents a batch state.
type BatchState string

// Batch states.
const (
	BatchStateQueued       BatchState = "Queued"
	BatchStateInProgress   BatchState = "InProgress"
	BatchStateCompleted    BatchState = "Completed"
	BatchStateFailed       BatchState = "Failed"
	BatchStateNotProcessed BatchState = "NotProcessed"
)

// Ready reports whether the service has finished with the batch.
func (s BatchState) Ready() bool {
	return s != BatchStateQueued && s != BatchStateInProgress
}

// JobInfo represents information about a bulk job.
type JobInfo struct {
	XMLName                 xml.Name        `xml:"jobInfo" json:"-"`
	ID                      string          `xml:"id" json:"id"`
	Operation               Operation       `xml:"operation" json:"operation"`
	Object                  string          `xml:"object" json:"object"`
	CreatedByID             string          `xml:"createdById,omitempty" json:"createdById,omitempty"`
	CreatedDate             string          `xml:"createdDate,omitempty" json:"createdDate,omitempty"`
	SystemModstamp          string          `xml:"systemModstamp,omitempty" json:"systemModstamp,omitempty"`
	State                   JobState        `xml:"state" json:"state"`
	ExternalIDFieldName     string          `xml:"externalIdFieldName,omitempty" json:"externalIdFieldName,omitempty"`
	ConcurrencyMode         ConcurrencyMode `xml:"concurrencyMode,omitempty" json:"concurrencyMode,omitempty"`
	ContentType             string          `xml:"contentType,omitempty" json:"contentType,omitempty"`
	NumberBatchesQueued     int             `xml:"numberBatchesQueued" json:"numberBatchesQueued"`
	NumberBatchesInProgress int             `xml:"numberBatchesInProgress" json:"numberBatchesInProgress"`
	NumberBatchesCompleted  int             `xml:"numberBatchesCompleted" json:"numberBatchesCompleted"`
	NumberBatchesFailed     int             `xml:"numberBatchesFailed" json:"numberBatchesFailed"`
	NumberBatchesTotal      int             `xml:"numberBatchesTotal" json:"numberBatchesTotal"`
	NumberRecordsProcessed  int             `xml:"numberRecordsProcessed" json:"numberRecordsProcessed"`
	NumberRecordsFailed     int             `xml:"numberRecordsFailed" json:"numberRecordsFailed"`
	APIVersion              string          `xml:"apiVersion,omitempty" json:"apiVersion,omitempty"`
}

// BatchInfo represents information about a single batch.
type BatchInfo struct {
	XMLName                xml.Name   `xml:"batchInfo" json:"-"`
	ID                     string     `xml:"id" json:"id"`
	JobID                  string     `xml:"jobId" json:"jobId"`
	State                  BatchState `xml:"state" json:"state"`
	StateMessage           string     `xml:"stateMessage,omitempty" json:"stateMessage,omitempty"`
	CreatedDate            string     `xml:"createdDate,omitempty" json:"createdDate,omitempty"`
	SystemModstamp         string     `xml:"systemModstamp,omitempty" json:"systemModstamp,omitempty"`
	NumberRecordsProcessed int        `xml:"numberRecordsProcessed" json:"numberRecordsProcessed"`
	NumberRecordsFailed    int        `xml:"numberRecordsFailed" json:"numberRecordsFailed"`
}

// batchInfoList is the response to a batch listing request.
type batchInfoList struct {
	XMLName xml.Name    `xml:"batchInfoList"`
	Batches []BatchInfo `xml:"batchInfo"`
}

// resultList names the result sets of a query batch.
type resultList struct {
	XMLName xml.Name `xml:"result-list"`
	Results []string `xml:"result"`
}

// createJobRequest is the job descriptor sent on creation. Field order
// matters to the service.
type createJobRequest struct {
	XMLName             xml.Name        `xml:"jobInfo"`
	Xmlns               string          `xml:"xmlns,attr"`
	Operation           Operation       `xml:"operation"`
	Object              string          `xml:"object"`
	ExternalIDFieldName string          `xml:"externalIdFieldName,omitempty"`
	ConcurrencyMode     ConcurrencyMode `xml:"concurrencyMode"`
	ContentType         string          `xml:"contentType"`
}

// updateJobRequest changes the state of a job.
type updateJobRequest struct {
	XMLName xml.Name `xml:"jobInfo"`
	Xmlns   string   `xml:"xmlns,attr"`
	State   JobState `xml:"state"`
}

// serviceException is the payload the service returns instead of the
// requested document when it rejects a request.
type serviceException struct {
	XMLName          xml.Name `xml:"error"`
	ExceptionCode    string   `xml:"exceptionCode"`
	ExceptionMessage string   `xml:"exceptionMessage"`
}

// Row is one decoded CSV result row keyed by column header.
type Row map[string]string

// BatchResult is the outcome of one batch as reported by WaitResults.
type BatchResult struct {
	BatchInfo

	// Response holds the parsed result rows. It is only set for Completed
	// batches when a response was requested.
	Response []Row `json:"response,omitempty"`
}

// Result is the envelope returned by the API operations.
type Result struct {
	JobID string `json:"jobId"`

	// Job is the job info returned when the job was closed, or nil if the
	// job was left open.
	Job *JobInfo `json:"job,omitempty"`

	// Batches is filled in submission order when a response was requested.
	Batches []BatchResult `json:"batches,omitempty"`

	job *Job
}

// BulkJob returns the job the operation created. It is nil for a Result
// that was not produced by an API call.
func (r *Result) BulkJob() *Job {
	return r.job
}
