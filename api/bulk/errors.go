package bulk

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for common transport failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized - check your OAuth token")
	ErrForbidden      = errors.New("forbidden - insufficient permissions")
	ErrBadRequest     = errors.New("bad request")
	ErrRateLimited    = errors.New("rate limited - try again later")
	ErrServerError    = errors.New("server error")
	ErrInvalidSession = errors.New("invalid session - token may be expired")
)

// Validation errors
var (
	ErrInstanceURLRequired = errors.New("instance URL is required")
	ErrHTTPClientRequired  = errors.New("HTTP client is required")
)

// ConfigurationError reports an invalid setting detected before any request
// was sent.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// RemoteServiceError is a structured exception reported by the service.
type RemoteServiceError struct {
	Code    string
	Message string
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Unwrap maps the exception code onto the matching sentinel error.
func (e *RemoteServiceError) Unwrap() error {
	if e.Code == "InvalidSessionId" {
		return ErrInvalidSession
	}
	return nil
}

// BatchCreationError reports a batch submission for which the service did not
// return a batch id.
type BatchCreationError struct {
	JobID        string
	Records      int
	PayloadBytes int
	Response     string
	Err          error
}

func (e *BatchCreationError) Error() string {
	msg := fmt.Sprintf("failed to create a new batch for job %s (batch size: %d records, %d bytes)",
		e.JobID, e.Records, e.PayloadBytes)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	if e.Response != "" {
		return msg + ", response: " + e.Response
	}
	return msg
}

func (e *BatchCreationError) Unwrap() error {
	return e.Err
}

// RecordValidationError reports a record that cannot be serialized.
type RecordValidationError struct {
	Field  string
	Record Record
	Reason string
}

func (e *RecordValidationError) Error() string {
	return fmt.Sprintf("%s: field %q in record %v", e.Reason, e.Field, map[string]any(e.Record))
}

// JobTimeoutError reports that batches were still being processed when the
// wait deadline passed.
type JobTimeoutError struct {
	JobID    string
	BatchIDs []string
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for batches [%s] of job %s",
		strings.Join(e.BatchIDs, ", "), e.JobID)
}

// TransportError is a request that failed below the bulk protocol: the
// connection broke or the service answered with an error status.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	body := strings.TrimSpace(string(e.Body))
	if rerr := parseServiceException(e.Body); rerr != nil {
		body = rerr.Error()
	}
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// Unwrap returns the underlying cause, or a sentinel error based on status code
func (e *TransportError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	switch e.StatusCode {
	case http.StatusUnauthorized:
		if rerr := parseServiceException(e.Body); rerr != nil && rerr.Code == "InvalidSessionId" {
			return ErrInvalidSession
		}
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if e.StatusCode >= 500 {
			return ErrServerError
		}
		return nil
	}
}

// IsNotFound returns true if the error indicates a resource was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized returns true if the error indicates an authentication failure
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidSession)
}

// IsRateLimited returns true if the error indicates rate limiting
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsServerError returns true if the error indicates a server error
func IsServerError(err error) bool {
	return errors.Is(err, ErrServerError)
}

// IsTimeout returns true if the error is a JobTimeoutError.
func IsTimeout(err error) bool {
	var terr *JobTimeoutError
	return errors.As(err, &terr)
}

// parseServiceException returns the exception carried by body, or nil if
// body is not an exception payload.
func parseServiceException(body []byte) *RemoteServiceError {
	if len(body) == 0 {
		return nil
	}
	var exc serviceException
	if err := xml.Unmarshal(body, &exc); err != nil || exc.ExceptionCode == "" {
		return nil
	}
	return &RemoteServiceError{Code: exc.ExceptionCode, Message: exc.ExceptionMessage}
}

// checkResponse converts service exception payloads, whether delivered with
// a success or an error status, into RemoteServiceError. Other transport
// errors are returned unchanged.
func checkResponse(body []byte, err error) ([]byte, error) {
	if err != nil {
		var terr *TransportError
		if errors.As(err, &terr) {
			if rerr := parseServiceException(terr.Body); rerr != nil {
				return nil, rerr
			}
		}
		return nil, err
	}
	if rerr := parseServiceException(body); rerr != nil {
		return nil, rerr
	}
	return body, nil
}

// Common Bulk API exception codes for reference:
// - InvalidSessionId: Session expired or invalid
// - InvalidJob: Job id unknown or job not in a valid state
// - InvalidJobState: Operation not allowed in the job's current state
// - InvalidBatch: Batch content is malformed
// - ExceededQuota: Daily batch allocation exhausted
// - InvalidOperation: Operation not supported for the object
// - FeatureNotEnabled: Feature (e.g. PK chunking) not available for the object
