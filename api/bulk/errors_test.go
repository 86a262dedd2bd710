package bulk

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransportError
		expected string
	}{
		{
			name:     "status only",
			err:      &TransportError{Method: "GET", URL: "https://x/job/1", StatusCode: 404},
			expected: "GET https://x/job/1: HTTP 404",
		},
		{
			name:     "plain body",
			err:      &TransportError{Method: "POST", URL: "https://x/job", StatusCode: 400, Body: []byte(" bad request \n")},
			expected: "POST https://x/job: HTTP 400: bad request",
		},
		{
			name: "exception body",
			err: &TransportError{Method: "POST", URL: "https://x/job", StatusCode: 400,
				Body: []byte(`<error><exceptionCode>InvalidJob</exceptionCode><exceptionMessage>Unknown object</exceptionMessage></error>`)},
			expected: "POST https://x/job: HTTP 400: Unknown object (InvalidJob)",
		},
		{
			name:     "cause",
			err:      &TransportError{Method: "GET", URL: "https://x/job/1", Err: errors.New("connection refused")},
			expected: "GET https://x/job/1: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	notFound := fmt.Errorf("wrapped: %w", &TransportError{StatusCode: http.StatusNotFound})
	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsUnauthorized(notFound))

	assert.True(t, IsUnauthorized(&TransportError{StatusCode: http.StatusUnauthorized}))
	assert.True(t, IsUnauthorized(&RemoteServiceError{Code: "InvalidSessionId", Message: "expired"}))
	assert.False(t, IsUnauthorized(&RemoteServiceError{Code: "InvalidJob"}))

	assert.True(t, IsRateLimited(&TransportError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsServerError(&TransportError{StatusCode: http.StatusServiceUnavailable}))
	assert.False(t, IsServerError(&TransportError{StatusCode: http.StatusConflict}))

	assert.True(t, IsTimeout(fmt.Errorf("x: %w", &JobTimeoutError{JobID: "750"})))
	assert.False(t, IsTimeout(errors.New("other")))
}

func TestJobTimeoutError(t *testing.T) {
	err := &JobTimeoutError{JobID: "750xx1", BatchIDs: []string{"751a", "751b"}}
	assert.Equal(t, "timeout waiting for batches [751a, 751b] of job 750xx1", err.Error())
}

func TestBatchCreationError(t *testing.T) {
	err := &BatchCreationError{JobID: "750xx1", Records: 3, PayloadBytes: 42, Response: "<batchInfo/>"}
	assert.Equal(t, "failed to create a new batch for job 750xx1 (batch size: 3 records, 42 bytes), response: <batchInfo/>", err.Error())

	cause := &RemoteServiceError{Code: "InvalidBatch", Message: "bad"}
	wrapped := &BatchCreationError{JobID: "750xx1", Records: 1, PayloadBytes: 5, Err: cause}
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "bad (InvalidBatch)")
}

func TestRecordValidationError(t *testing.T) {
	err := &RecordValidationError{Field: "Name", Record: Record{"Name": ""}, Reason: "value is empty or not specified"}
	assert.Contains(t, err.Error(), `field "Name"`)
	assert.Contains(t, err.Error(), "value is empty or not specified")
}

func TestCheckResponse(t *testing.T) {
	exception := []byte(`<?xml version="1.0" encoding="UTF-8"?><error xmlns="` + asyncNamespace + `"><exceptionCode>InvalidJobState</exceptionCode><exceptionMessage>Job is closed</exceptionMessage></error>`)

	t.Run("exception with success status", func(t *testing.T) {
		_, err := checkResponse(exception, nil)
		var rerr *RemoteServiceError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "InvalidJobState", rerr.Code)
		assert.Equal(t, "Job is closed", rerr.Message)
	})

	t.Run("exception with error status", func(t *testing.T) {
		_, err := checkResponse(nil, &TransportError{StatusCode: http.StatusBadRequest, Body: exception})
		var rerr *RemoteServiceError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "InvalidJobState", rerr.Code)
	})

	t.Run("plain error status", func(t *testing.T) {
		terr := &TransportError{StatusCode: http.StatusInternalServerError, Body: []byte("oops")}
		_, err := checkResponse(nil, terr)
		assert.Same(t, terr, err)
	})

	t.Run("regular body", func(t *testing.T) {
		body := []byte(`<jobInfo xmlns="` + asyncNamespace + `"><id>750</id></jobInfo>`)
		got, err := checkResponse(body, nil)
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("csv body", func(t *testing.T) {
		got, err := checkResponse([]byte("Id,Name\n001,Acme\n"), nil)
		require.NoError(t, err)
		assert.Equal(t, "Id,Name\n001,Acme\n", string(got))
	})
}
