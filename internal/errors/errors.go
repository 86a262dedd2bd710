// Package errors maps bulk API failures onto CLI exit codes and hints.
package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-cli-collective/sfbulk/api/bulk"
)

// Exit codes
const (
	ExitOK        = 0
	ExitError     = 1
	ExitUsage     = 2
	ExitAuth      = 3
	ExitTimeout   = 4
	ExitRemote    = 5
	ExitCancelled = 130
)

// ErrUsage marks errors caused by bad command line input.
var ErrUsage = errors.New("usage error")

// Usage returns an error wrapping ErrUsage.
func Usage(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		cfgErr    *bulk.ConfigurationError
		recErr    *bulk.RecordValidationError
		remoteErr *bulk.RemoteServiceError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, ErrUsage), errors.As(err, &cfgErr), errors.As(err, &recErr):
		return ExitUsage
	case IsAuth(err):
		return ExitAuth
	case bulk.IsTimeout(err):
		return ExitTimeout
	case errors.As(err, &remoteErr), bulk.IsRateLimited(err), bulk.IsServerError(err):
		return ExitRemote
	default:
		return ExitError
	}
}

// IsAuth reports whether err is an authentication or permission failure.
func IsAuth(err error) bool {
	return bulk.IsUnauthorized(err) || errors.Is(err, bulk.ErrForbidden)
}

// Hint returns a suggestion for recovering from err, or "".
func Hint(err error) string {
	var (
		remoteErr *bulk.RemoteServiceError
		timeout   *bulk.JobTimeoutError
		recErr    *bulk.RecordValidationError
	)

	switch {
	case err == nil:
		return ""
	case bulk.IsUnauthorized(err):
		return "Your session is not valid. Run 'sfbulk init' to log in again."
	case errors.Is(err, bulk.ErrForbidden):
		return "The connected user lacks the 'API Enabled' or object permissions for this operation."
	case errors.As(err, &timeout):
		return fmt.Sprintf("The job is still running. Resume with 'sfbulk job wait %s'.", timeout.JobID)
	case errors.As(err, &recErr):
		return "Pass the field to --nullable to send it empty, or fill it in the input file."
	case bulk.IsRateLimited(err):
		return "The org is over its API request limit. Try again later."
	case errors.As(err, &remoteErr):
		return remoteHint(remoteErr.Code)
	default:
		return ""
	}
}

func remoteHint(code string) string {
	switch code {
	case "ExceededQuota":
		return "The daily bulk batch allocation is used up. Try again after it resets."
	case "InvalidJob", "InvalidJobState":
		return "Check the job id and state with 'sfbulk job status <job-id>'."
	case "FeatureNotEnabled":
		return "The object does not support this feature. Retry without --pk-chunking."
	case "InvalidBatch":
		return "Check that the CSV header names match the object's field API names."
	default:
		return ""
	}
}
