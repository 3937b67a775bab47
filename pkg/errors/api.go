package errors

import (
	"fmt"
	"strings"
)

// APIError is one structured rejection returned by the remote API.
type APIError struct {
	Code    string   `json:"errorCode"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// Error implements the error interface
func (e APIError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (fields: %s)", e.Code, e.Message, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// OperationFailure groups the rejections of a single remote operation. Within a
// composite graph ReferenceID names the failing sub-request; it is empty for
// standalone calls.
type OperationFailure struct {
	ReferenceID string
	StatusCode  int
	Errors      []APIError
}

// Error implements the error interface
func (f *OperationFailure) Error() string {
	var b strings.Builder
	if f.ReferenceID != "" {
		fmt.Fprintf(&b, "%s: ", f.ReferenceID)
	}
	fmt.Fprintf(&b, "HTTP %d", f.StatusCode)
	for i, e := range f.Errors {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(e.Error())
	}
	return b.String()
}

// DataAPIError carries every failing operation of a data API call. A composite
// commit never returns partial results: it returns either the complete result
// map or one DataAPIError holding all failures.
type DataAPIError struct {
	Failures []*OperationFailure
}

// Error implements the error interface
func (e *DataAPIError) Error() string {
	switch len(e.Failures) {
	case 0:
		return "data api error"
	case 1:
		return "data api error: " + e.Failures[0].Error()
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("data api error: %d operations failed: %s", len(e.Failures), strings.Join(parts, " | "))
}

// Unwrap exposes each failure to errors.Is and errors.As.
func (e *DataAPIError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Count returns the number of failing operations.
func (e *DataAPIError) Count() int {
	return len(e.Failures)
}

// APIErrors flattens all structured rejections.
func (e *DataAPIError) APIErrors() []APIError {
	var out []APIError
	for _, f := range e.Failures {
		out = append(out, f.Errors...)
	}
	return out
}

// FailureFor returns the failure recorded for a composite reference id.
func (e *DataAPIError) FailureFor(referenceID string) (*OperationFailure, bool) {
	for _, f := range e.Failures {
		if f.ReferenceID == referenceID {
			return f, true
		}
	}
	return nil, false
}

// BulkAPIError reports the failure of one bulk ingest stage for one batch.
// Remote rejections populate StatusCode and Errors; transport, parse and
// cancellation failures populate Cause.
type BulkAPIError struct {
	Stage      string
	JobID      string
	StatusCode int
	Errors     []APIError
	Cause      error
}

// Error implements the error interface
func (e *BulkAPIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bulk %s failed", e.Stage)
	if e.JobID != "" {
		fmt.Fprintf(&b, " (job %s)", e.JobID)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	for _, apiErr := range e.Errors {
		b.WriteString(": ")
		b.WriteString(apiErr.Error())
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *BulkAPIError) Unwrap() error {
	return e.Cause
}

// FromFailure converts a remote operation failure into a stage error.
func FromFailure(stage, jobID string, f *OperationFailure) *BulkAPIError {
	return &BulkAPIError{
		Stage:      stage,
		JobID:      jobID,
		StatusCode: f.StatusCode,
		Errors:     f.Errors,
	}
}
