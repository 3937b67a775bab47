// Package errors provides examples of structured error handling in orbit.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/orbit/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	// Create a new error with type
	err := errors.New(errors.ErrorTypeConnection, "failed to reach instance")

	// Add context details
	err = err.WithDetail("host", "example.my.salesforce.com").
		WithDetail("api_version", "59.0")

	fmt.Println(err.Error())

	// Output:
	// connection: failed to reach instance
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	originalErr := io.ErrUnexpectedEOF

	err := errors.Wrap(originalErr, errors.ErrorTypeParse, "failed to decode graph response").
		WithDetail("graph_id", "g1")

	if errors.IsParse(err) {
		fmt.Println("This is a parse error")
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Original error was unexpected EOF")
	}

	// Output:
	// This is a parse error
	// Original error was unexpected EOF
}

// ExampleIsRetryable shows how to check if an error is retryable.
func ExampleIsRetryable() {
	transport := errors.New(errors.ErrorTypeConnection, "connection reset")
	validation := errors.New(errors.ErrorTypeValidation, "unknown reference")

	fmt.Println(errors.IsRetryable(transport))
	fmt.Println(errors.IsRetryable(validation))

	// Output:
	// true
	// false
}

// ExampleDataAPIError shows how composite failures are inspected.
func ExampleDataAPIError() {
	var err error = &errors.DataAPIError{Failures: []*errors.OperationFailure{
		{
			ReferenceID: "ref2",
			StatusCode:  400,
			Errors: []errors.APIError{{
				Code:    "REQUIRED_FIELD_MISSING",
				Message: "Required fields are missing: [Name]",
				Fields:  []string{"Name"},
			}},
		},
	}}

	var dataErr *errors.DataAPIError
	if errors.As(err, &dataErr) {
		f, _ := dataErr.FailureFor("ref2")
		fmt.Println(dataErr.Count(), f.Errors[0].Code)
	}

	// Output:
	// 1 REQUIRED_FIELD_MISSING
}
