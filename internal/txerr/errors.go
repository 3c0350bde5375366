// Package txerr defines the structured error type returned across the
// transaction pipeline.
//
// Every failure that reaches a caller carries a stable Code, a human-readable
// Message and an open Details bag. Unstructured errors are converted at the
// engine boundary so callers never see a raw error.
package txerr

import (
	"errors"
	"fmt"
)

// Code categorizes a failure.
type Code string

const (
	// CodeMissingNonce indicates nonce policy manual without a nonce.
	CodeMissingNonce Code = "MISSING_NONCE"

	// CodeReadonlySigner indicates the resolved signer cannot submit.
	CodeReadonlySigner Code = "READONLY_SIGNER"

	// CodeSimulationRevert indicates the read-only call reverted.
	CodeSimulationRevert Code = "SIMULATION_REVERT"

	// CodeInsufficientFunds indicates the balance is below value + gas * maxFee.
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS_PRECHECK"

	// CodePolicyViolation indicates one or more policy rules failed.
	CodePolicyViolation Code = "POLICY_VIOLATION"

	// CodeTxNotFound indicates a lookup on an unknown key or hash.
	CodeTxNotFound Code = "TX_NOT_FOUND"

	// CodeTimeout indicates a wait exceeded its budget.
	CodeTimeout Code = "TIMEOUT"

	// CodeExecutionFailed wraps an unclassified internal error.
	CodeExecutionFailed Code = "TX_EXECUTION_FAILED"

	CodeRPCUnreachable           Code = "RPC_UNREACHABLE"
	CodeChainMismatch            Code = "CHAIN_MISMATCH"
	CodeInvalidChain             Code = "INVALID_CHAIN"
	CodeMissingRPCURL            Code = "MISSING_RPC_URL"
	CodeInvalidSignerSpec        Code = "INVALID_SIGNER_SPEC"
	CodeSignerBackendUnavailable Code = "SIGNER_BACKEND_UNAVAILABLE"
	CodeMissingSignerSecret      Code = "MISSING_SIGNER_SECRET"
	CodeInvalidPrivateKey        Code = "INVALID_PRIVATE_KEY"
	CodeInvalidArgument          Code = "INVALID_ARGUMENT"
	CodeMissingArgument          Code = "MISSING_ARGUMENT"
	CodeProfileNotFound          Code = "PROFILE_NOT_FOUND"
	CodePolicyNotFound           Code = "POLICY_NOT_FOUND"
	CodeConfigInvalid            Code = "CONFIG_INVALID"
)

// Exit codes carried by errors.
const (
	ExitFailure   = 1 // unclassified execution failure
	ExitUserError = 2 // caller-correctable input or precondition failure
)

// Error is a classified failure with a code, message and attribute bag.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// ExitCode is the process exit code a CLI should use.
	ExitCode int

	// Details contains additional context. Values must be JSON-encodable.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a caller-correctable Error (exit code 2).
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, ExitCode: ExitUserError}
}

// Newf is like New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithDetails sets the details bag and returns e for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithCause sets the underlying error and returns e for chaining.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithExitCode overrides the exit code and returns e for chaining.
func (e *Error) WithExitCode(code int) *Error {
	e.ExitCode = code
	return e
}

// As extracts an *Error from err, following wrap chains.
func As(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// HasCode reports whether err is (or wraps) an *Error with the given code.
func HasCode(err error, code Code) bool {
	te, ok := As(err)
	return ok && te.Code == code
}
