package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/roach88/txwal/internal/txerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = txerr.ExitFailure   // unclassified execution failure
	ExitCommandError = txerr.ExitUserError // bad input, missing entry, failed precondition
)

// SchemaVersion is stamped on every envelope.
const SchemaVersion = "1.0.0"

// timestampLayout matches millisecond ISO-8601 in UTC.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ExitError carries the process exit code for an error that has already been
// written to the output.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Structured errors use
// their own code; anything else is ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if te, ok := txerr.As(err); ok && te.ExitCode != 0 {
		return te.ExitCode
	}
	return ExitFailure
}

// Envelope is the JSON document written for every command.
type Envelope struct {
	SchemaVersion string     `json:"schemaVersion"`
	Command       string     `json:"command"`
	Status        string     `json:"status"` // "ok" or "error"
	Data          any        `json:"data,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
	Meta          Meta       `json:"meta"`
}

// ErrorBody is the error half of an Envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta holds envelope metadata.
type Meta struct {
	Timestamp string `json:"timestamp"`
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
	Now    func() time.Time
}

// Success writes data for command.
func (f *OutputFormatter) Success(command string, data any) error {
	if f.Format == "json" {
		return f.encode(Envelope{
			SchemaVersion: SchemaVersion,
			Command:       command,
			Status:        "ok",
			Data:          data,
			Meta:          f.meta(),
		})
	}

	fmt.Fprintf(f.Writer, "%s: ok\n", command)
	return writeText(f.Writer, data)
}

// Error writes err for command. Unstructured errors are reported as
// TX_EXECUTION_FAILED.
func (f *OutputFormatter) Error(command string, err error) error {
	body := errorBody(err)
	if f.Format == "json" {
		return f.encode(Envelope{
			SchemaVersion: SchemaVersion,
			Command:       command,
			Status:        "error",
			Error:         &body,
			Meta:          f.meta(),
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", body.Code, body.Message)
	keys := make([]string, 0, len(body.Details))
	for k := range body.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(f.Writer, "  %s: %v\n", k, body.Details[k])
	}
	return nil
}

func (f *OutputFormatter) encode(env Envelope) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(env)
}

func (f *OutputFormatter) meta() Meta {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return Meta{Timestamp: now().UTC().Format(timestampLayout)}
}

func errorBody(err error) ErrorBody {
	if te, ok := txerr.As(err); ok {
		return ErrorBody{Code: string(te.Code), Message: te.Message, Details: te.Details}
	}
	return ErrorBody{Code: string(txerr.CodeExecutionFailed), Message: err.Error()}
}

// writeText renders data as "key: value" lines. Nested values are printed
// as compact JSON.
func writeText(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := fields[k].(type) {
		case map[string]any, []any:
			nested, _ := json.Marshal(v)
			fmt.Fprintf(w, "  %s: %s\n", k, nested)
		default:
			fmt.Fprintf(w, "  %s: %v\n", k, v)
		}
	}
	return nil
}
