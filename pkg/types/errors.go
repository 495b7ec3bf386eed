package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure returned by the ledger wraps exactly one of these.
var (
	// ErrInvalidInput is returned for empty or oversized text and non-positive bounties
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTaskId is returned when a task id is zero or beyond the task counter
	ErrInvalidTaskId = errors.New("invalid task id")

	// ErrInvalidSubmissionId is returned when a submission id is zero or beyond the task's submission counter
	ErrInvalidSubmissionId = errors.New("invalid submission id")

	// ErrTaskNotOpen is returned when an operation requires an open task
	ErrTaskNotOpen = errors.New("task not open")

	// ErrNotAuthorized is returned when the caller may not perform the operation
	ErrNotAuthorized = errors.New("not authorized")

	// ErrTransferFailed is returned when the value transfer port rejects a movement of funds
	ErrTransferFailed = errors.New("transfer failed")
)

// Stable kind names reported on the wire and in metrics.
const (
	KindInvalidInput        = "invalid_input"
	KindInvalidTaskId       = "invalid_task_id"
	KindInvalidSubmissionId = "invalid_submission_id"
	KindTaskNotOpen         = "task_not_open"
	KindNotAuthorized       = "not_authorized"
	KindTransferFailed      = "transfer_failed"

	// KindInternal names failures that carry no taxonomy kind (storage faults, closed stores).
	KindInternal = "internal"
)

var kindNames = []struct {
	kind error
	name string
}{
	{ErrInvalidInput, KindInvalidInput},
	{ErrInvalidTaskId, KindInvalidTaskId},
	{ErrInvalidSubmissionId, KindInvalidSubmissionId},
	{ErrTaskNotOpen, KindTaskNotOpen},
	{ErrNotAuthorized, KindNotAuthorized},
	{ErrTransferFailed, KindTransferFailed},
}

// KindNames lists every taxonomy kind name, excluding KindInternal.
func KindNames() []string {
	names := make([]string, len(kindNames))
	for i, k := range kindNames {
		names[i] = k.name
	}
	return names
}

// ErrorKind returns the stable name of the error's kind, or KindInternal.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return KindInternal
}

// KindFromName is the inverse of ErrorKind. It returns nil for KindInternal
// and unknown names.
func KindFromName(name string) error {
	for _, k := range kindNames {
		if k.name == name {
			return k.kind
		}
	}
	return nil
}

// LedgerError carries the kind of a failure together with where it happened.
type LedgerError struct {
	Op           string
	Kind         error
	TaskId       uint64
	SubmissionId uint64
	Msg          string
	Err          error
}

func NewLedgerError(op string, kind error, msg string) *LedgerError {
	return &LedgerError{Op: op, Kind: kind, Msg: msg}
}

func (e *LedgerError) WithTask(taskId uint64) *LedgerError {
	e.TaskId = taskId
	return e
}

func (e *LedgerError) WithSubmission(submissionId uint64) *LedgerError {
	e.SubmissionId = submissionId
	return e
}

func (e *LedgerError) WithCause(err error) *LedgerError {
	e.Err = err
	return e
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.TaskId != 0 {
		fmt.Fprintf(&b, " (task %d", e.TaskId)
		if e.SubmissionId != 0 {
			fmt.Fprintf(&b, ", submission %d", e.SubmissionId)
		}
		b.WriteString(")")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is / errors.As.
func (e *LedgerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
