// Package events carries the notifications the ledger emits after an
// operation commits or fails. Sinks observe ledger history; they never feed
// back into it.
package events

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Kind string

const (
	KindTaskCreated        Kind = "TaskCreated"
	KindTaskSubmitted      Kind = "TaskSubmitted"
	KindSubmissionApproved Kind = "SubmissionApproved"
	KindOperationFailed    Kind = "OperationFailed"
)

type Event interface {
	Kind() Kind
	// Fields returns the event's arguments as key/value pairs for structured logging.
	Fields() []any
}

type TaskCreated struct {
	TaskId      uint64
	Creator     common.Address
	Bounty      *big.Int
	Token       common.Address
	Description string
}

func (e *TaskCreated) Kind() Kind { return KindTaskCreated }

func (e *TaskCreated) Fields() []any {
	return []any{
		"taskId", e.TaskId,
		"creator", e.Creator.Hex(),
		"bounty", e.Bounty.String(),
		"token", e.Token.Hex(),
		"description", e.Description,
	}
}

type TaskSubmitted struct {
	TaskId       uint64
	SubmissionId uint64
	Submitter    common.Address
}

func (e *TaskSubmitted) Kind() Kind { return KindTaskSubmitted }

func (e *TaskSubmitted) Fields() []any {
	return []any{
		"taskId", e.TaskId,
		"submissionId", e.SubmissionId,
		"submitter", e.Submitter.Hex(),
	}
}

type SubmissionApproved struct {
	TaskId       uint64
	SubmissionId uint64
	Winner       common.Address
	Bounty       *big.Int
	Token        common.Address
}

func (e *SubmissionApproved) Kind() Kind { return KindSubmissionApproved }

func (e *SubmissionApproved) Fields() []any {
	return []any{
		"taskId", e.TaskId,
		"submissionId", e.SubmissionId,
		"winner", e.Winner.Hex(),
		"bounty", e.Bounty.String(),
		"token", e.Token.Hex(),
	}
}

// OperationFailed is emitted for every rejected state-changing call.
// ErrorKind is the snake_case name from types.ErrorKind.
type OperationFailed struct {
	Op        string
	ErrorKind string
	Caller    common.Address
	TaskId    uint64
}

func (e *OperationFailed) Kind() Kind { return KindOperationFailed }

func (e *OperationFailed) Fields() []any {
	return []any{
		"op", e.Op,
		"errorKind", e.ErrorKind,
		"caller", e.Caller.Hex(),
		"taskId", e.TaskId,
	}
}

// Sink receives events. Emit must not block for long; it runs on the
// caller's goroutine after the ledger commit.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// NoopSink drops every event.
type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) {}

// LoggingSink writes each event as a structured log line.
type LoggingSink struct {
	logger *zap.Logger
}

func NewLoggingSink(l *zap.Logger) *LoggingSink {
	return &LoggingSink{logger: l}
}

func (s *LoggingSink) Emit(_ context.Context, e Event) {
	s.logger.Sugar().Infow(string(e.Kind()), e.Fields()...)
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events with the given kind.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind() == k {
			out = append(out, e)
		}
	}
	return out
}
