package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
)

// LedgerStore persists tasks, submissions, counters and user stats.
//
// All mutations go through Update, which applies every write made by fn
// atomically or none of them. Implementations return ErrConflict when a
// concurrent Update committed a write to something fn read.
type LedgerStore interface {
	View(ctx context.Context, fn func(tx LedgerReader) error) error
	Update(ctx context.Context, fn func(tx LedgerTx) error) error

	Close() error
}

// LedgerReader is the read side of a unit of work.
type LedgerReader interface {
	// GetTaskCounter returns the number of tasks ever created (0 if none).
	GetTaskCounter(ctx context.Context) (uint64, error)
	GetTask(ctx context.Context, taskId uint64) (*types.Task, error)
	// ListTasks returns matching tasks ordered by id ascending.
	ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error)

	// GetSubmissionCounter returns the number of submissions made to a task (0 if none).
	GetSubmissionCounter(ctx context.Context, taskId uint64) (uint64, error)
	GetSubmission(ctx context.Context, taskId, submissionId uint64) (*types.Submission, error)
	// ListSubmissions returns a task's submissions ordered by id ascending.
	ListSubmissions(ctx context.Context, taskId uint64) ([]*types.Submission, error)

	GetUserStats(ctx context.Context, identity common.Address) (*types.UserStats, error)
	ListUserStats(ctx context.Context) ([]*types.UserStats, error)
}

// LedgerTx is a read-write unit of work. Writes are visible to later reads
// in the same unit of work and to nobody else until it commits.
type LedgerTx interface {
	LedgerReader

	PutTask(ctx context.Context, task *types.Task) error
	SetTaskCounter(ctx context.Context, value uint64) error

	PutSubmission(ctx context.Context, submission *types.Submission) error
	SetSubmissionCounter(ctx context.Context, taskId uint64, value uint64) error

	PutUserStats(ctx context.Context, stats *types.UserStats) error
}
