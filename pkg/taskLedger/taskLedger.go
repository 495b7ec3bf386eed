package taskLedger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
	"go.uber.org/zap"
)

const DefaultCommitRetries = 5

type TaskLedgerConfig struct {
	// CommitRetries is how many times a unit of work is attempted when it
	// loses a race with a concurrent commit.
	CommitRetries int
}

// TaskLedger owns the task and submission records and their id counters.
// It translates storage results into ledger error kinds.
type TaskLedger struct {
	store  storage.LedgerStore
	config *TaskLedgerConfig
	logger *zap.Logger
}

func NewTaskLedger(store storage.LedgerStore, cfg *TaskLedgerConfig, l *zap.Logger) *TaskLedger {
	if cfg == nil {
		cfg = &TaskLedgerConfig{}
	}
	if cfg.CommitRetries < 1 {
		cfg.CommitRetries = DefaultCommitRetries
	}
	return &TaskLedger{
		store:  store,
		config: cfg,
		logger: l,
	}
}

// Read runs fn against a consistent view of the ledger.
func (tl *TaskLedger) Read(ctx context.Context, op string, fn func(r *Reader) error) error {
	return tl.store.View(ctx, func(tx storage.LedgerReader) error {
		return fn(&Reader{op: op, tx: tx})
	})
}

// Write runs fn as one atomic unit of work, re-running it from scratch if it
// conflicts with a concurrent commit. fn must not have side effects outside
// the Writer.
func (tl *TaskLedger) Write(ctx context.Context, op string, fn func(w *Writer) error) error {
	var err error
	for attempt := 1; attempt <= tl.config.CommitRetries; attempt++ {
		err = tl.store.Update(ctx, func(tx storage.LedgerTx) error {
			return fn(&Writer{Reader: Reader{op: op, tx: tx}, tx: tx})
		})
		if err == nil || !storage.IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		tl.logger.Sugar().Debugw("Ledger commit conflicted, retrying",
			"op", op,
			"attempt", attempt,
			"error", err,
		)
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", op, tl.config.CommitRetries, err)
}

func (tl *TaskLedger) Close() error {
	return tl.store.Close()
}

// Reader exposes validated reads.
type Reader struct {
	op string
	tx storage.LedgerReader
}

func (r *Reader) invalidTask(taskId uint64) error {
	return types.NewLedgerError(r.op, types.ErrInvalidTaskId, "").WithTask(taskId)
}

func (r *Reader) invalidSubmission(taskId, submissionId uint64) error {
	return types.NewLedgerError(r.op, types.ErrInvalidSubmissionId, "").WithTask(taskId).WithSubmission(submissionId)
}

// TaskCount is the number of tasks ever created.
func (r *Reader) TaskCount(ctx context.Context) (uint64, error) {
	return r.tx.GetTaskCounter(ctx)
}

// Task returns the task with the given id. Ids outside [1, TaskCount] are ErrInvalidTaskId.
func (r *Reader) Task(ctx context.Context, taskId uint64) (*types.Task, error) {
	if taskId == 0 {
		return nil, r.invalidTask(taskId)
	}
	count, err := r.tx.GetTaskCounter(ctx)
	if err != nil {
		return nil, err
	}
	if taskId > count {
		return nil, r.invalidTask(taskId)
	}
	task, err := r.tx.GetTask(ctx, taskId)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, r.invalidTask(taskId)
	}
	return task, err
}

func (r *Reader) Tasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	return r.tx.ListTasks(ctx, filter)
}

// SubmissionCount is the number of submissions made to a valid task.
func (r *Reader) SubmissionCount(ctx context.Context, taskId uint64) (uint64, error) {
	if _, err := r.Task(ctx, taskId); err != nil {
		return 0, err
	}
	return r.tx.GetSubmissionCounter(ctx, taskId)
}

// Submission returns one submission of a valid task. Ids outside
// [1, SubmissionCount] are ErrInvalidSubmissionId.
func (r *Reader) Submission(ctx context.Context, taskId, submissionId uint64) (*types.Submission, error) {
	count, err := r.SubmissionCount(ctx, taskId)
	if err != nil {
		return nil, err
	}
	return r.submissionWithin(ctx, taskId, submissionId, count)
}

func (r *Reader) submissionWithin(ctx context.Context, taskId, submissionId, count uint64) (*types.Submission, error) {
	if submissionId == 0 || submissionId > count {
		return nil, r.invalidSubmission(taskId, submissionId)
	}
	sub, err := r.tx.GetSubmission(ctx, taskId, submissionId)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, r.invalidSubmission(taskId, submissionId)
	}
	return sub, err
}

func (r *Reader) Submissions(ctx context.Context, taskId uint64) ([]*types.Submission, error) {
	if _, err := r.Task(ctx, taskId); err != nil {
		return nil, err
	}
	return r.tx.ListSubmissions(ctx, taskId)
}

// UserStats returns the identity's stats, or a zero record if it has no history.
func (r *Reader) UserStats(ctx context.Context, identity common.Address) (*types.UserStats, error) {
	stats, err := r.tx.GetUserStats(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewUserStats(identity), nil
	}
	return stats, err
}

func (r *Reader) AllUserStats(ctx context.Context) ([]*types.UserStats, error) {
	return r.tx.ListUserStats(ctx)
}

// Writer adds id allocation and state transitions to Reader.
type Writer struct {
	Reader
	tx storage.LedgerTx
}

// AppendTask assigns the next task id, stores the task and returns the id.
func (w *Writer) AppendTask(ctx context.Context, task *types.Task) (uint64, error) {
	count, err := w.tx.GetTaskCounter(ctx)
	if err != nil {
		return 0, err
	}
	task.Id = count + 1
	if err := w.tx.PutTask(ctx, task); err != nil {
		return 0, err
	}
	if err := w.tx.SetTaskCounter(ctx, task.Id); err != nil {
		return 0, err
	}
	return task.Id, nil
}

// AppendSubmission assigns the next submission id scoped to the submission's task.
func (w *Writer) AppendSubmission(ctx context.Context, sub *types.Submission) (uint64, error) {
	count, err := w.SubmissionCount(ctx, sub.TaskId)
	if err != nil {
		return 0, err
	}
	sub.Id = count + 1
	if err := w.tx.PutSubmission(ctx, sub); err != nil {
		return 0, err
	}
	if err := w.tx.SetSubmissionCounter(ctx, sub.TaskId, sub.Id); err != nil {
		return 0, err
	}
	return sub.Id, nil
}

// ReserveSettlement marks the task as paying out the given submission. A
// reserved task accepts no further submissions or approvals until the
// reservation is released or the task completes.
func (w *Writer) ReserveSettlement(ctx context.Context, task *types.Task, submissionId uint64) error {
	task.SettlingSubmissionId = submissionId
	return w.tx.PutTask(ctx, task)
}

func (w *Writer) ReleaseSettlement(ctx context.Context, task *types.Task) error {
	task.SettlingSubmissionId = 0
	return w.tx.PutTask(ctx, task)
}

// CompleteTask records the approved submission and its author as the task's
// winner and clears any settlement reservation.
func (w *Writer) CompleteTask(ctx context.Context, task *types.Task, sub *types.Submission, at time.Time) error {
	task.Status = types.TaskStatusCompleted
	task.Winner = sub.Submitter
	task.CompletedAt = &at
	task.SettlingSubmissionId = 0
	if err := w.tx.PutTask(ctx, task); err != nil {
		return err
	}
	sub.Approved = true
	return w.tx.PutSubmission(ctx, sub)
}

func (w *Writer) PutUserStats(ctx context.Context, stats *types.UserStats) error {
	return w.tx.PutUserStats(ctx, stats)
}
