// Package gigEconomy is the public operation surface of the task-bounty
// escrow ledger. Every call validates its preconditions, moves value through
// the transfer port outside any storage transaction, and only then commits
// the ledger change that records it.
package gigEconomy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/events"
	"github.com/sogobanwo/GiG-Economy/pkg/identity"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
	"github.com/sogobanwo/GiG-Economy/pkg/userStats"
	"github.com/sogobanwo/GiG-Economy/pkg/valueTransfer"
	"go.uber.org/zap"
)

const (
	OpCreateTask               = "create_task"
	OpSubmitTask               = "submit_task"
	OpApproveSubmission        = "approve_submission"
	OpGetTask                  = "get_task"
	OpGetTaskSubmission        = "get_task_submission"
	OpGetAllTasksCounter       = "get_all_tasks_counter"
	OpGetTaskSubmissionCounter = "get_task_submission_counter"
	OpGetUserStats             = "get_user_stats"
	OpListTasks                = "list_tasks"
	OpListTaskSubmissions      = "list_task_submissions"
	OpLeaderboard              = "leaderboard"
)

type EngineConfig struct {
	Policy *ledgerConfig.PolicyConfig

	// Clock stamps created and completed times. Defaults to time.Now.
	Clock func() time.Time
}

type Engine struct {
	config   *EngineConfig
	ledger   *taskLedger.TaskLedger
	tracker  *userStats.Tracker
	identity identity.Provider
	transfer valueTransfer.Port
	sink     events.Sink
	logger   *zap.Logger
}

func NewEngine(
	cfg *EngineConfig,
	ledger *taskLedger.TaskLedger,
	tracker *userStats.Tracker,
	provider identity.Provider,
	transfer valueTransfer.Port,
	sink events.Sink,
	l *zap.Logger,
) *Engine {
	if cfg == nil {
		cfg = &EngineConfig{}
	}
	if cfg.Policy == nil {
		cfg.Policy = ledgerConfig.NewDefaultPolicyConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Engine{
		config:   cfg,
		ledger:   ledger,
		tracker:  tracker,
		identity: provider,
		transfer: transfer,
		sink:     sink,
		logger:   l,
	}
}

func (e *Engine) now() time.Time {
	return e.config.Clock().UTC()
}

func (e *Engine) caller(ctx context.Context, op string) (common.Address, error) {
	caller, err := e.identity.CurrentCaller(ctx)
	if err != nil {
		return common.Address{}, types.NewLedgerError(op, types.ErrNotAuthorized, "").WithCause(err)
	}
	return caller, nil
}

// fail logs and publishes a rejected state-changing call and returns err.
func (e *Engine) fail(ctx context.Context, op string, caller common.Address, taskId uint64, err error) error {
	kind := types.ErrorKind(err)
	fields := []any{"op", op, "kind", kind, "caller", caller.Hex(), "taskId", taskId, "error", err}
	if kind == types.KindInternal {
		e.logger.Sugar().Errorw("Ledger operation failed", fields...)
	} else {
		e.logger.Sugar().Warnw("Ledger operation rejected", fields...)
	}
	e.sink.Emit(ctx, &events.OperationFailed{Op: op, ErrorKind: kind, Caller: caller, TaskId: taskId})
	return err
}

func internalError(op string, err error) error {
	var le *types.LedgerError
	if errors.As(err, &le) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Engine) checkText(op, name, value string, maxLen int) *types.LedgerError {
	if len(value) == 0 {
		return types.NewLedgerError(op, types.ErrInvalidInput, name+" must not be empty")
	}
	if maxLen > 0 && utf8.RuneCountInString(value) > maxLen {
		return types.NewLedgerError(op, types.ErrInvalidInput, fmt.Sprintf("%s exceeds %d characters", name, maxLen))
	}
	return nil
}

// CreateTask escrows bounty units of token from the caller and records a new
// open task. It returns the new task id.
func (e *Engine) CreateTask(ctx context.Context, description string, bounty *big.Int, token common.Address) (uint64, error) {
	const op = OpCreateTask
	caller, err := e.caller(ctx, op)
	if err != nil {
		return 0, e.fail(ctx, op, caller, 0, err)
	}

	if lerr := e.checkText(op, "description", description, e.config.Policy.MaxDescriptionLength); lerr != nil {
		return 0, e.fail(ctx, op, caller, 0, lerr)
	}
	if bounty == nil || bounty.Sign() <= 0 {
		return 0, e.fail(ctx, op, caller, 0, types.NewLedgerError(op, types.ErrInvalidInput, "bounty must be positive"))
	}
	if token == (common.Address{}) {
		return 0, e.fail(ctx, op, caller, 0, types.NewLedgerError(op, types.ErrInvalidInput, "token must be set"))
	}
	bounty = types.CopyAmount(bounty)
	escrow := e.identity.SelfIdentity()

	// Once the pull starts the caller going away must not strand the bounty.
	commitCtx := context.WithoutCancel(ctx)
	if err := e.transfer.Pull(commitCtx, token, caller, escrow, bounty); err != nil {
		return 0, e.fail(ctx, op, caller, 0, types.NewLedgerError(op, types.ErrTransferFailed, "").WithCause(err))
	}

	var taskId uint64
	err = e.ledger.Write(commitCtx, op, func(w *taskLedger.Writer) error {
		task := &types.Task{
			Creator:     caller,
			Bounty:      types.CopyAmount(bounty),
			Token:       token,
			Description: description,
			Status:      types.TaskStatusOpen,
			CreatedAt:   e.now(),
		}
		id, err := w.AppendTask(commitCtx, task)
		if err != nil {
			return err
		}
		if err := e.tracker.RecordCreated(commitCtx, w, caller); err != nil {
			return err
		}
		taskId = id
		return nil
	})
	if err != nil {
		e.refundUnrecordedEscrow(ctx, token, caller, bounty, err)
		return 0, e.fail(ctx, op, caller, 0, internalError(op, err))
	}

	e.logger.Sugar().Infow("Task created",
		"taskId", taskId,
		"creator", caller.Hex(),
		"bounty", bounty.String(),
		"token", token.Hex(),
	)
	e.sink.Emit(ctx, &events.TaskCreated{
		TaskId:      taskId,
		Creator:     caller,
		Bounty:      types.CopyAmount(bounty),
		Token:       token,
		Description: description,
	})
	return taskId, nil
}

// refundUnrecordedEscrow returns a bounty that was pulled for a task whose
// record could not be committed. A failed refund leaves funds in escrow with
// no task and is logged for manual reconciliation.
func (e *Engine) refundUnrecordedEscrow(ctx context.Context, token, creator common.Address, bounty *big.Int, cause error) {
	refundErr := e.transfer.Push(context.WithoutCancel(ctx), token, creator, bounty)
	if refundErr != nil {
		e.logger.Sugar().Errorw("Escrowed bounty has no task and could not be refunded",
			"creator", creator.Hex(),
			"token", token.Hex(),
			"bounty", bounty.String(),
			"commitError", cause,
			"refundError", refundErr,
		)
		return
	}
	e.logger.Sugar().Warnw("Refunded bounty for task that failed to commit",
		"creator", creator.Hex(),
		"token", token.Hex(),
		"bounty", bounty.String(),
		"commitError", cause,
	)
}

// SubmitTask records the caller's content as a candidate solution to an open task.
func (e *Engine) SubmitTask(ctx context.Context, taskId uint64, content string) (uint64, error) {
	const op = OpSubmitTask
	caller, err := e.caller(ctx, op)
	if err != nil {
		return 0, e.fail(ctx, op, caller, taskId, err)
	}

	var submissionId uint64
	err = e.ledger.Write(ctx, op, func(w *taskLedger.Writer) error {
		task, err := w.Task(ctx, taskId)
		if err != nil {
			return err
		}
		if lerr := e.checkText(op, "content", content, e.config.Policy.MaxContentLength); lerr != nil {
			return lerr.WithTask(taskId)
		}
		if lerr := notOpen(op, task); lerr != nil {
			return lerr
		}
		if !e.config.Policy.AllowCreatorSubmission && caller == task.Creator {
			return types.NewLedgerError(op, types.ErrNotAuthorized, "creator may not submit to own task").WithTask(taskId)
		}
		id, err := w.AppendSubmission(ctx, &types.Submission{
			TaskId:      taskId,
			Submitter:   caller,
			Content:     content,
			SubmittedAt: e.now(),
		})
		if err != nil {
			return err
		}
		submissionId = id
		return nil
	})
	if err != nil {
		return 0, e.fail(ctx, op, caller, taskId, internalError(op, err))
	}

	e.logger.Sugar().Infow("Submission recorded",
		"taskId", taskId,
		"submissionId", submissionId,
		"submitter", caller.Hex(),
	)
	e.sink.Emit(ctx, &events.TaskSubmitted{TaskId: taskId, SubmissionId: submissionId, Submitter: caller})
	return submissionId, nil
}

// ApproveSubmission releases the task's bounty to the submission's author and
// marks the task completed. Only the task's creator may approve unless the
// policy says otherwise.
func (e *Engine) ApproveSubmission(ctx context.Context, taskId, submissionId uint64) error {
	const op = OpApproveSubmission
	caller, err := e.caller(ctx, op)
	if err != nil {
		return e.fail(ctx, op, caller, taskId, err)
	}

	// Reserve the payout in the store first so no other approval, here or in
	// another process, can pay the same task.
	var task *types.Task
	var sub *types.Submission
	err = e.ledger.Write(ctx, op, func(w *taskLedger.Writer) error {
		var err error
		if task, err = e.approvable(ctx, &w.Reader, op, taskId); err != nil {
			return err
		}
		if sub, err = w.Submission(ctx, taskId, submissionId); err != nil {
			return err
		}
		if e.config.Policy.RequireCreatorApproval && caller != task.Creator {
			return types.NewLedgerError(op, types.ErrNotAuthorized, "only the task creator may approve").
				WithTask(taskId).WithSubmission(submissionId)
		}
		return w.ReserveSettlement(ctx, task, submissionId)
	})
	if err != nil {
		return e.fail(ctx, op, caller, taskId, internalError(op, err))
	}

	commitCtx := context.WithoutCancel(ctx)
	if err := e.transfer.Push(commitCtx, task.Token, sub.Submitter, task.Bounty); err != nil {
		e.releaseSettlement(commitCtx, taskId, submissionId)
		return e.fail(ctx, op, caller, taskId,
			types.NewLedgerError(op, types.ErrTransferFailed, "").WithTask(taskId).WithSubmission(submissionId).WithCause(err))
	}

	completedAt := e.now()
	err = e.ledger.Write(commitCtx, op, func(w *taskLedger.Writer) error {
		task, err := w.Task(commitCtx, taskId)
		if err != nil {
			return err
		}
		if task.Status != types.TaskStatusOpen || task.SettlingSubmissionId != submissionId {
			return fmt.Errorf("settlement reservation for task %d submission %d was lost", taskId, submissionId)
		}
		sub, err := w.Submission(commitCtx, taskId, submissionId)
		if err != nil {
			return err
		}
		if err := w.CompleteTask(commitCtx, task, sub, completedAt); err != nil {
			return err
		}
		return e.tracker.RecordCompleted(commitCtx, w, sub.Submitter, task.Bounty)
	})
	if err != nil {
		// The bounty has left escrow. The stored reservation keeps the task from paying twice.
		e.logger.Sugar().Errorw("Bounty released but completion was not recorded; task quarantined",
			"taskId", taskId,
			"submissionId", submissionId,
			"winner", sub.Submitter.Hex(),
			"bounty", task.Bounty.String(),
			"token", task.Token.Hex(),
			"error", err,
		)
		return e.fail(ctx, op, caller, taskId, internalError(op, err))
	}

	e.logger.Sugar().Infow("Submission approved",
		"taskId", taskId,
		"submissionId", submissionId,
		"winner", sub.Submitter.Hex(),
		"bounty", task.Bounty.String(),
	)
	e.sink.Emit(ctx, &events.SubmissionApproved{
		TaskId:       taskId,
		SubmissionId: submissionId,
		Winner:       sub.Submitter,
		Bounty:       types.CopyAmount(task.Bounty),
		Token:        task.Token,
	})
	return nil
}

// releaseSettlement drops the reservation taken for a payout that did not
// happen. If the drop cannot be stored the task stays reserved and needs
// manual release.
func (e *Engine) releaseSettlement(ctx context.Context, taskId, submissionId uint64) {
	err := e.ledger.Write(ctx, OpApproveSubmission, func(w *taskLedger.Writer) error {
		task, err := w.Task(ctx, taskId)
		if err != nil {
			return err
		}
		if task.SettlingSubmissionId != submissionId {
			return nil
		}
		return w.ReleaseSettlement(ctx, task)
	})
	if err != nil {
		e.logger.Sugar().Errorw("Failed to release settlement reservation after a failed payout",
			"taskId", taskId,
			"submissionId", submissionId,
			"error", err,
		)
	}
}

func (e *Engine) approvable(ctx context.Context, r *taskLedger.Reader, op string, taskId uint64) (*types.Task, error) {
	task, err := r.Task(ctx, taskId)
	if err != nil {
		return nil, err
	}
	if lerr := notOpen(op, task); lerr != nil {
		return nil, lerr
	}
	return task, nil
}

// notOpen rejects tasks that are completed or have a payout reserved.
func notOpen(op string, task *types.Task) *types.LedgerError {
	if task.Status != types.TaskStatusOpen {
		return types.NewLedgerError(op, types.ErrTaskNotOpen, "task is "+task.Status.String()).WithTask(task.Id)
	}
	if task.IsSettling() {
		return types.NewLedgerError(op, types.ErrTaskNotOpen, "task is settling").WithTask(task.Id)
	}
	return nil
}

func (e *Engine) GetTask(ctx context.Context, taskId uint64) (*types.Task, error) {
	var task *types.Task
	err := e.ledger.Read(ctx, OpGetTask, func(r *taskLedger.Reader) error {
		var err error
		task, err = r.Task(ctx, taskId)
		return err
	})
	return task, err
}

func (e *Engine) GetTaskSubmission(ctx context.Context, taskId, submissionId uint64) (*types.Submission, error) {
	var sub *types.Submission
	err := e.ledger.Read(ctx, OpGetTaskSubmission, func(r *taskLedger.Reader) error {
		var err error
		sub, err = r.Submission(ctx, taskId, submissionId)
		return err
	})
	return sub, err
}

func (e *Engine) GetAllTasksCounter(ctx context.Context) (uint64, error) {
	var count uint64
	err := e.ledger.Read(ctx, OpGetAllTasksCounter, func(r *taskLedger.Reader) error {
		var err error
		count, err = r.TaskCount(ctx)
		return err
	})
	return count, err
}

func (e *Engine) GetTaskSubmissionCounter(ctx context.Context, taskId uint64) (uint64, error) {
	var count uint64
	err := e.ledger.Read(ctx, OpGetTaskSubmissionCounter, func(r *taskLedger.Reader) error {
		var err error
		count, err = r.SubmissionCount(ctx, taskId)
		return err
	})
	return count, err
}

// GetUserStats returns the identity's stats, or zeroes if it has no history.
func (e *Engine) GetUserStats(ctx context.Context, who common.Address) (*types.UserStats, error) {
	var stats *types.UserStats
	err := e.ledger.Read(ctx, OpGetUserStats, func(r *taskLedger.Reader) error {
		var err error
		stats, err = e.tracker.Get(ctx, r, who)
		return err
	})
	return stats, err
}

// ListTasks returns the tasks matching filter in id order.
func (e *Engine) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	var tasks []*types.Task
	err := e.ledger.Read(ctx, OpListTasks, func(r *taskLedger.Reader) error {
		var err error
		tasks, err = r.Tasks(ctx, filter)
		return err
	})
	return tasks, err
}

// ListTaskSubmissions returns a valid task's submissions in id order.
func (e *Engine) ListTaskSubmissions(ctx context.Context, taskId uint64) ([]*types.Submission, error) {
	var subs []*types.Submission
	err := e.ledger.Read(ctx, OpListTaskSubmissions, func(r *taskLedger.Reader) error {
		var err error
		subs, err = r.Submissions(ctx, taskId)
		return err
	})
	return subs, err
}

func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]*types.UserStats, error) {
	var stats []*types.UserStats
	err := e.ledger.Read(ctx, OpLeaderboard, func(r *taskLedger.Reader) error {
		var err error
		stats, err = e.tracker.Leaderboard(ctx, r, limit)
		return err
	})
	return stats, err
}
