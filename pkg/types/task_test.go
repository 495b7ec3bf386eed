package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "open", TaskStatusOpen.String())
		assert.Equal(t, "completed", TaskStatusCompleted.String())
		assert.Equal(t, "disputed", TaskStatusDisputed.String())
		assert.Equal(t, "unknown(7)", TaskStatus(7).String())
	})

	t.Run("Parse", func(t *testing.T) {
		tests := []struct {
			in      string
			want    TaskStatus
			wantErr bool
		}{
			{"open", TaskStatusOpen, false},
			{"Completed", TaskStatusCompleted, false},
			{"2", TaskStatusDisputed, false},
			{"submitted", 0, true},
		}
		for _, tt := range tests {
			t.Run(tt.in, func(t *testing.T) {
				got, err := ParseTaskStatus(tt.in)
				if tt.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	})

	t.Run("JSONUsesNames", func(t *testing.T) {
		task := &Task{Id: 1, Status: TaskStatusCompleted, Bounty: big.NewInt(5)}
		data, err := json.Marshal(task)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"status":"completed"`)

		var decoded Task
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, TaskStatusCompleted, decoded.Status)
		assert.Equal(t, 0, decoded.Bounty.Cmp(big.NewInt(5)))
	})
}

func TestTaskCloneDoesNotAlias(t *testing.T) {
	completedAt := time.Now()
	task := &Task{
		Id:          3,
		Creator:     common.HexToAddress("0x01"),
		Bounty:      big.NewInt(1000),
		CompletedAt: &completedAt,
	}
	c := task.Clone()
	c.Bounty.SetInt64(1)
	*c.CompletedAt = completedAt.Add(time.Hour)

	assert.Equal(t, int64(1000), task.Bounty.Int64())
	assert.True(t, task.CompletedAt.Equal(completedAt))
	assert.False(t, task.HasWinner())
}

func TestTaskFilter(t *testing.T) {
	a := common.HexToAddress("0xa")
	b := common.HexToAddress("0xb")
	completed := TaskStatusCompleted
	task := &Task{Creator: a, Winner: b, Status: TaskStatusCompleted}

	assert.True(t, TaskFilter{}.Matches(task))
	assert.True(t, TaskFilter{Status: &completed, Creator: &a}.Matches(task))
	assert.True(t, TaskFilter{Winner: &b}.Matches(task))
	assert.False(t, TaskFilter{Winner: &a}.Matches(task))
}

func TestErrorKind(t *testing.T) {
	err := NewLedgerError("approve_submission", ErrNotAuthorized, "caller is not the task creator").WithTask(1).WithSubmission(2)
	wrapped := fmt.Errorf("handler: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotAuthorized))
	assert.False(t, errors.Is(wrapped, ErrTaskNotOpen))
	assert.Equal(t, "not_authorized", ErrorKind(wrapped))
	assert.Equal(t, "approve_submission: not authorized (task 1, submission 2): caller is not the task creator", err.Error())

	cause := errors.New("disk full")
	withCause := NewLedgerError("create_task", ErrTransferFailed, "").WithCause(cause)
	assert.True(t, errors.Is(withCause, cause))
	assert.Equal(t, "transfer_failed", ErrorKind(withCause))

	assert.Equal(t, KindInternal, ErrorKind(cause))
	assert.Equal(t, "", ErrorKind(nil))

	assert.Equal(t, ErrTaskNotOpen, KindFromName("task_not_open"))
	assert.Nil(t, KindFromName(KindInternal))
}

func TestKindNames(t *testing.T) {
	names := KindNames()
	assert.Len(t, names, 6)
	for _, name := range names {
		kind := KindFromName(name)
		require.NotNil(t, kind, name)
		assert.Equal(t, name, ErrorKind(NewLedgerError("op", kind, "")))
	}
	assert.NotContains(t, names, KindInternal)
}
