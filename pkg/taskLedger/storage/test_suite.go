package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSuite defines a test suite that all storage implementations must pass.
// NewStore must return an empty store on every call.
type TestSuite struct {
	NewStore func() (LedgerStore, error)
}

// Run executes all storage interface compliance tests
func (s *TestSuite) Run(t *testing.T) {
	t.Run("Tasks", s.testTasks)
	t.Run("SettlementMarker", s.testSettlementMarker)
	t.Run("Submissions", s.testSubmissions)
	t.Run("Counters", s.testCounters)
	t.Run("UserStats", s.testUserStats)
	t.Run("RollbackOnError", s.testRollbackOnError)
	t.Run("ReadYourWrites", s.testReadYourWrites)
	t.Run("ConflictDetection", s.testConflictDetection)
	t.Run("Lifecycle", s.testLifecycle)
	t.Run("ConcurrentAccess", s.testConcurrentAccess)
}

var (
	suiteCreator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	suiteWorker  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	suiteToken   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func suiteTask(id uint64) *types.Task {
	return &types.Task{
		Id:          id,
		Creator:     suiteCreator,
		Bounty:      big.NewInt(int64(1000 * id)),
		Token:       suiteToken,
		Description: fmt.Sprintf("task %d", id),
		Status:      types.TaskStatusOpen,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *TestSuite) testSettlementMarker(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	get := func() *types.Task {
		var task *types.Task
		require.NoError(t, store.View(ctx, func(tx LedgerReader) error {
			var err error
			task, err = tx.GetTask(ctx, 1)
			return err
		}))
		return task
	}

	task := suiteTask(1)
	task.SettlingSubmissionId = 3
	require.NoError(t, store.Update(ctx, func(tx LedgerTx) error {
		return tx.PutTask(ctx, task)
	}))
	assert.Equal(t, uint64(3), get().SettlingSubmissionId)

	require.NoError(t, store.Update(ctx, func(tx LedgerTx) error {
		task, err := tx.GetTask(ctx, 1)
		if err != nil {
			return err
		}
		task.SettlingSubmissionId = 0
		return tx.PutTask(ctx, task)
	}))
	assert.False(t, get().IsSettling())
}

func (s *TestSuite) testTasks(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	// Test getting non-existent task
	err = store.View(ctx, func(tx LedgerReader) error {
		_, err := tx.GetTask(ctx, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	// Test saving and getting tasks
	err = store.Update(ctx, func(tx LedgerTx) error {
		for id := uint64(1); id <= 3; id++ {
			if err := tx.PutTask(ctx, suiteTask(id)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var retrieved *types.Task
	err = store.View(ctx, func(tx LedgerReader) error {
		var err error
		retrieved, err = tx.GetTask(ctx, 2)
		return err
	})
	require.NoError(t, err)
	expected := suiteTask(2)
	assert.Equal(t, expected.Id, retrieved.Id)
	assert.Equal(t, expected.Creator, retrieved.Creator)
	assert.Equal(t, expected.Token, retrieved.Token)
	assert.Equal(t, expected.Description, retrieved.Description)
	assert.Equal(t, 0, expected.Bounty.Cmp(retrieved.Bounty))
	assert.Equal(t, types.TaskStatusOpen, retrieved.Status)
	assert.False(t, retrieved.HasWinner())
	assert.Nil(t, retrieved.CompletedAt)

	// Test updating a task
	completedAt := time.Now().UTC().Truncate(time.Microsecond)
	err = store.Update(ctx, func(tx LedgerTx) error {
		task, err := tx.GetTask(ctx, 2)
		if err != nil {
			return err
		}
		task.Status = types.TaskStatusCompleted
		task.Winner = suiteWorker
		task.CompletedAt = &completedAt
		return tx.PutTask(ctx, task)
	})
	require.NoError(t, err)

	// Test listing with and without filters
	var all, completed, byWinner []*types.Task
	err = store.View(ctx, func(tx LedgerReader) error {
		var err error
		if all, err = tx.ListTasks(ctx, types.TaskFilter{}); err != nil {
			return err
		}
		status := types.TaskStatusCompleted
		if completed, err = tx.ListTasks(ctx, types.TaskFilter{Status: &status}); err != nil {
			return err
		}
		byWinner, err = tx.ListTasks(ctx, types.TaskFilter{Winner: &suiteWorker})
		return err
	})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, task := range all {
		assert.Equal(t, uint64(i+1), task.Id)
	}
	require.Len(t, completed, 1)
	assert.Equal(t, uint64(2), completed[0].Id)
	assert.Equal(t, suiteWorker, completed[0].Winner)
	require.NotNil(t, completed[0].CompletedAt)
	assert.True(t, completed[0].CompletedAt.Equal(completedAt))
	assert.Len(t, byWinner, 1)

	// Returned records must not alias stored ones
	all[0].Bounty.SetInt64(1)
	err = store.View(ctx, func(tx LedgerReader) error {
		var err error
		retrieved, err = tx.GetTask(ctx, 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), retrieved.Bounty.Int64())
}

func (s *TestSuite) testSubmissions(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	err = store.View(ctx, func(tx LedgerReader) error {
		_, err := tx.GetSubmission(ctx, 1, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Update(ctx, func(tx LedgerTx) error {
		if err := tx.PutTask(ctx, suiteTask(1)); err != nil {
			return err
		}
		if err := tx.PutTask(ctx, suiteTask(2)); err != nil {
			return err
		}
		for id := uint64(1); id <= 2; id++ {
			err := tx.PutSubmission(ctx, &types.Submission{
				Id:          id,
				TaskId:      1,
				Submitter:   suiteWorker,
				Content:     fmt.Sprintf("answer %d", id),
				SubmittedAt: time.Now().UTC().Truncate(time.Microsecond),
			})
			if err != nil {
				return err
			}
		}
		return tx.PutSubmission(ctx, &types.Submission{Id: 1, TaskId: 2, Submitter: suiteCreator, Content: "other"})
	})
	require.NoError(t, err)

	var first, second []*types.Submission
	var got *types.Submission
	err = store.View(ctx, func(tx LedgerReader) error {
		var err error
		if first, err = tx.ListSubmissions(ctx, 1); err != nil {
			return err
		}
		if second, err = tx.ListSubmissions(ctx, 2); err != nil {
			return err
		}
		got, err = tx.GetSubmission(ctx, 1, 2)
		return err
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, uint64(1), first[0].Id)
	assert.Equal(t, uint64(2), first[1].Id)
	require.Len(t, second, 1)
	assert.Equal(t, "other", second[0].Content)
	assert.Equal(t, "answer 2", got.Content)
	assert.Equal(t, suiteWorker, got.Submitter)
	assert.False(t, got.Approved)

	// Submission ids are scoped to their task
	err = store.View(ctx, func(tx LedgerReader) error {
		_, err := tx.GetSubmission(ctx, 2, 2)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Update(ctx, func(tx LedgerTx) error {
		sub, err := tx.GetSubmission(ctx, 1, 1)
		if err != nil {
			return err
		}
		sub.Approved = true
		return tx.PutSubmission(ctx, sub)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx LedgerReader) error {
		var err error
		got, err = tx.GetSubmission(ctx, 1, 1)
		return err
	})
	require.NoError(t, err)
	assert.True(t, got.Approved)
}

func (s *TestSuite) testCounters(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	// Counters start at zero
	err = store.View(ctx, func(tx LedgerReader) error {
		tasks, err := tx.GetTaskCounter(ctx)
		if err != nil {
			return err
		}
		subs, err := tx.GetSubmissionCounter(ctx, 42)
		if err != nil {
			return err
		}
		assert.Zero(t, tasks)
		assert.Zero(t, subs)
		return nil
	})
	require.NoError(t, err)

	err = store.Update(ctx, func(tx LedgerTx) error {
		if err := tx.SetTaskCounter(ctx, 7); err != nil {
			return err
		}
		if err := tx.SetSubmissionCounter(ctx, 1, 3); err != nil {
			return err
		}
		return tx.SetSubmissionCounter(ctx, 2, 11)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx LedgerReader) error {
		tasks, err := tx.GetTaskCounter(ctx)
		if err != nil {
			return err
		}
		one, err := tx.GetSubmissionCounter(ctx, 1)
		if err != nil {
			return err
		}
		two, err := tx.GetSubmissionCounter(ctx, 2)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(7), tasks)
		assert.Equal(t, uint64(3), one)
		assert.Equal(t, uint64(11), two)
		return nil
	})
	require.NoError(t, err)
}

func (s *TestSuite) testUserStats(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	err = store.View(ctx, func(tx LedgerReader) error {
		_, err := tx.GetUserStats(ctx, suiteWorker)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	earned, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	err = store.Update(ctx, func(tx LedgerTx) error {
		if err := tx.PutUserStats(ctx, &types.UserStats{Identity: suiteCreator, CreatedCount: 2, TotalEarned: new(big.Int)}); err != nil {
			return err
		}
		return tx.PutUserStats(ctx, &types.UserStats{Identity: suiteWorker, CompletedCount: 1, TotalEarned: earned})
	})
	require.NoError(t, err)

	var worker *types.UserStats
	var all []*types.UserStats
	err = store.View(ctx, func(tx LedgerReader) error {
		var err error
		if worker, err = tx.GetUserStats(ctx, suiteWorker); err != nil {
			return err
		}
		all, err = tx.ListUserStats(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, suiteWorker, worker.Identity)
	assert.Equal(t, uint64(1), worker.CompletedCount)
	assert.Equal(t, 0, earned.Cmp(worker.TotalEarned))
	assert.Len(t, all, 2)
}

func (s *TestSuite) testRollbackOnError(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	boom := errors.New("boom")

	err = store.Update(ctx, func(tx LedgerTx) error {
		if err := tx.SetTaskCounter(ctx, 1); err != nil {
			return err
		}
		if err := tx.PutTask(ctx, suiteTask(1)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.View(ctx, func(tx LedgerReader) error {
		counter, err := tx.GetTaskCounter(ctx)
		if err != nil {
			return err
		}
		assert.Zero(t, counter)
		_, err = tx.GetTask(ctx, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func (s *TestSuite) testReadYourWrites(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	err = store.Update(ctx, func(tx LedgerTx) error {
		if err := tx.SetTaskCounter(ctx, 1); err != nil {
			return err
		}
		if err := tx.PutTask(ctx, suiteTask(1)); err != nil {
			return err
		}
		counter, err := tx.GetTaskCounter(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(1), counter)
		task, err := tx.GetTask(ctx, 1)
		if err != nil {
			return err
		}
		assert.Equal(t, "task 1", task.Description)
		tasks, err := tx.ListTasks(ctx, types.TaskFilter{})
		if err != nil {
			return err
		}
		assert.Len(t, tasks, 1)
		return nil
	})
	require.NoError(t, err)
}

func (s *TestSuite) testConflictDetection(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	err = store.Update(ctx, func(tx LedgerTx) error {
		return tx.SetTaskCounter(ctx, 1)
	})
	require.NoError(t, err)

	// A unit of work that read the counter must not commit over a concurrent increment
	err = store.Update(ctx, func(tx LedgerTx) error {
		counter, err := tx.GetTaskCounter(ctx)
		if err != nil {
			return err
		}

		innerErr := store.Update(ctx, func(inner LedgerTx) error {
			return inner.SetTaskCounter(ctx, counter+1)
		})
		require.NoError(t, innerErr)

		return tx.SetTaskCounter(ctx, counter+1)
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, IsRetryable(err))

	err = store.View(ctx, func(tx LedgerReader) error {
		counter, err := tx.GetTaskCounter(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(2), counter)
		return nil
	})
	require.NoError(t, err)
}

func (s *TestSuite) testLifecycle(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)

	ctx := context.Background()

	// Add some data
	err = store.Update(ctx, func(tx LedgerTx) error {
		return tx.PutTask(ctx, suiteTask(1))
	})
	require.NoError(t, err)

	// Close the store
	err = store.Close()
	require.NoError(t, err)

	// Operations after close should fail
	err = store.Update(ctx, func(tx LedgerTx) error {
		return tx.PutTask(ctx, suiteTask(2))
	})
	assert.ErrorIs(t, err, ErrStoreClosed)

	err = store.View(ctx, func(tx LedgerReader) error {
		_, err := tx.GetTask(ctx, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func (s *TestSuite) testConcurrentAccess(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	const writers = 5
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*2)

	// Concurrent read-modify-write of one counter, retried on conflict
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				for {
					err := store.Update(ctx, func(tx LedgerTx) error {
						counter, err := tx.GetTaskCounter(ctx)
						if err != nil {
							return err
						}
						if err := tx.PutTask(ctx, suiteTask(counter+1)); err != nil {
							return err
						}
						return tx.SetTaskCounter(ctx, counter+1)
					})
					if err == nil {
						break
					}
					if !IsRetryable(err) {
						errs <- err
						return
					}
				}
			}
		}()
	}

	// Concurrent reads
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				err := store.View(ctx, func(tx LedgerReader) error {
					_, err := tx.ListTasks(ctx, types.TaskFilter{})
					return err
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("Timeout waiting for concurrent operations")
	}
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent access error: %v", err)
	}

	err = store.View(ctx, func(tx LedgerReader) error {
		counter, err := tx.GetTaskCounter(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(writers*perWriter), counter)
		tasks, err := tx.ListTasks(ctx, types.TaskFilter{})
		if err != nil {
			return err
		}
		require.Len(t, tasks, writers*perWriter)
		for i, task := range tasks {
			assert.Equal(t, uint64(i+1), task.Id)
		}
		return nil
	})
	require.NoError(t, err)
}
