package badger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerLedgerStore(t *testing.T) {
	// Every store gets a fresh directory so subtests start empty
	suite := &storage.TestSuite{
		NewStore: func() (storage.LedgerStore, error) {
			return NewBadgerLedgerStore(&ledgerConfig.BadgerConfig{
				Dir: t.TempDir(),
			})
		},
	}
	suite.Run(t)
}

func TestBadgerLedgerStore_InMemory(t *testing.T) {
	suite := &storage.TestSuite{
		NewStore: func() (storage.LedgerStore, error) {
			return NewBadgerLedgerStore(&ledgerConfig.BadgerConfig{InMemory: true})
		},
	}
	suite.Run(t)
}

func TestBadgerLedgerStore_Persistence(t *testing.T) {
	cfg := &ledgerConfig.BadgerConfig{
		Dir: t.TempDir(),
	}

	ctx := context.Background()
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	winner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bounty, ok := new(big.Int).SetString("5000000000000000000000", 10)
	require.True(t, ok)

	// Create store, save data, and close
	{
		store, err := NewBadgerLedgerStore(cfg)
		require.NoError(t, err)

		err = store.Update(ctx, func(tx storage.LedgerTx) error {
			completedAt := time.Now().UTC()
			if err := tx.PutTask(ctx, &types.Task{
				Id:          1,
				Creator:     creator,
				Bounty:      bounty,
				Description: "persist me",
				Status:      types.TaskStatusCompleted,
				Winner:      winner,
				CompletedAt: &completedAt,
			}); err != nil {
				return err
			}
			if err := tx.SetTaskCounter(ctx, 1); err != nil {
				return err
			}
			if err := tx.PutSubmission(ctx, &types.Submission{Id: 1, TaskId: 1, Submitter: winner, Content: "done", Approved: true}); err != nil {
				return err
			}
			if err := tx.SetSubmissionCounter(ctx, 1, 1); err != nil {
				return err
			}
			return tx.PutUserStats(ctx, &types.UserStats{Identity: winner, CompletedCount: 1, TotalEarned: bounty})
		})
		require.NoError(t, err)

		require.NoError(t, store.Close())
	}

	// Reopen store and verify data persists
	{
		store, err := NewBadgerLedgerStore(cfg)
		require.NoError(t, err)
		defer store.Close()

		err = store.View(ctx, func(tx storage.LedgerReader) error {
			counter, err := tx.GetTaskCounter(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), counter)

			task, err := tx.GetTask(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "persist me", task.Description)
			assert.Equal(t, types.TaskStatusCompleted, task.Status)
			assert.Equal(t, winner, task.Winner)
			assert.Equal(t, 0, bounty.Cmp(task.Bounty))

			sub, err := tx.GetSubmission(ctx, 1, 1)
			require.NoError(t, err)
			assert.True(t, sub.Approved)

			stats, err := tx.GetUserStats(ctx, winner)
			require.NoError(t, err)
			assert.Equal(t, 0, bounty.Cmp(stats.TotalEarned))
			return nil
		})
		require.NoError(t, err)
	}
}

func TestBadgerLedgerStore_NilConfig(t *testing.T) {
	_, err := NewBadgerLedgerStore(nil)
	assert.Error(t, err)
}

func TestBadgerLedgerStore_SubmissionPrefixIsolation(t *testing.T) {
	// Task 1's prefix must not match task 10's submissions
	store, err := NewBadgerLedgerStore(&ledgerConfig.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	err = store.Update(ctx, func(tx storage.LedgerTx) error {
		if err := tx.PutSubmission(ctx, &types.Submission{Id: 1, TaskId: 1, Content: "one"}); err != nil {
			return err
		}
		return tx.PutSubmission(ctx, &types.Submission{Id: 1, TaskId: 10, Content: "ten"})
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx storage.LedgerReader) error {
		subs, err := tx.ListSubmissions(ctx, 1)
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "one", subs[0].Content)
		return nil
	})
	require.NoError(t, err)
}
