package userStats

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
)

// Tracker keeps per-identity activity counters. It does no validation of its
// own; callers record only operations that already passed every precondition.
type Tracker struct{}

func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordCreated bumps the creator's created count, creating the record if needed.
func (t *Tracker) RecordCreated(ctx context.Context, w *taskLedger.Writer, creator common.Address) error {
	stats, err := w.UserStats(ctx, creator)
	if err != nil {
		return err
	}
	stats.CreatedCount++
	return w.PutUserStats(ctx, stats)
}

// RecordCompleted credits a winner with one completed task and the bounty amount.
func (t *Tracker) RecordCompleted(ctx context.Context, w *taskLedger.Writer, winner common.Address, amount *big.Int) error {
	stats, err := w.UserStats(ctx, winner)
	if err != nil {
		return err
	}
	stats.CompletedCount++
	stats.TotalEarned = new(big.Int).Add(types.CopyAmount(stats.TotalEarned), types.CopyAmount(amount))
	return w.PutUserStats(ctx, stats)
}

// Get returns the stats for identity, or a zero record. It never writes.
func (t *Tracker) Get(ctx context.Context, r *taskLedger.Reader, identity common.Address) (*types.UserStats, error) {
	return r.UserStats(ctx, identity)
}

// Leaderboard returns up to limit identities ordered by total earned, then
// completed count, descending. A limit of zero returns everyone.
func (t *Tracker) Leaderboard(ctx context.Context, r *taskLedger.Reader, limit int) ([]*types.UserStats, error) {
	all, err := r.AllUserStats(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		if c := all[i].TotalEarned.Cmp(all[j].TotalEarned); c != 0 {
			return c > 0
		}
		return all[i].CompletedCount > all[j].CompletedCount
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
