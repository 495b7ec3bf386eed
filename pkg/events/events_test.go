package events

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func Test_Sinks(t *testing.T) {
	ctx := context.Background()
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	created := &TaskCreated{TaskId: 1, Creator: creator, Bounty: big.NewInt(1000), Description: "Design a logo"}
	failed := &OperationFailed{Op: "approve_submission", ErrorKind: "not_authorized", TaskId: 1}

	t.Run("Should record events in order and filter by kind", func(t *testing.T) {
		r := NewRecorder()
		r.Emit(ctx, created)
		r.Emit(ctx, failed)

		require.Len(t, r.Events(), 2)
		assert.Equal(t, KindTaskCreated, r.Events()[0].Kind())
		assert.Equal(t, []Event{failed}, r.OfKind(KindOperationFailed))
		assert.Empty(t, r.OfKind(KindSubmissionApproved))
	})

	t.Run("Should fan out to every sink", func(t *testing.T) {
		a, b := NewRecorder(), NewRecorder()
		Multi{a, NoopSink{}, b}.Emit(ctx, created)
		assert.Len(t, a.Events(), 1)
		assert.Len(t, b.Events(), 1)
	})

	t.Run("Should log the event kind with its fields", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		NewLoggingSink(zap.New(core)).Emit(ctx, created)

		entries := logs.FilterMessage(string(KindTaskCreated)).All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, uint64(1), fields["taskId"])
		assert.Equal(t, "1000", fields["bounty"])
		assert.Equal(t, creator.Hex(), fields["creator"])
	})
}
