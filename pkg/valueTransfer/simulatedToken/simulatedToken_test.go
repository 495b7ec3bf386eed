package simulatedToken

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/valueTransfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	token     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	custodian = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func reason(t *testing.T, err error) string {
	var te *valueTransfer.TransferError
	require.True(t, errors.As(err, &te), "expected TransferError, got %v", err)
	assert.ErrorIs(t, err, valueTransfer.ErrTransferRejected)
	return te.Reason
}

func Test_SimulatedToken(t *testing.T) {
	ctx := context.Background()

	t.Run("Should pull within allowance and push from custody", func(t *testing.T) {
		st := NewSimulatedToken(&SimulatedTokenConfig{Custodian: custodian}, zaptest.NewLogger(t))
		st.Mint(token, alice, big.NewInt(1000))
		st.Approve(token, alice, custodian, big.NewInt(600))

		require.NoError(t, st.Pull(ctx, token, alice, custodian, big.NewInt(400)))
		assert.Equal(t, int64(600), st.BalanceOf(token, alice).Int64())
		assert.Equal(t, int64(400), st.BalanceOf(token, custodian).Int64())
		assert.Equal(t, int64(200), st.Allowance(token, alice, custodian).Int64())

		require.NoError(t, st.Push(ctx, token, bob, big.NewInt(400)))
		assert.Equal(t, int64(0), st.BalanceOf(token, custodian).Int64())
		assert.Equal(t, int64(400), st.BalanceOf(token, bob).Int64())
		assert.Equal(t, int64(1000), st.TotalSupply(token).Int64())
	})

	t.Run("Should reject and move nothing", func(t *testing.T) {
		st := NewSimulatedToken(&SimulatedTokenConfig{Custodian: custodian}, zaptest.NewLogger(t))
		st.Mint(token, alice, big.NewInt(100))

		err := st.Pull(ctx, token, alice, custodian, big.NewInt(50))
		assert.Equal(t, valueTransfer.ReasonInsufficientAllowance, reason(t, err))

		st.Approve(token, alice, custodian, big.NewInt(500))
		err = st.Pull(ctx, token, alice, custodian, big.NewInt(200))
		assert.Equal(t, valueTransfer.ReasonInsufficientBalance, reason(t, err))

		err = st.Pull(ctx, token, alice, custodian, big.NewInt(0))
		assert.Equal(t, valueTransfer.ReasonInvalidAmount, reason(t, err))

		err = st.Push(ctx, token, bob, big.NewInt(1))
		assert.Equal(t, valueTransfer.ReasonInsufficientBalance, reason(t, err))

		assert.Equal(t, int64(100), st.BalanceOf(token, alice).Int64())
		assert.Equal(t, int64(500), st.Allowance(token, alice, custodian).Int64())
	})

	t.Run("Should keep separate books per token", func(t *testing.T) {
		other := common.HexToAddress("0x00000000000000000000000000000000000000e2")
		st := NewSimulatedToken(&SimulatedTokenConfig{Custodian: custodian}, zaptest.NewLogger(t))
		st.Mint(token, alice, big.NewInt(10))

		assert.Equal(t, int64(10), st.BalanceOf(token, alice).Int64())
		assert.Equal(t, int64(0), st.BalanceOf(other, alice).Int64())
	})

	t.Run("Should airdrop once to non-custodian accounts", func(t *testing.T) {
		st := NewSimulatedToken(&SimulatedTokenConfig{Custodian: custodian, AirdropAmount: big.NewInt(5000)}, zaptest.NewLogger(t))

		assert.Equal(t, int64(5000), st.BalanceOf(token, alice).Int64())
		assert.Equal(t, int64(5000), st.BalanceOf(token, alice).Int64())
		assert.Equal(t, int64(0), st.BalanceOf(token, custodian).Int64())
		assert.Equal(t, int64(5000), st.TotalSupply(token).Int64())
	})

	t.Run("Should honor cancelled contexts", func(t *testing.T) {
		st := NewSimulatedToken(&SimulatedTokenConfig{Custodian: custodian}, zaptest.NewLogger(t))
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, st.Push(cancelled, token, bob, big.NewInt(1)), context.Canceled)
	})
}
