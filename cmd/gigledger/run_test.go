package main

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/sogobanwo/GiG-Economy/pkg/valueTransfer/simulatedToken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewTransferPort(t *testing.T) {
	ctx := context.Background()
	l := zaptest.NewLogger(t)

	t.Run("Should default the simulated custodian", func(t *testing.T) {
		port, custodian, err := newTransferPort(ctx, &ledgerConfig.TransferConfig{Type: ledgerConfig.TransferSimulated}, l)
		require.NoError(t, err)
		assert.Equal(t, DefaultCustodian, custodian)
		assert.IsType(t, &simulatedToken.SimulatedToken{}, port)
	})

	t.Run("Should seed airdrops spendable by the custodian", func(t *testing.T) {
		token := "0x00000000000000000000000000000000000000e1"
		account := "0x00000000000000000000000000000000000000a1"
		cfg := &ledgerConfig.TransferConfig{
			Type:      ledgerConfig.TransferSimulated,
			Custodian: "0x00000000000000000000000000000000000000ee",
			Airdrops: []*ledgerConfig.Airdrop{
				{Token: token, Account: account, Amount: "700"},
				{Token: token, Account: account, Amount: "300"},
			},
		}
		port, custodian, err := newTransferPort(ctx, cfg, l)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(cfg.Custodian), custodian)

		sim := port.(*simulatedToken.SimulatedToken)
		tokenAddr, accountAddr := common.HexToAddress(token), common.HexToAddress(account)
		assert.Equal(t, int64(1000), sim.BalanceOf(tokenAddr, accountAddr).Int64())
		assert.Equal(t, int64(1000), sim.Allowance(tokenAddr, accountAddr, custodian).Int64())
		require.NoError(t, sim.Pull(ctx, tokenAddr, accountAddr, custodian, big.NewInt(1000)))
	})

	t.Run("Should reject unknown transfer types", func(t *testing.T) {
		_, _, err := newTransferPort(ctx, &ledgerConfig.TransferConfig{Type: "ledger"}, l)
		assert.ErrorContains(t, err, "unknown transfer type")
	})
}

func TestNewLedgerStore(t *testing.T) {
	ctx := context.Background()
	l := zaptest.NewLogger(t)

	t.Run("Should build an in-memory store", func(t *testing.T) {
		store, err := newLedgerStore(ctx, &ledgerConfig.StorageConfig{Type: ledgerConfig.StorageMemory}, l)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	t.Run("Should build a badger store", func(t *testing.T) {
		store, err := newLedgerStore(ctx, &ledgerConfig.StorageConfig{
			Type:         ledgerConfig.StorageBadger,
			BadgerConfig: &ledgerConfig.BadgerConfig{Dir: t.TempDir()},
		}, l)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	t.Run("Should reject unknown storage types", func(t *testing.T) {
		_, err := newLedgerStore(ctx, &ledgerConfig.StorageConfig{Type: "etcd"}, l)
		assert.ErrorContains(t, err, "unknown storage type")
	})
}
