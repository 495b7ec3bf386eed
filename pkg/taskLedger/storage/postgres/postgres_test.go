package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dsnEnv = "GIGLEDGER_TEST_POSTGRES_DSN"

func testConfig(t *testing.T) *ledgerConfig.PostgresConfig {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping postgres tests", dsnEnv)
	}
	return &ledgerConfig.PostgresConfig{Dsn: dsn, MaxConns: 8}
}

func TestPostgresLedgerStore(t *testing.T) {
	cfg := testConfig(t)

	suite := &storage.TestSuite{
		NewStore: func() (storage.LedgerStore, error) {
			ctx := context.Background()
			store, err := NewPostgresLedgerStore(ctx, cfg)
			if err != nil {
				return nil, err
			}
			if err := store.Truncate(ctx); err != nil {
				store.Close()
				return nil, err
			}
			return store, nil
		},
	}
	suite.Run(t)
}

func TestPostgresLedgerStore_RequiresDsn(t *testing.T) {
	_, err := NewPostgresLedgerStore(context.Background(), &ledgerConfig.PostgresConfig{})
	assert.Error(t, err)

	_, err = NewPostgresLedgerStore(context.Background(), &ledgerConfig.PostgresConfig{Dsn: "::not a dsn::"})
	require.Error(t, err)
}
