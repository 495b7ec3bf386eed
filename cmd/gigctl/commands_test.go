package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/sogobanwo/GiG-Economy/pkg/auth"
	"github.com/sogobanwo/GiG-Economy/pkg/gigEconomy"
	"github.com/sogobanwo/GiG-Economy/pkg/identity"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerServer"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage/memory"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
	"github.com/sogobanwo/GiG-Economy/pkg/userStats"
	"github.com/sogobanwo/GiG-Economy/pkg/valueTransfer/simulatedToken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	escrow = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	tokenT = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func startLedger(t *testing.T) (string, *simulatedToken.SimulatedToken) {
	gin.SetMode(gin.TestMode)
	l := zaptest.NewLogger(t)

	ledger := taskLedger.NewTaskLedger(memory.NewInMemoryLedgerStore(), nil, l)
	t.Cleanup(func() { _ = ledger.Close() })
	token := simulatedToken.NewSimulatedToken(&simulatedToken.SimulatedTokenConfig{Custodian: escrow}, l)
	engine := gigEconomy.NewEngine(nil, ledger, userStats.NewTracker(), identity.NewContextProvider(escrow), token, nil, l)
	srv := ledgerServer.NewLedgerServer(&ledgerConfig.ServerConfig{Port: 8080}, engine,
		auth.NewVerifier(auth.NewChallengeTokenManager(time.Minute)), nil, l)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, token
}

type user struct {
	key     string
	address common.Address
}

func newUser(t *testing.T) *user {
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &user{key: hexutil.Encode(crypto.FromECDSA(k)), address: crypto.PubkeyToAddress(k.PublicKey)}
}

func run(t *testing.T, url string, who *user, args ...string) (string, error) {
	var buf bytes.Buffer
	argv := []string{"gigctl", "--url", url, "--output", "json"}
	if who != nil {
		argv = append(argv, "--private-key", who.key)
	}
	err := App(&buf).RunContext(context.Background(), append(argv, args...))
	return buf.String(), err
}

func TestGigctl(t *testing.T) {
	color.NoColor = true
	url, token := startLedger(t)
	creator, worker := newUser(t), newUser(t)
	token.Mint(tokenT, creator.address, big.NewInt(1000))
	token.Approve(tokenT, creator.address, escrow, big.NewInt(1000))

	out, err := run(t, url, creator, "tasks", "create", "--bounty", "1000", "--token", tokenT.Hex(), "Design a logo")
	require.NoError(t, err)
	assert.JSONEq(t, `{"taskId":1}`, out)

	out, err = run(t, url, worker, "tasks", "submit", "1", "Logo v1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"submissionId":1}`, out)

	_, err = run(t, url, worker, "tasks", "approve", "1", "1")
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	_, err = run(t, url, creator, "tasks", "approve", "1", "1")
	require.NoError(t, err)

	out, err = run(t, url, nil, "tasks", "get", "1")
	require.NoError(t, err)
	var task ledgerServer.TaskView
	require.NoError(t, json.Unmarshal([]byte(out), &task))
	assert.Equal(t, "completed", task.Status)
	assert.Equal(t, worker.address.Hex(), task.Winner)

	out, err = run(t, url, nil, "counters", "submissions", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"submissions":1}`, out)

	out, err = run(t, url, nil, "stats", worker.address.Hex())
	require.NoError(t, err)
	var stats ledgerServer.UserStatsView
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "1000", stats.TotalEarned)

	t.Run("Should reject malformed arguments before calling the API", func(t *testing.T) {
		_, err := run(t, url, creator, "tasks", "get", "one")
		assert.ErrorContains(t, err, "invalid <task-id>")
		_, err = run(t, url, creator, "tasks", "create", "--bounty", "ten", "--token", tokenT.Hex(), "d")
		assert.ErrorContains(t, err, "invalid --bounty")
		_, err = run(t, url, nil, "stats", "nobody")
		assert.ErrorContains(t, err, "must be a hex address")
	})

	t.Run("Should refuse to mutate without a key", func(t *testing.T) {
		_, err := run(t, url, nil, "tasks", "submit", "1", "x")
		assert.ErrorContains(t, err, "no private key")
	})
}
