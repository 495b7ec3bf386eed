package transactionSigner

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Well-known anvil account 0
const (
	testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

type chainIdBackend struct {
	Backend
	chainID *big.Int
	err     error
}

func (b *chainIdBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.chainID, b.err
}

func TestNewPrivateKeySigner(t *testing.T) {
	l := zaptest.NewLogger(t)

	t.Run("Should derive the address and use the given chain id", func(t *testing.T) {
		s, err := NewPrivateKeySigner(testPrivateKey, big.NewInt(31337), &chainIdBackend{}, l)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(testAddress), s.GetFromAddress())
		assert.Equal(t, int64(31337), s.chainID.Int64())
	})

	t.Run("Should look up the chain id when not given", func(t *testing.T) {
		s, err := NewPrivateKeySigner(testPrivateKey[2:], nil, &chainIdBackend{chainID: big.NewInt(421614)}, l)
		require.NoError(t, err)
		assert.Equal(t, int64(421614), s.chainID.Int64())
	})

	t.Run("Should surface chain id failures", func(t *testing.T) {
		_, err := NewPrivateKeySigner(testPrivateKey, nil, &chainIdBackend{err: errors.New("dial failed")}, l)
		assert.ErrorContains(t, err, "dial failed")
	})

	t.Run("Should reject malformed keys", func(t *testing.T) {
		_, err := NewPrivateKeySigner("0x1234", big.NewInt(1), &chainIdBackend{}, l)
		assert.Error(t, err)
	})
}

func TestPrivateKeySigner_GetTransactOpts(t *testing.T) {
	s, err := NewPrivateKeySigner(testPrivateKey, big.NewInt(31337), &chainIdBackend{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	opts, err := s.GetTransactOpts(ctx)
	require.NoError(t, err)
	assert.True(t, opts.NoSend)
	assert.Equal(t, s.GetFromAddress(), opts.From)

	// The opts signer must produce a transaction recoverable to the signer's address
	to := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(31337),
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
	})
	signed, err := opts.Signer(opts.From, unsigned)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.GetFromAddress(), sender)
}

func TestAddGasBuffer(t *testing.T) {
	assert.Equal(t, uint64(120), addGasBuffer(100))
}

func TestParsePrivateKey(t *testing.T) {
	key, err := ParsePrivateKey(" " + testPrivateKey + " ")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), crypto.PubkeyToAddress(key.PublicKey))
}
