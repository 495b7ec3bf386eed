package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

var fallbackGasTipCap = big.NewInt(15000000000)

// PrivateKeySigner implements TransactionSigner using a private key
type PrivateKeySigner struct {
	backend     Backend
	logger      *zap.Logger
	chainID     *big.Int
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
}

// NewPrivateKeySigner creates a new private key signer. A nil chainID is
// looked up from the backend.
func NewPrivateKeySigner(privateKeyHex string, chainID *big.Int, backend Backend, l *zap.Logger) (*PrivateKeySigner, error) {
	privateKey, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	if chainID == nil {
		chainID, err = backend.ChainID(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to get chain ID: %w", err)
		}
	}

	return &PrivateKeySigner{
		backend:     backend,
		logger:      l,
		chainID:     chainID,
		privateKey:  privateKey,
		fromAddress: crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// GetTransactOpts returns transaction options for creating unsigned transactions
func (pks *PrivateKeySigner) GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(pks.privateKey, pks.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.NoSend = true
	opts.Context = ctx
	return opts, nil
}

// GetFromAddress returns the address that will be used for signing
func (pks *PrivateKeySigner) GetFromAddress() common.Address {
	return pks.fromAddress
}

// SignAndSendTransaction re-estimates fees with a buffer, sends the transaction and waits for it to be mined
func (pks *PrivateKeySigner) SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx.To() == nil {
		return nil, fmt.Errorf("contract creation is not supported")
	}

	gasTipCap, err := pks.backend.SuggestGasTipCap(ctx)
	if err != nil {
		pks.logger.Sugar().Debugw("Cannot get gasTipCap, using fallback",
			"error", err.Error(),
		)
		gasTipCap = fallbackGasTipCap
	}

	header, err := pks.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	// basefee * 3/2 + tip
	gasFeeCap := new(big.Int).Add(new(big.Int).Div(new(big.Int).Mul(baseFee, big.NewInt(3)), big.NewInt(2)), gasTipCap)

	gasLimit, err := pks.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      pks.fromAddress,
		To:        tx.To(),
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Data:      tx.Data(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(pks.privateKey, pks.chainID)
	if err != nil {
		return nil, fmt.Errorf("cannot create transactOpts: %w", err)
	}
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(tx.Nonce())
	opts.GasTipCap = gasTipCap
	opts.GasFeeCap = gasFeeCap
	opts.GasLimit = addGasBuffer(gasLimit)

	contract := bind.NewBoundContract(*tx.To(), abi.ABI{}, pks.backend, pks.backend, pks.backend)

	sent, err := contract.RawTransact(opts, tx.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	pks.logger.Sugar().Infow("Sent transaction",
		"hash", sent.Hash().Hex(),
		"gasTipCap", gasTipCap.String(),
		"gasFeeCap", gasFeeCap.String(),
		"gasLimit", opts.GasLimit,
	)

	receipt, err := bind.WaitMined(ctx, pks.backend, sent)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction %s to mine: %w", sent.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		pks.logger.Sugar().Errorw("Transaction reverted",
			"hash", sent.Hash().Hex(),
			"gasUsed", receipt.GasUsed,
		)
		return nil, fmt.Errorf("transaction %s reverted", sent.Hash().Hex())
	}
	return receipt, nil
}

// addGasBuffer adds a 20% buffer to the gas limit
func addGasBuffer(gasLimit uint64) uint64 {
	return 6 * gasLimit / 5
}
