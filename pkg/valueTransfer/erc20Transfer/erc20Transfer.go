// Package erc20Transfer implements valueTransfer.Port against ERC20 token
// contracts. The escrow identity is the signer's address: Pull is
// transferFrom spent by the signer and Push is transfer sent by the signer.
package erc20Transfer

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sogobanwo/GiG-Economy/pkg/transactionSigner"
	"github.com/sogobanwo/GiG-Economy/pkg/valueTransfer"
	"go.uber.org/zap"
)

const erc20ABIJson = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ERC20ABI is the subset of the ERC20 interface the port calls.
var ERC20ABI = mustParseABI(erc20ABIJson)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

type Erc20Transfer struct {
	backend bind.ContractBackend
	signer  transactionSigner.TransactionSigner
	logger  *zap.Logger
}

func NewErc20Transfer(backend bind.ContractBackend, signer transactionSigner.TransactionSigner, l *zap.Logger) *Erc20Transfer {
	return &Erc20Transfer{
		backend: backend,
		signer:  signer,
		logger:  l,
	}
}

// Custodian is the address that holds escrowed funds.
func (e *Erc20Transfer) Custodian() common.Address {
	return e.signer.GetFromAddress()
}

func (e *Erc20Transfer) bind(asset common.Address) *bind.BoundContract {
	return bind.NewBoundContract(asset, ERC20ABI, e.backend, e.backend, e.backend)
}

func (e *Erc20Transfer) callUint(ctx context.Context, asset common.Address, method string, args ...any) (*big.Int, error) {
	var out []any
	if err := e.bind(asset).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to call %s on %s", method, asset.Hex())
	}
	if len(out) != 1 {
		return nil, errors.Errorf("unexpected %s result length %d", method, len(out))
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected %s result type %T", method, out[0])
	}
	return value, nil
}

func (e *Erc20Transfer) BalanceOf(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	return e.callUint(ctx, asset, "balanceOf", owner)
}

func (e *Erc20Transfer) Allowance(ctx context.Context, asset, owner, spender common.Address) (*big.Int, error) {
	return e.callUint(ctx, asset, "allowance", owner, spender)
}

func (e *Erc20Transfer) send(ctx context.Context, asset common.Address, method string, args ...any) error {
	opts, err := e.signer.GetTransactOpts(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transact opts")
	}
	tx, err := e.bind(asset).Transact(opts, method, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to build %s transaction", method)
	}
	// A broadcast transaction may still mine, so waiting for it must outlive the caller.
	receipt, err := e.signer.SignAndSendTransaction(context.WithoutCancel(ctx), tx)
	if err != nil {
		return errors.Wrapf(err, "failed to send %s transaction", method)
	}
	e.logger.Sugar().Infow("ERC20 transaction mined",
		"method", method,
		"asset", asset.Hex(),
		"txHash", receipt.TxHash.Hex(),
		"blockNumber", receipt.BlockNumber,
	)
	return nil
}

// Pull checks allowance and balance, then calls transferFrom(from, to, amount).
func (e *Erc20Transfer) Pull(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	reject := func(reason string, err error) error {
		return &valueTransfer.TransferError{Op: "pull", Asset: asset, From: from, To: to, Amount: amount, Reason: reason, Err: err}
	}
	if amount == nil || amount.Sign() <= 0 {
		return reject(valueTransfer.ReasonInvalidAmount, nil)
	}

	allowance, err := e.Allowance(ctx, asset, from, e.Custodian())
	if err != nil {
		return reject(valueTransfer.ReasonChainFailure, err)
	}
	if allowance.Cmp(amount) < 0 {
		return reject(valueTransfer.ReasonInsufficientAllowance, nil)
	}
	balance, err := e.BalanceOf(ctx, asset, from)
	if err != nil {
		return reject(valueTransfer.ReasonChainFailure, err)
	}
	if balance.Cmp(amount) < 0 {
		return reject(valueTransfer.ReasonInsufficientBalance, nil)
	}

	if err := e.send(ctx, asset, "transferFrom", from, to, amount); err != nil {
		return reject(valueTransfer.ReasonChainFailure, err)
	}
	return nil
}

// Push checks the custodian's balance, then calls transfer(to, amount).
func (e *Erc20Transfer) Push(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	custodian := e.Custodian()
	reject := func(reason string, err error) error {
		return &valueTransfer.TransferError{Op: "push", Asset: asset, From: custodian, To: to, Amount: amount, Reason: reason, Err: err}
	}
	if amount == nil || amount.Sign() <= 0 {
		return reject(valueTransfer.ReasonInvalidAmount, nil)
	}

	balance, err := e.BalanceOf(ctx, asset, custodian)
	if err != nil {
		return reject(valueTransfer.ReasonChainFailure, err)
	}
	if balance.Cmp(amount) < 0 {
		return reject(valueTransfer.ReasonInsufficientBalance, nil)
	}

	if err := e.send(ctx, asset, "transfer", to, amount); err != nil {
		return reject(valueTransfer.ReasonChainFailure, err)
	}
	return nil
}
