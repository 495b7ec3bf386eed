package valueTransfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTransferRejected is wrapped by every TransferError.
var ErrTransferRejected = errors.New("transfer rejected")

// Common rejection reasons.
const (
	ReasonInsufficientBalance   = "insufficient balance"
	ReasonInsufficientAllowance = "insufficient allowance"
	ReasonInvalidAmount         = "invalid amount"
	ReasonChainFailure          = "chain call failed"
)

// Port moves fungible value. Both calls are synchronous and either move the
// full amount or return an error having moved nothing.
type Port interface {
	// Pull moves amount of asset from one identity into the custody of another.
	Pull(ctx context.Context, asset, from, to common.Address, amount *big.Int) error

	// Push releases amount of asset from custody to an identity.
	Push(ctx context.Context, asset, to common.Address, amount *big.Int) error
}

// TransferError describes a rejected movement of value.
type TransferError struct {
	Op     string
	Asset  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
	Reason string
	Err    error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s %s of %s from %s to %s: %s", e.Op, e.Amount, e.Asset.Hex(), e.From.Hex(), e.To.Hex(), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransferRejected}
	}
	return []error{ErrTransferRejected, e.Err}
}
