// Package identity supplies the caller of the current operation and the
// ledger's own escrow identity.
package identity

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoCaller is returned when a context does not carry an authenticated caller.
var ErrNoCaller = errors.New("no authenticated caller")

// Provider is consulted once per operation.
type Provider interface {
	CurrentCaller(ctx context.Context) (common.Address, error)
	SelfIdentity() common.Address
}

type callerKey struct{}

// WithCaller returns a context that carries the authenticated caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller stored by WithCaller.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}

// ContextProvider reads the caller from the request context. The HTTP auth
// middleware is the only code that should attach one.
type ContextProvider struct {
	self common.Address
}

func NewContextProvider(self common.Address) *ContextProvider {
	return &ContextProvider{self: self}
}

func (p *ContextProvider) CurrentCaller(ctx context.Context) (common.Address, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok || caller == (common.Address{}) {
		return common.Address{}, ErrNoCaller
	}
	return caller, nil
}

func (p *ContextProvider) SelfIdentity() common.Address {
	return p.self
}
