// Package simulatedToken is an in-process ERC20 ledger that implements
// valueTransfer.Port. It keeps balances and allowances per token and can
// airdrop a fixed amount to each account the first time it is seen.
package simulatedToken

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/valueTransfer"
	"go.uber.org/zap"
)

type SimulatedTokenConfig struct {
	// Custodian holds escrowed funds and is the spender for Pull.
	Custodian common.Address
	// AirdropAmount is credited once to every non-custodian account on first
	// use. Nil disables the airdrop.
	AirdropAmount *big.Int
}

type book struct {
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	minted      map[common.Address]bool
}

func newBook() *book {
	return &book{
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		minted:      make(map[common.Address]bool),
	}
}

func (b *book) balance(owner common.Address) *big.Int {
	if v, ok := b.balances[owner]; ok {
		return v
	}
	return new(big.Int)
}

func (b *book) allowance(owner, spender common.Address) *big.Int {
	if v, ok := b.allowances[owner][spender]; ok {
		return v
	}
	return new(big.Int)
}

func (b *book) credit(owner common.Address, amount *big.Int) {
	b.balances[owner] = new(big.Int).Add(b.balance(owner), amount)
}

type SimulatedToken struct {
	mu     sync.Mutex
	config *SimulatedTokenConfig
	books  map[common.Address]*book
	logger *zap.Logger
}

func NewSimulatedToken(cfg *SimulatedTokenConfig, l *zap.Logger) *SimulatedToken {
	return &SimulatedToken{
		config: cfg,
		books:  make(map[common.Address]*book),
		logger: l,
	}
}

func (s *SimulatedToken) Custodian() common.Address {
	return s.config.Custodian
}

func (s *SimulatedToken) book(asset common.Address) *book {
	b, ok := s.books[asset]
	if !ok {
		b = newBook()
		s.books[asset] = b
	}
	return b
}

func (s *SimulatedToken) ensureAirdrop(b *book, account common.Address) {
	if s.config.AirdropAmount == nil || s.config.AirdropAmount.Sign() <= 0 {
		return
	}
	if account == s.config.Custodian || b.minted[account] {
		return
	}
	b.credit(account, s.config.AirdropAmount)
	b.totalSupply.Add(b.totalSupply, s.config.AirdropAmount)
	b.minted[account] = true
}

// Mint credits amount of asset to an account.
func (s *SimulatedToken) Mint(asset, to common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.book(asset)
	b.credit(to, amount)
	b.totalSupply.Add(b.totalSupply, amount)
}

// Approve sets spender's allowance over owner's balance.
func (s *SimulatedToken) Approve(asset, owner, spender common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.book(asset)
	s.ensureAirdrop(b, owner)
	if b.allowances[owner] == nil {
		b.allowances[owner] = make(map[common.Address]*big.Int)
	}
	b.allowances[owner][spender] = new(big.Int).Set(amount)
}

func (s *SimulatedToken) BalanceOf(asset, owner common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.book(asset)
	s.ensureAirdrop(b, owner)
	return new(big.Int).Set(b.balance(owner))
}

func (s *SimulatedToken) Allowance(asset, owner, spender common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.book(asset)
	s.ensureAirdrop(b, owner)
	return new(big.Int).Set(b.allowance(owner, spender))
}

func (s *SimulatedToken) TotalSupply(asset common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.book(asset).totalSupply)
}

// Pull behaves like transferFrom called by the custodian.
func (s *SimulatedToken) Pull(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.book(asset)
	s.ensureAirdrop(b, from)

	reject := func(reason string) error {
		return &valueTransfer.TransferError{Op: "pull", Asset: asset, From: from, To: to, Amount: amount, Reason: reason}
	}

	allowed := b.allowance(from, s.config.Custodian)
	if amount == nil || amount.Sign() <= 0 {
		return reject(valueTransfer.ReasonInvalidAmount)
	}
	if allowed.Cmp(amount) < 0 {
		return reject(valueTransfer.ReasonInsufficientAllowance)
	}
	if b.balance(from).Cmp(amount) < 0 {
		return reject(valueTransfer.ReasonInsufficientBalance)
	}

	b.allowances[from][s.config.Custodian] = new(big.Int).Sub(allowed, amount)
	b.balances[from] = new(big.Int).Sub(b.balance(from), amount)
	b.credit(to, amount)

	s.logger.Sugar().Debugw("Simulated pull",
		"asset", asset.Hex(),
		"from", from.Hex(),
		"to", to.Hex(),
		"amount", amount.String(),
	)
	return nil
}

// Push behaves like transfer called by the custodian.
func (s *SimulatedToken) Push(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.book(asset)
	from := s.config.Custodian

	reject := func(reason string) error {
		return &valueTransfer.TransferError{Op: "push", Asset: asset, From: from, To: to, Amount: amount, Reason: reason}
	}

	if amount == nil || amount.Sign() <= 0 {
		return reject(valueTransfer.ReasonInvalidAmount)
	}
	if b.balance(from).Cmp(amount) < 0 {
		return reject(valueTransfer.ReasonInsufficientBalance)
	}

	b.balances[from] = new(big.Int).Sub(b.balance(from), amount)
	b.credit(to, amount)

	s.logger.Sugar().Debugw("Simulated push",
		"asset", asset.Hex(),
		"to", to.Hex(),
		"amount", amount.String(),
	)
	return nil
}
