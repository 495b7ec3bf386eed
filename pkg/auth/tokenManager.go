package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

var (
	ErrTokenNotFound    = errors.New("challenge token not found")
	ErrTokenUsed        = errors.New("challenge token already used")
	ErrTokenExpired     = errors.New("challenge token expired")
	ErrTokenWrongEntity = errors.New("challenge token issued to a different address")
)

// ChallengeTokenEntry represents a single challenge token with its metadata
type ChallengeTokenEntry struct {
	Token     string         `json:"token"`
	Entity    common.Address `json:"address"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Used      bool           `json:"-"`
}

// ChallengeTokenManager issues single-use tokens bound to the address that
// requested them.
type ChallengeTokenManager struct {
	mu         sync.Mutex
	tokens     map[string]*ChallengeTokenEntry
	expiration time.Duration
	now        func() time.Time
}

func NewChallengeTokenManager(expiration time.Duration) *ChallengeTokenManager {
	return &ChallengeTokenManager{
		tokens:     make(map[string]*ChallengeTokenEntry),
		expiration: expiration,
		now:        time.Now,
	}
}

// GenerateChallengeToken creates a new challenge token for the given entity
func (ctm *ChallengeTokenManager) GenerateChallengeToken(entity common.Address) *ChallengeTokenEntry {
	hash := crypto.Keccak256([]byte(uuid.New().String()))
	now := ctm.now()
	entry := &ChallengeTokenEntry{
		Token:     hex.EncodeToString(hash),
		Entity:    entity,
		CreatedAt: now,
		ExpiresAt: now.Add(ctm.expiration),
	}

	ctm.mu.Lock()
	defer ctm.mu.Unlock()
	ctm.tokens[entry.Token] = entry
	return entry
}

// UseChallengeToken validates and marks a challenge token as used
func (ctm *ChallengeTokenManager) UseChallengeToken(token string, entity common.Address) error {
	ctm.mu.Lock()
	defer ctm.mu.Unlock()

	entry, exists := ctm.tokens[token]
	if !exists {
		return ErrTokenNotFound
	}
	if entry.Used {
		return ErrTokenUsed
	}
	if ctm.now().After(entry.ExpiresAt) {
		return ErrTokenExpired
	}
	if entry.Entity != entity {
		return ErrTokenWrongEntity
	}

	// Mark as used (keep in map until it expires so replays stay rejected)
	entry.Used = true
	return nil
}

// Len is the number of tokens currently tracked.
func (ctm *ChallengeTokenManager) Len() int {
	ctm.mu.Lock()
	defer ctm.mu.Unlock()
	return len(ctm.tokens)
}

func (ctm *ChallengeTokenManager) removeExpired() {
	ctm.mu.Lock()
	defer ctm.mu.Unlock()
	now := ctm.now()
	for token, entry := range ctm.tokens {
		if now.After(entry.ExpiresAt) {
			delete(ctm.tokens, token)
		}
	}
}

// RunCleanup removes expired tokens every interval until ctx is done.
func (ctm *ChallengeTokenManager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctm.removeExpired()
		case <-ctx.Done():
			return
		}
	}
}
