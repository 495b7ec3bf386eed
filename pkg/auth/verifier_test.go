package auth

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSignedRequest(t *testing.T, v *Verifier, method, path string, body []byte) (*Request, *ecdsa.PrivateKey) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	caller := crypto.PubkeyToAddress(key.PublicKey)

	entry := v.GenerateChallengeToken(caller)
	return signRequest(t, key, entry.Token, method, path, body), key
}

func signRequest(t *testing.T, key *ecdsa.PrivateKey, token, method, path string, body []byte) *Request {
	sig, err := SignMessage(key, token, method, path, body)
	require.NoError(t, err)
	return &Request{
		Caller:         crypto.PubkeyToAddress(key.PublicKey),
		ChallengeToken: token,
		Signature:      sig,
		Method:         method,
		Path:           path,
		Body:           body,
	}
}

func TestVerifier_VerifyAuthentication(t *testing.T) {
	body := []byte(`{"description":"Design a logo","bounty":"1000"}`)

	t.Run("Should accept a correctly signed request once", func(t *testing.T) {
		v := NewVerifier(NewChallengeTokenManager(5 * time.Minute))
		req, _ := newSignedRequest(t, v, "POST", "/v1/tasks", body)

		require.NoError(t, v.VerifyAuthentication(req))

		err := v.VerifyAuthentication(req)
		assert.ErrorIs(t, err, ErrInvalidChallenge)
		assert.ErrorIs(t, err, ErrTokenUsed)
	})

	t.Run("Should reject missing fields", func(t *testing.T) {
		v := NewVerifier(NewChallengeTokenManager(5 * time.Minute))
		assert.ErrorIs(t, v.VerifyAuthentication(nil), ErrMissingAuthentication)
		assert.ErrorIs(t, v.VerifyAuthentication(&Request{ChallengeToken: "x", Signature: []byte{1}}), ErrMissingAuthentication)
	})

	t.Run("Should reject unknown tokens", func(t *testing.T) {
		v := NewVerifier(NewChallengeTokenManager(5 * time.Minute))
		_, key := newSignedRequest(t, v, "POST", "/v1/tasks", body)
		req := signRequest(t, key, "deadbeef", "POST", "/v1/tasks", body)
		assert.ErrorIs(t, v.VerifyAuthentication(req), ErrTokenNotFound)
	})

	t.Run("Should reject a tampered body", func(t *testing.T) {
		v := NewVerifier(NewChallengeTokenManager(5 * time.Minute))
		req, _ := newSignedRequest(t, v, "POST", "/v1/tasks", body)
		req.Body = []byte(`{"description":"Design a logo","bounty":"1"}`)
		assert.ErrorIs(t, v.VerifyAuthentication(req), ErrInvalidSignature)
	})

	t.Run("Should reject a signature replayed on another path", func(t *testing.T) {
		v := NewVerifier(NewChallengeTokenManager(5 * time.Minute))
		req, _ := newSignedRequest(t, v, "POST", "/v1/tasks/1/submissions", body)
		req.Path = "/v1/tasks/1/submissions/1/approve"
		assert.ErrorIs(t, v.VerifyAuthentication(req), ErrInvalidSignature)
	})

	t.Run("Should reject a caller claiming another address's token", func(t *testing.T) {
		v := NewVerifier(NewChallengeTokenManager(5 * time.Minute))
		issued, _ := newSignedRequest(t, v, "POST", "/v1/tasks", body)
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		req := signRequest(t, other, issued.ChallengeToken, "POST", "/v1/tasks", body)
		assert.ErrorIs(t, v.VerifyAuthentication(req), ErrTokenWrongEntity)
	})

	t.Run("Should reject a signature that does not match the claimed caller", func(t *testing.T) {
		v := NewVerifier(NewChallengeTokenManager(5 * time.Minute))
		req, _ := newSignedRequest(t, v, "POST", "/v1/tasks", body)
		req.Caller = common.HexToAddress("0x00000000000000000000000000000000000000a1")
		assert.ErrorIs(t, v.VerifyAuthentication(req), ErrInvalidSignature)
	})

	t.Run("Should not consume the token when the signature is bad", func(t *testing.T) {
		v := NewVerifier(NewChallengeTokenManager(5 * time.Minute))
		req, _ := newSignedRequest(t, v, "POST", "/v1/tasks", body)

		junk := *req
		junk.Signature = make([]byte, crypto.SignatureLength)
		assert.ErrorIs(t, v.VerifyAuthentication(&junk), ErrInvalidSignature)

		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		impostor := signRequest(t, other, req.ChallengeToken, "POST", "/v1/tasks", body)
		impostor.Caller = req.Caller
		assert.ErrorIs(t, v.VerifyAuthentication(impostor), ErrInvalidSignature)

		require.NoError(t, v.VerifyAuthentication(req))
	})

	t.Run("Should reject malformed signatures", func(t *testing.T) {
		v := NewVerifier(NewChallengeTokenManager(5 * time.Minute))
		req, _ := newSignedRequest(t, v, "POST", "/v1/tasks", body)
		req.Signature = req.Signature[:10]
		assert.ErrorIs(t, v.VerifyAuthentication(req), ErrInvalidSignature)
	})
}

func TestRecoverSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)
	digest := ConstructSignedMessage("token", "POST", "/v1/tasks", nil)

	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	got, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	sig[crypto.RecoveryIDOffset] += 27
	got, err = RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestChallengeTokenManager(t *testing.T) {
	caller := common.HexToAddress("0x00000000000000000000000000000000000000b0")

	t.Run("Should expire tokens", func(t *testing.T) {
		ctm := NewChallengeTokenManager(time.Minute)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		ctm.now = func() time.Time { return now }

		entry := ctm.GenerateChallengeToken(caller)
		assert.Len(t, entry.Token, 64)
		assert.Equal(t, now.Add(time.Minute), entry.ExpiresAt)

		now = now.Add(2 * time.Minute)
		assert.ErrorIs(t, ctm.UseChallengeToken(entry.Token, caller), ErrTokenExpired)

		ctm.removeExpired()
		assert.Equal(t, 0, ctm.Len())
	})

	t.Run("Should issue distinct tokens", func(t *testing.T) {
		ctm := NewChallengeTokenManager(time.Minute)
		a := ctm.GenerateChallengeToken(caller)
		b := ctm.GenerateChallengeToken(caller)
		assert.NotEqual(t, a.Token, b.Token)
		assert.Equal(t, 2, ctm.Len())
	})

	t.Run("Should stop cleanup when the context ends", func(t *testing.T) {
		ctm := NewChallengeTokenManager(time.Millisecond)
		ctm.GenerateChallengeToken(caller)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			ctm.RunCleanup(ctx, 5*time.Millisecond)
			close(done)
		}()
		assert.Eventually(t, func() bool { return ctm.Len() == 0 }, time.Second, 5*time.Millisecond)
		cancel()
		<-done
	})
}
