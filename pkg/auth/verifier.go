package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrMissingAuthentication = errors.New("missing authentication")
	ErrInvalidChallenge      = errors.New("invalid challenge token")
	ErrInvalidSignature      = errors.New("invalid signature")
)

// Request is the authentication material attached to one mutating call.
type Request struct {
	Caller         common.Address
	ChallengeToken string
	Signature      []byte
	Method         string
	Path           string
	Body           []byte
}

// Verifier checks that a request was signed by the address it claims to come from.
type Verifier struct {
	tokenManager *ChallengeTokenManager
}

func NewVerifier(tokenManager *ChallengeTokenManager) *Verifier {
	return &Verifier{tokenManager: tokenManager}
}

// GenerateChallengeToken generates a new challenge token for the given entity
func (v *Verifier) GenerateChallengeToken(entity common.Address) *ChallengeTokenEntry {
	return v.tokenManager.GenerateChallengeToken(entity)
}

// VerifyAuthentication checks the signature recovers to the claimed caller
// and then consumes the challenge token. A request that fails the signature
// check leaves the token usable.
func (v *Verifier) VerifyAuthentication(req *Request) error {
	if req == nil || req.Caller == (common.Address{}) || req.ChallengeToken == "" || len(req.Signature) == 0 {
		return ErrMissingAuthentication
	}

	digest := ConstructSignedMessage(req.ChallengeToken, req.Method, req.Path, req.Body)
	signer, err := RecoverSigner(digest, req.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if signer != req.Caller {
		return fmt.Errorf("%w: signed by %s", ErrInvalidSignature, signer.Hex())
	}

	if err := v.tokenManager.UseChallengeToken(req.ChallengeToken, req.Caller); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChallenge, err)
	}
	return nil
}

// ConstructSignedMessage returns the EIP-191 digest of
// "token:METHOD:path:" followed by the raw request body.
func ConstructSignedMessage(challengeToken, method, path string, body []byte) []byte {
	message := fmt.Sprintf("%s:%s:%s:", challengeToken, method, path)
	return accounts.TextHash(append([]byte(message), body...))
}

// SignMessage signs a request the way VerifyAuthentication expects, with V in {27, 28}.
func SignMessage(key *ecdsa.PrivateKey, challengeToken, method, path string, body []byte) ([]byte, error) {
	sig, err := crypto.Sign(ConstructSignedMessage(challengeToken, method, path, body), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over digest. V may be
// 0/1 or 27/28.
func RecoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
