package audit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"
)

// ErrSigningKeyMissing is returned when an export requests a signature
// but no private key is configured. This is a misconfiguration and is
// raised immediately rather than producing an unsigned export.
var ErrSigningKeyMissing = errors.New("audit: export signing requested but no private key configured")

// Signature is a detached signature over exported content. Verification
// is independent of this module: the content hash, algorithm, and key ID
// travel with the signature bytes.
type Signature struct {
	Algorithm   string    `json:"algorithm"`
	KeyID       string    `json:"key_id,omitempty"`
	ContentHash string    `json:"content_hash"`
	Signature   string    `json:"signature"`
	SignedAt    time.Time `json:"signed_at"`
}

// Sign computes a detached Ed25519 signature over the exact content
// bytes.
func Sign(content []byte, privateKey ed25519.PrivateKey, keyID string) (*Signature, error) {
	if len(privateKey) == 0 {
		return nil, ErrSigningKeyMissing
	}

	sum := sha256.Sum256(content)
	return &Signature{
		Algorithm:   "ed25519",
		KeyID:       keyID,
		ContentHash: hex.EncodeToString(sum[:]),
		Signature:   base64.StdEncoding.EncodeToString(ed25519.Sign(privateKey, content)),
		SignedAt:    time.Now(),
	}, nil
}

// VerifySignature reports whether sig is a valid signature over content.
// Any post-export mutation of the content, even a single byte, fails
// verification.
func VerifySignature(content []byte, sig *Signature, publicKey ed25519.PublicKey) bool {
	if sig == nil || len(publicKey) != ed25519.PublicKeySize {
		return false
	}

	sum := sha256.Sum256(content)
	if hex.EncodeToString(sum[:]) != sig.ContentHash {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, content, raw)
}
