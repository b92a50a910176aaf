package record

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// Signer produces signatures over canonical record payloads. Key
// material stays on the caller's side of this interface.
type Signer interface {
	Sign(payload []byte) (string, error)
	PublicKey() string
}

// Verifier checks a signature over a canonical payload. The engine
// only ever verifies; it never signs on the sync path.
type Verifier interface {
	Verify(payload []byte, signature, publicKey string) bool
}

// Ed25519Signer signs with an ed25519 private key. Keys and
// signatures travel base64 encoded.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

// GenerateEd25519Signer creates a fresh keypair, mainly for tests and
// first-run provisioning.
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("record: generate keypair: %w", err)
	}
	return &Ed25519Signer{priv: priv}, nil
}

// Sign implements Signer.
func (s *Ed25519Signer) Sign(payload []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, payload)), nil
}

// PublicKey implements Signer.
func (s *Ed25519Signer) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.priv.Public().(ed25519.PublicKey))
}

// Ed25519Verifier verifies base64 ed25519 signatures.
type Ed25519Verifier struct{}

// Verify implements Verifier. Malformed keys or signatures simply
// fail verification.
func (Ed25519Verifier) Verify(payload []byte, signature, publicKey string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)
}
