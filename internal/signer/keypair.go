// Package signer wraps the gateway's ed25519 signing identity and the
// strict verifier used to authenticate validator responses.
package signer

import (
	"crypto/ed25519"
	"fmt"

	"github.com/hdevalence/ed25519consensus"
)

// Keypair is the gateway's signing identity. It is shared-immutable:
// cloning the handle (copying the struct) is cheap and safe to pass to
// concurrent goroutines.
type Keypair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// New wraps an existing ed25519 private key.
func New(priv ed25519.PrivateKey) *Keypair {
	return &Keypair{public: priv.Public().(ed25519.PublicKey), private: priv}
}

// Generate creates a fresh random keypair, useful for tests and for
// bootstrapping a gateway identity on first run.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{public: pub, private: priv}, nil
}

// PublicKey returns the gateway's public key.
func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.public
}

// Sign signs msg with the gateway's private key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// Verify checks sig over msg against pub using the stricter
// consensus-safe verification rules (rejects the small set of
// signatures accepted by the stdlib verifier but not by a canonical
// batch verifier), matching the verification discipline expected of
// signed validator responses.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519consensus.Verify(pub, msg, sig)
}
