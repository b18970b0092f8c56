// Package keyeduri defines the (public_key, uri) identity pair used
// throughout the dispatcher to address validators and routers.
package keyeduri

import "crypto/ed25519"

// KeyedUri pairs a URI with the public key expected to sign its
// responses. Identity equality uses both fields. Immutable once
// constructed.
type KeyedUri struct {
	PubKey ed25519.PublicKey
	URI    string
}

// New constructs a KeyedUri, defensively copying the public key so the
// value stays immutable even if the caller mutates their copy.
func New(pubKey ed25519.PublicKey, uri string) KeyedUri {
	cp := make(ed25519.PublicKey, len(pubKey))
	copy(cp, pubKey)
	return KeyedUri{PubKey: cp, URI: uri}
}

// Equal reports whether ku and other share the same public key and URI.
func (ku KeyedUri) Equal(other KeyedUri) bool {
	return ku.URI == other.URI && ed25519.PublicKey.Equal(ku.PubKey, other.PubKey)
}

// String renders a short identifier useful for logging.
func (ku KeyedUri) String() string {
	return ku.URI
}
