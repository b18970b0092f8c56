package validator

import (
	"github.com/helium/gateway-dispatcher/internal/gwerr"
	"github.com/helium/gateway-dispatcher/internal/signer"
	"github.com/helium/gateway-dispatcher/internal/validatorpb"
)

// verify checks a signed response envelope against s.URI's public key.
// A verification failure surfaces as gwerr.ErrVerification, which
// upstream stream-item handling treats indistinguishably from a decode
// error (spec.md 4.2).
func (s Service) verify(r validatorpb.Signed) error {
	env := r.Env()
	canonical, err := r.Canonical()
	if err != nil {
		return gwerr.Decode("marshal canonical form: %v", err)
	}
	if !signer.Verify(s.URI.PubKey, canonical, env.Signature) {
		return gwerr.Verification("signature mismatch for %s", s.URI.URI)
	}
	return nil
}
