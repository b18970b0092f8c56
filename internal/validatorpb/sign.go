package validatorpb

import "encoding/json"

// Signed is implemented by every response envelope that carries a
// validator signature. Canonical returns the response re-encoded with
// Signature cleared: the byte form the signature was computed over.
type Signed interface {
	Env() Envelope
	Canonical() ([]byte, error)
}

func (e Envelope) Env() Envelope { return e }

func (r ValidatorsResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

func (r ConfigResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

func (r VersionResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

func (r RoutingResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

func (r RegionParamsResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

func (r ConfigUpdateResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

func (r PocChallengeResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

// Raw serializes the response envelope with its signature field left
// intact. challenger_sig (see Challenge.ChallengerSig in
// internal/validator/poc.go and spec.md design note 9(a)) is derived
// from this, not from Canonical: the source signs and forwards the
// whole envelope, signature included, so a downstream validator can
// verify the challenger's own signature over the bytes it actually
// produced.
func (r PocChallengeResp) Raw() ([]byte, error) {
	return json.Marshal(r)
}

func (r CheckChallengeTargetResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

func (r IsActiveSCResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

func (r PocKeyToURIResp) Canonical() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}
