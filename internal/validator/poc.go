package validator

import (
	"context"

	"github.com/helium/gateway-dispatcher/internal/gwerr"
	"github.com/helium/gateway-dispatcher/internal/keyeduri"
	"github.com/helium/gateway-dispatcher/internal/signer"
	"github.com/helium/gateway-dispatcher/internal/validatorpb"
)

// Challenge is a signed proof-of-coverage challenge notification
// decoded from the PoC stream. ChallengerSig is the exact byte form the
// challenger signed: the whole enclosing response envelope, signature
// field included (see spec.md design note 9(a)) — downstream
// collaborators must pass it back verbatim when checking whether this
// gateway is the challenge target.
type Challenge struct {
	Challenger    keyeduri.KeyedUri
	PocID         []byte
	BlockHash     []byte
	ChallengerSig []byte
	Height        uint64
}

// ChallengeFrom decodes a PoC challenge response into a Challenge.
func ChallengeFrom(resp validatorpb.PocChallengeResp) (Challenge, error) {
	if resp.Challenger.URI == "" && len(resp.Challenger.PubKey) == 0 {
		return Challenge{}, gwerr.Decode("poc challenge missing challenger")
	}
	sigBytes, err := resp.Raw()
	if err != nil {
		return Challenge{}, gwerr.Decode("encode poc challenge: %v", err)
	}
	return Challenge{
		Challenger:    keyeduri.New(resp.Challenger.PubKey, resp.Challenger.URI),
		PocID:         resp.OnionKeyHash,
		BlockHash:     resp.BlockHash,
		ChallengerSig: sigBytes,
		Height:        resp.Height,
	}, nil
}

// ChallengeCheck is the validator's verdict on a check-challenge-target
// request: either the gateway is not the target, is the target (with
// the onion payload to forward), or the check was queued at a height.
type ChallengeCheck struct {
	IsTarget bool
	Onion    []byte
	Queued   bool
	Height   uint64
}

// CheckChallengeTarget asks the validator whether this gateway is the
// target of challenge, signing the request with kp.
func (s Service) CheckChallengeTarget(ctx context.Context, kp *signer.Keypair, ch Challenge) (ChallengeCheck, error) {
	req := &validatorpb.CheckChallengeTargetReq{
		Address:      kp.PublicKey(),
		Challenger:   ch.Challenger.PubKey,
		BlockHash:    ch.BlockHash,
		OnionKeyHash: ch.PocID,
		Height:       ch.Height,
		Notifier:     ch.Challenger.PubKey,
		NotifierSig:  ch.ChallengerSig,
	}
	req.ChallengeeSig = kp.Sign(signBytes(req))

	var resp validatorpb.CheckChallengeTargetResp
	if err := s.invoke(ctx, "CheckChallengeTarget", req, &resp); err != nil {
		return ChallengeCheck{}, err
	}
	if err := s.verify(resp); err != nil {
		return ChallengeCheck{}, err
	}
	return ChallengeCheck{IsTarget: resp.Target, Onion: resp.Onion, Queued: resp.Queued, Height: resp.Height}, nil
}

// Challenger resolves a PoC onion key hash to the challenger's KeyedUri.
func (s Service) Challenger(ctx context.Context, pocID []byte) (*keyeduri.KeyedUri, error) {
	var resp validatorpb.PocKeyToURIResp
	if err := s.invoke(ctx, "PocKeyToPublicUri", &validatorpb.PocKeyToURIReq{Key: pocID}, &resp); err != nil {
		return nil, err
	}
	if err := s.verify(resp); err != nil {
		return nil, err
	}
	if resp.Route == nil {
		return nil, nil
	}
	ku := keyeduri.New(resp.Route.PubKey, resp.Route.URI)
	return &ku, nil
}

// SendReport submits a completed PoC report.
func (s Service) SendReport(ctx context.Context, onionKeyHash, report []byte) error {
	var resp validatorpb.PocReportResp
	if err := s.invoke(ctx, "SendReport", &validatorpb.PocReportReq{OnionKeyHash: onionKeyHash, Report: report}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return gwerr.Custom("poc report rejected: %s", resp.Error)
	}
	return nil
}
