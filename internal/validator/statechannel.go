package validator

import (
	"bytes"
	"context"

	"github.com/helium/gateway-dispatcher/internal/gwerr"
	"github.com/helium/gateway-dispatcher/internal/validatorpb"
)

// IsActiveSC asks whether the state channel (id, owner) is currently
// active.
func (s Service) IsActiveSC(ctx context.Context, id, owner []byte) (validatorpb.IsActiveSCResp, error) {
	var resp validatorpb.IsActiveSCResp
	if err := s.invoke(ctx, "IsActiveSc", &validatorpb.IsActiveSCReq{SCID: id, Owner: owner}, &resp); err != nil {
		return resp, err
	}
	if err := s.verify(resp); err != nil {
		return resp, err
	}
	if !bytes.Equal(resp.SCID, id) || !bytes.Equal(resp.Owner, owner) {
		return resp, gwerr.Custom("mismatched state channel id and owner")
	}
	return resp, nil
}

// CloseSC requests closing a state channel with an opaque, already
// signed close transaction.
func (s Service) CloseSC(ctx context.Context, closeTxn []byte) error {
	var resp validatorpb.CloseSCResp
	if err := s.invoke(ctx, "CloseSc", &validatorpb.CloseSCReq{CloseTxn: closeTxn}, &resp); err != nil {
		return err
	}
	return nil
}

// FollowSC is the bidirectional state-channel follow stream for
// (id, owner), opened by OpenFollowSC. Next returns each update; Close
// half-closes the client's send side.
type FollowSC struct {
	cs interface {
		SendMsg(any) error
		RecvMsg(any) error
		CloseSend() error
	}
	svc Service
}

func (s Service) OpenFollowSC(ctx context.Context, id, owner []byte) (*FollowSC, error) {
	st, err := openBidiStream(ctx, s, "FollowSc")
	if err != nil {
		return nil, err
	}
	if err := st.SendMsg(&validatorpb.FollowSCReq{SCID: id, Owner: owner}); err != nil {
		return nil, gwerr.Transport(err)
	}
	return &FollowSC{cs: st, svc: s}, nil
}

// Next blocks for the next state-channel response, verifying its
// signature.
func (f *FollowSC) Next() (validatorpb.IsActiveSCResp, error) {
	var resp validatorpb.IsActiveSCResp
	if err := f.cs.RecvMsg(&resp); err != nil {
		return resp, gwerr.RPC(err)
	}
	if err := f.svc.verify(resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Close ends the client's send side of the follow stream (CloseSend);
// it does not cancel the stream's context.
func (f *FollowSC) Close() error {
	return f.cs.CloseSend()
}
