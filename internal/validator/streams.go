package validator

import (
	"context"

	"github.com/helium/gateway-dispatcher/internal/gwerr"
	"github.com/helium/gateway-dispatcher/internal/signer"
	"github.com/helium/gateway-dispatcher/internal/validatorpb"
	"google.golang.org/grpc"
)

// stream wraps a raw grpc.ClientStream opened against the gateway
// service, verifying each received envelope against the validator's
// public key before handing it back.
type stream[T validatorpb.Signed] struct {
	cs  grpc.ClientStream
	svc Service
}

// openStream opens a server-push stream on ctx, which bounds the
// stream's entire lifetime (not just its handshake) — callers pass the
// attachment's context, not a short-lived per-RPC one, or the stream
// would be torn down as soon as this call returns.
func openStream[T validatorpb.Signed](ctx context.Context, s Service, method string, req any) (*stream[T], error) {
	cs, err := s.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: method, ServerStreams: true}, gatewayServicePath+method)
	if err != nil {
		return nil, gwerr.Transport(err)
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, gwerr.Transport(err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, gwerr.Transport(err)
	}
	return &stream[T]{cs: cs, svc: s}, nil
}

// Next blocks for the next pushed message, verifying its signature. A
// verification failure surfaces as an error indistinguishable from a
// decode error to upstream logic, per spec.md 4.2.
func (st *stream[T]) Next() (T, error) {
	var msg T
	if err := st.cs.RecvMsg(&msg); err != nil {
		return msg, gwerr.RPC(err)
	}
	if err := st.svc.verify(msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// RoutingStream opens the routing update stream starting at height.
type RoutingStream = stream[validatorpb.RoutingResp]

func (s Service) RoutingStream(ctx context.Context, height uint64) (*RoutingStream, error) {
	return openStream[validatorpb.RoutingResp](ctx, s, "Routing", &validatorpb.RoutingStreamReq{Height: height})
}

// RegionParamsStream opens the region params update stream, signed by
// kp to authenticate the requesting gateway.
type RegionParamsStream = stream[validatorpb.RegionParamsResp]

func (s Service) RegionParamsStream(ctx context.Context, kp *signer.Keypair) (*RegionParamsStream, error) {
	req := &validatorpb.RegionParamsStreamReq{Address: kp.PublicKey()}
	req.Signature = kp.Sign(signBytes(req))
	return openStream[validatorpb.RegionParamsResp](ctx, s, "RegionParamsUpdate", req)
}

// ConfigStream opens the configuration-change notification stream.
type ConfigStream = stream[validatorpb.ConfigUpdateResp]

func (s Service) ConfigStream(ctx context.Context) (*ConfigStream, error) {
	return openStream[validatorpb.ConfigUpdateResp](ctx, s, "ConfigUpdate", &validatorpb.ConfigStreamReq{})
}

// PocStream opens the proof-of-coverage challenge stream, signed by kp.
type PocStream = stream[validatorpb.PocChallengeResp]

func (s Service) PocStream(ctx context.Context, kp *signer.Keypair) (*PocStream, error) {
	req := &validatorpb.PocStreamReq{Address: kp.PublicKey()}
	req.Signature = kp.Sign(signBytes(req))
	return openStream[validatorpb.PocChallengeResp](ctx, s, "StreamPoc", req)
}

// openBidiStream opens a raw bidirectional gRPC stream without sending
// an initial message; used by FollowSC, which has its own req/resp
// framing on top of a persistent stream. ctx bounds the stream's entire
// lifetime, matching openStream's contract.
func openBidiStream(ctx context.Context, s Service, method string) (grpc.ClientStream, error) {
	cs, err := s.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: method, ServerStreams: true, ClientStreams: true}, gatewayServicePath+method)
	if err != nil {
		return nil, gwerr.Transport(err)
	}
	return cs, nil
}

// signBytes is the canonical byte form a request is signed over: its
// JSON encoding taken before Signature is assigned, so the signature
// field is present and encodes as null.
func signBytes(v any) []byte {
	b, _ := jsonCodec{}.Marshal(v)
	return b
}
