package validator

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/helium/gateway-dispatcher/internal/keyeduri"
	"github.com/helium/gateway-dispatcher/internal/signer"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeGateway answers every unary call the validator client issues with
// a single canned response keyed by full method name ("/helium.gateway.
// Gateway/Version" etc), letting tests exercise Service's RPC methods
// without a real validator.
type fakeGateway struct {
	responses map[string]any
}

func (f *fakeGateway) handle(_ any, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method on stream")
	}
	var req json.RawMessage
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	resp, ok := f.responses[method]
	if !ok {
		return status.Errorf(codes.Unimplemented, "no fake response for %s", method)
	}
	return stream.SendMsg(resp)
}

func newFakeServiceConn(t *testing.T, ku keyeduri.KeyedUri, responses map[string]any) Service {
	t.Helper()
	fake := &fakeGateway{responses: responses}
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}), grpc.UnknownServiceHandler(fake.handle))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return Service{URI: ku, conn: conn}
}

func TestServiceVersionRejectsUnsignedNilVersion(t *testing.T) {
	kp, err := signer.Generate()
	require.NoError(t, err)
	ku := keyeduri.New(kp.PublicKey(), "bufnet")

	// No signature at all: a forger's "I don't know my version" reply.
	// Before the fix this slipped past as (nil, nil) because Version
	// returned early on a nil payload without ever calling verify.
	resp := signedVersionResp(t, kp, nil)
	resp.Signature = nil

	svc := newFakeServiceConn(t, ku, map[string]any{
		gatewayServicePath + "Version": resp,
	})

	v, err := svc.Version(context.Background())
	require.Error(t, err)
	require.Nil(t, v)
}

func TestServiceVersionReturnsVerifiedVersion(t *testing.T) {
	kp, err := signer.Generate()
	require.NoError(t, err)
	ku := keyeduri.New(kp.PublicKey(), "bufnet")

	want := uint64(7)
	resp := signedVersionResp(t, kp, &want)

	svc := newFakeServiceConn(t, ku, map[string]any{
		gatewayServicePath + "Version": resp,
	})

	v, err := svc.Version(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, want, *v)
}
