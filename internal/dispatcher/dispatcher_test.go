package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/helium/gateway-dispatcher/internal/keyeduri"
	"github.com/helium/gateway-dispatcher/internal/message"
	"github.com/helium/gateway-dispatcher/internal/region"
	"github.com/helium/gateway-dispatcher/internal/router"
	"github.com/helium/gateway-dispatcher/internal/signer"
	"github.com/helium/gateway-dispatcher/internal/validator"
	"github.com/helium/gateway-dispatcher/internal/validatorpb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeRouterTask struct {
	stopped        bool
	gatewayChanges []*validator.Service
	regionChanges  []int32
	uplinks        []router.Packet
}

func (f *fakeRouterTask) Uplink(pkt router.Packet) { f.uplinks = append(f.uplinks, pkt) }
func (f *fakeRouterTask) GatewayChanged(svc *validator.Service) {
	f.gatewayChanges = append(f.gatewayChanges, svc)
}
func (f *fakeRouterTask) RegionChanged(tag int32) { f.regionChanges = append(f.regionChanges, tag) }
func (f *fakeRouterTask) Stop()                   { f.stopped = true }

func newTestDispatcher() *Dispatcher {
	d := New(Config{
		Region: region.US915,
		Logger: zerolog.New(io.Discard),
	})
	// tests drive the registry/port/stream handlers directly, without a
	// live validator connection, so spawnRouter never needs d.runCtx.
	d.runCtx = context.Background()
	return d
}

func entryURI(uri string) validatorpb.KeyedURI {
	return validatorpb.KeyedURI{PubKey: []byte{0x01}, URI: uri}
}

// Routing add/remove (spec.md 8 scenario 2): a second routing update
// dropping a previously advertised URI stops that router without
// disturbing other OUIs, and the watermark only advances forward.
func TestHandleRoutingUpdateAddsAndRemoves(t *testing.T) {
	d := newTestDispatcher()
	spawned := map[string]*fakeRouterTask{}
	d.registry = router.New(func(uri string, routing router.Routing) (router.Task, error) {
		task := &fakeRouterTask{}
		spawned[uri] = task
		return task, nil
	}, nil)

	d.handleRoutingUpdate(validatorpb.RoutingResp{
		Envelope: validatorpb.Envelope{Height: 1},
		Routings: []validatorpb.RoutingEntry{
			{OUI: 1, URIs: []validatorpb.KeyedURI{entryURI("A"), entryURI("B")}},
		},
	})
	require.Equal(t, uint64(1), d.routingHeight)
	require.Len(t, spawned, 2)

	d.handleRoutingUpdate(validatorpb.RoutingResp{
		Envelope: validatorpb.Envelope{Height: 2},
		Routings: []validatorpb.RoutingEntry{
			{OUI: 1, URIs: []validatorpb.KeyedURI{entryURI("B")}},
		},
	})
	require.Equal(t, uint64(2), d.routingHeight)
	require.True(t, spawned["A"].stopped)
	require.False(t, spawned["B"].stopped)
}

// Stale heights (spec.md 8 scenario 3): a routing or region update at or
// below the current watermark is logged and dropped, leaving state
// untouched.
func TestHandleRoutingUpdateDropsStaleHeight(t *testing.T) {
	d := newTestDispatcher()
	d.routingHeight = 5

	d.handleRoutingUpdate(validatorpb.RoutingResp{
		Envelope: validatorpb.Envelope{Height: 5},
		Routings: []validatorpb.RoutingEntry{{OUI: 1, URIs: []validatorpb.KeyedURI{entryURI("A")}}},
	})

	require.Equal(t, uint64(5), d.routingHeight)
	require.Equal(t, 0, d.registry.Len())
}

func TestHandleRegionUpdateDropsStaleHeight(t *testing.T) {
	d := newTestDispatcher()
	d.region = region.US915
	d.regionHeight = 10

	d.handleRegionUpdate(validatorpb.RegionParamsResp{
		Envelope: validatorpb.Envelope{Height: 10},
		Region:   region.EU868.Wire(),
	})

	require.Equal(t, region.US915, d.region)
	require.Equal(t, uint64(10), d.regionHeight)
}

func TestHandleRegionUpdateAdvancesAndBroadcasts(t *testing.T) {
	d := newTestDispatcher()
	task := &fakeRouterTask{}
	d.registry = router.New(func(uri string, routing router.Routing) (router.Task, error) { return task, nil }, nil)
	d.registry.Reconcile(router.FromEntry(validatorpb.RoutingEntry{OUI: 1, URIs: []validatorpb.KeyedURI{entryURI("A")}}), d.Logger)

	d.handleRegionUpdate(validatorpb.RegionParamsResp{
		Envelope: validatorpb.Envelope{Height: 1},
		Region:   region.EU868.Wire(),
	})

	require.Equal(t, region.EU868, d.region)
	require.Equal(t, uint64(1), d.regionHeight)
	require.Equal(t, []int32{region.EU868.Wire()}, task.regionChanges)
}

// Uplink fan-out / default routers (spec.md 8 scenario 5): a packet
// matching no router's filter falls through to the configured default
// routers only.
func TestHandlePortMessageDetachedDispatchesUplink(t *testing.T) {
	d := newTestDispatcher()
	matched := &fakeRouterTask{}
	fallback := &fakeRouterTask{}
	d.registry = router.New(func(uri string, routing router.Routing) (router.Task, error) {
		if uri == "fallback" {
			return fallback, nil
		}
		return matched, nil
	}, []string{"fallback"})
	d.registry.Reconcile(router.FromEntry(validatorpb.RoutingEntry{
		OUI:    1,
		URIs:   []validatorpb.KeyedURI{entryURI("matched")},
		Filter: validatorpb.RoutingFilter{EUIPairs: []validatorpb.EUIPair{{AppEUI: 1, DevEUI: 1}}},
	}), d.Logger)
	d.registry.Reconcile(router.FromEntry(validatorpb.RoutingEntry{OUI: 2, URIs: []validatorpb.KeyedURI{entryURI("fallback")}}), d.Logger)

	pkt := router.Packet{Routing: router.RoutingInfo{OUI: 9, AppEUI: 9, DevEUI: 9}}
	d.handlePortMessageDetached(message.Message{Kind: message.KindUplink, Uplink: pkt})

	require.Len(t, fallback.uplinks, 1)
	require.Empty(t, matched.uplinks)
}

// Query while detached (spec.md 8 scenario 6): Config/Height queries
// fail fast with ErrNoService rather than blocking for an attachment.
func TestHandlePortMessageDetachedAnswersQueriesWithNoService(t *testing.T) {
	d := newTestDispatcher()

	configReply, configRx := message.NewReply[message.ConfigReply]()
	d.handlePortMessageDetached(message.Message{Kind: message.KindConfig, ConfigKeys: []string{"k"}, ConfigReply: configReply})
	select {
	case r := <-configRx:
		require.ErrorIs(t, r.Err, message.ErrNoService)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for config reply")
	}

	heightReply, heightRx := message.NewReply[message.HeightReply]()
	d.handlePortMessageDetached(message.Message{Kind: message.KindHeight, HeightReply: heightReply})
	select {
	case r := <-heightRx:
		require.ErrorIs(t, r.Err, message.ErrNoService)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for height reply")
	}
}

func TestHandlePortMessageDetachedAnswersRegionQuery(t *testing.T) {
	d := newTestDispatcher()
	d.region = region.EU868

	reply, rx := message.NewReply[region.Region]()
	d.handlePortMessageDetached(message.Message{Kind: message.KindRegion, RegionReply: reply})

	select {
	case r := <-rx:
		require.Equal(t, region.EU868, r)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for region reply")
	}
}

// backoffAndPrepare must return promptly, reporting shutdown, once ctx
// is cancelled rather than waiting out the sleep. (Port traffic handled
// while detached is covered by the handlePortMessageDetached tests.)
func TestBackoffAndPrepareReturnsOnContextCancel(t *testing.T) {
	d := newTestDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- d.backoffAndPrepare(ctx) }()

	cancel()
	select {
	case shutdown := <-done:
		require.True(t, shutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("backoffAndPrepare did not observe context cancellation")
	}
}

func TestBackoffAndPrepareResetsWatermarksAndDetachesRouters(t *testing.T) {
	d := newTestDispatcher()
	task := &fakeRouterTask{}
	d.registry = router.New(func(uri string, routing router.Routing) (router.Task, error) { return task, nil }, nil)
	d.registry.Reconcile(router.FromEntry(validatorpb.RoutingEntry{OUI: 1, URIs: []validatorpb.KeyedURI{entryURI("A")}}), d.Logger)
	d.routingHeight = 5
	d.regionHeight = 5

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.backoffAndPrepare(ctx)

	require.Equal(t, uint64(0), d.routingHeight)
	require.Equal(t, uint64(0), d.regionHeight)
	require.Equal(t, uint32(1), d.gatewayRetry)
	require.Equal(t, []*validator.Service{nil}, task.gatewayChanges)
}

func TestRunReturnsErrorOnEmptySeedList(t *testing.T) {
	d := newTestDispatcher()
	err := d.Run(context.Background())
	require.Error(t, err)
}

const gatewayServicePath = "/helium.gateway.Gateway/"

// jsonCodec mirrors the unexported grpc codec internal/validator forces
// on every connection it dials (plain JSON instead of wire-format
// protobuf); the fake server below needs the same codec to understand
// what the real client sends.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// fakeValidator answers every RPC the validator client issues (unary or
// server-streaming) with a single canned response keyed by full method
// name, the same shape as internal/validator/service_test.go's
// fakeGateway. Unlike that helper, this one is reachable with no
// unexported access at all: validator.New and keyeduri.New are both
// exported, so a plain net.Listener plus grpc.NewServer stands in for a
// validator without reusing any private seam from package validator.
type fakeValidator struct {
	responses map[string]any
}

func (f *fakeValidator) handle(_ any, stream grpc.ServerStream) error {
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

// startFakeValidator listens on a real loopback TCP port and serves
// responses built by build, which receives the bound address so a
// response (e.g. Validators) can name the server itself. Returns the
// listen address; the server is torn down via t.Cleanup.
func startFakeValidator(t *testing.T, build func(addr string) map[string]any) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	fake := &fakeValidator{responses: build(addr)}
	srv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}), grpc.UnknownServiceHandler(fake.handle))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return addr
}

func signedValidatorsResp(t *testing.T, kp *signer.Keypair, uris []validatorpb.KeyedURI) validatorpb.ValidatorsResp {
	t.Helper()
	resp := validatorpb.ValidatorsResp{Envelope: validatorpb.Envelope{Height: 1}, Result: uris}
	canonical, err := resp.Canonical()
	require.NoError(t, err)
	resp.Signature = kp.Sign(canonical)
	return resp
}

func signedRoutingResp(t *testing.T, kp *signer.Keypair, height uint64) validatorpb.RoutingResp {
	t.Helper()
	resp := validatorpb.RoutingResp{Envelope: validatorpb.Envelope{Height: height}}
	canonical, err := resp.Canonical()
	require.NoError(t, err)
	resp.Signature = kp.Sign(canonical)
	return resp
}

func signedRegionParamsResp(t *testing.T, kp *signer.Keypair, height uint64) validatorpb.RegionParamsResp {
	t.Helper()
	resp := validatorpb.RegionParamsResp{Envelope: validatorpb.Envelope{Height: height}, Region: region.US915.Wire()}
	canonical, err := resp.Canonical()
	require.NoError(t, err)
	resp.Signature = kp.Sign(canonical)
	return resp
}

func signedConfigUpdateResp(t *testing.T, kp *signer.Keypair, height uint64) validatorpb.ConfigUpdateResp {
	t.Helper()
	resp := validatorpb.ConfigUpdateResp{Envelope: validatorpb.Envelope{Height: height}}
	canonical, err := resp.Canonical()
	require.NoError(t, err)
	resp.Signature = kp.Sign(canonical)
	return resp
}

func signedPocChallengeResp(t *testing.T, kp *signer.Keypair, height uint64) validatorpb.PocChallengeResp {
	t.Helper()
	resp := validatorpb.PocChallengeResp{Envelope: validatorpb.Envelope{Height: height}}
	canonical, err := resp.Canonical()
	require.NoError(t, err)
	resp.Signature = kp.Sign(canonical)
	return resp
}

func signedConfigResp(t *testing.T, kp *signer.Keypair, height, blockAge uint64) validatorpb.ConfigResp {
	t.Helper()
	resp := validatorpb.ConfigResp{Envelope: validatorpb.Envelope{Height: height, BlockAge: blockAge}}
	canonical, err := resp.Canonical()
	require.NoError(t, err)
	resp.Signature = kp.Sign(canonical)
	return resp
}

// Seed-to-attached (spec.md 8 scenario 1): a seed validator's
// Validators() response resolves to an attachable validator whose four
// streams all open; the dispatcher broadcasts gateway_changed(Some(v))
// to every pre-existing router.
func TestAttachAndRunInnerBroadcastsGatewayChanged(t *testing.T) {
	kp, err := signer.Generate()
	require.NoError(t, err)
	gwKeypair, err := signer.Generate()
	require.NoError(t, err)

	addr := startFakeValidator(t, func(addr string) map[string]any {
		self := validatorpb.KeyedURI{PubKey: kp.PublicKey(), URI: addr}
		return map[string]any{
			gatewayServicePath + "Validators":         signedValidatorsResp(t, kp, []validatorpb.KeyedURI{self}),
			gatewayServicePath + "Routing":            signedRoutingResp(t, kp, 1),
			gatewayServicePath + "RegionParamsUpdate": signedRegionParamsResp(t, kp, 1),
			gatewayServicePath + "ConfigUpdate":       signedConfigUpdateResp(t, kp, 1),
			gatewayServicePath + "StreamPoc":          signedPocChallengeResp(t, kp, 1),
		}
	})

	d := newTestDispatcher()
	d.keypair = gwKeypair
	task := &fakeRouterTask{}
	d.registry = router.New(func(string, router.Routing) (router.Task, error) { return task, nil }, nil)
	d.registry.Reconcile(router.FromEntry(validatorpb.RoutingEntry{OUI: 1, URIs: []validatorpb.KeyedURI{entryURI("pre-existing")}}), d.Logger)

	seed, err := validator.New(keyeduri.New(kp.PublicKey(), addr))
	require.NoError(t, err)

	// attach and runInner share one context: cancelling it after attach
	// both tears down the multiplexer's stream pumps (so none of them
	// race to deliver a buffered item into runInner's select) and gives
	// runInner's own ctx.Done() case, letting the test exercise exactly
	// the gateway_changed(Some(v)) -> gateway_changed(None) transition
	// without waiting on the inner loop's other sources.
	ctx, cancel := context.WithCancel(context.Background())
	svc, attached, err := d.attach(ctx, seed)
	require.NoError(t, err)
	require.True(t, attached)
	require.Equal(t, addr, svc.URI.URI)

	cancel()
	shutdown := d.runInner(ctx, svc)

	require.True(t, shutdown)
	require.Equal(t, addr, d.attachedURI)
	require.Len(t, task.gatewayChanges, 2)
	require.NotNil(t, task.gatewayChanges[0])
	require.Equal(t, addr, task.gatewayChanges[0].URI.URI)
	require.Nil(t, task.gatewayChanges[1])
}

// Liveness failure (spec.md 8 scenario 4): a validator reporting a
// block age past GATEWAY_MAX_BLOCK_AGE fails the liveness check, which
// demotes the attachment. Routers observe gateway_changed(None) and
// gateway_retry advances to 1 (backoff.New's first sleep, covered by
// internal/backoff's TestFirstRetryIsMinWait, is GATEWAY_BACKOFF_MIN_WAIT).
func TestCheckLivenessUnhealthyDemotesAttachment(t *testing.T) {
	kp, err := signer.Generate()
	require.NoError(t, err)

	addr := startFakeValidator(t, func(string) map[string]any {
		return map[string]any{
			gatewayServicePath + "Config": signedConfigResp(t, kp, 42, 700),
		}
	})

	d := newTestDispatcher()
	task := &fakeRouterTask{}
	d.registry = router.New(func(string, router.Routing) (router.Task, error) { return task, nil }, nil)
	d.registry.Reconcile(router.FromEntry(validatorpb.RoutingEntry{OUI: 1, URIs: []validatorpb.KeyedURI{entryURI("A")}}), d.Logger)

	svc, err := validator.New(keyeduri.New(kp.PublicKey(), addr))
	require.NoError(t, err)

	require.False(t, d.checkLiveness(context.Background(), svc))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.backoffAndPrepare(ctx)

	require.Equal(t, uint32(1), d.gatewayRetry)
	require.Equal(t, []*validator.Service{nil}, task.gatewayChanges)
}
