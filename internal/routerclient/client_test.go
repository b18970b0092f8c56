package routerclient

import (
	"context"
	"testing"
	"time"

	"github.com/helium/gateway-dispatcher/internal/keyeduri"
	"github.com/helium/gateway-dispatcher/internal/router"
	"github.com/helium/gateway-dispatcher/internal/validator"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, downlink chan router.Packet) (*Client, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	var dl chan<- router.Packet
	if downlink != nil {
		dl = downlink
	}
	c := New(ctx, 1, 0, keyeduri.New(nil, "router.example"), dl, nil, nil, zerolog.Nop())
	t.Cleanup(cancel)
	return c, cancel
}

func TestUplinkForwardsToDownlink(t *testing.T) {
	downlink := make(chan router.Packet, 1)
	c, _ := newTestClient(t, downlink)

	c.Uplink(router.Packet{Routing: router.RoutingInfo{OUI: 1}})

	select {
	case pkt := <-downlink:
		require.Equal(t, uint32(1), pkt.Routing.OUI)
	case <-time.After(time.Second):
		t.Fatal("uplink was not forwarded")
	}
}

func TestGatewayAndRegionChangedUpdateState(t *testing.T) {
	c, _ := newTestClient(t, nil)

	c.GatewayChanged(&validator.Service{})
	c.RegionChanged(5)

	require.Eventually(t, func() bool { return c.Attached() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Region() == 5 }, time.Second, time.Millisecond)
}

func TestStopEndsRunLoop(t *testing.T) {
	c, _ := newTestClient(t, nil)
	c.Stop()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not stop")
	}
}

func TestContextCancelEndsRunLoop(t *testing.T) {
	c, cancel := newTestClient(t, nil)
	cancel()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not stop on context cancel")
	}
}
