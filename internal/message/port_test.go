package message

import (
	"context"
	"testing"
	"time"

	"github.com/helium/gateway-dispatcher/internal/router"
	"github.com/stretchr/testify/require"
)

func TestSendUplinkAndRecv(t *testing.T) {
	port := NewPort(1)
	ctx := context.Background()

	require.NoError(t, port.SendUplink(ctx, samplePacket()))

	msg := <-port.Recv()
	require.Equal(t, KindUplink, msg.Kind)
}

func TestSendBlocksWhenFullUntilContextCancelled(t *testing.T) {
	port := NewPort(1)
	require.NoError(t, port.SendUplink(context.Background(), samplePacket()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := port.SendUplink(ctx, samplePacket())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigReplyRoundTrip(t *testing.T) {
	port := NewPort(1)
	ctx := context.Background()

	rx, err := port.SendConfig(ctx, []string{"k"})
	require.NoError(t, err)

	msg := <-port.Recv()
	require.Equal(t, KindConfig, msg.Kind)
	require.Equal(t, []string{"k"}, msg.ConfigKeys)
	msg.ConfigReply.Send(ConfigReply{Err: ErrNoService})

	reply := <-rx
	require.ErrorIs(t, reply.Err, ErrNoService)
}

func TestReplySendNeverBlocksWhenAbandoned(t *testing.T) {
	reply, _ := NewReply[HeightReply]()
	done := make(chan struct{})
	go func() {
		reply.Send(HeightReply{Height: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on an abandoned reply channel")
	}
}

func TestZeroValueReplyIsANoop(t *testing.T) {
	var reply Reply[HeightReply]
	require.NotPanics(t, func() { reply.Send(HeightReply{}) })
}

func samplePacket() router.Packet {
	return router.Packet{Routing: router.RoutingInfo{OUI: 1}, Payload: []byte("hello")}
}
