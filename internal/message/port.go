// Package message defines the dispatcher's inbound command port: the
// bounded queue of tagged messages described by spec.md 4.6 and section
// 6. Producers outside the dispatcher send on the port; the dispatcher
// is the port's sole consumer.
package message

import (
	"context"

	"github.com/helium/gateway-dispatcher/internal/region"
	"github.com/helium/gateway-dispatcher/internal/router"
)

// Reply is a single-use response channel, mirroring the Rust source's
// oneshot reply sender: a reply is sent at most once, and the sender
// must never block waiting for a reader that may have walked away.
type Reply[T any] struct {
	ch chan T
}

// NewReply constructs a Reply with its receiving end.
func NewReply[T any]() (Reply[T], <-chan T) {
	ch := make(chan T, 1)
	return Reply[T]{ch: ch}, ch
}

// Send delivers v without blocking. If the receiver has abandoned the
// channel (already received, or never listening because the reply is
// zero-valued), Send is a no-op: the dispatcher never blocks on reply
// delivery.
func (r Reply[T]) Send(v T) {
	if r.ch == nil {
		return
	}
	select {
	case r.ch <- v:
	default:
	}
}

// HeightReply is the answer to a Height query.
type HeightReply struct {
	URI      string
	Height   uint64
	BlockAge uint64
	Version  *uint64
	Err      error
}

// ConfigReply is the answer to a Config query.
type ConfigReply struct {
	Values []ConfigVar
	Err    error
}

// ConfigVar mirrors validatorpb.ConfigVar without pulling the wire
// package into every message consumer.
type ConfigVar struct {
	Name  string
	Type  string
	Value string
}

// ErrNoService is returned on Config/Height queries while no validator
// is attached.
var ErrNoService = noServiceError{}

type noServiceError struct{}

func (noServiceError) Error() string { return "no_service" }

// Message is the tagged union the dispatcher's control loop selects on.
// Exactly one of the typed fields alongside Kind is populated.
type Message struct {
	Kind Kind

	Uplink    router.Packet
	PocPacket router.Packet

	ConfigKeys  []string
	ConfigReply Reply[ConfigReply]

	HeightReply Reply[HeightReply]

	RegionReply Reply[region.Region]
}

// Kind tags which arm of Message is populated.
type Kind int

const (
	KindUplink Kind = iota
	KindPocPacket
	KindConfig
	KindHeight
	KindRegion
)

// Port is the bounded inbound message queue. Send blocks when the port
// is full, exactly as a backpressure-producing bounded channel; ctx
// cancellation unblocks a pending Send.
type Port struct {
	ch chan Message
}

// NewPort creates a port with the given capacity.
func NewPort(capacity int) *Port {
	return &Port{ch: make(chan Message, capacity)}
}

// Send enqueues msg, blocking while the port is full or returning
// ctx.Err() if ctx is cancelled first.
func (p *Port) Send(ctx context.Context, msg Message) error {
	select {
	case p.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the channel the dispatcher selects on to receive
// messages.
func (p *Port) Recv() <-chan Message {
	return p.ch
}

// SendUplink sends an Uplink message, a convenience for packet forwarders.
func (p *Port) SendUplink(ctx context.Context, pkt router.Packet) error {
	return p.Send(ctx, Message{Kind: KindUplink, Uplink: pkt})
}

// SendPocPacket sends a PocPacket message.
func (p *Port) SendPocPacket(ctx context.Context, pkt router.Packet) error {
	return p.Send(ctx, Message{Kind: KindPocPacket, PocPacket: pkt})
}

// SendConfig sends a Config query and returns its reply channel.
func (p *Port) SendConfig(ctx context.Context, keys []string) (<-chan ConfigReply, error) {
	reply, rx := NewReply[ConfigReply]()
	if err := p.Send(ctx, Message{Kind: KindConfig, ConfigKeys: keys, ConfigReply: reply}); err != nil {
		return nil, err
	}
	return rx, nil
}

// SendHeight sends a Height query and returns its reply channel.
func (p *Port) SendHeight(ctx context.Context) (<-chan HeightReply, error) {
	reply, rx := NewReply[HeightReply]()
	if err := p.Send(ctx, Message{Kind: KindHeight, HeightReply: reply}); err != nil {
		return nil, err
	}
	return rx, nil
}

// SendRegionQuery sends a Region query and returns its reply channel.
func (p *Port) SendRegionQuery(ctx context.Context) (<-chan region.Region, error) {
	reply, rx := NewReply[region.Region]()
	if err := p.Send(ctx, Message{Kind: KindRegion, RegionReply: reply}); err != nil {
		return nil, err
	}
	return rx, nil
}
