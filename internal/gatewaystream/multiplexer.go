// Package gatewaystream multiplexes the four server-pushed streams a
// dispatcher consumes from an attached validator (routing, region
// params, config changes, PoC challenges) into one arrival-ordered
// fan-in channel, per spec.md 4.3.
package gatewaystream

import (
	"context"
	"sync"

	"github.com/helium/gateway-dispatcher/internal/signer"
	"github.com/helium/gateway-dispatcher/internal/validator"
)

// Kind tags which of the four streams an Item came from.
type Kind int

const (
	Routing Kind = iota
	Region
	Config
	Poc
)

func (k Kind) String() string {
	switch k {
	case Routing:
		return "routing"
	case Region:
		return "region"
	case Config:
		return "config"
	case Poc:
		return "poc"
	default:
		return "unknown"
	}
}

// Item is one message delivered by the multiplexer: Payload holds a
// validatorpb.RoutingResp, validatorpb.RegionParamsResp,
// validatorpb.ConfigUpdateResp, or validatorpb.PocChallengeResp value
// depending on Kind. Err is non-nil on a stream-item decode/verify/
// transport failure; the dispatcher treats a non-nil Err as fatal to
// the current attachment (spec.md 4.3) and tears the multiplexer down.
type Item struct {
	Kind    Kind
	Payload any
	Err     error
}

// Multiplexer fans in the four streams opened against one validator
// attachment.
type Multiplexer struct {
	items  chan Item
	cancel context.CancelFunc
}

// Open opens all four streams against svc and starts fanning them in.
// routingHeight is the watermark to resume the routing stream from.
func Open(ctx context.Context, svc validator.Service, kp *signer.Keypair, routingHeight uint64) (*Multiplexer, error) {
	ctx, cancel := context.WithCancel(ctx)

	routing, err := svc.RoutingStream(ctx, routingHeight)
	if err != nil {
		cancel()
		return nil, err
	}
	region, err := svc.RegionParamsStream(ctx, kp)
	if err != nil {
		cancel()
		return nil, err
	}
	cfg, err := svc.ConfigStream(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	poc, err := svc.PocStream(ctx, kp)
	if err != nil {
		cancel()
		return nil, err
	}

	m := &Multiplexer{items: make(chan Item), cancel: cancel}
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); pump(ctx, m.items, Routing, func() (any, error) { return routing.Next() }) }()
	go func() { defer wg.Done(); pump(ctx, m.items, Region, func() (any, error) { return region.Next() }) }()
	go func() { defer wg.Done(); pump(ctx, m.items, Config, func() (any, error) { return cfg.Next() }) }()
	go func() { defer wg.Done(); pump(ctx, m.items, Poc, func() (any, error) { return poc.Next() }) }()
	go func() { wg.Wait(); close(m.items) }()
	return m, nil
}

// Items returns the fan-in channel. It closes once all four pumps have
// returned: every stream ended (with a final non-nil-Err item sent
// first) or Close was called, cancelling every pump's context. A
// receive reporting ok=false therefore means the multiplexer is fully
// torn down with nothing further to deliver, distinct from any single
// stream's own end-of-stream/error Item.
func (m *Multiplexer) Items() <-chan Item {
	return m.items
}

// Close tears down all four underlying streams.
func (m *Multiplexer) Close() {
	m.cancel()
}

func pump(ctx context.Context, out chan<- Item, kind Kind, next func() (any, error)) {
	for {
		msg, err := next()
		if ctx.Err() != nil {
			return
		}
		select {
		case out <- Item{Kind: kind, Payload: msg, Err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
