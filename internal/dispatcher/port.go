package dispatcher

import (
	"context"

	"github.com/helium/gateway-dispatcher/internal/message"
	"github.com/helium/gateway-dispatcher/internal/router"
	"github.com/helium/gateway-dispatcher/internal/validator"
)

// handlePortMessageAttached implements spec.md 4.6's "with validator
// attached" semantics. Config and Height queries perform their RPC on a
// separate goroutine: the suspension points enumerated in spec.md 5 for
// the dispatcher's own select loop do not include "awaiting a
// port-driven RPC", so a slow validator must never stall Uplink/PocPacket
// handling or the liveness ticker.
func (d *Dispatcher) handlePortMessageAttached(ctx context.Context, svc validator.Service, msg message.Message) {
	switch msg.Kind {
	case message.KindUplink:
		d.dispatchUplink(msg.Uplink)
	case message.KindPocPacket:
		if d.pocw != nil {
			d.pocw.Packet(msg.PocPacket)
		}
	case message.KindConfig:
		if d.metrics != nil {
			d.metrics.ConfigQueries.Inc()
		}
		go d.answerConfig(ctx, svc, msg.ConfigKeys, msg.ConfigReply)
	case message.KindHeight:
		if d.metrics != nil {
			d.metrics.HeightQueries.Inc()
		}
		go d.answerHeight(ctx, svc, msg.HeightReply)
	case message.KindRegion:
		msg.RegionReply.Send(d.region)
	}
}

// dispatchUplink forwards pkt through the registry and records fan-out
// metrics (spec.md 4.6's Uplink handling, shared by the attached and
// detached paths).
func (d *Dispatcher) dispatchUplink(pkt router.Packet) {
	matched := d.registry.Dispatch(pkt)
	if d.metrics == nil {
		return
	}
	d.metrics.UplinksDispatched.Inc()
	if !matched {
		d.metrics.UplinksUnmatched.Inc()
	}
}

// handlePortMessageDetached implements spec.md 4.6's "with no validator
// attached" semantics.
func (d *Dispatcher) handlePortMessageDetached(msg message.Message) {
	switch msg.Kind {
	case message.KindUplink:
		d.dispatchUplink(msg.Uplink)
	case message.KindPocPacket:
		if d.pocw != nil {
			d.pocw.Packet(msg.PocPacket)
		}
	case message.KindConfig:
		msg.ConfigReply.Send(message.ConfigReply{Err: message.ErrNoService})
	case message.KindHeight:
		msg.HeightReply.Send(message.HeightReply{Err: message.ErrNoService})
	case message.KindRegion:
		msg.RegionReply.Send(d.region)
	}
}

func (d *Dispatcher) answerConfig(ctx context.Context, svc validator.Service, keys []string, reply message.Reply[message.ConfigReply]) {
	vars, err := svc.Config(ctx, keys)
	if err != nil {
		reply.Send(message.ConfigReply{Err: err})
		return
	}
	out := make([]message.ConfigVar, 0, len(vars))
	for _, v := range vars {
		out = append(out, message.ConfigVar{Name: v.Name, Type: v.Type, Value: v.Value})
	}
	reply.Send(message.ConfigReply{Values: out})
}

func (d *Dispatcher) answerHeight(ctx context.Context, svc validator.Service, reply message.Reply[message.HeightReply]) {
	height, blockAge, err := svc.Height(ctx)
	if err != nil {
		reply.Send(message.HeightReply{Err: err})
		return
	}
	version, err := svc.Version(ctx)
	if err != nil {
		version = nil // version() failure is treated as "unknown", not propagated
	}
	reply.Send(message.HeightReply{URI: svc.URI.URI, Height: height, BlockAge: blockAge, Version: version})
}
