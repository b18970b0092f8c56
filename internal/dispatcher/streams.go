package dispatcher

import (
	"github.com/helium/gateway-dispatcher/internal/events"
	"github.com/helium/gateway-dispatcher/internal/region"
	"github.com/helium/gateway-dispatcher/internal/router"
	"github.com/helium/gateway-dispatcher/internal/validator"
	"github.com/helium/gateway-dispatcher/internal/validatorpb"
)

// handleRoutingUpdate implements the Routing row of spec.md 4.3's
// dispatch table: update the router registry and advance
// routing_height, subject to the monotonic-watermark invariant.
func (d *Dispatcher) handleRoutingUpdate(payload any) {
	resp, ok := payload.(validatorpb.RoutingResp)
	if !ok {
		d.Warn().Msg("routing stream item had unexpected payload type")
		return
	}
	if resp.Height <= d.routingHeight {
		d.Warn().Uint64("update_height", resp.Height).Uint64("routing_height", d.routingHeight).
			Msg("routing returned invalid height")
		return
	}
	for _, entry := range resp.Routings {
		if len(entry.URIs) == 0 {
			d.Warn().Uint32("oui", entry.OUI).Msg("failed to parse routing: no router uris")
			continue
		}
		d.registry.Reconcile(router.FromEntry(entry), d.Logger)
	}
	d.routingHeight = resp.Height
	d.Info().Uint64("height", resp.Height).Msg("updated routing")
	if d.metrics != nil {
		d.metrics.SetRouterCount(d.registry.Len())
		d.metrics.SetHeights(d.routingHeight, d.regionHeight)
	}
	d.publishEvent(events.Event{Kind: events.RoutingUpdated, Height: resp.Height})
	d.refreshState()
}

// handleRegionUpdate implements the Region row: advance region_height,
// update region, and notify all routers.
func (d *Dispatcher) handleRegionUpdate(payload any) {
	resp, ok := payload.(validatorpb.RegionParamsResp)
	if !ok {
		d.Warn().Msg("region stream item had unexpected payload type")
		return
	}
	if resp.Height <= d.regionHeight {
		d.Warn().Uint64("update_height", resp.Height).Uint64("region_height", d.regionHeight).
			Msg("region returned invalid height")
		return
	}
	r, err := region.FromWire(resp.Region)
	if err != nil {
		d.Warn().Err(err).Msg("error decoding region")
		return
	}
	d.region = r
	d.regionHeight = resp.Height
	d.registry.BroadcastRegionChanged(r.Wire())
	d.Info().Str("region", r.String()).Uint64("height", resp.Height).Msg("updated region")
	if d.metrics != nil {
		d.metrics.SetHeights(d.routingHeight, d.regionHeight)
	}
	d.publishEvent(events.Event{Kind: events.RegionUpdated, Region: r.String(), Height: resp.Height})
	d.refreshState()
}

// handleConfigUpdate implements the Config row: forward changed keys to
// the PoC worker.
func (d *Dispatcher) handleConfigUpdate(payload any) {
	resp, ok := payload.(validatorpb.ConfigUpdateResp)
	if !ok {
		d.Warn().Msg("config stream item had unexpected payload type")
		return
	}
	if d.pocw != nil {
		d.pocw.ConfigChanged(resp.Keys)
	}
}

// handlePocChallenge implements the Poc row: forward the challenge to
// the PoC worker.
func (d *Dispatcher) handlePocChallenge(payload any) {
	resp, ok := payload.(validatorpb.PocChallengeResp)
	if !ok {
		d.Warn().Msg("poc stream item had unexpected payload type")
		return
	}
	ch, err := validator.ChallengeFrom(resp)
	if err != nil {
		d.Warn().Err(err).Msg("failed to parse poc challenge")
		return
	}
	if d.pocw != nil {
		d.pocw.Challenge(ch)
	}
}
