package dispatcher

import (
	"time"

	"context"

	"github.com/helium/gateway-dispatcher/internal/events"
	"github.com/helium/gateway-dispatcher/internal/gatewaystream"
	"github.com/helium/gateway-dispatcher/internal/validator"
)

// runInner drives the inner loop of spec.md 4.4 while attached to svc.
// It returns true if ctx was cancelled (Run must now return), false if
// the attachment was demoted back to backoff (stream error, end of
// stream, or a stale liveness check).
func (d *Dispatcher) runInner(ctx context.Context, svc validator.Service) (shutdown bool) {
	d.registry.BroadcastGatewayChanged(&svc)
	d.attachedURI = svc.URI.URI
	d.publishEvent(events.Event{Kind: events.Attached, Validator: svc.URI.URI})
	if d.metrics != nil {
		d.metrics.SetAttached(true)
	}
	d.refreshState()
	defer d.mux.Close()

	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()

	for {
		// Shutdown takes priority over any other source that is ready at
		// the same time (select alone picks among ready cases at random).
		if ctx.Err() != nil {
			d.registry.BroadcastGatewayChanged(nil)
			return true
		}
		select {
		case <-ctx.Done():
			d.registry.BroadcastGatewayChanged(nil)
			return true

		case item, ok := <-d.mux.Items():
			if !ok {
				d.Warn().Msg("gateway stream multiplexer closed, re-selecting validator")
				d.registry.BroadcastGatewayChanged(nil)
				return false
			}
			if item.Err != nil {
				d.Warn().Err(item.Err).Str("stream", item.Kind.String()).Msg("gateway stream error")
				if d.metrics != nil {
					d.metrics.StreamErrors.Inc()
				}
				d.registry.BroadcastGatewayChanged(nil)
				return false
			}
			d.handleStreamItem(item)

		case <-ticker.C:
			if !d.checkLiveness(ctx, svc) {
				d.registry.BroadcastGatewayChanged(nil)
				return false
			}

		case msg := <-d.port.Recv():
			d.handlePortMessageAttached(ctx, svc, msg)
		}
	}
}

// checkLiveness performs the GATEWAY_CHECK_INTERVAL probe. It returns
// false if the attachment is unhealthy and must be torn down.
func (d *Dispatcher) checkLiveness(ctx context.Context, svc validator.Service) bool {
	_, blockAge, err := svc.Height(ctx)
	if err != nil {
		d.Warn().Err(err).Msg("liveness check rpc failed")
		return false
	}
	if time.Duration(blockAge)*time.Second > MaxBlockAge {
		d.Warn().Uint64("block_age", blockAge).Msg("validator chain too stale")
		return false
	}
	d.gatewayRetry = 0
	d.bo.Reset()
	return true
}

// handleStreamItem implements the per-kind dispatch table of
// spec.md 4.3.
func (d *Dispatcher) handleStreamItem(item gatewaystream.Item) {
	switch item.Kind {
	case gatewaystream.Routing:
		d.handleRoutingUpdate(item.Payload)
	case gatewaystream.Region:
		d.handleRegionUpdate(item.Payload)
	case gatewaystream.Config:
		d.handleConfigUpdate(item.Payload)
	case gatewaystream.Poc:
		d.handlePocChallenge(item.Payload)
	}
}
