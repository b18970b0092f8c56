// Package dispatcher implements the core control loop described by
// spec.md 4.4: it owns validator selection and backoff, the router
// registry, the liveness check, and the inbound message port. It is
// the largest and most central component of the gateway — everything
// else in this module exists to be driven by it.
package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/helium/gateway-dispatcher/internal/backoff"
	"github.com/helium/gateway-dispatcher/internal/events"
	"github.com/helium/gateway-dispatcher/internal/gatewaystream"
	"github.com/helium/gateway-dispatcher/internal/gwerr"
	"github.com/helium/gateway-dispatcher/internal/keyeduri"
	"github.com/helium/gateway-dispatcher/internal/message"
	"github.com/helium/gateway-dispatcher/internal/metrics"
	"github.com/helium/gateway-dispatcher/internal/pocworker"
	"github.com/helium/gateway-dispatcher/internal/region"
	"github.com/helium/gateway-dispatcher/internal/router"
	"github.com/helium/gateway-dispatcher/internal/routerclient"
	"github.com/helium/gateway-dispatcher/internal/signer"
	"github.com/helium/gateway-dispatcher/internal/validator"
	"github.com/rs/zerolog"
)

// MaxBlockAge is GATEWAY_MAX_BLOCK_AGE: a liveness check finding the
// chain older than this demotes the current attachment to backoff.
const MaxBlockAge = 600 * time.Second

// CheckInterval is GATEWAY_CHECK_INTERVAL (MaxBlockAge / 2): how often
// the inner loop probes the attached validator's height.
const CheckInterval = MaxBlockAge / 2

// RandomNewFanout is the "n" passed to Service.RandomNew when picking a
// validator to attach to from a seed's validator list.
const RandomNewFanout = 5

// Config holds everything recognized at construction (spec.md 6).
type Config struct {
	SeedGateways   []keyeduri.KeyedUri // non-empty
	DefaultRouters []string
	Region         region.Region
	Keypair        *signer.Keypair
	CacheSettings  any

	MessagePortCapacity int // default 64 if zero
	DownlinkCapacity    int // default 64 if zero

	PocWorker *pocworker.Worker
	Logger    zerolog.Logger

	// Metrics and Events are optional observability sinks. Both are
	// nil-safe: a dispatcher built without them runs identically, just
	// unobserved.
	Metrics *metrics.Set
	Events  *events.Bus
}

// Dispatcher is the process-wide singleton control loop (spec.md 3,
// "Dispatcher state"). It is not safe to share across goroutines beyond
// its own Run loop and the Port it exposes to producers.
type Dispatcher struct {
	zerolog.Logger

	keypair        *signer.Keypair
	seedGateways   []keyeduri.KeyedUri
	defaultRouters []string
	cacheSettings  any

	region        region.Region
	attachedURI   string // current validator URI, "" while detached
	routingHeight uint64
	regionHeight  uint64
	gatewayRetry  uint32

	registry *router.Registry
	port     *message.Port
	pocw     *pocworker.Worker
	bo       *backoff.Policy
	metrics  *metrics.Set
	events   *events.Bus

	downlink chan router.Packet

	// runCtx is the whole-process lifetime context, valid only while
	// Run is executing. Router-client tasks are children of it, so a
	// validator detach does not tear them down (spec.md 5,
	// "Cancellation": routers are told gateway_changed(None), not
	// killed, and separately observe the shutdown signal).
	runCtx context.Context
	mux    *gatewaystream.Multiplexer

	// state is a point-in-time snapshot refreshed by the control-loop
	// goroutine whenever anything it reports changes. It is the only
	// dispatcher-owned data safe to read from another goroutine (the
	// admin HTTP handler): everything else above is exclusively owned
	// by Run's goroutine per spec.md 5.
	state atomic.Pointer[State]
}

// State is a read-only snapshot of dispatcher state for the admin
// surface's /debug/state endpoint and for tests.
type State struct {
	Attached      bool
	ValidatorURI  string
	Region        string
	RoutingHeight uint64
	RegionHeight  uint64
	GatewayRetry  uint32
	Routers       []router.RouterKey
}

// State returns the most recent snapshot. Safe to call from any
// goroutine.
func (d *Dispatcher) State() State {
	if s := d.state.Load(); s != nil {
		return *s
	}
	return State{}
}

// refreshState republishes the current snapshot; called by the control
// loop after any change relevant to State's fields.
func (d *Dispatcher) refreshState() {
	d.state.Store(&State{
		Attached:      d.attachedURI != "",
		ValidatorURI:  d.attachedURI,
		Region:        d.region.String(),
		RoutingHeight: d.routingHeight,
		RegionHeight:  d.regionHeight,
		GatewayRetry:  d.gatewayRetry,
		Routers:       d.registry.Keys(),
	})
}

// New constructs a Dispatcher from cfg. Run must be called to start it.
func New(cfg Config) *Dispatcher {
	if cfg.MessagePortCapacity <= 0 {
		cfg.MessagePortCapacity = 64
	}
	if cfg.DownlinkCapacity <= 0 {
		cfg.DownlinkCapacity = 64
	}
	d := &Dispatcher{
		Logger:         cfg.Logger.With().Str("component", "dispatcher").Logger(),
		keypair:        cfg.Keypair,
		seedGateways:   cfg.SeedGateways,
		defaultRouters: cfg.DefaultRouters,
		cacheSettings:  cfg.CacheSettings,
		region:         cfg.Region,
		port:           message.NewPort(cfg.MessagePortCapacity),
		pocw:           cfg.PocWorker,
		bo:             backoff.New(),
		downlink:       make(chan router.Packet, cfg.DownlinkCapacity),
		metrics:        cfg.Metrics,
		events:         cfg.Events,
	}
	d.registry = router.New(d.spawnRouter, cfg.DefaultRouters)
	d.registry.OnAdd = func(oui uint32, uri string) {
		if d.metrics != nil {
			d.metrics.RoutersSpawned.Inc()
		}
		d.publishEvent(events.Event{Kind: events.RouterAdded, OUI: oui, RouterURI: uri})
	}
	d.registry.OnRemove = func(oui uint32, uri string) {
		if d.metrics != nil {
			d.metrics.RoutersRetired.Inc()
		}
		d.publishEvent(events.Event{Kind: events.RouterRemoved, OUI: oui, RouterURI: uri})
	}
	d.registry.OnSpawnError = func(uint32, string) {
		if d.metrics != nil {
			d.metrics.RouterSpawnErrors.Inc()
		}
	}
	d.refreshState()
	return d
}

// publishEvent stamps and forwards ev to the dispatcher's event bus, a
// no-op if Events was not configured.
func (d *Dispatcher) publishEvent(ev events.Event) {
	if d.events == nil {
		return
	}
	ev.At = time.Now()
	d.events.Publish(ev)
}

// Port exposes the inbound message port to producers outside the
// dispatcher.
func (d *Dispatcher) Port() *message.Port { return d.port }

// Downlink exposes the channel router tasks forward accepted uplinks
// to; the actual radio transmission path is an external collaborator
// (spec.md 1, out of scope) that drains this channel.
func (d *Dispatcher) Downlink() <-chan router.Packet { return d.downlink }

func (d *Dispatcher) spawnRouter(uri string, routing router.Routing) (router.Task, error) {
	// The spawn closure is invoked only from Reconcile, which in turn
	// is only ever called from within Run, so d.runCtx is always set by
	// the time this runs.
	return routerclient.New(d.runCtx, routing.OUI, d.region.Wire(), keyeduri.New(nil, uri), d.downlink, d.keypair, d.cacheSettings, d.Logger), nil
}

// Run drives the dispatcher until ctx is cancelled or the seed list is
// empty (the only fatal condition). It is meant to be called once, from
// the process's main goroutine or a supervising one.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.runCtx = ctx
	defer d.registry.Stop()

	if len(d.seedGateways) == 0 {
		return gwerr.Custom("empty seed gateway list")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		seed, err := validator.SelectSeed(d.seedGateways)
		if err != nil {
			return err
		}

		svc, attached, err := d.attach(ctx, seed)
		if attached {
			if shutdown := d.runInner(ctx, svc); shutdown {
				return ctx.Err()
			}
		} else if err != nil {
			d.Warn().Err(err).Msg("validator selection failed")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if shutdown := d.backoffAndPrepare(ctx); shutdown {
			return ctx.Err()
		}
	}
}

// attach performs one selection attempt: pick a random validator from
// seed's known set, then open all four streams against it. It returns
// attached=false if ctx was cancelled mid-selection; err is then nil or
// the error the cancellation caused.
func (d *Dispatcher) attach(ctx context.Context, seed validator.Service) (svc validator.Service, attached bool, err error) {
	svc, ok, err := seed.RandomNew(ctx, RandomNewFanout, ctx.Done())
	if err != nil {
		return validator.Service{}, false, err
	}
	if !ok {
		return validator.Service{}, false, nil
	}

	mux, err := gatewaystream.Open(ctx, svc, d.keypair, d.routingHeight)
	if err != nil {
		return validator.Service{}, false, err
	}
	d.mux = mux
	return svc, true, nil
}

// backoffAndPrepare implements spec.md 4.4 outer-loop step 5: it
// returns true if shutdown fired while waiting.
func (d *Dispatcher) backoffAndPrepare(ctx context.Context) (shutdown bool) {
	d.registry.BroadcastGatewayChanged(nil)
	d.attachedURI = ""
	d.routingHeight = 0
	d.regionHeight = 0
	d.gatewayRetry++
	d.publishEvent(events.Event{Kind: events.Detached})
	if d.metrics != nil {
		d.metrics.SetAttached(false)
		d.metrics.SetGatewayRetry(d.gatewayRetry)
		d.metrics.SetHeights(0, 0)
	}
	d.refreshState()

	sleep := d.bo.Next()
	d.Info().Dur("sleep", sleep).Uint32("gateway_retry", d.gatewayRetry).Msg("backing off before next attach attempt")

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return true
		case <-timer.C:
			return false
		case msg := <-d.port.Recv():
			d.handlePortMessageDetached(msg)
		}
	}
}
