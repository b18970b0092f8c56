// Package routerclient provides a minimal, concrete stand-in for the
// per-router client task that spec.md 4.7 treats as an external
// collaborator: only its command-port interface is specified, not its
// internal state-channel or uplink-delivery logic. This implementation
// exists so internal/router and internal/dispatcher have something real
// to drive and test against; it forwards what it receives and otherwise
// tolerates the detached state, exactly as spec.md 4.6 requires of it.
package routerclient

import (
	"context"
	"sync/atomic"

	"github.com/helium/gateway-dispatcher/internal/keyeduri"
	"github.com/helium/gateway-dispatcher/internal/router"
	"github.com/helium/gateway-dispatcher/internal/validator"
	"github.com/rs/zerolog"
)

// commandPortCapacity is the bounded queue size recommended by
// spec.md 5 ("Router command port: bounded queue (capacity 10
// recommended)").
const commandPortCapacity = 10

type commandKind int

const (
	cmdUplink commandKind = iota
	cmdGatewayChanged
	cmdRegionChanged
	cmdStop
)

type command struct {
	kind      commandKind
	pkt       router.Packet
	svc       *validator.Service
	regionTag int32
}

// Client is a concrete router-client task: constructed with the
// parameters spec.md 4.7 names, it runs its own goroutine consuming
// commands in FIFO order from its command port until it observes Stop
// or its context is cancelled.
type Client struct {
	zerolog.Logger

	OUI uint32
	URI keyeduri.KeyedUri

	// keypair and cacheSettings are forwarded verbatim from the
	// dispatcher but not interpreted here: the router's own signing
	// and caching behavior is out of scope (spec.md Non-goals).
	keypair       any
	cacheSettings any

	downlink chan<- router.Packet // where accepted uplinks are forwarded; nil drops them

	region atomic.Int32
	svc    atomic.Pointer[validator.Service]

	cmds   chan command
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs and starts a Client from (oui, region, KeyedUri,
// downlink_sender, keypair, cache_settings). It takes no validator
// handle: a new Client starts with no validator attached (Attached
// reports false) until its first GatewayChanged command.
func New(ctx context.Context, oui uint32, regionTag int32, uri keyeduri.KeyedUri, downlink chan<- router.Packet, keypair, cacheSettings any, logger zerolog.Logger) *Client {
	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		Logger:        logger.With().Uint32("oui", oui).Str("router_uri", uri.URI).Logger(),
		OUI:           oui,
		URI:           uri,
		keypair:       keypair,
		cacheSettings: cacheSettings,
		downlink:      downlink,
		cmds:          make(chan command, commandPortCapacity),
		done:          make(chan struct{}),
		ctx:           cctx,
		cancel:        cancel,
	}
	c.region.Store(regionTag)
	go c.run()
	return c
}

func (c *Client) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdStop:
				return
			case cmdGatewayChanged:
				c.svc.Store(cmd.svc)
			case cmdRegionChanged:
				c.region.Store(cmd.regionTag)
			case cmdUplink:
				if c.downlink == nil {
					continue
				}
				select {
				case c.downlink <- cmd.pkt:
				case <-c.ctx.Done():
					return
				}
			}
		}
	}
}

// enqueue pushes cmd onto the command port without blocking. A full
// port (the router has fallen behind, or its goroutine has already
// exited) is treated as "router went away": logged and dropped, never
// propagated back to the dispatcher.
func (c *Client) enqueue(cmd command) {
	select {
	case c.cmds <- cmd:
	default:
		c.Warn().Msg("router command port full, dropping command")
	}
}

// Uplink forwards pkt to the router task. Implements router.Task.
func (c *Client) Uplink(pkt router.Packet) {
	c.enqueue(command{kind: cmdUplink, pkt: pkt})
}

// GatewayChanged notifies the task of an attach/detach transition. svc
// is nil on detach. Implements router.Task.
func (c *Client) GatewayChanged(svc *validator.Service) {
	c.enqueue(command{kind: cmdGatewayChanged, svc: svc})
}

// RegionChanged notifies the task of a region change. Implements
// router.Task.
func (c *Client) RegionChanged(regionTag int32) {
	c.enqueue(command{kind: cmdRegionChanged, regionTag: regionTag})
}

// Stop signals the task to exit. Implements router.Task.
func (c *Client) Stop() {
	c.enqueue(command{kind: cmdStop})
}

// Done returns a channel closed once the task's run loop has returned.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Region reports the task's last-known region tag.
func (c *Client) Region() int32 {
	return c.region.Load()
}

// Attached reports whether the task last observed an attached
// validator.
func (c *Client) Attached() bool {
	return c.svc.Load() != nil
}
