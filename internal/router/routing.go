// Package router tracks the dynamic (OUI, validator-URI) -> router-task
// registry described by spec.md 4.5, reconciling it against each routing
// update pushed by the attached validator.
package router

import (
	"github.com/helium/gateway-dispatcher/internal/keyeduri"
	"github.com/helium/gateway-dispatcher/internal/validatorpb"
)

// RoutingInfo is the subset of an uplink packet's header the routing
// predicate matches against.
type RoutingInfo struct {
	OUI     uint32
	DevAddr uint32
	AppEUI  uint64
	DevEUI  uint64
}

// Routing is an immutable snapshot of one OUI's routing descriptor, as
// published by a single routing-stream update.
type Routing struct {
	OUI    uint32
	URIs   []keyeduri.KeyedUri
	filter validatorpb.RoutingFilter
}

// FromEntry builds a Routing snapshot from a decoded wire entry.
func FromEntry(e validatorpb.RoutingEntry) Routing {
	uris := make([]keyeduri.KeyedUri, 0, len(e.URIs))
	for _, u := range e.URIs {
		uris = append(uris, keyeduri.New(u.PubKey, u.URI))
	}
	return Routing{OUI: e.OUI, URIs: uris, filter: e.Filter}
}

// ContainsURI reports whether uri is among this descriptor's router URIs.
func (r Routing) ContainsURI(uri keyeduri.KeyedUri) bool {
	return r.ContainsURIString(uri.URI)
}

// ContainsURIString reports whether uri is among this descriptor's
// router URIs, comparing by URI alone. The registry keys router entries
// by (OUI, URI) rather than the full KeyedUri: Go map keys must be
// comparable and ed25519.PublicKey is a byte slice, and the URI alone
// already uniquely identifies a router endpoint in practice.
func (r Routing) ContainsURIString(uri string) bool {
	for _, u := range r.URIs {
		if u.URI == uri {
			return true
		}
	}
	return false
}

// Matches reports whether info falls inside this descriptor's routing
// filter: either one of its dev-addr ranges, or one of its (app_eui,
// dev_eui) pairs. A descriptor with an empty filter matches nothing (an
// OUI with no explicit filter relies on default-router forwarding
// instead, per spec.md design note 9(b)).
func (r Routing) Matches(info RoutingInfo) bool {
	for _, rng := range r.filter.DevAddrRanges {
		if info.DevAddr >= rng.StartAddr && info.DevAddr <= rng.EndAddr {
			return true
		}
	}
	for _, pair := range r.filter.EUIPairs {
		if pair.AppEUI == info.AppEUI && pair.DevEUI == info.DevEUI {
			return true
		}
	}
	return false
}
