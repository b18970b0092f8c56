package router

import (
	"github.com/helium/gateway-dispatcher/internal/validator"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// Task is the command port a spawned router-client task exposes to the
// registry (spec.md 4.7). The registry never inspects a task beyond
// this surface. GatewayChanged carries the new validator handle, or nil
// on detach, mirroring the upstream gateway_changed(Option<Handle>).
type Task interface {
	Uplink(pkt Packet)
	GatewayChanged(svc *validator.Service)
	RegionChanged(regionTag int32)
	Stop()
}

// Packet is an uplink or PoC packet fanned out to matching routers.
type Packet struct {
	Routing RoutingInfo
	Payload []byte
}

// SpawnFunc constructs a new router-client task for (oui, uri) under
// routing. Construction failure is logged and the slot is retried on
// the next routing update naming that URI (spec.md 4.5/4.6).
type SpawnFunc func(uri string, routing Routing) (Task, error)

type entry struct {
	routing Routing
	task    Task
}

// Registry is the dispatcher-owned (OUI, URI) -> router-task mapping.
// Reconcile/BroadcastGatewayChanged/BroadcastRegionChanged/Dispatch/Stop
// are only ever called from the dispatcher's single control-loop
// goroutine; entries is an xsync.Map so Keys/Len stay safe to call
// concurrently too. (The admin surface's /debug/state does not call
// them: it reads the snapshot Dispatcher.refreshState builds from Keys
// on the control loop.)
type Registry struct {
	entries        *xsync.Map[RouterKey, entry]
	defaultRouters []string
	spawn          SpawnFunc

	// OnAdd and OnRemove are optional observability hooks, called after
	// a router entry is admitted or retired. Neither is required for
	// correctness: they exist so callers (the admin event bus, metrics)
	// can observe registry churn without the registry importing them.
	OnAdd        func(oui uint32, uri string)
	OnRemove     func(oui uint32, uri string)
	OnSpawnError func(oui uint32, uri string)
}

// RouterKey identifies one registry slot.
type RouterKey struct {
	OUI uint32
	URI string
}

// New builds an empty registry. defaultRouters lists URIs that receive
// uplinks matching no routing descriptor.
func New(spawn SpawnFunc, defaultRouters []string) *Registry {
	return &Registry{
		entries:        xsync.NewMap[RouterKey, entry](),
		defaultRouters: defaultRouters,
		spawn:          spawn,
	}
}

// Len reports the number of live registry entries.
func (r *Registry) Len() int {
	return r.entries.Size()
}

// Keys returns the current registry keys, for tests and debug surfaces.
func (r *Registry) Keys() []RouterKey {
	keys := make([]RouterKey, 0, r.entries.Size())
	r.entries.Range(func(k RouterKey, _ entry) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Reconcile admits routing, spawning a task for any (OUI, URI) pair not
// already present, then retires any existing entry for the same OUI
// whose URI no longer appears in routing — mirroring
// handle_oui_routing_update: entries for other OUIs are left untouched.
func (r *Registry) Reconcile(routing Routing, log zerolog.Logger) {
	for _, uri := range routing.URIs {
		key := RouterKey{OUI: routing.OUI, URI: uri.URI}
		if _, ok := r.entries.Load(key); ok {
			continue
		}
		task, err := r.spawn(uri.URI, routing)
		if err != nil {
			log.Warn().Err(err).Uint32("oui", routing.OUI).Str("uri", uri.URI).
				Msg("failed to construct router")
			if r.OnSpawnError != nil {
				r.OnSpawnError(routing.OUI, uri.URI)
			}
			continue
		}
		r.entries.Store(key, entry{routing: routing, task: task})
		if r.OnAdd != nil {
			r.OnAdd(routing.OUI, uri.URI)
		}
	}

	var retired []RouterKey
	r.entries.Range(func(key RouterKey, _ entry) bool {
		if key.OUI != routing.OUI {
			return true
		}
		if routing.ContainsURIString(key.URI) {
			return true
		}
		log.Info().Uint32("oui", key.OUI).Str("uri", key.URI).Msg("removing router")
		retired = append(retired, key)
		return true
	})
	for _, key := range retired {
		e, ok := r.entries.Load(key)
		if !ok {
			continue
		}
		r.entries.Delete(key)
		e.task.Stop()
		if r.OnRemove != nil {
			r.OnRemove(key.OUI, key.URI)
		}
	}
}

// BroadcastGatewayChanged notifies every registered router of an
// attach/detach transition. svc is nil on detach.
func (r *Registry) BroadcastGatewayChanged(svc *validator.Service) {
	r.entries.Range(func(_ RouterKey, e entry) bool {
		e.task.GatewayChanged(svc)
		return true
	})
}

// BroadcastRegionChanged notifies every registered router of a region
// change.
func (r *Registry) BroadcastRegionChanged(regionTag int32) {
	r.entries.Range(func(_ RouterKey, e entry) bool {
		e.task.RegionChanged(regionTag)
		return true
	})
}

// Dispatch forwards pkt to every entry whose routing descriptor matches
// pkt.Routing. If none match and default routers are configured, it
// forwards instead to every entry whose URI is in the default list —
// the registry never synthesizes a router for a default URI with no
// existing entry (spec.md design note 9(b)).
// Dispatch reports whether pkt matched at least one registry entry's
// routing descriptor (as opposed to falling through to default-router
// forwarding), for callers that track unmatched-uplink metrics.
func (r *Registry) Dispatch(pkt Packet) (matched bool) {
	r.entries.Range(func(_ RouterKey, e entry) bool {
		if e.routing.Matches(pkt.Routing) {
			e.task.Uplink(pkt)
			matched = true
		}
		return true
	})
	if matched || len(r.defaultRouters) == 0 {
		return matched
	}
	r.entries.Range(func(key RouterKey, e entry) bool {
		if containsString(r.defaultRouters, key.URI) {
			e.task.Uplink(pkt)
		}
		return true
	})
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Stop signals every registered router task to stop, used on full
// dispatcher shutdown. It does not wait for the tasks to exit; join
// handles are owned by whoever spawned them.
func (r *Registry) Stop() {
	var keys []RouterKey
	r.entries.Range(func(key RouterKey, e entry) bool {
		e.task.Stop()
		keys = append(keys, key)
		return true
	})
	for _, key := range keys {
		r.entries.Delete(key)
	}
}
