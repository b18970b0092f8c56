// Package events defines the dispatcher's lifecycle event stream: a
// purely additive, best-effort fan-out used by the admin surface and
// tests to observe attach/detach and routing/region transitions. No
// SPEC_FULL.md operation depends on an event actually being delivered;
// a slow or absent subscriber never affects the dispatcher's own state
// machine.
package events

import "time"

// Kind tags which lifecycle transition an Event reports.
type Kind int

const (
	Attached Kind = iota
	Detached
	RoutingUpdated
	RegionUpdated
	RouterAdded
	RouterRemoved
)

func (k Kind) String() string {
	switch k {
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	case RoutingUpdated:
		return "routing_updated"
	case RegionUpdated:
		return "region_updated"
	case RouterAdded:
		return "router_added"
	case RouterRemoved:
		return "router_removed"
	default:
		return "unknown"
	}
}

// Event is one lifecycle transition, timestamped at emission.
type Event struct {
	Kind      Kind
	At        time.Time
	Validator string // validator URI, set on Attached
	OUI       uint32 // set on RouterAdded/RouterRemoved
	RouterURI string // set on RouterAdded/RouterRemoved
	Region    string // set on RegionUpdated
	Height    uint64 // set on RoutingUpdated/RegionUpdated
}

// subscriberCapacity bounds each subscriber's channel; a subscriber
// that falls behind has events dropped for it rather than blocking the
// publisher, mirroring the teacher's websocket broadcast-to-many-conns
// pattern in stages/websocket.go (a slow reader never stalls the
// writer side).
const subscriberCapacity = 32

// Bus fans out Events to any number of subscribers. The zero value is
// not usable; construct with NewBus.
type Bus struct {
	subs   chan chan Event
	unsubs chan chan Event
	pub    chan Event
	done   chan struct{}
}

// NewBus starts a Bus's internal fan-out goroutine, which runs until
// Close is called.
func NewBus() *Bus {
	b := &Bus{
		subs:   make(chan chan Event),
		unsubs: make(chan chan Event),
		pub:    make(chan Event, subscriberCapacity),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	subscribers := make(map[chan Event]struct{})
	for {
		select {
		case ev := <-b.pub:
			for ch := range subscribers {
				select {
				case ch <- ev:
				default: // slow subscriber, drop
				}
			}
		case ch := <-b.subs:
			if ch == nil {
				return
			}
			subscribers[ch] = struct{}{}
		case ch := <-b.unsubs:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}
		case <-b.done:
			return
		}
	}
}

// Publish enqueues ev for delivery to current subscribers. It never
// blocks: a full internal queue means the event is dropped and logging
// that is the caller's responsibility, since events are observability
// only.
func (b *Bus) Publish(ev Event) {
	select {
	case b.pub <- ev:
	default:
	}
}

// Subscribe returns a channel of future events. Callers must keep
// draining it until Unsubscribe is called; a stalled subscriber
// silently misses events rather than backing up the bus.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberCapacity)
	select {
	case b.subs <- ch:
	case <-b.done:
	}
	return ch
}

// Unsubscribe stops delivery to ch (a channel returned by Subscribe)
// and closes it, letting a range over it terminate. Call this exactly
// once per Subscribe, when the caller is done reading.
func (b *Bus) Unsubscribe(ch chan Event) {
	select {
	case b.unsubs <- ch:
	case <-b.done:
	}
}

// Close stops the fan-out goroutine.
func (b *Bus) Close() {
	close(b.done)
}
