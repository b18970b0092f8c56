// Package pocworker provides a minimal, concrete stand-in for the
// proof-of-coverage worker spec.md treats as an external collaborator:
// its challenge-processing and reporting logic is explicitly out of
// scope (spec.md Non-goals). What the dispatcher needs from it — a
// fire-and-forget destination for challenges, config-change
// notifications, and PoC packets, rate-limited the way a real worker's
// intake would be — is implemented here, grounded on the rate limiting
// pattern the dispatcher's own teacher uses for its stage callbacks.
package pocworker

import (
	"github.com/helium/gateway-dispatcher/internal/router"
	"github.com/helium/gateway-dispatcher/internal/validator"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Worker accepts PoC challenges, config-change notifications, and
// forwarded packets without blocking its caller. Every intake method is
// fire-and-forget, matching spec.md 4.3/4.6's "forward to the PoC
// worker" contract.
type Worker struct {
	log     zerolog.Logger
	limiter *rate.Limiter

	challenges chan validator.Challenge
	configs    chan []string
	packets    chan router.Packet
}

// Option configures a Worker at construction.
type Option func(*Worker)

// WithRateLimit caps challenge/packet intake at r events/sec with a
// burst of b. Without this option the worker applies no rate limit.
func WithRateLimit(r float64, b int) Option {
	return func(w *Worker) {
		w.limiter = rate.NewLimiter(rate.Limit(r), b)
	}
}

// New constructs a Worker with bounded intake queues.
func New(queueCapacity int, log zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		log:        log.With().Str("component", "pocworker").Logger(),
		challenges: make(chan validator.Challenge, queueCapacity),
		configs:    make(chan []string, queueCapacity),
		packets:    make(chan router.Packet, queueCapacity),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Challenge forwards a decoded PoC challenge. Dropped (and logged) if
// the worker is rate-limited or has fallen behind.
func (w *Worker) Challenge(ch validator.Challenge) {
	if !w.admit() {
		w.log.Warn().Msg("dropping poc challenge: rate limited")
		return
	}
	select {
	case w.challenges <- ch:
	default:
		w.log.Warn().Msg("dropping poc challenge: worker queue full")
	}
}

// ConfigChanged forwards the set of configuration keys that changed.
func (w *Worker) ConfigChanged(keys []string) {
	select {
	case w.configs <- keys:
	default:
		w.log.Warn().Msg("dropping config-change notification: worker queue full")
	}
}

// Packet forwards a PoC packet fanned out by the message port.
func (w *Worker) Packet(pkt router.Packet) {
	if !w.admit() {
		w.log.Warn().Msg("dropping poc packet: rate limited")
		return
	}
	select {
	case w.packets <- pkt:
	default:
		w.log.Warn().Msg("dropping poc packet: worker queue full")
	}
}

func (w *Worker) admit() bool {
	if w.limiter == nil {
		return true
	}
	return w.limiter.Allow()
}

// Challenges exposes the intake channel for the real worker logic (or,
// here, tests) to drain.
func (w *Worker) Challenges() <-chan validator.Challenge { return w.challenges }

// Configs exposes the config-change intake channel.
func (w *Worker) Configs() <-chan []string { return w.configs }

// Packets exposes the PoC-packet intake channel.
func (w *Worker) Packets() <-chan router.Packet { return w.packets }
