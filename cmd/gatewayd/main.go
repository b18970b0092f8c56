// Command gatewayd runs the gateway validator dispatcher: it selects
// and attaches to a validator, maintains the router registry, accepts
// uplinks on its message port, and exposes an admin HTTP surface.
// Structured around the teacher's bgpipe entry point (flag parsing via
// Configure, then a single blocking Run call under signal-triggered
// cancellation), generalized from a BGP pipeline process to the
// gateway dispatcher described across this module.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helium/gateway-dispatcher/internal/admin"
	"github.com/helium/gateway-dispatcher/internal/capture"
	"github.com/helium/gateway-dispatcher/internal/dispatcher"
	"github.com/helium/gateway-dispatcher/internal/events"
	"github.com/helium/gateway-dispatcher/internal/ingest"
	"github.com/helium/gateway-dispatcher/internal/metrics"
	"github.com/helium/gateway-dispatcher/internal/pocworker"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd:", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	k, err := loadConfig(argv)
	if err != nil {
		return err
	}
	settings, err := resolveSettings(k)
	if err != nil {
		return err
	}

	log := newLogger(settings.LogLevel)

	var pocOpts []pocworker.Option
	if settings.PocRateLimit > 0 {
		pocOpts = append(pocOpts, pocworker.WithRateLimit(settings.PocRateLimit, settings.PocBurst))
	}
	pocw := pocworker.New(64, log, pocOpts...)

	metricsSet := metrics.New()
	eventBus := events.NewBus()
	defer eventBus.Close()

	d := dispatcher.New(dispatcher.Config{
		SeedGateways:   settings.SeedGateways,
		DefaultRouters: settings.DefaultRouters,
		Region:         settings.Region,
		Keypair:        settings.Keypair,
		CacheSettings:  settings.CacheSettings,
		PocWorker:      pocw,
		Logger:         log,
		Metrics:        metricsSet,
		Events:         eventBus,
	})

	adminSrv := admin.New(log, metricsSet, eventBus, stateAdapter{d})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cap *capture.Capture
	if settings.CaptureDir != "" {
		cap, err = capture.New(settings.CaptureDir, settings.CaptureSize, log)
		if err != nil {
			return err
		}
		captureDone := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(captureDone)
		}()
		go cap.Run(settings.CaptureEvery, captureDone)
	}

	var ingestSrc *ingest.Source
	if settings.KafkaEnable {
		ingestSrc, err = ingest.New(settings.Kafka, d.Port(), log)
		if err != nil {
			return err
		}
	}

	errc := make(chan error, 3)

	go func() {
		errc <- adminSrv.ListenAndServe(settings.AdminListen)
	}()

	if ingestSrc != nil {
		go func() {
			errc <- ingestSrc.Run(ctx)
		}()
	}

	go drainDownlink(ctx, d, log)

	go func() {
		errc <- d.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		cancel()
		return err
	}
}

// drainDownlink logs accepted downlink packets; the actual radio
// transmission path is an external collaborator this module does not
// own (spec.md 1).
func drainDownlink(ctx context.Context, d *dispatcher.Dispatcher, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-d.Downlink():
			if !ok {
				return
			}
			log.Debug().Uint32("oui", pkt.Routing.OUI).Int("bytes", len(pkt.Payload)).Msg("downlink ready for transmission")
		}
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// stateAdapter satisfies admin.StateProvider: Dispatcher.State returns
// a concrete dispatcher.State, not the any the admin package's minimal
// surface expects (chosen so admin does not import dispatcher).
type stateAdapter struct {
	d *dispatcher.Dispatcher
}

func (a stateAdapter) State() any { return a.d.State() }
