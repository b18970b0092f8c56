// Config loading follows the teacher's core/config.go pattern: pflag
// defines the flag set, koanf loads it (plus an optional YAML file)
// into a single typed tree, and Configure resolves that tree into the
// Settings this command needs. Generalized from "one flat set of
// bgpipe flags" to "a YAML document of gateway/router/keypair/admin
// sections with CLI overrides".
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/helium/gateway-dispatcher/internal/ingest"
	"github.com/helium/gateway-dispatcher/internal/keyeduri"
	"github.com/helium/gateway-dispatcher/internal/region"
	"github.com/helium/gateway-dispatcher/internal/signer"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Settings is the fully resolved configuration for one gatewayd
// process (spec.md 6).
type Settings struct {
	LogLevel string

	SeedGateways   []keyeduri.KeyedUri
	DefaultRouters []string
	Region         region.Region
	Keypair        *signer.Keypair
	CacheSettings  any

	AdminListen  string
	CaptureDir   string
	CaptureSize  int
	CaptureEvery time.Duration

	PocRateLimit float64
	PocBurst     int

	Kafka       ingest.Config
	KafkaEnable bool
}

func addFlags(f *pflag.FlagSet) {
	f.SortFlags = false
	f.String("config", "", "path to a YAML config file")
	f.String("log", "info", "log level (debug/info/warn/error/disabled)")
	f.String("listen", ":8080", "admin HTTP listen address")
	f.String("capture-dir", "", "packet capture output directory (disabled if empty)")
	f.Int("capture-size", 1024, "packet capture ring buffer size")
	f.Duration("capture-every", 5*time.Minute, "packet capture flush interval")
	f.StringSlice("router", nil, "default router URI (repeatable)")
	f.String("region", "US915", "initial region tag")
	f.String("keyfile", "", "path to a PEM-encoded ed25519 private key; a fresh key is generated if empty")
	f.Float64("poc-rate", 0, "PoC intake rate limit in events/sec (0 disables limiting)")
	f.Int("poc-burst", 1, "PoC intake burst size")
	f.StringSlice("seed", nil, "seed validator URI as pubkey-base64@uri (repeatable)")
	f.StringSlice("kafka-broker", nil, "Kafka broker address (repeatable); enables uplink ingestion")
	f.String("kafka-group", "gatewayd", "Kafka consumer group")
	f.String("kafka-topics", "^uplinks$", "Kafka topic name regular expression")
	f.Duration("kafka-refresh", time.Minute, "Kafka topic list refresh interval")
}

// loadConfig parses argv, optionally layers a YAML file named by
// --config underneath the CLI flags (CLI always wins), and returns the
// merged koanf tree.
func loadConfig(argv []string) (*koanf.Koanf, error) {
	f := pflag.NewFlagSet("gatewayd", pflag.ContinueOnError)
	addFlags(f)
	if err := f.Parse(argv); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if path, _ := f.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	return k, nil
}

// resolveSettings turns a merged koanf tree into typed Settings,
// parsing the keypair, seed gateways, and region the way the teacher's
// Configure resolves caps files and log level from the same tree.
func resolveSettings(k *koanf.Koanf) (Settings, error) {
	var s Settings
	s.LogLevel = k.String("log")
	s.AdminListen = k.String("listen")
	s.CaptureDir = k.String("capture-dir")
	s.CaptureSize = k.Int("capture-size")
	s.CaptureEvery = k.Duration("capture-every")
	s.DefaultRouters = k.Strings("router")
	s.PocRateLimit = k.Float64("poc-rate")
	s.PocBurst = k.Int("poc-burst")

	r, err := region.Parse(k.String("region"))
	if err != nil {
		return Settings{}, fmt.Errorf("--region: %w", err)
	}
	s.Region = r

	kp, err := loadOrGenerateKeypair(k.String("keyfile"))
	if err != nil {
		return Settings{}, err
	}
	s.Keypair = kp

	seeds, err := parseSeeds(k.Strings("seed"))
	if err != nil {
		return Settings{}, err
	}
	s.SeedGateways = seeds

	if brokers := k.Strings("kafka-broker"); len(brokers) > 0 {
		s.KafkaEnable = true
		s.Kafka = ingest.Config{
			Brokers: brokers,
			Group:   k.String("kafka-group"),
			Topics:  k.String("kafka-topics"),
			Refresh: k.Duration("kafka-refresh"),
		}
	}

	if cache := k.Get("cache"); cache != nil {
		s.CacheSettings = cache
	}

	return s, nil
}

// parseSeeds decodes "<base64-pubkey>@<uri>" entries into KeyedUris.
func parseSeeds(raw []string) ([]keyeduri.KeyedUri, error) {
	seeds := make([]keyeduri.KeyedUri, 0, len(raw))
	for _, entry := range raw {
		at := -1
		for i := len(entry) - 1; i >= 0; i-- {
			if entry[i] == '@' {
				at = i
				break
			}
		}
		if at < 0 {
			return nil, fmt.Errorf("invalid --seed %q: want <pubkey-base64>@<uri>", entry)
		}
		pubB64, uri := entry[:at], entry[at+1:]
		pub, err := base64.StdEncoding.DecodeString(pubB64)
		if err != nil {
			return nil, fmt.Errorf("invalid --seed %q: %w", entry, err)
		}
		seeds = append(seeds, keyeduri.New(ed25519.PublicKey(pub), uri))
	}
	return seeds, nil
}

func loadOrGenerateKeypair(path string) (*signer.Keypair, error) {
	if path == "" {
		return signer.Generate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyfile %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("keyfile %s: not PEM-encoded", path)
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keyfile %s: expected a raw ed25519 private key", path)
	}
	return signer.New(ed25519.PrivateKey(block.Bytes)), nil
}
