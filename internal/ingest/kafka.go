// Package ingest adapts an external Kafka topic of forwarded uplink
// packets into the dispatcher's message port. It is grounded on the
// teacher's stages/rv-live/kafka.go consumer (franz-go client
// construction, topic discovery by regex, a topic-refresh goroutine)
// generalized from "stream BGP updates" to "feed uplinks to the
// dispatcher", and on stages/ris-live.go's buger/jsonparser use for
// allocation-light field extraction of each record's JSON envelope.
package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"github.com/buger/jsonparser"
	"github.com/helium/gateway-dispatcher/internal/message"
	"github.com/helium/gateway-dispatcher/internal/router"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Config configures a Kafka-backed uplink source.
type Config struct {
	Brokers []string
	Group   string
	// Topics is a regular expression matched against the broker's full
	// topic list, mirroring the teacher's --topics flag.
	Topics string
	// Refresh is how often the topic list is re-discovered; zero
	// disables refreshing after the initial subscribe.
	Refresh time.Duration
	Timeout time.Duration
}

// Source consumes forwarded uplink packets from Kafka and enqueues
// them on a message.Port.
type Source struct {
	log      zerolog.Logger
	cfg      Config
	topicsRe *regexp.Regexp
	port     *message.Port
}

// New validates cfg and returns a Source ready to Run.
func New(cfg Config, port *message.Port, log zerolog.Logger) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("ingest: at least one broker is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	re, err := regexp.Compile(cfg.Topics)
	if err != nil {
		return nil, fmt.Errorf("ingest: invalid topic pattern %q: %w", cfg.Topics, err)
	}
	return &Source{
		log:      log.With().Str("component", "ingest").Logger(),
		cfg:      cfg,
		topicsRe: re,
		port:     port,
	}, nil
}

// Run connects to Kafka and consumes until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	s.log.Info().Strs("brokers", s.cfg.Brokers).Str("group", s.cfg.Group).Msg("connecting to kafka")

	opts := []kgo.Opt{
		kgo.SeedBrokers(s.cfg.Brokers...),
		kgo.ConsumerGroup(s.cfg.Group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
		kgo.ConnIdleTimeout(s.cfg.Timeout),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			count := 0
			for _, parts := range assigned {
				count += len(parts)
			}
			s.log.Info().Int("topics", len(assigned)).Int("partitions", count).Msg("partitions assigned")
		}),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("ingest: create kafka client: %w", err)
	}
	defer client.Close()

	topics, err := s.discoverTopics(ctx, client)
	if err != nil {
		return fmt.Errorf("ingest: discover topics: %w", err)
	}
	if len(topics) == 0 {
		return fmt.Errorf("ingest: no topics matched pattern %q", s.cfg.Topics)
	}
	s.log.Info().Int("count", len(topics)).Msg("subscribing to topics")
	client.AddConsumeTopics(topics...)

	refreshDone := make(chan struct{})
	defer close(refreshDone)
	go s.topicRefresher(ctx, client, refreshDone)

	return s.consume(ctx, client)
}

func (s *Source) discoverTopics(ctx context.Context, client *kgo.Client) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	admin := kadm.NewClient(client)
	meta, err := admin.Metadata(cctx)
	if err != nil {
		return nil, err
	}

	var topics []string
	for _, t := range meta.Topics {
		if t.Err != nil {
			continue
		}
		if s.topicsRe.MatchString(t.Topic) {
			topics = append(topics, t.Topic)
		}
	}
	return topics, nil
}

func (s *Source) topicRefresher(ctx context.Context, client *kgo.Client, done <-chan struct{}) {
	if s.cfg.Refresh <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			topics, err := s.discoverTopics(ctx, client)
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to refresh topics")
				continue
			}
			client.AddConsumeTopics(topics...)
		}
	}
}

func (s *Source) consume(ctx context.Context, client *kgo.Client) error {
	for ctx.Err() == nil {
		fetches := client.PollFetches(ctx)
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				if e.Err == context.Canceled || e.Err == context.DeadlineExceeded {
					return nil
				}
				s.log.Warn().Err(e.Err).Str("topic", e.Topic).Int32("partition", e.Partition).Msg("fetch error")
			}
			if ctx.Err() != nil {
				return nil
			}
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			pkt, err := decodeRecord(record.Value)
			if err != nil {
				s.log.Warn().Err(err).Str("topic", record.Topic).Msg("failed to decode uplink record")
				continue
			}
			if err := s.port.SendUplink(ctx, pkt); err != nil {
				return nil
			}
		}

		if err := client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("failed to commit kafka offsets")
		}
	}
	return nil
}

// decodeRecord extracts a router.Packet from a JSON envelope of the
// shape:
//
//	{"routing_info": {"oui": 1, "dev_addr": 2, "app_eui": 3, "dev_eui": 4},
//	 "payload": "<base64>"}
//
// using jsonparser.EachKey to avoid a full unmarshal per record, the
// same style the teacher applies to its RIS Live JSON stream.
func decodeRecord(data []byte) (router.Packet, error) {
	const (
		idxOUI = iota
		idxDevAddr
		idxAppEUI
		idxDevEUI
		idxPayload
	)
	paths := [][]string{
		{"routing_info", "oui"},
		{"routing_info", "dev_addr"},
		{"routing_info", "app_eui"},
		{"routing_info", "dev_eui"},
		{"payload"},
	}

	var info router.RoutingInfo
	var payloadB64 string
	var parseErr error

	jsonparser.EachKey(data, func(idx int, val []byte, vt jsonparser.ValueType, err error) {
		if err != nil || parseErr != nil {
			return
		}
		switch idx {
		case idxOUI:
			v, e := jsonparser.ParseInt(val)
			if e != nil {
				parseErr = fmt.Errorf("routing_info.oui: %w", e)
				return
			}
			info.OUI = uint32(v)
		case idxDevAddr:
			v, e := jsonparser.ParseInt(val)
			if e != nil {
				parseErr = fmt.Errorf("routing_info.dev_addr: %w", e)
				return
			}
			info.DevAddr = uint32(v)
		case idxAppEUI:
			v, e := jsonparser.ParseInt(val)
			if e != nil {
				parseErr = fmt.Errorf("routing_info.app_eui: %w", e)
				return
			}
			info.AppEUI = uint64(v)
		case idxDevEUI:
			v, e := jsonparser.ParseInt(val)
			if e != nil {
				parseErr = fmt.Errorf("routing_info.dev_eui: %w", e)
				return
			}
			info.DevEUI = uint64(v)
		case idxPayload:
			payloadB64 = string(val)
		}
	}, paths...)

	if parseErr != nil {
		return router.Packet{}, parseErr
	}
	if payloadB64 == "" {
		return router.Packet{}, fmt.Errorf("missing payload field")
	}
	payload, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return router.Packet{}, fmt.Errorf("decode payload: %w", err)
	}
	return router.Packet{Routing: info, Payload: payload}, nil
}
