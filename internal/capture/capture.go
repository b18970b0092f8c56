// Package capture provides an optional ring-buffered, compressed record
// of uplink/PoC packets to disk, for offline debugging of what the
// dispatcher actually forwarded. Grounded on the teacher's
// stages/write.go compression-format selection and its
// klauspost/compress/zstd and dsnet/compress/bzip2 usage, generalized
// from "write one stage's message stream" to "periodically flush a
// bounded in-memory ring of captured packets".
package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// Codec selects the on-disk compression format, matching the teacher's
// --compress values.
type Codec string

const (
	CodecZstd  Codec = "zstd"
	CodecBzip2 Codec = "bzip2"
)

func (c Codec) ext() string {
	switch c {
	case CodecBzip2:
		return ".jsonl.bz2"
	default:
		return ".jsonl.zst"
	}
}

func (c Codec) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecBzip2:
		return bzip2.NewWriter(w, nil)
	default:
		return zstd.NewWriter(w)
	}
}

// Record is one captured packet, timestamped at capture time.
type Record struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"` // "uplink" or "poc"
	OUI     uint32    `json:"oui"`
	Payload []byte    `json:"payload"`
}

// Capture accumulates Records in a fixed-size ring buffer and writes
// them to a compressed, newline-delimited JSON file when Flush is
// called (Run calls it periodically and once more on done). It never
// blocks a caller: a full ring simply overwrites its oldest entry.
type Capture struct {
	log   zerolog.Logger
	dir   string
	codec Codec

	mu   sync.Mutex
	ring []Record
	next int
	full bool
}

// Option configures a Capture at construction.
type Option func(*Capture)

// WithCodec selects the compression format; the default is zstd.
// bzip2 (via dsnet/compress, the teacher's alternative to zstd for
// colder archives that favor ratio over speed) is also supported.
func WithCodec(codec Codec) Option {
	return func(c *Capture) { c.codec = codec }
}

// New constructs a Capture writing to dir, keeping up to capacity
// records in memory before they are flushed. dir is created if absent.
func New(dir string, capacity int, log zerolog.Logger, opts ...Option) (*Capture, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: mkdir %s: %w", dir, err)
	}
	c := &Capture{
		log:   log.With().Str("component", "capture").Logger(),
		dir:   dir,
		codec: CodecZstd,
		ring:  make([]Record, capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Add records pkt, evicting the oldest entry if the ring is full.
func (c *Capture) Add(kind string, oui uint32, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.ring[c.next] = Record{At: time.Now(), Kind: kind, OUI: oui, Payload: cp}
	c.next++
	if c.next == len(c.ring) {
		c.next = 0
		c.full = true
	}
}

// Flush writes the current ring contents, oldest first, to a new
// compressed file under dir and clears the in-memory ring.
func (c *Capture) Flush() error {
	c.mu.Lock()
	records := c.snapshotLocked()
	codec := c.codec
	c.next = 0
	c.full = false
	c.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	fpath := filepath.Join(c.dir, fmt.Sprintf("capture-%s%s", time.Now().UTC().Format("20060102T150405Z"), codec.ext()))
	fh, err := os.OpenFile(fpath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("capture: create %s: %w", fpath, err)
	}
	defer fh.Close()

	zw, err := codec.newWriter(fh)
	if err != nil {
		return fmt.Errorf("capture: %s writer: %w", codec, err)
	}
	defer zw.Close()

	enc := json.NewEncoder(zw)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("capture: encode record: %w", err)
		}
	}

	c.log.Info().Str("path", fpath).Int("records", len(records)).Msg("flushed packet capture")
	return nil
}

// snapshotLocked returns the ring's contents in capture order. Caller
// must hold c.mu.
func (c *Capture) snapshotLocked() []Record {
	if !c.full {
		return append([]Record(nil), c.ring[:c.next]...)
	}
	out := make([]Record, 0, len(c.ring))
	out = append(out, c.ring[c.next:]...)
	out = append(out, c.ring[:c.next]...)
	return out
}

// Run periodically flushes the capture until done is closed, then
// flushes one final time and returns.
func (c *Capture) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			if err := c.Flush(); err != nil {
				c.log.Warn().Err(err).Msg("final capture flush failed")
			}
			return
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				c.log.Warn().Err(err).Msg("periodic capture flush failed")
			}
		}
	}
}
