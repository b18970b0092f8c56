package region

import "strconv"

// Spreading is a tagged LoRa spreading factor label (SF7...SF12).
type Spreading string

const (
	NoSpreading Spreading = ""
	SF7         Spreading = "SF7"
	SF8         Spreading = "SF8"
	SF9         Spreading = "SF9"
	SF10        Spreading = "SF10"
	SF11        Spreading = "SF11"
	SF12        Spreading = "SF12"
)

// TaggedSpreading pairs a spreading factor with the maximum packet size
// it is valid for.
type TaggedSpreading struct {
	Spreading     Spreading
	MaxPacketSize uint32
}

// Channel carries the per-channel regulatory parameters for one region
// params update.
type Channel struct {
	MaxEIRP   uint32
	Bandwidth uint32
	Spreading []TaggedSpreading
}

// Params is the set of per-channel region parameters published by a
// validator's region_params_update stream.
type Params struct {
	Channels []Channel
}

// MaxEIRP returns the maximum max_eirp across all channels, or 0 if there
// are none.
func (p Params) MaxEIRP() uint32 {
	var max uint32
	for _, c := range p.Channels {
		if c.MaxEIRP > max {
			max = c.MaxEIRP
		}
	}
	return max
}

// Bandwidth returns the bandwidth of any channel; the invariant is that
// bandwidth is uniform across channels. Returns 0 if there are none.
func (p Params) Bandwidth() uint32 {
	if len(p.Channels) == 0 {
		return 0
	}
	return p.Channels[0].Bandwidth
}

// SpreadingFor returns the first tagged spreading entry (of the first
// channel) whose MaxPacketSize is at least size, mapped to its label.
// Returns NoSpreading if none qualify or the tag is unrecognized.
func (p Params) SpreadingFor(size uint32) Spreading {
	if len(p.Channels) == 0 {
		return NoSpreading
	}
	for _, ts := range p.Channels[0].Spreading {
		if ts.MaxPacketSize >= size {
			switch ts.Spreading {
			case SF7, SF8, SF9, SF10, SF11, SF12:
				return ts.Spreading
			}
			return NoSpreading
		}
	}
	return NoSpreading
}

// Datarate renders "<SF>BW<bandwidth_kHz>" for the given packet size, or
// "" if either the spreading or the bandwidth is undefined.
func (p Params) Datarate(size uint32) string {
	sf := p.SpreadingFor(size)
	if sf == NoSpreading {
		return ""
	}
	bw := p.Bandwidth()
	if bw == 0 {
		return ""
	}
	return string(sf) + "BW" + strconv.FormatUint(uint64(bw/1000), 10)
}
