package region

import "testing"

func testParams() Params {
	return Params{Channels: []Channel{
		{
			MaxEIRP:   270,
			Bandwidth: 125000,
			Spreading: []TaggedSpreading{
				{Spreading: SF10, MaxPacketSize: 11},
				{Spreading: SF9, MaxPacketSize: 53},
				{Spreading: SF8, MaxPacketSize: 125},
				{Spreading: SF7, MaxPacketSize: 242},
			},
		},
		{MaxEIRP: 300, Bandwidth: 125000},
	}}
}

func TestMaxEIRP(t *testing.T) {
	if got := testParams().MaxEIRP(); got != 300 {
		t.Errorf("MaxEIRP() = %d, want 300", got)
	}
}

func TestBandwidth(t *testing.T) {
	if got := testParams().Bandwidth(); got != 125000 {
		t.Errorf("Bandwidth() = %d, want 125000", got)
	}
}

func TestSpreadingFor(t *testing.T) {
	p := testParams()
	cases := []struct {
		size uint32
		want Spreading
	}{
		{5, SF10},
		{11, SF10},
		{12, SF9},
		{242, SF7},
		{1000, NoSpreading},
	}
	for _, c := range cases {
		if got := p.SpreadingFor(c.size); got != c.want {
			t.Errorf("SpreadingFor(%d) = %q, want %q", c.size, got, c.want)
		}
	}
}

func TestDatarate(t *testing.T) {
	p := testParams()
	if got := p.Datarate(11); got != "SF10BW125" {
		t.Errorf("Datarate(11) = %q, want SF10BW125", got)
	}
	if got := p.Datarate(10000); got != "" {
		t.Errorf("Datarate(10000) = %q, want empty", got)
	}
}

func TestEmptyParams(t *testing.T) {
	var p Params
	if p.MaxEIRP() != 0 || p.Bandwidth() != 0 || p.SpreadingFor(1) != NoSpreading {
		t.Errorf("empty Params should report zero values")
	}
}
