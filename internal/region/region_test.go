package region

import "testing"

func TestRoundTrip(t *testing.T) {
	for r := US915; r <= CD900_1A; r++ {
		s := r.String()
		got, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got != r {
			t.Errorf("round trip mismatch: %v -> %q -> %v", r, s, got)
		}

		w := r.Wire()
		got2, err := FromWire(w)
		if err != nil {
			t.Fatalf("FromWire(%d): %v", w, err)
		}
		if got2 != r {
			t.Errorf("wire round trip mismatch: %v -> %d -> %v", r, w, got2)
		}
	}
}

func TestParseUnsupported(t *testing.T) {
	_, err := Parse("NOT_A_REGION")
	if err == nil {
		t.Fatal("expected error for unsupported region")
	}
	if err.Error() != "unsupported region: NOT_A_REGION" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestParseCaseSensitive(t *testing.T) {
	if _, err := Parse("us915"); err == nil {
		t.Fatal("expected lowercase tag to fail")
	}
}

func TestFromWireUnknown(t *testing.T) {
	if _, err := FromWire(999); err == nil {
		t.Fatal("expected error for unknown wire value")
	}
	if _, err := FromWire(0); err == nil {
		t.Fatal("expected error for wire value 0 (unknown)")
	}
}
