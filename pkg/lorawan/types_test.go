package lorawan

import "testing"

// TestEUI64ReversedIdempotent checks the C2 invariant: reversing an EUI64
// twice returns the original value, since Reversed byte-swaps a fixed-size
// array and has no other state.
func TestEUI64ReversedIdempotent(t *testing.T) {
	tests := []EUI64{
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		{0xDE, 0xAD, 0xBE, 0xEF, 0x12, 0x34, 0x56, 0x78},
	}

	for _, orig := range tests {
		twice := orig.Reversed().Reversed()
		if twice != orig {
			t.Fatalf("EUI64.Reversed() not idempotent: %x -> %x", orig, twice)
		}
	}
}

// TestDevAddrReversedIdempotent mirrors TestEUI64ReversedIdempotent for the
// 4-byte DevAddr used on the wire in FHDR/join-accept.
func TestDevAddrReversedIdempotent(t *testing.T) {
	tests := []DevAddr{
		{0x00, 0x00, 0x00, 0x00},
		{0x01, 0x02, 0x03, 0x04},
		{0xFF, 0xFF, 0xFF, 0xFF},
		{0x5B, 0xFF, 0xFF, 0xFF},
	}

	for _, orig := range tests {
		twice := orig.Reversed().Reversed()
		if twice != orig {
			t.Fatalf("DevAddr.Reversed() not idempotent: %x -> %x", orig, twice)
		}
	}
}

// TestEUI64JSONRoundTrip exercises the hex-encoded MarshalJSON/UnmarshalJSON
// pair used at API and storage boundaries.
func TestEUI64JSONRoundTrip(t *testing.T) {
	orig := EUI64{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	data, err := orig.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded EUI64
	if err := decoded.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded != orig {
		t.Fatalf("round trip mismatch: got %x, want %x", decoded, orig)
	}
}

// TestDevAddrStringRoundTrip checks String()'s hex form parses back via
// UnmarshalJSON, since handlers echo DevAddr.String() in logs and paths.
func TestDevAddrStringRoundTrip(t *testing.T) {
	orig := DevAddr{0xAD, 0xFF, 0xFF, 0xFF}
	str := orig.String()

	var decoded DevAddr
	if err := decoded.UnmarshalJSON([]byte(`"` + str + `"`)); err != nil {
		t.Fatalf("unmarshal %q: %v", str, err)
	}
	if decoded != orig {
		t.Fatalf("round trip mismatch: got %x, want %x", decoded, orig)
	}
}

// TestMTypeIsUplinkDir checks the direction-classification helpers
// MICInput/CipherPayload rely on to pick Dir=0 (uplink) vs Dir=1 (downlink).
func TestMTypeIsUplinkDir(t *testing.T) {
	tests := []struct {
		mtype    MType
		isUplink bool
		dir      byte
	}{
		{JoinRequest, true, 0},
		{UnconfirmedDataUp, true, 0},
		{ConfirmedDataUp, true, 0},
		{JoinAccept, false, 1},
		{UnconfirmedDataDown, false, 1},
		{ConfirmedDataDown, false, 1},
	}

	for _, tc := range tests {
		if got := tc.mtype.IsUplink(); got != tc.isUplink {
			t.Errorf("MType(%d).IsUplink() = %v, want %v", tc.mtype, got, tc.isUplink)
		}
		if got := tc.mtype.Dir(); got != tc.dir {
			t.Errorf("MType(%d).Dir() = %d, want %d", tc.mtype, got, tc.dir)
		}
	}
}
