package ledger

import (
	"testing"

	"github.com/mr-tron/base58"
)

func TestValidAddress(t *testing.T) {
	valid := base58.Encode(make([]byte, 32))

	cases := []struct {
		name string
		addr string
		want bool
	}{
		{"valid 32 bytes", valid, true},
		{"empty", "", false},
		{"too short", base58.Encode(make([]byte, 16)), false},
		{"too long", base58.Encode(make([]byte, 64)), false},
		{"illegal characters", "0OIl+/=", false},
	}

	for _, tc := range cases {
		if got := ValidAddress(tc.addr); got != tc.want {
			t.Errorf("%s: ValidAddress(%q) = %v, want %v", tc.name, tc.addr, got, tc.want)
		}
	}
}

func TestOnCurveAddress(t *testing.T) {
	// The all-zero encoding is a canonical curve point.
	onCurve := base58.Encode(make([]byte, 32))
	if !OnCurveAddress(onCurve) {
		t.Errorf("expected %q on curve", onCurve)
	}

	if OnCurveAddress("not-base58-0OIl") {
		t.Error("malformed address must not be on curve")
	}
	if OnCurveAddress(base58.Encode(make([]byte, 16))) {
		t.Error("short address must not be on curve")
	}

	// A non-canonical field element (all 0xff) is rejected by point decoding.
	bad := make([]byte, 32)
	for i := range bad {
		bad[i] = 0xff
	}
	if OnCurveAddress(base58.Encode(bad)) {
		t.Error("non-canonical encoding must not be on curve")
	}
}
