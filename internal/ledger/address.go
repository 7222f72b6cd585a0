package ledger

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ValidAddress checks that addr is a base58-encoded 32-byte account address.
func ValidAddress(addr string) bool {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// OnCurveAddress reports whether addr decodes to a point on the ed25519 curve.
// Contract-owned accounts (stream escrows) are derived off-curve, so this
// distinguishes wallet addresses from program-derived ones.
func OnCurveAddress(addr string) bool {
	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}
