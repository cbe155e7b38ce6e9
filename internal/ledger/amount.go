package ledger

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// FormatSigned renders a two's complement balance as a signed decimal string.
// Boundary accounts are negative; user accounts never are.
func FormatSigned(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	if v.Sign() < 0 {
		return "-" + new(uint256.Int).Neg(v).Dec()
	}
	return v.Dec()
}

// ParseSigned is the inverse of FormatSigned.
func ParseSigned(s string) (*uint256.Int, error) {
	neg := strings.HasPrefix(s, "-")
	v, err := uint256.FromDecimal(strings.TrimPrefix(s, "-"))
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", s, err)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}
