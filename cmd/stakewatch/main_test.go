package main

import (
	"bytes"
	"strings"
	"testing"

	"StakeLedger/internal/extrapolation"

	"github.com/holiman/uint256"
)

func TestFormatWad(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"44849065434352718947", "44.849065434352718947"},
		{"5", "0.000000000000000005"},
	}
	for _, tt := range tests {
		if got := formatWad(uint256.MustFromDecimal(tt.in)); got != tt.want {
			t.Errorf("formatWad(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if got := formatWad(nil); got != "0" {
		t.Errorf("formatWad(nil) = %s", got)
	}
}

func TestRenderProjection(t *testing.T) {
	var buf bytes.Buffer
	renderProjection(&buf, "u1", extrapolation.Projection{
		Now:                   1_700_000_000,
		Current:               uint256.MustFromDecimal("1500000000000000000"),
		In90Days:              uint256.MustFromDecimal("3000000000000000000"),
		In10Years:             new(uint256.Int),
		GenerationRatePercent: 200,
	})

	out := buf.String()
	for _, want := range []string{"u1", "1.5", "3", "200.000000%"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
