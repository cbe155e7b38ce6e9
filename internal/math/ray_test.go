package math_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"StakeLedger/internal/math"
)

func dec(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

func TestRayMul(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"identity", "123456789", "1000000000000000000000000000", "123456789"},
		{"two times three", "2000000000000000000000000000", "3000000000000000000000000000", "6000000000000000000000000000"},
		{"half rounds up", "1", "500000000000000000000000000", "1"},
		{"below half rounds down", "1", "499999999999999999999999999", "0"},
		{"zero", "0", "1000000000000000000000000000", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := math.RayMul(dec(tt.a), dec(tt.b))
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestRayMul_Overflow(t *testing.T) {
	maxInt := new(uint256.Int).SetAllOne()
	_, err := math.RayMul(maxInt, uint256.NewInt(2))
	require.ErrorIs(t, err, math.ErrOverflow)

	// Product fits but adding HalfRay wraps.
	_, err = math.RayMul(maxInt, uint256.NewInt(1))
	require.ErrorIs(t, err, math.ErrOverflow)
}

func TestRayDiv(t *testing.T) {
	got, err := math.RayDiv(dec("6000000000000000000000000000"), dec("3000000000000000000000000000"))
	require.NoError(t, err)
	require.Equal(t, "2000000000000000000000000000", got.Dec())

	// 1/3 rounds down, 2/3 rounds up at the last ray digit.
	got, err = math.RayDiv(uint256.NewInt(1), uint256.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, "333333333333333333333333333", got.Dec())

	got, err = math.RayDiv(uint256.NewInt(2), uint256.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, "666666666666666666666666667", got.Dec())
}

func TestRayDiv_ByZero(t *testing.T) {
	_, err := math.RayDiv(math.Ray, uint256.NewInt(0))
	require.ErrorIs(t, err, math.ErrDivisionByZero)
}

func TestRayDiv_Overflow(t *testing.T) {
	_, err := math.RayDiv(new(uint256.Int).SetAllOne(), uint256.NewInt(1))
	require.ErrorIs(t, err, math.ErrOverflow)
}

func TestWadRayConversion(t *testing.T) {
	wad := dec("1500000000000000000")
	ray, err := math.WadToRay(wad)
	require.NoError(t, err)
	require.Equal(t, "1500000000000000000000000000", ray.Dec())
	require.Equal(t, wad.Dec(), math.RayToWad(ray).Dec())

	// Sub-wad precision truncates.
	require.Equal(t, "1", math.RayToWad(dec("1999999999")).Dec())
}

func TestToFloat(t *testing.T) {
	require.InDelta(t, 2.5, math.ToFloat(dec("2500000000000000000000000000"), math.Ray), 1e-12)
	require.Equal(t, 0.0, math.ToFloat(nil, math.Ray))
}
