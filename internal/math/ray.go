// internal/math/ray.go
package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// Ray is a fixed-point value with 27 decimals. Token amounts (wad) carry 18
// decimals and are lifted to ray precision by WadRayRatio before multiplying.
var (
	Ray         = uint256.MustFromDecimal("1000000000000000000000000000")
	HalfRay     = uint256.MustFromDecimal("500000000000000000000000000")
	WadRayRatio = uint256.NewInt(1_000_000_000)
	Wad         = uint256.NewInt(1_000_000_000_000_000_000)
)

var (
	ErrOverflow       = errors.New("ray arithmetic overflow")
	ErrDivisionByZero = errors.New("ray division by zero")
)

// RayMul computes (a*b + RAY/2) / RAY, rounding half up.
func RayMul(a, b *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = prod.AddOverflow(prod, HalfRay); overflow {
		return nil, ErrOverflow
	}
	return prod.Div(prod, Ray), nil
}

// RayDiv computes (a*RAY + b/2) / b, rounding half up.
func RayDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	num, overflow := new(uint256.Int).MulOverflow(a, Ray)
	if overflow {
		return nil, ErrOverflow
	}
	half := new(uint256.Int).Rsh(b, 1)
	if _, overflow = num.AddOverflow(num, half); overflow {
		return nil, ErrOverflow
	}
	return num.Div(num, b), nil
}

// WadToRay lifts an 18-decimal amount to ray precision.
func WadToRay(a *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, WadRayRatio)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// RayToWad truncates a ray value back to 18 decimals.
func RayToWad(a *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(a, WadRayRatio)
}

// FromSeconds converts a whole number of seconds to a ray-scaled value.
func FromSeconds(seconds uint64) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(seconds), Ray)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// ToFloat renders a fixed-point value with the given scale as float64.
// Display only; never feed the result back into ledger math.
func ToFloat(v, scale *uint256.Int) float64 {
	if v == nil || scale.IsZero() {
		return 0
	}
	whole := new(uint256.Int).Div(v, scale)
	frac := new(uint256.Int).Mod(v, scale)
	return whole.Float64() + frac.Float64()/scale.Float64()
}
