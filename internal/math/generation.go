// internal/math/generation.go
package math

import (
	"github.com/holiman/uint256"
)

const (
	SecondsPerDay = 86_400

	// SecondsPerYear is 365.25 days.
	SecondsPerYear = 31_557_600

	// MinStakeDuration is both the withdrawal lock and the bonus threshold.
	MinStakeDuration = 90 * SecondsPerDay

	// MaxBonusYears caps the bonus period measured past MinStakeDuration.
	MaxBonusYears = 20

	// UserShare is the percentage of gross generation credited to the staker.
	UserShare = 90
)

var (
	// BaseRate is 2.0 in ray.
	BaseRate = new(uint256.Int).Mul(uint256.NewInt(2), Ray)

	// GenerationBonusPerSecond accrues one unit of rate over 20 years.
	GenerationBonusPerSecond = uint256.MustFromDecimal("1584404390701447512")

	// MaxBonusPeriod is 20 years of seconds in ray.
	MaxBonusPeriod = new(uint256.Int).Mul(uint256.NewInt(MaxBonusYears*SecondsPerYear), Ray)

	secondsPerYearRay = new(uint256.Int).Mul(uint256.NewInt(SecondsPerYear), Ray)
	userShare         = uint256.NewInt(UserShare)
	hundred           = uint256.NewInt(100)
)

// elapsed returns to - from, or 0 when to precedes from.
func elapsed(from, to uint64) uint64 {
	if to <= from {
		return 0
	}
	return to - from
}

// RawGenerationRate returns the ray-scaled annual generation multiplier for a
// stake whose balance last increased at lastDeposit, evaluated at now.
//
// The rate stays at BaseRate through MinStakeDuration and then grows linearly,
// saturating after MaxBonusYears.
func RawGenerationRate(lastDeposit, now uint64) (*uint256.Int, error) {
	stakeDuration := elapsed(lastDeposit, now)
	if stakeDuration <= MinStakeDuration {
		return new(uint256.Int).Set(BaseRate), nil
	}

	bonusPeriod, err := FromSeconds(stakeDuration - MinStakeDuration)
	if err != nil {
		return nil, err
	}
	if bonusPeriod.Gt(MaxBonusPeriod) {
		bonusPeriod.Set(MaxBonusPeriod)
	}

	bonus, err := RayMul(GenerationBonusPerSecond, bonusPeriod)
	if err != nil {
		return nil, err
	}
	rate, overflow := bonus.AddOverflow(bonus, BaseRate)
	if overflow {
		return nil, ErrOverflow
	}
	return rate, nil
}

// CalculateTokenGeneration returns the net reward (wad) accrued by
// stakeBalance between lastMint and now.
//
// The rate is evaluated once at now and applied to the whole interval, so a
// longer gap between realizations yields a slightly larger reward than
// realizing more often.
func CalculateTokenGeneration(stakeBalance *uint256.Int, lastDeposit, lastMint, now uint64) (*uint256.Int, error) {
	interval, err := FromSeconds(elapsed(lastMint, now))
	if err != nil {
		return nil, err
	}
	timeDelta, err := RayDiv(interval, secondsPerYearRay)
	if err != nil {
		return nil, err
	}

	rawRate, err := RawGenerationRate(lastDeposit, now)
	if err != nil {
		return nil, err
	}
	rate, err := RayMul(rawRate, timeDelta)
	if err != nil {
		return nil, err
	}

	balanceRay, err := WadToRay(stakeBalance)
	if err != nil {
		return nil, err
	}
	grossRay, err := RayMul(balanceRay, rate)
	if err != nil {
		return nil, err
	}
	gross := RayToWad(grossRay)

	net, overflow := gross.MulOverflow(gross, userShare)
	if overflow {
		return nil, ErrOverflow
	}
	return net.Div(net, hundred), nil
}

// GenerationRateWad converts a raw ray rate to 18 decimals.
func GenerationRateWad(rawRate *uint256.Int) *uint256.Int {
	return RayToWad(rawRate)
}

// GenerationRatePercent renders a raw ray rate as a percentage.
func GenerationRatePercent(rawRate *uint256.Int) float64 {
	return ToFloat(rawRate, Ray) * 100
}
