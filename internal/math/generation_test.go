package math_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"StakeLedger/internal/math"
)

const (
	day = math.SecondsPerDay
	t0  = uint64(1_700_000_000)
)

var rateCap = "3000000000000000000093824000"

func TestRawGenerationRate(t *testing.T) {
	tests := []struct {
		name     string
		duration uint64
		want     string
	}{
		{"fresh stake", 0, "2000000000000000000000000000"},
		{"one day", day, "2000000000000000000000000000"},
		{"exactly 90 days", 90 * day, "2000000000000000000000000000"},
		{"91 days", 91 * day, "2000136892539356605065036800"},
		{"one year", math.SecondsPerYear, "2037679671457905544151379200"},
		{"ten years", 3652*day + 6*3600, "2487645448323066392927340800"},
		{"thirty years is capped", 30 * math.SecondsPerYear, rateCap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := math.RawGenerationRate(t0, t0+tt.duration)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestRawGenerationRate_BonusStartsAfterLock(t *testing.T) {
	atLock, err := math.RawGenerationRate(t0, t0+math.MinStakeDuration)
	require.NoError(t, err)
	oneAfter, err := math.RawGenerationRate(t0, t0+math.MinStakeDuration+1)
	require.NoError(t, err)

	require.True(t, atLock.Eq(math.BaseRate))
	require.True(t, oneAfter.Gt(math.BaseRate))
}

func TestRawGenerationRate_ClockBehindDeposit(t *testing.T) {
	got, err := math.RawGenerationRate(t0+100, t0)
	require.NoError(t, err)
	require.True(t, got.Eq(math.BaseRate))
}

func TestCalculateTokenGeneration(t *testing.T) {
	hundred := dec("100000000000000000000")

	tests := []struct {
		name     string
		balance  *uint256.Int
		interval uint64
		want     string
	}{
		{"same second", hundred, 0, "0"},
		{"one second", hundred, 1, "5703855806524"},
		{"exactly 90 days", hundred, 90 * day, "44353182751540041067"},
		{"91 days", hundred, 91 * day, "44849065434352718947"},
		{"one year", hundred, math.SecondsPerYear, "183391170431211498973"},
		{"ten years", hundred, 3652*day + 6*3600, "2238727660444661823466"},
		{"thirty years", hundred, 30 * math.SecondsPerYear, "8100000000000000000252"},
		{"zero balance", uint256.NewInt(0), math.SecondsPerYear, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := math.CalculateTokenGeneration(tt.balance, t0, t0, t0+tt.interval)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestCalculateTokenGeneration_OneTokenOneYear(t *testing.T) {
	got, err := math.CalculateTokenGeneration(math.Wad, 0, 0, math.SecondsPerYear)
	require.NoError(t, err)
	require.Equal(t, "1833911704312114989", got.Dec())
}

func TestCalculateTokenGeneration_RateUsesDepositNotMint(t *testing.T) {
	// Stake of 100 deposited at t0, withdrawn from at t0+100d, evaluated 100d later.
	got, err := math.CalculateTokenGeneration(dec("60000000000000000000"), t0, t0+100*day, t0+200*day)
	require.NoError(t, err)
	require.Equal(t, "29791414560924910084", got.Dec())
}

func TestCalculateTokenGeneration_Overflow(t *testing.T) {
	huge := new(uint256.Int).Rsh(new(uint256.Int).SetAllOne(), 1)
	_, err := math.CalculateTokenGeneration(huge, t0, t0, t0+day)
	require.ErrorIs(t, err, math.ErrOverflow)
}

func TestGenerationRateDisplay(t *testing.T) {
	raw := dec("2000136892539356605065036800")
	require.Equal(t, "2000136892539356605", math.GenerationRateWad(raw).Dec())
	require.InDelta(t, 200.01368925, math.GenerationRatePercent(raw), 1e-6)
}

func TestGenerationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	stake := dec("100000000000000000000")
	horizon := uint64(40 * math.SecondsPerYear)

	properties.Property("rate is non-decreasing in duration", prop.ForAll(
		func(a, b uint64) bool {
			if a > b {
				a, b = b, a
			}
			ra, err := math.RawGenerationRate(t0, t0+a)
			if err != nil {
				return false
			}
			rb, err := math.RawGenerationRate(t0, t0+b)
			if err != nil {
				return false
			}
			return !ra.Gt(rb)
		},
		gen.UInt64Range(0, horizon),
		gen.UInt64Range(0, horizon),
	))

	properties.Property("rate stays within base and cap", prop.ForAll(
		func(d uint64) bool {
			r, err := math.RawGenerationRate(t0, t0+d)
			if err != nil {
				return false
			}
			return !r.Lt(math.BaseRate) && !r.Gt(dec(rateCap))
		},
		gen.UInt64Range(0, horizon),
	))

	properties.Property("base rate within lock period", prop.ForAll(
		func(d uint64) bool {
			r, err := math.RawGenerationRate(t0, t0+d)
			return err == nil && r.Eq(math.BaseRate)
		},
		gen.UInt64Range(0, math.MinStakeDuration),
	))

	properties.Property("zero interval generates nothing", prop.ForAll(
		func(sinceDeposit uint64) bool {
			now := t0 + sinceDeposit
			g, err := math.CalculateTokenGeneration(stake, t0, now, now)
			return err == nil && g.IsZero()
		},
		gen.UInt64Range(0, horizon),
	))

	properties.Property("generation grows with interval", prop.ForAll(
		func(a, b uint64) bool {
			if a > b {
				a, b = b, a
			}
			ga, err := math.CalculateTokenGeneration(stake, t0, t0, t0+a)
			if err != nil {
				return false
			}
			gb, err := math.CalculateTokenGeneration(stake, t0, t0, t0+b)
			if err != nil {
				return false
			}
			return !ga.Gt(gb)
		},
		gen.UInt64Range(0, horizon),
		gen.UInt64Range(0, horizon),
	))

	properties.Property("rayDiv inverts rayMul by one", prop.ForAll(
		func(v uint64) bool {
			a := uint256.NewInt(v)
			m, err := math.RayMul(a, math.Ray)
			if err != nil {
				return false
			}
			d, err := math.RayDiv(m, math.Ray)
			return err == nil && d.Eq(a)
		},
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
