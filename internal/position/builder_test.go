package position

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/farmdash/internal/claim"
	"github.com/wnt/farmdash/internal/quantity"
)

var (
	grapeMIM = Token{Symbol: "GRAPE-MIM-LP", Address: "0xb382247667fe8ca5327ca1fa4835ae77a9907bc8", Decimals: 18, LP: true}
	wine     = Token{Symbol: "WINE", Address: "0xc55036b5348cfb45a932481744645985010d3a44", Decimals: 18}
	now      = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
)

func tokens(whole int64) quantity.TokenAmount {
	raw := new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return quantity.NewTokenAmount(raw, 18)
}

func usd(s string) quantity.Value {
	return quantity.Known(decimal.RequireFromString(s))
}

func fullInputs() Inputs {
	return Inputs{
		ID:            "grape-mim-lp",
		DepositToken:  grapeMIM,
		EarnToken:     wine,
		WalletBalance: Resolved(tokens(40)),
		Staked:        Resolved(tokens(50)),
		PendingReward: Resolved(tokens(3)),
		DepositPrice:  Resolved(usd("10")),
		RewardPrice:   Resolved(usd("2")),
		Pool:          Resolved(PoolStats{DailyAPR: usd("36.5"), TVL: usd("1250000")}),
		Allowance:     Resolved(Approved),
		ClaimLock:     Resolved[*claim.Lock](nil),
	}
}

func TestBuildDerivesAllFields(t *testing.T) {
	p := Build(fullInputs(), nil, now)

	assert.Equal(t, "400.00", p.WalletUSD.Format(2))
	assert.Equal(t, "500.00", p.StakedUSD.Format(2))
	assert.Equal(t, "6.00", p.EarnedUSD.Format(2))
	assert.Equal(t, "36.5", p.DailyAPR.String())
	assert.Equal(t, "13322.5", p.AnnualAPR.String())
	assert.Equal(t, "1250000", p.TVL.String())
	assert.Equal(t, "91.25", p.Projection.DailyTokens.Format(2))
	assert.Equal(t, "182.50", p.Projection.DailyUSD.Format(2))
	assert.True(t, p.Projection.Estimate)
	assert.True(t, p.IsActive())
	assert.True(t, p.HasPendingReward())
	assert.False(t, p.IsStale())
	assert.NoError(t, p.Err())
	assert.Equal(t, now, p.BuiltAt)
	assert.True(t, p.ClaimState(now).CanClaim)
}

func TestBuildWhileLoading(t *testing.T) {
	in := Inputs{
		ID:            "grape-mim-lp",
		DepositToken:  grapeMIM,
		EarnToken:     wine,
		WalletBalance: Pending[quantity.TokenAmount](),
		Staked:        Resolved(tokens(50)),
		PendingReward: Resolved(tokens(3)),
		DepositPrice:  Pending[quantity.Value](),
		RewardPrice:   Resolved(quantity.Unknown()),
		Pool:          Pending[PoolStats](),
		Allowance:     Pending[Allowance](),
		ClaimLock:     Pending[*claim.Lock](),
	}

	p := Build(in, nil, now)

	assert.Equal(t, StatusPending, p.WalletBalance.Status)
	assert.False(t, p.WalletUSD.IsKnown())
	assert.False(t, p.StakedUSD.IsKnown(), "unknown price must not default to zero")
	assert.False(t, p.EarnedUSD.IsKnown())
	assert.False(t, p.Projection.DailyTokens.IsKnown())
	assert.False(t, p.AnnualAPR.IsKnown())
	assert.Equal(t, quantity.Placeholder, p.StakedUSD.Format(2))
	assert.True(t, p.IsActive(), "a resolved stake is usable while prices load")
	assert.False(t, p.ClaimState(now).CanClaim, "gate stays closed until the lock loads")
}

func TestBuildRetainsStaleValues(t *testing.T) {
	first := Build(fullInputs(), nil, now)

	in := fullInputs()
	in.Staked = Failed[quantity.TokenAmount](errors.New("rpc timeout"))
	in.DepositPrice = Failed[quantity.Value](errors.New("price feed down"))

	second := Build(in, &first, now.Add(time.Minute))

	staked, ok := second.Staked.Get()
	require.True(t, ok)
	assert.Equal(t, "50", quantity.ToDisplay(staked))
	assert.True(t, second.Staked.Stale)
	assert.True(t, second.DepositPrice.Stale)
	assert.False(t, second.PendingReward.Stale)
	assert.Equal(t, "500.00", second.StakedUSD.Format(2))
	assert.ElementsMatch(t, []string{"staked", "deposit_price"}, second.StaleFields())
	assert.ErrorIs(t, second.Err(), ErrStaleData)

	// the previous snapshot is untouched
	assert.False(t, first.Staked.Stale)

	// a later successful read clears the flag
	third := Build(fullInputs(), &second, now.Add(2*time.Minute))
	assert.False(t, third.IsStale())
}

func TestBuildFailedWithoutHistory(t *testing.T) {
	in := fullInputs()
	in.PendingReward = Failed[quantity.TokenAmount](errors.New("execution reverted"))

	p := Build(in, nil, now)
	assert.Equal(t, StatusFailed, p.PendingReward.Status)
	assert.Equal(t, "execution reverted", p.PendingReward.Error)
	assert.False(t, p.EarnedUSD.IsKnown())
	assert.False(t, p.HasPendingReward())
	assert.False(t, p.IsStale())
}

func TestBuildIsDeterministic(t *testing.T) {
	a := Build(fullInputs(), nil, now)
	b := Build(fullInputs(), nil, now)
	assert.True(t, a.StakedUSD.Equal(b.StakedUSD))
	assert.True(t, a.Projection.DailyTokens.Equal(b.Projection.DailyTokens))
}

func TestClaimStateLocked(t *testing.T) {
	in := fullInputs()
	in.ClaimLock = Resolved(&claim.Lock{From: now.Add(-time.Hour), To: now.Add(time.Hour)})

	p := Build(in, nil, now)
	state := p.ClaimState(now)
	assert.False(t, state.CanClaim)
	require.NotNil(t, state.Countdown)
	assert.Equal(t, time.Hour, state.Countdown.Remaining)
	assert.True(t, p.ClaimState(now.Add(time.Hour+time.Second)).CanClaim)
}
