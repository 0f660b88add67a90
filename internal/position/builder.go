package position

import (
	"time"

	"github.com/wnt/farmdash/internal/claim"
	"github.com/wnt/farmdash/internal/quantity"
	"github.com/wnt/farmdash/internal/reward"
)

// Inputs are the independently fetched raw reads for one position
type Inputs struct {
	ID           string
	DepositToken Token
	EarnToken    Token

	WalletBalance Result[quantity.TokenAmount]
	Staked        Result[quantity.TokenAmount]
	PendingReward Result[quantity.TokenAmount]
	DepositPrice  Result[quantity.Value]
	RewardPrice   Result[quantity.Value]
	Pool          Result[PoolStats]
	Allowance     Result[Allowance]
	ClaimLock     Result[*claim.Lock]
}

// Build derives a complete snapshot from inputs. It is a pure function of
// its arguments: prev, when given, only supplies values for reads that did
// not resolve this cycle, and those are marked stale.
func Build(in Inputs, prev *Position, now time.Time) Position {
	var p Position
	if prev != nil {
		p = *prev
	}

	snap := Position{
		ID:           in.ID,
		DepositToken: in.DepositToken,
		EarnToken:    in.EarnToken,

		WalletBalance: merge(in.WalletBalance, prevField(prev, p.WalletBalance)),
		Staked:        merge(in.Staked, prevField(prev, p.Staked)),
		PendingReward: merge(in.PendingReward, prevField(prev, p.PendingReward)),
		DepositPrice:  merge(in.DepositPrice, prevField(prev, p.DepositPrice)),
		RewardPrice:   merge(in.RewardPrice, prevField(prev, p.RewardPrice)),
		Pool:          merge(in.Pool, prevField(prev, p.Pool)),
		Allowance:     merge(in.Allowance, prevField(prev, p.Allowance)),
		ClaimLock:     merge(in.ClaimLock, prevField(prev, p.ClaimLock)),

		BuiltAt: now,
	}

	depositPrice := valueOf(snap.DepositPrice)
	rewardPrice := valueOf(snap.RewardPrice)

	snap.WalletUSD = usdOf(snap.WalletBalance, depositPrice)
	snap.StakedUSD = usdOf(snap.Staked, depositPrice)
	snap.EarnedUSD = usdOf(snap.PendingReward, rewardPrice)

	snap.DailyAPR = quantity.Unknown()
	snap.TVL = quantity.Unknown()
	if stats, ok := snap.Pool.Get(); ok {
		snap.DailyAPR = stats.DailyAPR
		snap.TVL = stats.TVL
	}
	snap.AnnualAPR = reward.AnnualAPR(snap.DailyAPR)

	snap.Projection = reward.Project(snap.StakedUSD, snap.DailyAPR, rewardPrice)

	return snap
}

func prevField[T any](prev *Position, f Field[T]) *Field[T] {
	if prev == nil {
		return nil
	}
	return &f
}

// merge resolves one field. A read that did not resolve keeps the previous
// value when there is one, flagged as stale.
func merge[T any](r Result[T], prev *Field[T]) Field[T] {
	if v, ok := r.Get(); ok {
		return Field[T]{Value: v, Status: StatusResolved}
	}

	if prev != nil && prev.Status == StatusResolved {
		carried := *prev
		carried.Stale = true
		return carried
	}

	f := Field[T]{Status: r.Status()}
	if err := r.Err(); err != nil {
		f.Error = err.Error()
	}
	return f
}

func valueOf(f Field[quantity.Value]) quantity.Value {
	if v, ok := f.Get(); ok {
		return v
	}
	return quantity.Unknown()
}

func usdOf(f Field[quantity.TokenAmount], price quantity.Value) quantity.Value {
	amount, ok := f.Get()
	if !ok {
		return quantity.Unknown()
	}
	return quantity.USDValue(amount, price)
}
