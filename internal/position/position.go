package position

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wnt/farmdash/internal/claim"
	"github.com/wnt/farmdash/internal/quantity"
	"github.com/wnt/farmdash/internal/reward"
)

// ErrStaleData reports that a refresh failed and previous values were retained
var ErrStaleData = errors.New("stale data")

// Token describes a deposit or reward token
type Token struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Address  string `json:"address" yaml:"address"`
	Decimals int32  `json:"decimals" yaml:"decimals"`
	// LP marks liquidity-pair tokens, which can be zapped into
	LP bool `json:"lp" yaml:"lp"`
}

// PoolStats is the externally derived aggregate for a pool
type PoolStats struct {
	DailyAPR quantity.Value `json:"daily_apr"`
	TVL      quantity.Value `json:"tvl"`
}

// Allowance is the on-chain approval of the farm contract to spend the deposit token
type Allowance int

const (
	NotApproved Allowance = iota
	Approved
)

func (a Allowance) String() string {
	if a == Approved {
		return "approved"
	}
	return "not_approved"
}

// MarshalText encodes the allowance by name
func (a Allowance) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Field is a snapshot value together with its load state. Stale values were
// carried over from an earlier snapshot because the latest read did not resolve.
type Field[T any] struct {
	Value  T      `json:"value"`
	Status Status `json:"status"`
	Stale  bool   `json:"stale,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Get returns the value and whether one is available
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Status == StatusResolved
}

// Position is an immutable snapshot of one deposit/earn token pair.
// A new Position is built on every refresh; it is never updated in place.
type Position struct {
	ID           string `json:"id"`
	DepositToken Token  `json:"deposit_token"`
	EarnToken    Token  `json:"earn_token"`

	WalletBalance Field[quantity.TokenAmount] `json:"wallet_balance"`
	Staked        Field[quantity.TokenAmount] `json:"staked"`
	PendingReward Field[quantity.TokenAmount] `json:"pending_reward"`
	DepositPrice  Field[quantity.Value]       `json:"deposit_price"`
	RewardPrice   Field[quantity.Value]       `json:"reward_price"`
	Pool          Field[PoolStats]            `json:"pool"`
	Allowance     Field[Allowance]            `json:"allowance"`
	ClaimLock     Field[*claim.Lock]          `json:"claim_lock"`

	WalletUSD  quantity.Value    `json:"wallet_usd"`
	StakedUSD  quantity.Value    `json:"staked_usd"`
	EarnedUSD  quantity.Value    `json:"earned_usd"`
	DailyAPR   quantity.Value    `json:"daily_apr"`
	AnnualAPR  quantity.Value    `json:"annual_apr"`
	TVL        quantity.Value    `json:"tvl"`
	Projection reward.Projection `json:"projection"`

	BuiltAt time.Time `json:"built_at"`
}

// StaleFields lists the fields carried over from an earlier snapshot
func (p Position) StaleFields() []string {
	var out []string
	add := func(name string, stale bool) {
		if stale {
			out = append(out, name)
		}
	}
	add("wallet_balance", p.WalletBalance.Stale)
	add("staked", p.Staked.Stale)
	add("pending_reward", p.PendingReward.Stale)
	add("deposit_price", p.DepositPrice.Stale)
	add("reward_price", p.RewardPrice.Stale)
	add("pool", p.Pool.Stale)
	add("allowance", p.Allowance.Stale)
	add("claim_lock", p.ClaimLock.Stale)
	return out
}

// IsStale reports whether any field was carried over
func (p Position) IsStale() bool {
	return len(p.StaleFields()) > 0
}

// Err returns ErrStaleData naming the stale fields, or nil
func (p Position) Err() error {
	fields := p.StaleFields()
	if len(fields) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrStaleData, strings.Join(fields, ","))
}

// IsActive reports whether the account has a known, non-zero stake
func (p Position) IsActive() bool {
	staked, ok := p.Staked.Get()
	return ok && staked.Sign() > 0
}

// HasPendingReward reports whether a known, non-zero reward is claimable
func (p Position) HasPendingReward() bool {
	earned, ok := p.PendingReward.Get()
	return ok && earned.Sign() > 0
}

// ClaimState evaluates the claim gate at now. A lock that has not loaded keeps the gate closed.
func (p Position) ClaimState(now time.Time) claim.State {
	lock, ok := p.ClaimLock.Get()
	if !ok {
		return claim.State{CanClaim: false}
	}
	return claim.Gate(now, lock)
}
