// Package ledger defines the contracts of the external collaborators the
// position engine reads from and dispatches actions to, plus adapters for an
// EVM node and a Redis-backed signer queue.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/wnt/farmdash/internal/claim"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
)

// ErrPending is returned by a source whose value is not available yet
var ErrPending = errors.New("value pending")

// ErrUnknownPosition is returned for a position id the adapter has no farm for
var ErrUnknownPosition = errors.New("unknown position")

// BalanceSource reads wallet balances
type BalanceSource interface {
	Balance(ctx context.Context, token position.Token, account string) (quantity.TokenAmount, error)
}

// StakedSource reads the amount an account has deposited in a farm
type StakedSource interface {
	Staked(ctx context.Context, positionID, account string) (quantity.TokenAmount, error)
}

// RewardSource reads the claimable reward of an account in a farm
type RewardSource interface {
	PendingReward(ctx context.Context, positionID, account string) (quantity.TokenAmount, error)
}

// PriceSource reads USD prices. A missing quote is an unknown value, not an error.
type PriceSource interface {
	Price(ctx context.Context, token position.Token) (quantity.Value, error)
}

// PoolStatsSource reads the APR and TVL of a farm
type PoolStatsSource interface {
	PoolStats(ctx context.Context, positionID string) (position.PoolStats, error)
}

// AllowanceSource reads whether spender may move the account's tokens
type AllowanceSource interface {
	Allowance(ctx context.Context, token position.Token, spender, account string) (position.Allowance, error)
}

// LockSource reads the claim lock window of an account. A nil lock means none.
type LockSource interface {
	ClaimLock(ctx context.Context, positionID, account string) (*claim.Lock, error)
}

// ApprovalSink dispatches approval transactions
type ApprovalSink interface {
	RequestApproval(ctx context.Context, positionID string, token position.Token, spender string) (*AsyncResult, error)
}

// ActionSink dispatches farm transactions
type ActionSink interface {
	SubmitStake(ctx context.Context, positionID string, amount *big.Int) (*AsyncResult, error)
	SubmitWithdraw(ctx context.Context, positionID string, amount *big.Int) (*AsyncResult, error)
	SubmitClaim(ctx context.Context, positionID string) (*AsyncResult, error)
	SubmitZap(ctx context.Context, positionID string, source position.Token, amount *big.Int) (*AsyncResult, error)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Outcome is the final result of a dispatched transaction
type Outcome struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
}

// Succeeded returns a successful outcome
func Succeeded(txHash string) Outcome {
	return Outcome{Success: true, TxHash: txHash}
}

// Failure returns a failed outcome with a user-facing reason
func Failure(reason string) Outcome {
	return Outcome{Success: false, Reason: reason}
}

// AsyncResult is the pending handle of a dispatched transaction. It resolves exactly once.
type AsyncResult struct {
	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

// NewAsyncResult creates an unresolved handle
func NewAsyncResult() *AsyncResult {
	return &AsyncResult{done: make(chan struct{})}
}

// Resolve settles the handle. Later calls are ignored.
func (r *AsyncResult) Resolve(o Outcome) {
	r.once.Do(func() {
		r.outcome = o
		close(r.done)
	})
}

// Done is closed once the outcome is known
func (r *AsyncResult) Done() <-chan struct{} {
	return r.done
}

// Pending reports whether the transaction is still in flight
func (r *AsyncResult) Pending() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Outcome returns the settled outcome and whether it is available
func (r *AsyncResult) Outcome() (Outcome, bool) {
	if r.Pending() {
		return Outcome{}, false
	}
	return r.outcome, true
}
