package worker

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/farmdash/internal/claim"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
)

var (
	grapeMIM = position.Token{Symbol: "GRAPE-MIM-LP", Address: "0xb382247667fE8CA5327cA1Fa4835AE77A9907Bc8", Decimals: 18, LP: true}
	wine     = position.Token{Symbol: "WINE", Address: "0xc55036b5348cfb45a932481744645985010d3a44", Decimals: 18}
	testNow  = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
)

const account = "0x1111111111111111111111111111111111111111"

func testFarm() ledger.Farm {
	return ledger.Farm{
		ID:           "grape-mim-lp",
		Name:         "GRAPE-MIM LP",
		Kind:         ledger.MasterChef,
		PoolID:       1,
		Contract:     "0x28c65dcB3a5f0d456624AFF91ca03E4e315beE49",
		DepositToken: grapeMIM,
		EarnToken:    wine,
	}
}

func tokens(whole int64) quantity.TokenAmount {
	raw := new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return quantity.NewTokenAmount(raw, 18)
}

func usd(s string) quantity.Value {
	return quantity.Known(decimal.RequireFromString(s))
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeSources implements every read source. Errors keyed by source name
// replace the corresponding value.
type fakeSources struct {
	mutex sync.Mutex
	errs  map[string]error
	lock  *claim.Lock
	reads int
}

func (f *fakeSources) fail(source string, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	f.errs[source] = err
}

func (f *fakeSources) errFor(source string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.reads++
	return f.errs[source]
}

func (f *fakeSources) Balance(context.Context, position.Token, string) (quantity.TokenAmount, error) {
	return tokens(40), f.errFor("balance")
}

func (f *fakeSources) Staked(context.Context, string, string) (quantity.TokenAmount, error) {
	return tokens(50), f.errFor("staked")
}

func (f *fakeSources) PendingReward(context.Context, string, string) (quantity.TokenAmount, error) {
	return tokens(3), f.errFor("reward")
}

func (f *fakeSources) Price(_ context.Context, token position.Token) (quantity.Value, error) {
	if token.LP {
		return usd("10"), f.errFor("price")
	}
	return usd("2"), f.errFor("price")
}

func (f *fakeSources) PoolStats(context.Context, string) (position.PoolStats, error) {
	return position.PoolStats{DailyAPR: usd("36.5"), TVL: usd("1250000")}, f.errFor("pool")
}

func (f *fakeSources) Allowance(context.Context, position.Token, string, string) (position.Allowance, error) {
	return position.Approved, f.errFor("allowance")
}

func (f *fakeSources) ClaimLock(context.Context, string, string) (*claim.Lock, error) {
	err := f.errFor("lock")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.lock, err
}

func sourcesOf(f *fakeSources) Sources {
	return Sources{
		Balances:   f,
		Staked:     f,
		Rewards:    f,
		Prices:     f,
		Pools:      f,
		Allowances: f,
		Locks:      f,
		Clock:      fixedClock{testNow},
	}
}

type memStore struct {
	mutex sync.Mutex
	saved []position.Position
}

func (s *memStore) SaveSnapshot(_ context.Context, _ string, p position.Position) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.saved = append(s.saved, p)
	return nil
}

func (s *memStore) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.saved)
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	src := &fakeSources{}
	registry := position.NewRegistry()
	store := &memStore{}
	w := NewWorker(testFarm(), account, sourcesOf(src), registry, nil, store, time.Second, zerolog.Nop())

	snap := w.Refresh(context.Background())

	assert.Equal(t, "grape-mim-lp", snap.ID)
	assert.Equal(t, testNow, snap.BuiltAt)
	assert.Equal(t, "500.00", snap.StakedUSD.Format(2))
	assert.Equal(t, "6.00", snap.EarnedUSD.Format(2))
	assert.False(t, snap.IsStale())
	assert.Equal(t, 8, src.reads)

	stored, ok := registry.Get("grape-mim-lp")
	require.True(t, ok)
	assert.Equal(t, snap.BuiltAt, stored.BuiltAt)
	assert.Equal(t, 1, store.count())
}

func TestRefreshRetainsStaleValues(t *testing.T) {
	src := &fakeSources{}
	registry := position.NewRegistry()
	w := NewWorker(testFarm(), account, sourcesOf(src), registry, nil, nil, time.Second, zerolog.Nop())

	w.Refresh(context.Background())
	src.fail("staked", errors.New("rpc timeout"))
	snap := w.Refresh(context.Background())

	staked, ok := snap.Staked.Get()
	require.True(t, ok)
	assert.Equal(t, "50", quantity.ToDisplay(staked))
	assert.True(t, snap.Staked.Stale)
	assert.Equal(t, []string{"staked"}, snap.StaleFields())
	assert.ErrorIs(t, snap.Err(), position.ErrStaleData)
	// derived values still use the carried stake
	assert.Equal(t, "500.00", snap.StakedUSD.Format(2))
}

func TestRefreshFailureWithoutHistory(t *testing.T) {
	src := &fakeSources{}
	src.fail("price", errors.New("llama down"))
	w := NewWorker(testFarm(), account, sourcesOf(src), position.NewRegistry(), nil, nil, time.Second, zerolog.Nop())

	snap := w.Refresh(context.Background())

	assert.Equal(t, position.StatusFailed, snap.DepositPrice.Status)
	assert.Equal(t, "llama down", snap.DepositPrice.Error)
	assert.False(t, snap.StakedUSD.IsKnown())
	assert.Equal(t, quantity.Placeholder, snap.WalletUSD.Format(2))
	// unrelated reads are unaffected
	_, ok := snap.Staked.Get()
	assert.True(t, ok)
}

func TestRefreshPendingRead(t *testing.T) {
	src := &fakeSources{}
	src.fail("lock", ledger.ErrPending)
	w := NewWorker(testFarm(), account, sourcesOf(src), position.NewRegistry(), nil, nil, time.Second, zerolog.Nop())

	snap := w.Refresh(context.Background())

	assert.Equal(t, position.StatusPending, snap.ClaimLock.Status)
	assert.Empty(t, snap.ClaimLock.Error)
	assert.False(t, snap.ClaimState(testNow).CanClaim)
}

func TestTriggerCoalesces(t *testing.T) {
	w := NewWorker(testFarm(), account, sourcesOf(&fakeSources{}), position.NewRegistry(), nil, nil, time.Second, zerolog.Nop())

	w.Trigger()
	w.Trigger()
	w.Trigger()

	assert.Len(t, w.trigger, 1)
}

func TestStartRefreshesOnTrigger(t *testing.T) {
	src := &fakeSources{}
	store := &memStore{}
	w := NewWorker(testFarm(), account, sourcesOf(src), position.NewRegistry(), nil, store, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, time.Hour) }()

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
	w.Trigger()
	require.Eventually(t, func() bool { return store.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
