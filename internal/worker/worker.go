package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/farmdash/internal/action"
	"github.com/wnt/farmdash/internal/claim"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/logger"
	"github.com/wnt/farmdash/internal/metrics"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
	"golang.org/x/sync/errgroup"
)

// Sources are the external reads a position snapshot is built from
type Sources struct {
	Balances   ledger.BalanceSource
	Staked     ledger.StakedSource
	Rewards    ledger.RewardSource
	Prices     ledger.PriceSource
	Pools      ledger.PoolStatsSource
	Allowances ledger.AllowanceSource
	Locks      ledger.LockSource
	Clock      ledger.Clock
}

// SnapshotStore persists built snapshots
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, account string, p position.Position) error
}

// Worker keeps one position's snapshot fresh
type Worker struct {
	farm        ledger.Farm
	account     string
	sources     Sources
	registry    *position.Registry
	machine     *action.Machine
	store       SnapshotStore
	readTimeout time.Duration
	logger      zerolog.Logger
	trigger     chan struct{}
}

// NewWorker creates a worker for farm. store may be nil.
func NewWorker(farm ledger.Farm, account string, sources Sources, registry *position.Registry, machine *action.Machine, store SnapshotStore, readTimeout time.Duration, baseLogger zerolog.Logger) *Worker {
	if sources.Clock == nil {
		sources.Clock = ledger.SystemClock{}
	}
	return &Worker{
		farm:        farm,
		account:     account,
		sources:     sources,
		registry:    registry,
		machine:     machine,
		store:       store,
		readTimeout: readTimeout,
		logger:      logger.WithPosition(baseLogger, farm.ID).With().Str("component", "worker").Logger(),
		trigger:     make(chan struct{}, 1),
	}
}

// ID returns the position id the worker refreshes
func (w *Worker) ID() string {
	return w.farm.ID
}

// Trigger requests an immediate refresh. Requests coalesce.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Start refreshes immediately and then on every tick or trigger until ctx ends
func (w *Worker) Start(ctx context.Context, interval time.Duration) error {
	w.logger.Info().Dur("interval", interval).Msg("Starting worker")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.Refresh(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Worker received shutdown signal")
			return ctx.Err()
		case <-ticker.C:
		case <-w.trigger:
		}
	}
}

// read runs fn with the worker's read timeout and converts its outcome to a Result
func read[T any](ctx context.Context, timeout time.Duration, source string, fn func(context.Context) (T, error)) position.Result[T] {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(readCtx)
	switch {
	case err == nil:
		return position.Resolved(v)
	case errors.Is(err, ledger.ErrPending):
		metrics.RecordInputRead(source, "pending")
		return position.Pending[T]()
	default:
		return position.Failed[T](err)
	}
}

// Refresh gathers every input concurrently, builds a new snapshot and publishes it.
// A failed read never blocks the others.
func (w *Worker) Refresh(ctx context.Context) position.Position {
	start := time.Now()
	in := position.Inputs{
		ID:           w.farm.ID,
		DepositToken: w.farm.DepositToken,
		EarnToken:    w.farm.EarnToken,
	}
	s := w.sources
	t := w.readTimeout

	var g errgroup.Group
	g.Go(func() error {
		in.WalletBalance = read(ctx, t, "balance", func(ctx context.Context) (quantity.TokenAmount, error) {
			return s.Balances.Balance(ctx, w.farm.DepositToken, w.account)
		})
		return nil
	})
	g.Go(func() error {
		in.Staked = read(ctx, t, "staked", func(ctx context.Context) (quantity.TokenAmount, error) {
			return s.Staked.Staked(ctx, w.farm.ID, w.account)
		})
		return nil
	})
	g.Go(func() error {
		in.PendingReward = read(ctx, t, "pending_reward", func(ctx context.Context) (quantity.TokenAmount, error) {
			return s.Rewards.PendingReward(ctx, w.farm.ID, w.account)
		})
		return nil
	})
	g.Go(func() error {
		in.DepositPrice = read(ctx, t, "price", func(ctx context.Context) (quantity.Value, error) {
			return s.Prices.Price(ctx, w.farm.DepositToken)
		})
		return nil
	})
	g.Go(func() error {
		in.RewardPrice = read(ctx, t, "price", func(ctx context.Context) (quantity.Value, error) {
			return s.Prices.Price(ctx, w.farm.EarnToken)
		})
		return nil
	})
	g.Go(func() error {
		in.Pool = read(ctx, t, "pool_stats", func(ctx context.Context) (position.PoolStats, error) {
			return s.Pools.PoolStats(ctx, w.farm.ID)
		})
		return nil
	})
	g.Go(func() error {
		in.Allowance = read(ctx, t, "allowance", func(ctx context.Context) (position.Allowance, error) {
			return s.Allowances.Allowance(ctx, w.farm.DepositToken, w.farm.Contract, w.account)
		})
		return nil
	})
	g.Go(func() error {
		in.ClaimLock = read(ctx, t, "claim_lock", func(ctx context.Context) (*claim.Lock, error) {
			return s.Locks.ClaimLock(ctx, w.farm.ID, w.account)
		})
		return nil
	})
	_ = g.Wait()

	var prev *position.Position
	if p, ok := w.registry.Get(w.farm.ID); ok {
		prev = &p
	}

	snap := position.Build(in, prev, s.Clock.Now())
	w.registry.Put(snap)
	if w.machine != nil {
		w.machine.Update(snap)
	}

	duration := time.Since(start)
	metrics.RecordSnapshot(w.farm.ID, snap.IsStale())
	metrics.RecordRefresh(w.farm.ID, duration.Seconds())

	if err := snap.Err(); err != nil {
		w.logger.Warn().Err(err).Dur("duration", duration).Msg("Snapshot built with stale fields")
	} else {
		w.logger.Debug().Dur("duration", duration).Msg("Snapshot built")
	}

	if w.store != nil && ctx.Err() == nil {
		if err := w.store.SaveSnapshot(ctx, w.account, snap); err != nil {
			w.logger.Error().Err(err).Msg("Failed to persist snapshot")
		}
	}

	return snap
}
