package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/farmdash/internal/action"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/position"
	"golang.org/x/sync/errgroup"
)

// ActionMonitor is the queue view the manager supervises
type ActionMonitor interface {
	GetQueueLength(ctx context.Context) (int64, error)
	GetInFlightActions(ctx context.Context) (map[string]string, error)
	ExpireStuckActions(ctx context.Context, timeout time.Duration) (int, error)
}

// ResultPoller resolves dispatched actions as the signer reports them
type ResultPoller interface {
	Run(ctx context.Context, interval time.Duration) error
}

// EndpointCounter reports how many RPC endpoints are usable
type EndpointCounter interface {
	HealthyEndpointCount() int
}

// Options tune the manager's loops
type Options struct {
	RefreshInterval   time.Duration
	ClaimTickInterval time.Duration
	ResultPoll        time.Duration
	StuckTimeout      time.Duration
}

// Manager runs one refresh worker per position plus the supervision loops
type Manager struct {
	opts     Options
	workers  map[string]*Worker
	order    []string
	registry *position.Registry
	monitor  ActionMonitor
	poller   ResultPoller
	rpcPool  EndpointCounter
	clock    ledger.Clock
	logger   zerolog.Logger

	mutex   sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	eg      *errgroup.Group
	started bool
	stopped bool
	unlocks map[string]bool
}

// NewManager creates a manager. monitor and poller may be nil.
func NewManager(opts Options, registry *position.Registry, monitor ActionMonitor, poller ResultPoller, clock ledger.Clock, logger zerolog.Logger) *Manager {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	return &Manager{
		opts:     opts,
		workers:  make(map[string]*Worker),
		registry: registry,
		monitor:  monitor,
		poller:   poller,
		clock:    clock,
		logger:   logger.With().Str("component", "worker_manager").Logger(),
		unlocks:  make(map[string]bool),
	}
}

// Add registers a worker. Workers must be added before Start.
func (m *Manager) Add(w *Worker) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.started {
		return fmt.Errorf("cannot add worker %s after start", w.ID())
	}
	if _, dup := m.workers[w.ID()]; dup {
		return fmt.Errorf("duplicate worker %s", w.ID())
	}
	m.workers[w.ID()] = w
	m.order = append(m.order, w.ID())
	return nil
}

// WatchEndpoints includes pool health in the monitoring stats
func (m *Manager) WatchEndpoints(pool EndpointCounter) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rpcPool = pool
}

// Trigger requests an immediate refresh of one position
func (m *Manager) Trigger(positionID string) {
	m.mutex.RLock()
	w, ok := m.workers[positionID]
	m.mutex.RUnlock()
	if ok {
		w.Trigger()
	}
}

// OnSettled is an action.Dependencies hook refreshing a position once its action settles
func (m *Manager) OnSettled(positionID string, kind action.Kind, outcome ledger.Outcome) {
	m.logger.Debug().
		Str("position", positionID).
		Str("action", kind.String()).
		Bool("success", outcome.Success).
		Msg("Action settled, refreshing position")
	m.Trigger(positionID)
}

// Start launches every loop under ctx
func (m *Manager) Start(ctx context.Context) error {
	m.mutex.Lock()
	if m.started {
		m.mutex.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.eg, m.ctx = errgroup.WithContext(ctx)
	workers := make([]*Worker, 0, len(m.order))
	for _, id := range m.order {
		workers = append(workers, m.workers[id])
	}
	m.mutex.Unlock()

	m.logger.Info().
		Int("workers", len(workers)).
		Dur("refresh_interval", m.opts.RefreshInterval).
		Msg("Starting worker manager")

	for _, w := range workers {
		w := w
		m.eg.Go(func() error {
			return w.Start(m.ctx, m.opts.RefreshInterval)
		})
	}

	if m.opts.ClaimTickInterval > 0 {
		m.eg.Go(m.runClaimTicker)
	}
	if m.poller != nil {
		m.eg.Go(func() error {
			return m.poller.Run(m.ctx, m.opts.ResultPoll)
		})
	}
	if m.monitor != nil {
		m.eg.Go(m.runStuckActionRecovery)
		m.eg.Go(m.runQueueMonitoring)
	}

	return nil
}

// Stop cancels every loop and waits for them to return
func (m *Manager) Stop() error {
	m.mutex.Lock()
	if m.stopped || !m.started {
		m.mutex.Unlock()
		return nil
	}
	m.stopped = true
	m.mutex.Unlock()

	m.logger.Info().Msg("Stopping worker manager...")
	m.cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.eg.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Msg("Error during worker shutdown")
			return err
		}
	case <-time.After(30 * time.Second):
		m.logger.Warn().Msg("Worker shutdown timed out")
	}

	m.logger.Info().Msg("Worker manager stopped")
	return nil
}

// runClaimTicker refreshes a position as soon as its claim lock runs out
func (m *Manager) runClaimTicker() error {
	ticker := time.NewTicker(m.opts.ClaimTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			m.checkUnlocks(m.clock.Now())
		}
	}
}

func (m *Manager) checkUnlocks(now time.Time) {
	for _, p := range m.registry.All() {
		lock, ok := p.ClaimLock.Get()
		if !ok || lock == nil {
			continue
		}

		open := p.ClaimState(now).CanClaim
		m.mutex.Lock()
		wasOpen, seen := m.unlocks[p.ID]
		m.unlocks[p.ID] = open
		m.mutex.Unlock()

		if open && seen && !wasOpen {
			m.logger.Info().Str("position", p.ID).Time("unlocked_at", lock.To).Msg("Claim lock expired")
			m.Trigger(p.ID)
		}
	}
}

// runStuckActionRecovery fails actions the signer never answered
func (m *Manager) runStuckActionRecovery() error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			if _, err := m.monitor.ExpireStuckActions(m.ctx, m.opts.StuckTimeout); err != nil {
				m.logger.Error().Err(err).Msg("Failed to expire stuck actions")
			}
		}
	}
}

// runQueueMonitoring periodically logs queue statistics
func (m *Manager) runQueueMonitoring() error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			stats, err := m.Stats(m.ctx)
			if err != nil {
				m.logger.Error().Err(err).Msg("Failed to collect queue stats")
				continue
			}
			m.logger.Info().
				Int64("queue_length", stats.QueueLength).
				Int("in_flight_actions", stats.InFlightActions).
				Int("workers", stats.Workers).
				Int("healthy_endpoints", stats.HealthyEndpoints).
				Msg("Queue monitoring stats")
		}
	}
}

// Stats is a point-in-time view of the manager
type Stats struct {
	Workers          int   `json:"workers"`
	QueueLength      int64 `json:"queue_length"`
	InFlightActions  int   `json:"in_flight_actions"`
	HealthyEndpoints int   `json:"healthy_endpoints"`
}

// Stats returns current manager statistics
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	m.mutex.RLock()
	stats := Stats{Workers: len(m.workers)}
	if m.rpcPool != nil {
		stats.HealthyEndpoints = m.rpcPool.HealthyEndpointCount()
	}
	m.mutex.RUnlock()

	if m.monitor == nil {
		return stats, nil
	}

	length, err := m.monitor.GetQueueLength(ctx)
	if err != nil {
		return stats, err
	}
	inFlight, err := m.monitor.GetInFlightActions(ctx)
	if err != nil {
		return stats, err
	}
	stats.QueueLength = length
	stats.InFlightActions = len(inFlight)
	return stats, nil
}
