package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/farmdash/internal/action"
	"github.com/wnt/farmdash/internal/claim"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/position"
)

type fakeMonitor struct {
	mutex    sync.Mutex
	length   int64
	inFlight map[string]string
	err      error
	expired  int
}

func (f *fakeMonitor) GetQueueLength(context.Context) (int64, error) {
	return f.length, f.err
}

func (f *fakeMonitor) GetInFlightActions(context.Context) (map[string]string, error) {
	return f.inFlight, f.err
}

func (f *fakeMonitor) ExpireStuckActions(context.Context, time.Duration) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.expired++
	return 0, nil
}

type endpointCount int

func (c endpointCount) HealthyEndpointCount() int { return int(c) }

type fakePoller struct {
	started chan struct{}
}

func (p *fakePoller) Run(ctx context.Context, _ time.Duration) error {
	close(p.started)
	<-ctx.Done()
	return ctx.Err()
}

func newTestManager(t *testing.T, registry *position.Registry, monitor ActionMonitor, poller ResultPoller) (*Manager, *Worker) {
	t.Helper()
	m := NewManager(Options{
		RefreshInterval: time.Hour,
		ResultPoll:      time.Second,
		StuckTimeout:    time.Minute,
	}, registry, monitor, poller, fixedClock{testNow}, zerolog.Nop())
	w := NewWorker(testFarm(), account, sourcesOf(&fakeSources{}), registry, nil, nil, time.Second, zerolog.Nop())
	require.NoError(t, m.Add(w))
	return m, w
}

func TestManagerAddRejectsDuplicates(t *testing.T) {
	m, w := newTestManager(t, position.NewRegistry(), nil, nil)
	assert.Error(t, m.Add(w))
}

func TestManagerOnSettledTriggersRefresh(t *testing.T) {
	m, w := newTestManager(t, position.NewRegistry(), nil, nil)

	m.OnSettled("grape-mim-lp", action.KindClaim, ledger.Succeeded("0xabc"))
	assert.Len(t, w.trigger, 1)

	// unknown positions are ignored
	m.OnSettled("nope", action.KindClaim, ledger.Failure("reverted"))
}

func TestManagerCheckUnlocks(t *testing.T) {
	registry := position.NewRegistry()
	m, w := newTestManager(t, registry, nil, nil)

	lock := &claim.Lock{From: testNow.Add(-time.Hour), To: testNow.Add(time.Minute)}
	registry.Put(position.Position{
		ID:        "grape-mim-lp",
		ClaimLock: position.Field[*claim.Lock]{Value: lock, Status: position.StatusResolved},
	})

	m.checkUnlocks(testNow)
	assert.Empty(t, w.trigger)

	m.checkUnlocks(testNow.Add(2 * time.Minute))
	assert.Len(t, w.trigger, 1)

	<-w.trigger
	m.checkUnlocks(testNow.Add(3 * time.Minute))
	assert.Empty(t, w.trigger)
}

func TestManagerStats(t *testing.T) {
	monitor := &fakeMonitor{length: 2, inFlight: map[string]string{"grape-mim-lp": "req,1"}}
	m, _ := newTestManager(t, position.NewRegistry(), monitor, nil)

	m.WatchEndpoints(endpointCount(3))

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Workers: 1, QueueLength: 2, InFlightActions: 1, HealthyEndpoints: 3}, stats)

	monitor.err = errors.New("redis down")
	_, err = m.Stats(context.Background())
	assert.Error(t, err)
}

func TestManagerStartStop(t *testing.T) {
	registry := position.NewRegistry()
	poller := &fakePoller{started: make(chan struct{})}
	m, _ := newTestManager(t, registry, &fakeMonitor{}, poller)

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))

	<-poller.started
	require.Eventually(t, func() bool {
		_, ok := registry.Get("grape-mim-lp")
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}
