package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/farmdash/internal/queue"
)

type fakeQueue struct {
	mu        sync.Mutex
	jobs      []queue.Job
	results   map[string]*queue.Result
	forgotten []string
	pushErr   error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{results: make(map[string]*queue.Result)}
}

func (q *fakeQueue) PushAction(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) GetResult(_ context.Context, requestID string) (*queue.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.results[requestID], nil
}

func (q *fakeQueue) ForgetResult(_ context.Context, requestID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.results, requestID)
	q.forgotten = append(q.forgotten, requestID)
	return nil
}

func (q *fakeQueue) last() queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[len(q.jobs)-1]
}

func (q *fakeQueue) settle(requestID string, r queue.Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r.RequestID = requestID
	q.results[requestID] = &r
}

// decodeCall resolves a job's calldata against contract
func decodeCall(t *testing.T, contract abi.ABI, job queue.Job) (string, []interface{}) {
	t.Helper()
	data, err := hexutil.Decode(job.Data)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 4)

	method, err := contract.MethodById(data[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return method.Name, args
}

func TestQueueSinkEncodesMasterChefActions(t *testing.T) {
	q := newFakeQueue()
	s := NewQueueSink(q, testFarms(t), account, zerolog.Nop())
	ctx := context.Background()

	_, err := s.SubmitStake(ctx, "grape-mim-lp", wei(5))
	require.NoError(t, err)
	job := q.last()
	assert.Equal(t, "deposit", job.Kind)
	assert.Equal(t, common.HexToAddress(chef).Hex(), job.To)
	assert.Equal(t, account, job.Account)
	assert.Equal(t, wei(5).String(), job.Amount)
	name, args := decodeCall(t, masterChefABI, job)
	assert.Equal(t, "deposit", name)
	assert.Equal(t, big.NewInt(1), args[0])
	assert.Equal(t, wei(5), args[1])

	_, err = s.SubmitWithdraw(ctx, "grape-mim-lp", wei(2))
	require.NoError(t, err)
	name, args = decodeCall(t, masterChefABI, q.last())
	assert.Equal(t, "withdraw", name)
	assert.Equal(t, wei(2), args[1])

	_, err = s.SubmitClaim(ctx, "grape-mim-lp")
	require.NoError(t, err)
	name, args = decodeCall(t, masterChefABI, q.last())
	assert.Equal(t, "deposit", name)
	assert.Equal(t, 0, args[1].(*big.Int).Sign())

	_, err = s.SubmitZap(ctx, "grape-mim-lp", mim, wei(7))
	require.NoError(t, err)
	job = q.last()
	assert.Equal(t, common.HexToAddress(zapper).Hex(), job.To)
	name, args = decodeCall(t, zapperABI, job)
	assert.Equal(t, "zapIn", name)
	assert.Equal(t, common.HexToAddress(mimAddress), args[0])
	assert.Equal(t, common.HexToAddress(lpAddress), args[2])

	assert.Equal(t, 4, s.Pending())
}

func TestQueueSinkEncodesBoardroomActions(t *testing.T) {
	q := newFakeQueue()
	s := NewQueueSink(q, testFarms(t), account, zerolog.Nop())
	ctx := context.Background()

	_, err := s.SubmitStake(ctx, "winery", wei(1))
	require.NoError(t, err)
	name, _ := decodeCall(t, boardroomABI, q.last())
	assert.Equal(t, "stake", name)

	_, err = s.SubmitClaim(ctx, "winery")
	require.NoError(t, err)
	name, _ = decodeCall(t, boardroomABI, q.last())
	assert.Equal(t, "claimReward", name)

	_, err = s.SubmitZap(ctx, "winery", mim, wei(1))
	assert.ErrorContains(t, err, "has no zapper")
}

func TestQueueSinkApproval(t *testing.T) {
	q := newFakeQueue()
	s := NewQueueSink(q, testFarms(t), account, zerolog.Nop())

	_, err := s.RequestApproval(context.Background(), "grape-mim-lp", grapeMIM, chef)
	require.NoError(t, err)

	job := q.last()
	assert.Equal(t, common.HexToAddress(lpAddress).Hex(), job.To)
	name, args := decodeCall(t, erc20ABI, job)
	assert.Equal(t, "approve", name)
	assert.Equal(t, common.HexToAddress(chef), args[0])
	assert.Equal(t, 256, args[1].(*big.Int).BitLen())
}

func TestQueueSinkPollResolvesResults(t *testing.T) {
	q := newFakeQueue()
	s := NewQueueSink(q, testFarms(t), account, zerolog.Nop())
	ctx := context.Background()

	ok, err := s.SubmitWithdraw(ctx, "grape-mim-lp", wei(1))
	require.NoError(t, err)
	okID := q.last().RequestID

	failed, err := s.SubmitClaim(ctx, "winery")
	require.NoError(t, err)
	failedID := q.last().RequestID

	s.Poll(ctx)
	assert.True(t, ok.Pending())
	assert.True(t, failed.Pending())

	q.settle(okID, queue.Result{Success: true, TxHash: "0xfeed"})
	q.settle(failedID, queue.Result{Success: false, Reason: "execution reverted: Boardroom: still in reward lockup"})
	s.Poll(ctx)

	outcome, done := ok.Outcome()
	require.True(t, done)
	assert.Equal(t, Succeeded("0xfeed"), outcome)

	outcome, done = failed.Outcome()
	require.True(t, done)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Reason, "reward lockup")

	assert.Equal(t, 0, s.Pending())
	assert.ElementsMatch(t, []string{okID, failedID}, q.forgotten)
}

func TestQueueSinkPushFailure(t *testing.T) {
	q := newFakeQueue()
	q.pushErr = queue.ErrPositionBusy
	s := NewQueueSink(q, testFarms(t), account, zerolog.Nop())

	_, err := s.SubmitWithdraw(context.Background(), "grape-mim-lp", wei(1))
	assert.True(t, errors.Is(err, queue.ErrPositionBusy))
	assert.Equal(t, 0, s.Pending())

	_, err = s.SubmitWithdraw(context.Background(), "missing", wei(1))
	assert.ErrorIs(t, err, ErrUnknownPosition)
}
