package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/queue"
)

// ActionQueue is the hand-off to the external signer
type ActionQueue interface {
	PushAction(ctx context.Context, job queue.Job) error
	GetResult(ctx context.Context, requestID string) (*queue.Result, error)
	ForgetResult(ctx context.Context, requestID string) error
}

// QueueSink encodes actions as unsigned transactions and pushes them to the
// signer queue. Outcomes are picked up by Run.
type QueueSink struct {
	queue   ActionQueue
	farms   Farms
	account string
	logger  zerolog.Logger

	mutex   sync.Mutex
	pending map[string]*AsyncResult
}

// NewQueueSink creates a sink dispatching on behalf of account
func NewQueueSink(q ActionQueue, farms Farms, account string, logger zerolog.Logger) *QueueSink {
	return &QueueSink{
		queue:   q,
		farms:   farms,
		account: account,
		logger:  logger.With().Str("component", "queue_sink").Logger(),
		pending: make(map[string]*AsyncResult),
	}
}

// RequestApproval queues an unlimited approve of token for spender
func (s *QueueSink) RequestApproval(ctx context.Context, positionID string, token position.Token, spender string) (*AsyncResult, error) {
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	return s.push(ctx, positionID, "approve", token.Address, nil, erc20ABI, "approve", common.HexToAddress(spender), maxUint256)
}

// SubmitStake queues a deposit into the farm
func (s *QueueSink) SubmitStake(ctx context.Context, positionID string, amount *big.Int) (*AsyncResult, error) {
	farm, err := s.farms.lookup(positionID)
	if err != nil {
		return nil, err
	}
	if farm.Kind == Boardroom {
		return s.push(ctx, positionID, "deposit", farm.Contract, amount, boardroomABI, "stake", amount)
	}
	return s.push(ctx, positionID, "deposit", farm.Contract, amount, masterChefABI, "deposit", big.NewInt(farm.PoolID), amount)
}

// SubmitWithdraw queues a withdrawal from the farm
func (s *QueueSink) SubmitWithdraw(ctx context.Context, positionID string, amount *big.Int) (*AsyncResult, error) {
	farm, err := s.farms.lookup(positionID)
	if err != nil {
		return nil, err
	}
	if farm.Kind == Boardroom {
		return s.push(ctx, positionID, "withdraw", farm.Contract, amount, boardroomABI, "withdraw", amount)
	}
	return s.push(ctx, positionID, "withdraw", farm.Contract, amount, masterChefABI, "withdraw", big.NewInt(farm.PoolID), amount)
}

// SubmitClaim queues a harvest. MasterChef farms harvest on a zero deposit.
func (s *QueueSink) SubmitClaim(ctx context.Context, positionID string) (*AsyncResult, error) {
	farm, err := s.farms.lookup(positionID)
	if err != nil {
		return nil, err
	}
	if farm.Kind == Boardroom {
		return s.push(ctx, positionID, "claim", farm.Contract, nil, boardroomABI, "claimReward")
	}
	return s.push(ctx, positionID, "claim", farm.Contract, nil, masterChefABI, "deposit", big.NewInt(farm.PoolID), new(big.Int))
}

// SubmitZap queues converting amount of source into the farm's liquidity pair
func (s *QueueSink) SubmitZap(ctx context.Context, positionID string, source position.Token, amount *big.Int) (*AsyncResult, error) {
	farm, err := s.farms.lookup(positionID)
	if err != nil {
		return nil, err
	}
	if farm.Zapper == "" {
		return nil, fmt.Errorf("farm %s has no zapper", positionID)
	}
	return s.push(ctx, positionID, "zap", farm.Zapper, amount, zapperABI, "zapIn",
		common.HexToAddress(source.Address), amount, common.HexToAddress(farm.DepositToken.Address))
}

func (s *QueueSink) push(ctx context.Context, positionID, kind, to string, amount *big.Int, contract abi.ABI, method string, args ...interface{}) (*AsyncResult, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	job := queue.Job{
		RequestID:  uuid.NewString(),
		PositionID: positionID,
		Kind:       kind,
		Account:    s.account,
		To:         common.HexToAddress(to).Hex(),
		Data:       hexutil.Encode(data),
		CreatedAt:  time.Now(),
	}
	if amount != nil {
		job.Amount = amount.String()
	}

	if err := s.queue.PushAction(ctx, job); err != nil {
		return nil, err
	}

	result := NewAsyncResult()
	s.mutex.Lock()
	s.pending[job.RequestID] = result
	s.mutex.Unlock()

	s.logger.Debug().
		Str("request_id", job.RequestID).
		Str("position", positionID).
		Str("kind", kind).
		Msg("Queued transaction for signing")

	return result, nil
}

// Pending returns the number of jobs awaiting a signer result
func (s *QueueSink) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.pending)
}

// Run polls for signer results until ctx is cancelled
func (s *QueueSink) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll resolves every pending job whose result has arrived
func (s *QueueSink) Poll(ctx context.Context) {
	s.mutex.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mutex.Unlock()

	for _, id := range ids {
		res, err := s.queue.GetResult(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("request_id", id).Msg("Failed to poll action result")
			continue
		}
		if res == nil {
			continue
		}

		s.mutex.Lock()
		handle := s.pending[id]
		delete(s.pending, id)
		s.mutex.Unlock()

		if res.Success {
			handle.Resolve(Succeeded(res.TxHash))
		} else {
			handle.Resolve(Failure(res.Reason))
		}

		if err := s.queue.ForgetResult(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("request_id", id).Msg("Failed to remove consumed result")
		}
	}
}
