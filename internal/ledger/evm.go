package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/wnt/farmdash/internal/claim"
	"github.com/wnt/farmdash/internal/metrics"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
)

const secondsPerDay = 86400

// ContractCaller performs a read-only contract call and returns the unpacked outputs
type ContractCaller interface {
	Call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error)
}

// EVMReader reads balances, stakes, rewards and lock windows from farm contracts
type EVMReader struct {
	caller ContractCaller
	farms  Farms
}

// NewEVMReader creates a reader for the given catalogue
func NewEVMReader(caller ContractCaller, farms Farms) *EVMReader {
	return &EVMReader{caller: caller, farms: farms}
}

func (r *EVMReader) call(ctx context.Context, source string, contract abi.ABI, to string, method string, args ...interface{}) ([]interface{}, error) {
	out, err := r.caller.Call(ctx, contract, common.HexToAddress(to), method, args...)
	if err != nil {
		metrics.RecordInputRead(source, "failed")
		return nil, err
	}
	metrics.RecordInputRead(source, "resolved")
	return out, nil
}

func (r *EVMReader) uint256(ctx context.Context, source string, contract abi.ABI, to, method string, args ...interface{}) (*big.Int, error) {
	out, err := r.call(ctx, source, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0, method)
}

// Balance reads the ERC-20 balance of account
func (r *EVMReader) Balance(ctx context.Context, token position.Token, account string) (quantity.TokenAmount, error) {
	raw, err := r.uint256(ctx, "balance", erc20ABI, token.Address, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return quantity.TokenAmount{}, err
	}
	return quantity.NewTokenAmount(raw, token.Decimals), nil
}

// Allowance reports whether spender holds a non-zero allowance over the account's tokens
func (r *EVMReader) Allowance(ctx context.Context, token position.Token, spender, account string) (position.Allowance, error) {
	raw, err := r.uint256(ctx, "allowance", erc20ABI, token.Address, "allowance",
		common.HexToAddress(account), common.HexToAddress(spender))
	if err != nil {
		return position.NotApproved, err
	}
	if raw.Sign() > 0 {
		return position.Approved, nil
	}
	return position.NotApproved, nil
}

// Staked reads the amount the account has deposited in the farm
func (r *EVMReader) Staked(ctx context.Context, positionID, account string) (quantity.TokenAmount, error) {
	farm, err := r.farms.lookup(positionID)
	if err != nil {
		return quantity.TokenAmount{}, err
	}

	var raw *big.Int
	switch farm.Kind {
	case Boardroom:
		raw, err = r.uint256(ctx, "staked", boardroomABI, farm.Contract, "balanceOf", common.HexToAddress(account))
	default:
		raw, err = r.uint256(ctx, "staked", masterChefABI, farm.Contract, "userInfo", big.NewInt(farm.PoolID), common.HexToAddress(account))
	}
	if err != nil {
		return quantity.TokenAmount{}, err
	}
	return quantity.NewTokenAmount(raw, farm.DepositToken.Decimals), nil
}

// PendingReward reads the claimable reward of the account
func (r *EVMReader) PendingReward(ctx context.Context, positionID, account string) (quantity.TokenAmount, error) {
	farm, err := r.farms.lookup(positionID)
	if err != nil {
		return quantity.TokenAmount{}, err
	}

	var raw *big.Int
	switch farm.Kind {
	case Boardroom:
		raw, err = r.uint256(ctx, "pending_reward", boardroomABI, farm.Contract, "earned", common.HexToAddress(account))
	default:
		raw, err = r.uint256(ctx, "pending_reward", masterChefABI, farm.Contract, "pendingShare", big.NewInt(farm.PoolID), common.HexToAddress(account))
	}
	if err != nil {
		return quantity.TokenAmount{}, err
	}
	return quantity.NewTokenAmount(raw, farm.EarnToken.Decimals), nil
}

// ClaimLock reads the epoch lock of a boardroom member. MasterChef farms never lock.
func (r *EVMReader) ClaimLock(ctx context.Context, positionID, account string) (*claim.Lock, error) {
	farm, err := r.farms.lookup(positionID)
	if err != nil {
		return nil, err
	}
	if farm.Kind != Boardroom {
		return nil, nil
	}

	info, err := r.epochInfo(ctx, farm, account)
	if err != nil {
		return nil, err
	}
	return claim.LockFromEpochs(info), nil
}

func (r *EVMReader) epochInfo(ctx context.Context, farm Farm, account string) (claim.EpochInfo, error) {
	current, err := r.uint256(ctx, "claim_lock", boardroomABI, farm.Contract, "epoch")
	if err != nil {
		return claim.EpochInfo{}, err
	}
	next, err := r.uint256(ctx, "claim_lock", boardroomABI, farm.Contract, "nextEpochPoint")
	if err != nil {
		return claim.EpochInfo{}, err
	}
	lockup, err := r.uint256(ctx, "claim_lock", boardroomABI, farm.Contract, "rewardLockupEpochs")
	if err != nil {
		return claim.EpochInfo{}, err
	}
	member, err := r.call(ctx, "claim_lock", boardroomABI, farm.Contract, "members", common.HexToAddress(account))
	if err != nil {
		return claim.EpochInfo{}, err
	}
	timerStart, err := bigAt(member, 2, "members")
	if err != nil {
		return claim.EpochInfo{}, err
	}

	return claim.EpochInfo{
		CurrentEpoch:    current.Uint64(),
		EpochTimerStart: timerStart.Uint64(),
		LockupEpochs:    lockup.Uint64(),
		NextEpochPoint:  time.Unix(next.Int64(), 0).UTC(),
		Period:          farm.EpochPeriod,
	}, nil
}

// Emission is the reward rate and the total deposit of a farm
type Emission struct {
	RewardsPerDay quantity.TokenAmount
	TotalStaked   quantity.TokenAmount
}

// Emission reads what a farm pays out per day and how much is deposited in it
func (r *EVMReader) Emission(ctx context.Context, positionID string) (Emission, error) {
	farm, err := r.farms.lookup(positionID)
	if err != nil {
		return Emission{}, err
	}
	if farm.Kind == Boardroom {
		return r.boardroomEmission(ctx, farm)
	}
	return r.masterChefEmission(ctx, farm)
}

func (r *EVMReader) masterChefEmission(ctx context.Context, farm Farm) (Emission, error) {
	pool, err := r.call(ctx, "pool_stats", masterChefABI, farm.Contract, "poolInfo", big.NewInt(farm.PoolID))
	if err != nil {
		return Emission{}, err
	}
	allocPoint, err := bigAt(pool, 1, "poolInfo")
	if err != nil {
		return Emission{}, err
	}
	totalAlloc, err := r.uint256(ctx, "pool_stats", masterChefABI, farm.Contract, "totalAllocPoint")
	if err != nil {
		return Emission{}, err
	}
	perSecond, err := r.uint256(ctx, "pool_stats", masterChefABI, farm.Contract, "sharePerSecond")
	if err != nil {
		return Emission{}, err
	}
	staked, err := r.uint256(ctx, "pool_stats", erc20ABI, farm.DepositToken.Address, "balanceOf", common.HexToAddress(farm.Contract))
	if err != nil {
		return Emission{}, err
	}

	perDay := new(big.Int)
	if totalAlloc.Sign() > 0 {
		perDay.Mul(perSecond, allocPoint)
		perDay.Mul(perDay, big.NewInt(secondsPerDay))
		perDay.Quo(perDay, totalAlloc)
	}

	return Emission{
		RewardsPerDay: quantity.NewTokenAmount(perDay, farm.EarnToken.Decimals),
		TotalStaked:   quantity.NewTokenAmount(staked, farm.DepositToken.Decimals),
	}, nil
}

func (r *EVMReader) boardroomEmission(ctx context.Context, farm Farm) (Emission, error) {
	index, err := r.uint256(ctx, "pool_stats", boardroomABI, farm.Contract, "latestSnapshotIndex")
	if err != nil {
		return Emission{}, err
	}
	snapshot, err := r.call(ctx, "pool_stats", boardroomABI, farm.Contract, "boardroomHistory", index)
	if err != nil {
		return Emission{}, err
	}
	received, err := bigAt(snapshot, 1, "boardroomHistory")
	if err != nil {
		return Emission{}, err
	}
	supply, err := r.uint256(ctx, "pool_stats", boardroomABI, farm.Contract, "totalSupply")
	if err != nil {
		return Emission{}, err
	}

	perDay := new(big.Int)
	if period := int64(farm.EpochPeriod / time.Second); period > 0 {
		perDay.Mul(received, big.NewInt(secondsPerDay))
		perDay.Quo(perDay, big.NewInt(period))
	}

	return Emission{
		RewardsPerDay: quantity.NewTokenAmount(perDay, farm.EarnToken.Decimals),
		TotalStaked:   quantity.NewTokenAmount(supply, farm.DepositToken.Decimals),
	}, nil
}

// PairReserves is the composition of a liquidity pair
type PairReserves struct {
	Token0, Token1     position.Token
	Reserve0, Reserve1 quantity.TokenAmount
	TotalSupply        quantity.TokenAmount
}

// Reserves reads the underlying tokens and reserves of a liquidity pair
func (r *EVMReader) Reserves(ctx context.Context, pair position.Token) (PairReserves, error) {
	var tokens [2]position.Token
	for i, method := range []string{"token0", "token1"} {
		out, err := r.call(ctx, "reserves", pairABI, pair.Address, method)
		if err != nil {
			return PairReserves{}, err
		}
		addr, ok := out[0].(common.Address)
		if !ok {
			return PairReserves{}, fmt.Errorf("%s: unexpected output %T", method, out[0])
		}
		decOut, err := r.call(ctx, "reserves", erc20ABI, addr.Hex(), "decimals")
		if err != nil {
			return PairReserves{}, err
		}
		decimals, ok := decOut[0].(uint8)
		if !ok {
			return PairReserves{}, fmt.Errorf("decimals: unexpected output %T", decOut[0])
		}
		tokens[i] = position.Token{Address: addr.Hex(), Decimals: int32(decimals)}
	}

	reserves, err := r.call(ctx, "reserves", pairABI, pair.Address, "getReserves")
	if err != nil {
		return PairReserves{}, err
	}
	reserve0, err := bigAt(reserves, 0, "getReserves")
	if err != nil {
		return PairReserves{}, err
	}
	reserve1, err := bigAt(reserves, 1, "getReserves")
	if err != nil {
		return PairReserves{}, err
	}
	supply, err := r.uint256(ctx, "reserves", pairABI, pair.Address, "totalSupply")
	if err != nil {
		return PairReserves{}, err
	}

	return PairReserves{
		Token0:      tokens[0],
		Token1:      tokens[1],
		Reserve0:    quantity.NewTokenAmount(reserve0, tokens[0].Decimals),
		Reserve1:    quantity.NewTokenAmount(reserve1, tokens[1].Decimals),
		TotalSupply: quantity.NewTokenAmount(supply, pair.Decimals),
	}, nil
}

func bigAt(out []interface{}, i int, method string) (*big.Int, error) {
	if len(out) <= i {
		return nil, fmt.Errorf("%s: expected at least %d outputs, got %d", method, i+1, len(out))
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: output %d has type %T", method, i, out[i])
	}
	return v, nil
}
