package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
)

// EmissionReader reads a farm's reward rate and total deposit
type EmissionReader interface {
	Emission(ctx context.Context, positionID string) (ledger.Emission, error)
}

// PoolStatsService derives the daily APR and TVL of a farm from its emission
// and the prices of its tokens
type PoolStatsService struct {
	emissions EmissionReader
	prices    ledger.PriceSource
	farms     ledger.Farms
}

// NewPoolStatsService creates a pool stats source
func NewPoolStatsService(emissions EmissionReader, prices ledger.PriceSource, farms ledger.Farms) *PoolStatsService {
	return &PoolStatsService{emissions: emissions, prices: prices, farms: farms}
}

// PoolStats returns the farm's daily APR in percent and its TVL in USD.
// Either is unknown when a price is missing or nothing is staked.
func (s *PoolStatsService) PoolStats(ctx context.Context, positionID string) (position.PoolStats, error) {
	farm, ok := s.farms[positionID]
	if !ok {
		return position.PoolStats{}, fmt.Errorf("%w: %s", ledger.ErrUnknownPosition, positionID)
	}

	emission, err := s.emissions.Emission(ctx, positionID)
	if err != nil {
		return position.PoolStats{}, err
	}
	depositPrice, err := s.prices.Price(ctx, farm.DepositToken)
	if err != nil {
		return position.PoolStats{}, err
	}
	rewardPrice, err := s.prices.Price(ctx, farm.EarnToken)
	if err != nil {
		return position.PoolStats{}, err
	}

	return DailyStats(emission, depositPrice, rewardPrice), nil
}

// DailyStats computes TVL = staked × depositPrice and
// dailyAPR = rewardsPerDay × rewardPrice / TVL × 100
func DailyStats(e ledger.Emission, depositPrice, rewardPrice quantity.Value) position.PoolStats {
	tvl := quantity.USDValue(e.TotalStaked, depositPrice)
	dailyUSD := quantity.USDValue(e.RewardsPerDay, rewardPrice)
	apr := dailyUSD.Div(tvl).Mul(quantity.Known(decimal.NewFromInt(100)))
	return position.PoolStats{DailyAPR: apr, TVL: tvl}
}
