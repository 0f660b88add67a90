package reward

import (
	"github.com/shopspring/decimal"
	"github.com/wnt/farmdash/internal/quantity"
)

var daysPerYear = quantity.Known(decimal.NewFromInt(365))

// Projection is a point estimate of what a position earns per day at the
// current APR and reward price. It is never a commitment.
type Projection struct {
	DailyTokens quantity.Value `json:"daily_tokens"`
	DailyUSD    quantity.Value `json:"daily_usd"`
	Estimate    bool           `json:"estimate"`
}

// ProjectedDailyYield returns the reward tokens earned per day:
//
//	stakedUSD * dailyAPRPercent / 100 / rewardPrice
//
// The result is unknown when any factor is unknown or the reward price is not positive.
func ProjectedDailyYield(stakedUSD, dailyAPRPercent, rewardPrice quantity.Value) quantity.Value {
	if !rewardPrice.IsPositive() {
		return quantity.Unknown()
	}
	return stakedUSD.Mul(dailyAPRPercent).Percent().Div(rewardPrice)
}

// Project computes the daily projection in reward tokens and in USD
func Project(stakedUSD, dailyAPRPercent, rewardPrice quantity.Value) Projection {
	tokens := ProjectedDailyYield(stakedUSD, dailyAPRPercent, rewardPrice)
	return Projection{
		DailyTokens: tokens,
		DailyUSD:    tokens.Mul(rewardPrice),
		Estimate:    true,
	}
}

// AnnualAPR converts a daily APR percentage into a yearly one
func AnnualAPR(dailyAPRPercent quantity.Value) quantity.Value {
	return dailyAPRPercent.Mul(daysPerYear)
}
