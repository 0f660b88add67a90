package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/wnt/farmdash/internal/position"
)

// FarmKind is the contract family of a farm
type FarmKind string

const (
	// MasterChef farms are pool-indexed staking contracts with continuous emissions
	MasterChef FarmKind = "masterchef"
	// Boardroom farms pay rewards per epoch and lock claims for a number of epochs
	Boardroom FarmKind = "boardroom"
)

// Farm is one entry of the farm catalogue
type Farm struct {
	ID            string           `yaml:"id" json:"id"`
	Name          string           `yaml:"name" json:"name"`
	Kind          FarmKind         `yaml:"kind" json:"kind"`
	PoolID        int64            `yaml:"pool_id" json:"pool_id"`
	Contract      string           `yaml:"contract" json:"contract"`
	Zapper        string           `yaml:"zapper,omitempty" json:"zapper,omitempty"`
	DepositToken  position.Token   `yaml:"deposit_token" json:"deposit_token"`
	EarnToken     position.Token   `yaml:"earn_token" json:"earn_token"`
	ZapSources    []position.Token `yaml:"zap_sources,omitempty" json:"zap_sources,omitempty"`
	LiquidityLink string           `yaml:"liquidity_link,omitempty" json:"liquidity_link,omitempty"`
	EpochPeriod   time.Duration    `yaml:"epoch_period,omitempty" json:"epoch_period,omitempty"`
}

// Validate checks the entry is usable
func (f Farm) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("farm id is required")
	}
	switch f.Kind {
	case MasterChef:
		if f.PoolID < 0 {
			return fmt.Errorf("farm %s: pool_id must not be negative", f.ID)
		}
	case Boardroom:
		if f.EpochPeriod <= 0 {
			return fmt.Errorf("farm %s: epoch_period is required for a boardroom", f.ID)
		}
	default:
		return fmt.Errorf("farm %s: unknown kind %q", f.ID, f.Kind)
	}
	if !common.IsHexAddress(f.Contract) {
		return fmt.Errorf("farm %s: invalid contract address %q", f.ID, f.Contract)
	}
	for _, t := range append([]position.Token{f.DepositToken, f.EarnToken}, f.ZapSources...) {
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("farm %s: token %s has invalid address %q", f.ID, t.Symbol, t.Address)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return fmt.Errorf("farm %s: token %s has invalid decimals %d", f.ID, t.Symbol, t.Decimals)
		}
	}
	if len(f.ZapSources) > 0 {
		if !f.DepositToken.LP {
			return fmt.Errorf("farm %s: zap sources require a liquidity pair deposit token", f.ID)
		}
		if !common.IsHexAddress(f.Zapper) {
			return fmt.Errorf("farm %s: invalid zapper address %q", f.ID, f.Zapper)
		}
	}
	return nil
}

// Farms indexes a catalogue by id
type Farms map[string]Farm

// NewFarms indexes farms, rejecting duplicates and invalid entries
func NewFarms(list []Farm) (Farms, error) {
	out := make(Farms, len(list))
	for _, f := range list {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, dup := out[f.ID]; dup {
			return nil, fmt.Errorf("duplicate farm id %q", f.ID)
		}
		out[f.ID] = f
	}
	return out, nil
}

func (fs Farms) lookup(positionID string) (Farm, error) {
	f, ok := fs[positionID]
	if !ok {
		return Farm{}, fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	return f, nil
}
