package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/farmdash/internal/action"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/metrics"
	"github.com/wnt/farmdash/internal/models"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no matching row exists
var ErrNotFound = errors.New("record not found")

// Store persists snapshot history and the action audit log
type Store struct {
	db      *gorm.DB
	account string
	logger  zerolog.Logger

	mutex    sync.Mutex
	accounts map[string]uint
}

// NewStore creates a store. Actions are recorded against account.
func NewStore(db *gorm.DB, account string, logger zerolog.Logger) *Store {
	return &Store{
		db:       db,
		account:  strings.ToLower(account),
		logger:   logger.With().Str("component", "store").Logger(),
		accounts: make(map[string]uint),
	}
}

// accountID returns the row id for address, creating the account on first use
func (s *Store) accountID(ctx context.Context, address string) (uint, error) {
	address = strings.ToLower(address)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if id, ok := s.accounts[address]; ok {
		return id, nil
	}

	account := models.Account{Address: address}
	if err := s.db.WithContext(ctx).Where(models.Account{Address: address}).FirstOrCreate(&account).Error; err != nil {
		return 0, fmt.Errorf("failed to load account %s: %w", address, err)
	}
	s.accounts[address] = account.ID
	return account.ID, nil
}

// SaveSnapshot appends one snapshot row for account
func (s *Store) SaveSnapshot(ctx context.Context, account string, p position.Position) error {
	err := s.saveSnapshot(ctx, account, p)
	recordOperation("save_snapshot", err)
	return err
}

func (s *Store) saveSnapshot(ctx context.Context, account string, p position.Position) error {
	accountID, err := s.accountID(ctx, account)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	allowance, _ := p.Allowance.Get()
	row := models.PositionSnapshot{
		AccountID:       accountID,
		PositionID:      p.ID,
		WalletBalance:   amountColumn(p.WalletBalance),
		Staked:          amountColumn(p.Staked),
		PendingReward:   amountColumn(p.PendingReward),
		DepositPriceUSD: priceColumn(p.DepositPrice),
		RewardPriceUSD:  priceColumn(p.RewardPrice),
		WalletUSD:       valueColumn(p.WalletUSD),
		StakedUSD:       valueColumn(p.StakedUSD),
		EarnedUSD:       valueColumn(p.EarnedUSD),
		DailyAPR:        valueColumn(p.DailyAPR),
		TVL:             valueColumn(p.TVL),
		Approved:        allowance == position.Approved,
		Stale:           p.IsStale(),
		StaleFields:     strings.Join(p.StaleFields(), ","),
		BuiltAt:         p.BuiltAt,
		Payload:         string(payload),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		if err := tx.Model(&models.Account{}).Where("id = ?", accountID).Update("last_refreshed", p.BuiltAt).Error; err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		return nil
	})
}

// LatestSnapshot returns the most recent snapshot row of a position
func (s *Store) LatestSnapshot(ctx context.Context, account, positionID string) (*models.PositionSnapshot, error) {
	accountID, err := s.accountID(ctx, account)
	if err != nil {
		return nil, err
	}

	var row models.PositionSnapshot
	err = s.db.WithContext(ctx).
		Where("account_id = ? AND position_id = ?", accountID, positionID).
		Order("built_at DESC").Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		recordOperation("latest_snapshot", nil)
		return nil, ErrNotFound
	}
	recordOperation("latest_snapshot", err)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &row, nil
}

// RestoreSnapshot rebuilds the last persisted snapshot of farm so values
// carried over after a restart can be served as stale. The allowance and
// the claim lock are not persisted and stay pending until read.
func (s *Store) RestoreSnapshot(ctx context.Context, account string, farm ledger.Farm) (position.Position, error) {
	row, err := s.LatestSnapshot(ctx, account, farm.ID)
	if err != nil {
		return position.Position{}, err
	}

	last := position.Position{ID: farm.ID, DepositToken: farm.DepositToken, EarnToken: farm.EarnToken}
	if last.WalletBalance, err = restoreAmount(row.WalletBalance, farm.DepositToken.Decimals); err != nil {
		return position.Position{}, err
	}
	if last.Staked, err = restoreAmount(row.Staked, farm.DepositToken.Decimals); err != nil {
		return position.Position{}, err
	}
	if last.PendingReward, err = restoreAmount(row.PendingReward, farm.EarnToken.Decimals); err != nil {
		return position.Position{}, err
	}
	last.DepositPrice = restoreValue(row.DepositPriceUSD)
	last.RewardPrice = restoreValue(row.RewardPriceUSD)
	if apr := restoreValue(row.DailyAPR); apr.Status == position.StatusResolved {
		last.Pool = position.Field[position.PoolStats]{
			Value:  position.PoolStats{DailyAPR: apr.Value, TVL: restoreValue(row.TVL).Value},
			Status: position.StatusResolved,
		}
	}

	// Nothing resolves in an empty read, so every restored field comes back stale
	// and the derived USD values are recomputed.
	empty := position.Inputs{ID: farm.ID, DepositToken: farm.DepositToken, EarnToken: farm.EarnToken}
	return position.Build(empty, &last, row.BuiltAt), nil
}

// RecordAction inserts a pending audit row for a dispatched action
func (s *Store) RecordAction(ctx context.Context, positionID string, t action.Ticket) error {
	accountID, err := s.accountID(ctx, s.account)
	if err != nil {
		recordOperation("record_action", err)
		return err
	}

	row := models.ActionRecord{
		RequestID:   t.RequestID,
		AccountID:   accountID,
		PositionID:  positionID,
		Kind:        t.Kind.String(),
		Amount:      t.Amount,
		Status:      models.ActionPending,
		SubmittedAt: t.SubmittedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	recordOperation("record_action", err)
	if err != nil {
		return fmt.Errorf("failed to record action %s: %w", t.RequestID, err)
	}
	return nil
}

// FinishAction stores the ledger outcome of an action
func (s *Store) FinishAction(ctx context.Context, requestID string, outcome ledger.Outcome) error {
	status := models.ActionFailed
	if outcome.Success {
		status = models.ActionSucceeded
	}
	settledAt := time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&models.ActionRecord{}).
		Where("request_id = ?", requestID).
		Updates(map[string]interface{}{
			"status":     status,
			"reason":     outcome.Reason,
			"tx_hash":    outcome.TxHash,
			"settled_at": settledAt,
		})
	recordOperation("finish_action", res.Error)
	if res.Error != nil {
		return fmt.Errorf("failed to finish action %s: %w", requestID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finish action %s: %w", requestID, ErrNotFound)
	}

	s.logger.Debug().Str("request_id", requestID).Str("status", status).Msg("Action finished")
	return nil
}

// RecentActions returns the newest actions of a position, newest first
func (s *Store) RecentActions(ctx context.Context, positionID string, limit int) ([]models.ActionRecord, error) {
	var rows []models.ActionRecord
	err := s.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("submitted_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	recordOperation("recent_actions", err)
	if err != nil {
		return nil, fmt.Errorf("failed to load actions: %w", err)
	}
	return rows, nil
}

func recordOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordDatabaseOperation(operation, status)
}

func amountColumn(f position.Field[quantity.TokenAmount]) *string {
	a, ok := f.Get()
	if !ok {
		return nil
	}
	s := quantity.ToDisplay(a)
	return &s
}

func priceColumn(f position.Field[quantity.Value]) *string {
	v, ok := f.Get()
	if !ok {
		return nil
	}
	return valueColumn(v)
}

func restoreAmount(col *string, decimals int32) (position.Field[quantity.TokenAmount], error) {
	if col == nil {
		return position.Field[quantity.TokenAmount]{}, nil
	}
	a, err := quantity.ParseAmount(*col, decimals)
	if err != nil {
		return position.Field[quantity.TokenAmount]{}, fmt.Errorf("invalid stored amount %q: %w", *col, err)
	}
	return position.Field[quantity.TokenAmount]{Value: a, Status: position.StatusResolved}, nil
}

func restoreValue(col *string) position.Field[quantity.Value] {
	if col == nil {
		return position.Field[quantity.Value]{Value: quantity.Unknown()}
	}
	v := quantity.ParseValue(*col)
	if !v.IsKnown() {
		return position.Field[quantity.Value]{Value: v}
	}
	return position.Field[quantity.Value]{Value: v, Status: position.StatusResolved}
}

func valueColumn(v quantity.Value) *string {
	d, ok := v.Decimal()
	if !ok {
		return nil
	}
	s := d.String()
	return &s
}
