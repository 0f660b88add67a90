package database

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/farmdash/internal/action"
	"github.com/wnt/farmdash/internal/config"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/models"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
	"gorm.io/gorm"
)

const account = "0xAbCd000000000000000000000000000000000001"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(sqlite.Open(filepath.Join(t.TempDir(), "farmdash.db")))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func tokens(whole int64) quantity.TokenAmount {
	raw := new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return quantity.NewTokenAmount(raw, 18)
}

func snapshot(id string, builtAt time.Time) position.Position {
	return position.Position{
		ID:            id,
		WalletBalance: position.Field[quantity.TokenAmount]{Value: tokens(40), Status: position.StatusResolved},
		Staked:        position.Field[quantity.TokenAmount]{Value: tokens(50), Status: position.StatusResolved, Stale: true},
		PendingReward: position.Field[quantity.TokenAmount]{Status: position.StatusFailed, Error: "rpc down"},
		DepositPrice:  position.Field[quantity.Value]{Value: quantity.Known(decimal.NewFromInt(10)), Status: position.StatusResolved},
		Allowance:     position.Field[position.Allowance]{Value: position.Approved, Status: position.StatusResolved},
		StakedUSD:     quantity.Known(decimal.NewFromInt(500)),
		EarnedUSD:     quantity.Unknown(),
		BuiltAt:       builtAt,
	}
}

// TestConnectWithMissingName tests that Connect refuses a config without a database name
func TestConnectWithMissingName(t *testing.T) {
	db, err := Connect(config.DatabaseConfig{Host: "localhost", Port: "5432"})
	assert.Error(t, err)
	assert.Nil(t, db)
}

// TestConnectSuccessful only runs when a postgres database is configured
func TestConnectSuccessful(t *testing.T) {
	if os.Getenv("RUN_DB_TESTS") != "true" {
		t.Skip("Skipping database connection test. Set RUN_DB_TESTS=true to enable.")
	}

	db, err := Connect(config.DatabaseConfig{
		Host:     os.Getenv("DB_HOST"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		Name:     os.Getenv("DB_NAME"),
		Port:     os.Getenv("DB_PORT"),
		SSLMode:  "disable",
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, account, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	_, err := store.LatestSnapshot(ctx, account, "grape-mim-lp")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveSnapshot(ctx, account, snapshot("grape-mim-lp", t0)))
	require.NoError(t, store.SaveSnapshot(ctx, account, snapshot("grape-mim-lp", t0.Add(time.Minute))))
	require.NoError(t, store.SaveSnapshot(ctx, account, snapshot("winery", t0)))

	row, err := store.LatestSnapshot(ctx, account, "grape-mim-lp")
	require.NoError(t, err)
	assert.True(t, row.BuiltAt.Equal(t0.Add(time.Minute)))
	require.NotNil(t, row.WalletBalance)
	assert.Equal(t, "40", *row.WalletBalance)
	assert.Nil(t, row.PendingReward)
	require.NotNil(t, row.StakedUSD)
	assert.Equal(t, "500", *row.StakedUSD)
	assert.Nil(t, row.EarnedUSD)
	assert.True(t, row.Approved)
	assert.True(t, row.Stale)
	assert.Equal(t, "staked", row.StaleFields)
	assert.Contains(t, row.Payload, `"id":"grape-mim-lp"`)

	var accounts []models.Account
	require.NoError(t, db.Find(&accounts).Error)
	require.Len(t, accounts, 1)
	assert.Equal(t, "0xabcd000000000000000000000000000000000001", accounts[0].Address)
	assert.True(t, accounts[0].LastRefreshed.Equal(t0))
}

func TestActionAuditLog(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, account, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	deposit := action.Ticket{RequestID: "req-1", Kind: action.KindDeposit, Amount: "10", SubmittedAt: t0}
	claim := action.Ticket{RequestID: "req-2", Kind: action.KindClaim, SubmittedAt: t0.Add(time.Minute)}

	require.NoError(t, store.RecordAction(ctx, "grape-mim-lp", deposit))
	require.NoError(t, store.RecordAction(ctx, "grape-mim-lp", claim))
	// recording twice keeps the first row
	require.NoError(t, store.RecordAction(ctx, "grape-mim-lp", deposit))

	require.NoError(t, store.FinishAction(ctx, "req-1", ledger.Succeeded("0xfeed")))
	require.NoError(t, store.FinishAction(ctx, "req-2", ledger.Failure("execution reverted")))
	assert.ErrorIs(t, store.FinishAction(ctx, "req-404", ledger.Succeeded("")), ErrNotFound)

	rows, err := store.RecentActions(ctx, "grape-mim-lp", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "req-2", rows[0].RequestID)
	assert.Equal(t, "claim", rows[0].Kind)
	assert.Equal(t, models.ActionFailed, rows[0].Status)
	assert.Equal(t, "execution reverted", rows[0].Reason)
	assert.NotNil(t, rows[0].SettledAt)

	assert.Equal(t, "req-1", rows[1].RequestID)
	assert.Equal(t, "10", rows[1].Amount)
	assert.Equal(t, models.ActionSucceeded, rows[1].Status)
	assert.Equal(t, "0xfeed", rows[1].TxHash)

	rows, err = store.RecentActions(ctx, "grape-mim-lp", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRestoreSnapshot(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, account, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	lp := position.Token{Symbol: "GRAPE-MIM-LP", Decimals: 18, LP: true}
	wine := position.Token{Symbol: "WINE", Decimals: 18}
	farm := ledger.Farm{ID: "grape-mim-lp", DepositToken: lp, EarnToken: wine}

	_, err := store.RestoreSnapshot(ctx, account, farm)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveSnapshot(ctx, account, snapshot("grape-mim-lp", t0)))

	restored, err := store.RestoreSnapshot(ctx, account, farm)
	require.NoError(t, err)
	assert.Equal(t, "grape-mim-lp", restored.ID)
	assert.Equal(t, lp, restored.DepositToken)
	assert.True(t, restored.BuiltAt.Equal(t0))

	wallet, ok := restored.WalletBalance.Get()
	require.True(t, ok)
	assert.Equal(t, "40", quantity.ToDisplay(wallet))
	assert.True(t, restored.WalletBalance.Stale)
	assert.True(t, restored.Staked.Stale)
	assert.Equal(t, "500", restored.StakedUSD.String())

	// nothing was stored for these
	assert.Equal(t, position.StatusPending, restored.PendingReward.Status)
	assert.Equal(t, position.StatusPending, restored.Allowance.Status)
	assert.False(t, restored.RewardPrice.Value.IsKnown())

	// a failed read after a restart carries the restored stake
	next := position.Build(position.Inputs{
		ID:            farm.ID,
		DepositToken:  lp,
		EarnToken:     wine,
		WalletBalance: position.Resolved(tokens(30)),
		Staked:        position.Failed[quantity.TokenAmount](assert.AnError),
	}, &restored, t0.Add(time.Minute))
	staked, ok := next.Staked.Get()
	require.True(t, ok)
	assert.Equal(t, "50", quantity.ToDisplay(staked))
	assert.True(t, next.Staked.Stale)
	assert.False(t, next.WalletBalance.Stale)
}
