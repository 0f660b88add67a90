package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInFlight(t *testing.T) {
	at := time.Unix(1760616000, 0)

	tests := []struct {
		name   string
		value  string
		wantID string
		wantOK bool
	}{
		{"valid", inFlightValue("req-1", at), "req-1", true},
		{"missing timestamp", "req-1", "", false},
		{"bad timestamp", "req-1,yesterday", "", false},
		{"missing id", ",1760616000", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, startedAt, ok := parseInFlight(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			if ok {
				assert.True(t, startedAt.Equal(at))
			}
		})
	}
}

// newTestClient connects to REDIS_TEST_URL, skipping when it is unset
func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	c, err := NewClient(url, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestActionLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	positionID := "test-" + uuid.NewString()

	job := Job{
		RequestID:  uuid.NewString(),
		PositionID: positionID,
		Kind:       "withdraw",
		To:         "0x28c65dcb3a5f0d456624afe91a2a5cf5c0e4b5e8",
		Data:       "0x2e1a7d4d",
	}
	require.NoError(t, c.PushAction(ctx, job))

	second := job
	second.RequestID = uuid.NewString()
	assert.ErrorIs(t, c.PushAction(ctx, second), ErrPositionBusy)

	result, err := c.GetResult(ctx, job.RequestID)
	require.NoError(t, err)
	assert.Nil(t, result)

	require.NoError(t, c.SetResult(ctx, positionID, Result{RequestID: job.RequestID, Success: true, TxHash: "0xabc"}))

	result, err = c.GetResult(ctx, job.RequestID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "0xabc", result.TxHash)

	// the position is free again
	require.NoError(t, c.PushAction(ctx, second))
	require.NoError(t, c.SetResult(ctx, positionID, Result{RequestID: second.RequestID}))
	require.NoError(t, c.ForgetResult(ctx, job.RequestID))
	require.NoError(t, c.ForgetResult(ctx, second.RequestID))
}

func TestExpireStuckActions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	positionID := "test-" + uuid.NewString()

	job := Job{
		RequestID:  uuid.NewString(),
		PositionID: positionID,
		Kind:       "claim",
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	require.NoError(t, c.PushAction(ctx, job))

	expired, err := c.ExpireStuckActions(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, expired, 1)

	result, err := c.GetResult(ctx, job.RequestID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "no signer result")
	require.NoError(t, c.ForgetResult(ctx, job.RequestID))
}
