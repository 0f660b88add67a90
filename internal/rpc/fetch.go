package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/wnt/farmdash/internal/metrics"
)

// ErrExecutionReverted is returned when a call reverts; it is never retried
var ErrExecutionReverted = errors.New("execution reverted")

// Fetcher performs contract reads over the pool with retries and backoff
type Fetcher struct {
	pool       *Pool
	logger     zerolog.Logger
	maxRetries int
	baseDelay  time.Duration
}

// NewFetcher creates a new contract reader
func NewFetcher(pool *Pool, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		pool:       pool,
		logger:     logger.With().Str("component", "rpc_fetcher").Logger(),
		maxRetries: 3,
		baseDelay:  250 * time.Millisecond,
	}
}

// Call packs method with args, calls the contract at the latest block and
// returns the unpacked outputs
func (f *Fetcher) Call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		raw, err := f.callOnce(ctx, to, data)
		if err == nil {
			metrics.RecordRPCRequest("success")
			out, err := contract.Unpack(method, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
			}
			return out, nil
		}
		lastErr = err

		if errors.Is(err, ErrExecutionReverted) || ctx.Err() != nil {
			break
		}

		f.logger.Warn().
			Err(err).
			Str("method", method).
			Str("contract", to.Hex()).
			Int("attempt", attempt+1).
			Msg("Contract call failed")

		if attempt == f.maxRetries {
			break
		}

		delay := f.baseDelay * time.Duration(1<<attempt)
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			metrics.RecordRPCRequest("cancelled")
			return nil, ctx.Err()
		}
	}

	metrics.RecordRPCRequest("failed")
	return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), lastErr)
}

func (f *Fetcher) callOnce(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	caller, endpoint, err := f.pool.GetCaller(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get RPC caller: %w", err)
	}

	start := time.Now()
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	duration := time.Since(start)

	if err != nil {
		return nil, f.handleError(endpoint, err, duration)
	}

	f.logger.Debug().
		Str("endpoint", endpoint).
		Str("contract", to.Hex()).
		Dur("duration", duration).
		Msg("Contract call succeeded")

	f.pool.MarkHealthy(endpoint)
	return raw, nil
}

// handleError classifies a call error and updates the endpoint's health
func (f *Fetcher) handleError(endpoint string, err error, duration time.Duration) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "execution reverted"):
		// the node answered; the contract rejected the call
		return fmt.Errorf("%w: %v", ErrExecutionReverted, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit"):
		f.logger.Warn().Str("endpoint", endpoint).Msg("Rate limited by endpoint")
		f.pool.SetCooldown(endpoint, time.Minute)
		metrics.RecordRPCRequest("rate_limited")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		metrics.RecordRPCRequest("cancelled")
	default:
		f.logger.Error().
			Err(err).
			Str("endpoint", endpoint).
			Dur("duration", duration).
			Msg("RPC request failed")
		f.pool.MarkUnhealthy(endpoint)
		metrics.RecordRPCRequest("error")
	}
	return err
}
