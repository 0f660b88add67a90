package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	actionQueueKey    = "farmdash:action_queue"
	actionJobsKey     = "farmdash:action_jobs"
	actionInFlightKey = "farmdash:action_inflight"
	actionResultsKey  = "farmdash:action_results"
)

// ErrPositionBusy is returned when a position already has an action queued or signing
var ErrPositionBusy = errors.New("position has an action in flight")

// Job is an unsigned transaction waiting for the signer
type Job struct {
	RequestID  string    `json:"request_id"`
	PositionID string    `json:"position_id"`
	Kind       string    `json:"kind"`
	Account    string    `json:"account"`
	To         string    `json:"to"`
	Data       string    `json:"data"` // hex calldata
	Amount     string    `json:"amount,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Result is the signer's report for a job
type Result struct {
	RequestID string    `json:"request_id"`
	Success   bool      `json:"success"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	SettledAt time.Time `json:"settled_at"`
}

// Client wraps Redis operations for the action queue
type Client struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewClient creates a new Redis queue client
func NewClient(redisURL string, logger zerolog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_addr", opt.Addr).Msg("Connected to Redis successfully")

	return &Client{
		client: client,
		logger: logger.With().Str("component", "queue").Logger(),
	}, nil
}

// PushAction enqueues a job. At most one job per position may be in flight;
// a second push for the same position fails with ErrPositionBusy.
func (c *Client) PushAction(ctx context.Context, job Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	acquired, err := c.client.HSetNX(ctx, actionInFlightKey, job.PositionID, inFlightValue(job.RequestID, job.CreatedAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to mark action in-flight: %w", err)
	}
	if !acquired {
		return ErrPositionBusy
	}

	payload, err := json.Marshal(job)
	if err != nil {
		c.client.HDel(ctx, actionInFlightKey, job.PositionID)
		return fmt.Errorf("failed to encode job: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, actionJobsKey, job.RequestID, payload)
		pipe.ZAdd(ctx, actionQueueKey, redis.Z{
			Score:  float64(job.CreatedAt.UnixMilli()),
			Member: job.RequestID,
		})
		return nil
	})
	if err != nil {
		c.client.HDel(ctx, actionInFlightKey, job.PositionID)
		return fmt.Errorf("failed to push action to queue: %w", err)
	}

	c.logger.Debug().
		Str("request_id", job.RequestID).
		Str("position", job.PositionID).
		Str("kind", job.Kind).
		Msg("Pushed action to queue")

	return nil
}

// PopAction removes and returns the oldest job, or nil when the queue is empty
func (c *Client) PopAction(ctx context.Context) (*Job, error) {
	result, err := c.client.ZPopMin(ctx, actionQueueKey, 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop action from queue: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	requestID, _ := result[0].Member.(string)
	payload, err := c.client.HGet(ctx, actionJobsKey, requestID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", requestID, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", requestID, err)
	}

	c.logger.Debug().Str("request_id", requestID).Msg("Popped action from queue")
	return &job, nil
}

// SetResult records the outcome of a job and releases its position
func (c *Client) SetResult(ctx context.Context, positionID string, result Result) error {
	if result.SettledAt.IsZero() {
		result.SettledAt = time.Now()
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, actionResultsKey, result.RequestID, payload)
		pipe.HDel(ctx, actionJobsKey, result.RequestID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set action result: %w", err)
	}

	if err := c.releaseIfOwner(ctx, positionID, result.RequestID); err != nil {
		return err
	}

	c.logger.Debug().
		Str("request_id", result.RequestID).
		Bool("success", result.Success).
		Msg("Recorded action result")

	return nil
}

// GetResult returns the outcome of a job, or nil while it is still pending
func (c *Client) GetResult(ctx context.Context, requestID string) (*Result, error) {
	payload, err := c.client.HGet(ctx, actionResultsKey, requestID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get action result: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode result %s: %w", requestID, err)
	}
	return &result, nil
}

// ForgetResult removes a consumed result
func (c *Client) ForgetResult(ctx context.Context, requestID string) error {
	if err := c.client.HDel(ctx, actionResultsKey, requestID).Err(); err != nil {
		return fmt.Errorf("failed to remove action result: %w", err)
	}
	return nil
}

// releaseIfOwner clears the position's in-flight mark if it belongs to requestID
func (c *Client) releaseIfOwner(ctx context.Context, positionID, requestID string) error {
	value, err := c.client.HGet(ctx, actionInFlightKey, positionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to read in-flight action: %w", err)
	}

	owner, _, ok := parseInFlight(value)
	if !ok || owner != requestID {
		return nil
	}
	if err := c.client.HDel(ctx, actionInFlightKey, positionID).Err(); err != nil {
		return fmt.Errorf("failed to release in-flight action: %w", err)
	}
	return nil
}

// GetQueueLength returns the number of jobs waiting for the signer
func (c *Client) GetQueueLength(ctx context.Context) (int64, error) {
	length, err := c.client.ZCard(ctx, actionQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return length, nil
}

// GetInFlightActions returns position id to "request_id,unix" for every in-flight action
func (c *Client) GetInFlightActions(ctx context.Context) (map[string]string, error) {
	result, err := c.client.HGetAll(ctx, actionInFlightKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get in-flight actions: %w", err)
	}
	return result, nil
}

// ExpireStuckActions fails actions that have been in flight longer than timeout.
// A transaction is never requeued, since it may still land.
func (c *Client) ExpireStuckActions(ctx context.Context, timeout time.Duration) (int, error) {
	inFlight, err := c.GetInFlightActions(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-timeout)
	expired := 0

	for positionID, value := range inFlight {
		requestID, startedAt, ok := parseInFlight(value)
		if !ok {
			c.logger.Warn().Str("position", positionID).Str("value", value).Msg("Invalid in-flight value format")
			continue
		}
		if !startedAt.Before(cutoff) {
			continue
		}

		c.client.ZRem(ctx, actionQueueKey, requestID)
		err := c.SetResult(ctx, positionID, Result{
			RequestID: requestID,
			Success:   false,
			Reason:    fmt.Sprintf("no signer result after %s", timeout),
		})
		if err != nil {
			c.logger.Error().Err(err).Str("request_id", requestID).Msg("Failed to expire stuck action")
			continue
		}

		expired++
		c.logger.Info().
			Str("position", positionID).
			Str("request_id", requestID).
			Dur("stuck_for", time.Since(startedAt)).
			Msg("Expired stuck action")
	}

	return expired, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func inFlightValue(requestID string, at time.Time) string {
	return fmt.Sprintf("%s,%d", requestID, at.Unix())
}

// parseInFlight splits the in-flight value format "request_id,unix"
func parseInFlight(value string) (string, time.Time, bool) {
	requestID, ts, found := strings.Cut(value, ",")
	if !found || requestID == "" {
		return "", time.Time{}, false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return requestID, time.Unix(unix, 0), true
}
