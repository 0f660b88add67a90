package rpc

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/wnt/farmdash/internal/metrics"
	"golang.org/x/time/rate"
)

// Caller is the subset of the Ethereum JSON-RPC API used for contract reads
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer connects a Caller to an endpoint URL
type Dialer func(url string) (Caller, error)

// DialEthclient dials an endpoint with go-ethereum's client
func DialEthclient(url string) (Caller, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Pool manages a pool of RPC endpoints with load balancing and rate limiting
type Pool struct {
	endpoints []*Endpoint
	current   int
	mutex     sync.Mutex
	logger    zerolog.Logger
}

// Endpoint is a single RPC endpoint with its own rate limiter
type Endpoint struct {
	URL           string
	caller        Caller
	limiter       *rate.Limiter
	healthy       bool
	cooldownUntil time.Time
	mutex         sync.RWMutex
}

// NewPool dials every url and returns a pool that rotates over them.
// ratePerSecond caps calls per endpoint.
func NewPool(urls []string, ratePerSecond float64, dial Dialer, logger zerolog.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one rpc endpoint is required")
	}
	if dial == nil {
		dial = DialEthclient
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}

	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		caller, err := dial(url)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", url, err)
		}
		endpoints[i] = &Endpoint{
			URL:     url,
			caller:  caller,
			limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)*2+1),
			healthy: true,
		}
		metrics.SetRPCEndpointHealth(url, true)
	}

	return &Pool{
		endpoints: endpoints,
		current:   rand.Intn(len(endpoints)),
		logger:    logger.With().Str("component", "rpc_pool").Logger(),
	}, nil
}

// GetCaller returns the next available endpoint using round-robin. When every
// endpoint is limited or unhealthy it waits for the first one's limiter.
func (p *Pool) GetCaller(ctx context.Context) (Caller, string, error) {
	p.mutex.Lock()

	startIndex := p.current
	for attempts := 0; attempts < len(p.endpoints); attempts++ {
		endpoint := p.endpoints[p.current]
		p.current = (p.current + 1) % len(p.endpoints)

		endpoint.mutex.RLock()
		inCooldown := time.Now().Before(endpoint.cooldownUntil)
		healthy := endpoint.healthy
		endpoint.mutex.RUnlock()

		if inCooldown || !healthy {
			p.logger.Debug().
				Str("endpoint", endpoint.URL).
				Bool("healthy", healthy).
				Bool("cooldown", inCooldown).
				Msg("Skipping endpoint")
			continue
		}

		if endpoint.limiter.Allow() {
			p.mutex.Unlock()
			return endpoint.caller, endpoint.URL, nil
		}
	}

	endpoint := p.endpoints[startIndex]
	p.mutex.Unlock()

	p.logger.Debug().
		Str("endpoint", endpoint.URL).
		Msg("All endpoints busy, waiting for availability")

	if err := endpoint.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	return endpoint.caller, endpoint.URL, nil
}

func (p *Pool) find(url string) *Endpoint {
	for _, endpoint := range p.endpoints {
		if endpoint.URL == url {
			return endpoint
		}
	}
	return nil
}

// MarkUnhealthy marks an endpoint as unhealthy
func (p *Pool) MarkUnhealthy(url string) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}
	endpoint.mutex.Lock()
	endpoint.healthy = false
	endpoint.mutex.Unlock()

	metrics.SetRPCEndpointHealth(url, false)
	p.logger.Warn().Str("endpoint", url).Msg("Marked endpoint as unhealthy")
}

// MarkHealthy marks an endpoint as healthy and clears its cooldown
func (p *Pool) MarkHealthy(url string) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}
	endpoint.mutex.Lock()
	wasHealthy := endpoint.healthy
	endpoint.healthy = true
	endpoint.cooldownUntil = time.Time{}
	endpoint.mutex.Unlock()

	metrics.SetRPCEndpointHealth(url, true)
	if !wasHealthy {
		p.logger.Info().Str("endpoint", url).Msg("Marked endpoint as healthy")
	}
}

// SetCooldown puts an endpoint in cooldown for the specified duration
func (p *Pool) SetCooldown(url string, duration time.Duration) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}
	endpoint.mutex.Lock()
	endpoint.cooldownUntil = time.Now().Add(duration)
	endpoint.mutex.Unlock()

	p.logger.Warn().
		Str("endpoint", url).
		Dur("duration", duration).
		Msg("Set endpoint cooldown")
}

// HealthyEndpointCount returns the number of usable endpoints
func (p *Pool) HealthyEndpointCount() int {
	count := 0
	now := time.Now()
	for _, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		if endpoint.healthy && now.After(endpoint.cooldownUntil) {
			count++
		}
		endpoint.mutex.RUnlock()
	}
	return count
}

// EndpointStats is the state of one endpoint
type EndpointStats struct {
	URL           string    `json:"url"`
	Healthy       bool      `json:"healthy"`
	InCooldown    bool      `json:"in_cooldown"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Stats returns the state of every endpoint
func (p *Pool) Stats() []EndpointStats {
	now := time.Now()
	stats := make([]EndpointStats, len(p.endpoints))
	for i, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		stats[i] = EndpointStats{
			URL:           endpoint.URL,
			Healthy:       endpoint.healthy,
			InCooldown:    now.Before(endpoint.cooldownUntil),
			CooldownUntil: endpoint.cooldownUntil,
		}
		endpoint.mutex.RUnlock()
	}
	return stats
}
