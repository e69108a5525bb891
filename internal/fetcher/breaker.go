package fetcher

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/atoll-registry/atoll/pkg/types"
)

// BreakerFetcher wraps a Fetcher with per-host circuit breakers, so one
// flapping artifact host cannot burn the publish deadline of every request
// that references it.
type BreakerFetcher struct {
	fetcher  *Fetcher
	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// NewBreakerFetcher creates a circuit breaker wrapper around a fetcher.
func NewBreakerFetcher(f *Fetcher) *BreakerFetcher {
	return &BreakerFetcher{
		fetcher:  f,
		breakers: make(map[string]*circuit.Breaker),
	}
}

// SizeLimit returns the underlying fetcher's response-size ceiling.
func (bf *BreakerFetcher) SizeLimit() int64 {
	return bf.fetcher.SizeLimit()
}

// getBreaker returns or creates a circuit breaker for the given host.
func (bf *BreakerFetcher) getBreaker(host string) *circuit.Breaker {
	bf.mu.RLock()
	breaker, exists := bf.breakers[host]
	bf.mu.RUnlock()

	if exists {
		return breaker
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := bf.breakers[host]; exists {
		return breaker
	}

	// Trips after 5 consecutive failures, reopening on exponential backoff
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	opts := &circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	}
	breaker = circuit.NewBreakerWithOptions(opts)

	bf.breakers[host] = breaker
	return breaker
}

// Verify runs the underlying verification behind the host's breaker.
// Only transport failures count against the host: a digest or size
// mismatch means the host answered fine and the publisher's declaration
// was wrong, so it must not trip the circuit.
func (bf *BreakerFetcher) Verify(ctx context.Context, filename, rawURL, declaredDigest string, declaredSize int64) *types.RegistryError {
	host := extractHost(rawURL)
	breaker := bf.getBreaker(host)

	if !breaker.Ready() {
		return types.ErrURLUnreachable(rawURL, "host suspended after repeated failures", nil)
	}

	var verr *types.RegistryError
	_ = breaker.Call(func() error {
		verr = bf.fetcher.Verify(ctx, filename, rawURL, declaredDigest, declaredSize)
		if verr == nil {
			return nil
		}
		switch verr.Code {
		case types.CodeURLUnreachable, types.CodeFetchTimeout:
			return verr
		}
		return nil
	}, 0)

	return verr
}

// extractHost extracts the host from a URL for breaker grouping.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}

// BreakerStates returns the current state of each host's breaker, for the
// health endpoint.
func (bf *BreakerFetcher) BreakerStates() map[string]string {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	states := make(map[string]string)
	for host, breaker := range bf.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}
