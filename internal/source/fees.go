package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Fees maps exchange -> coin -> network -> withdrawal fee in coin units.
type Fees map[string]map[string]map[string]float64

// NetworkFee is one exchange's withdrawal fee for a coin on a network.
type NetworkFee struct {
	Exchange string
	Fee      float64
}

// FeeClient fetches withdrawal fees from the pricing API and caches them
// for a bounded duration, since fees change rarely and the endpoint is
// rate-limited. The cache is owned by the client and invalidated purely by
// age; there is no manual purge.
type FeeClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	cached    Fees
	fetchedAt time.Time
}

// NewFeeClient creates a fee source with the given cache TTL.
func NewFeeClient(logger *slog.Logger, baseURL string, timeout, ttl time.Duration) *FeeClient {
	return &FeeClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		ttl:     ttl,
		now:     time.Now,
	}
}

// GetFees returns the withdrawal fee mapping, serving the cached value
// while it is younger than the TTL.
func (f *FeeClient) GetFees(ctx context.Context) (Fees, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil && f.now().Sub(f.fetchedAt) < f.ttl {
		return f.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/fees", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch fees: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch fees: unexpected status %d", resp.StatusCode)
	}

	var fees Fees
	if err := json.NewDecoder(resp.Body).Decode(&fees); err != nil {
		return nil, fmt.Errorf("decode fees: %w", err)
	}

	f.cached = fees
	f.fetchedAt = f.now()
	f.logger.Debug("FeeClient: fee cache refreshed", "exchanges", len(fees))
	return fees, nil
}

// Networks lists every withdrawal network any exchange offers for a coin,
// sorted by name.
func (f Fees) Networks(coin string) []string {
	seen := make(map[string]bool)
	for _, coins := range f {
		for network := range coins[coin] {
			seen[network] = true
		}
	}
	networks := make([]string, 0, len(seen))
	for network := range seen {
		networks = append(networks, network)
	}
	sort.Strings(networks)
	return networks
}

// CompareNetworkFees lists every exchange's withdrawal fee for a coin on a
// network, cheapest first.
func (f Fees) CompareNetworkFees(coin, network string) []NetworkFee {
	var result []NetworkFee
	for exchange, coins := range f {
		networks, ok := coins[coin]
		if !ok {
			continue
		}
		fee, ok := networks[network]
		if !ok {
			continue
		}
		result = append(result, NetworkFee{Exchange: exchange, Fee: fee})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Fee != result[j].Fee {
			return result[i].Fee < result[j].Fee
		}
		return result[i].Exchange < result[j].Exchange
	})
	return result
}
