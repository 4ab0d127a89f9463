package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"spreadwatch/internal/model"
)

const userAgent = "spreadwatch/1.0"

// QuoteSource returns, for one (coin, fiat, volume) tuple, a mapping from
// exchange identifier to quote. A failure is transient and scoped to that
// request; the caller skips the pair and moves on.
type QuoteSource interface {
	GetQuotes(ctx context.Context, coin, fiat string, volume float64) (map[string]model.Quote, error)
}

// Client talks to a CriptoYa-style pricing API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a pricing API client with the given base URL and
// request timeout.
func NewClient(logger *slog.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// apiQuote mirrors the wire shape of one exchange's entry. Every field may
// be absent or null.
type apiQuote struct {
	Ask      *float64 `json:"ask"`
	Bid      *float64 `json:"bid"`
	TotalAsk *float64 `json:"totalAsk"`
	TotalBid *float64 `json:"totalBid"`
	Time     *int64   `json:"time"`
}

// GetQuotes fetches all exchange quotes for a coin/fiat pair. Entries that
// are not JSON objects (the API mixes scalar metadata into the mapping) are
// skipped; a transport error or non-2xx status fails the whole request.
func (c *Client) GetQuotes(ctx context.Context, coin, fiat string, volume float64) (map[string]model.Quote, error) {
	url := fmt.Sprintf("%s/%s/%s/%s", c.baseURL, coin, fiat,
		strconv.FormatFloat(volume, 'f', -1, 64))

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes for %s/%s: %w", coin, fiat, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode quotes for %s/%s: %w", coin, fiat, err)
	}

	quotes := make(map[string]model.Quote, len(raw))
	for exchange, entry := range raw {
		var q apiQuote
		if err := json.Unmarshal(entry, &q); err != nil {
			c.logger.Debug("Client: skipping non-quote entry", "exchange", exchange)
			continue
		}
		quotes[exchange] = model.Quote{
			Exchange: exchange,
			Ask:      q.Ask,
			Bid:      q.Bid,
			TotalAsk: q.TotalAsk,
			TotalBid: q.TotalBid,
			Time:     q.Time,
		}
	}
	return quotes, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
