package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-indexer/internal/instrument"
	"token-indexer/internal/marketcap"
)

const mintPricePath = "/mint/price"

// PriceOptions parameterise the spot price fetcher.
type PriceOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Price fetches spot prices from the Raydium mint price endpoint.
type Price struct {
	opts    PriceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPrice constructs a spot price fetcher.
func NewPrice(opts PriceOptions, logger zerolog.Logger) *Price {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api-v3.raydium.io"
	}

	return &Price{
		opts:    opts,
		logger:  logger.With().Str("component", "price_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchSpotPrices requests all instruments in a single call.
func (p *Price) FetchSpotPrices(ctx context.Context, instruments []instrument.Instrument) (map[string]decimal.Decimal, error) {
	if len(instruments) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	mints := make([]string, len(instruments))
	for i, it := range instruments {
		mints[i] = it.Address
	}

	endpoint := p.baseURL + mintPricePath + "?mints=" + strings.Join(mints, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: price request: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read price response: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var body priceResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: decode price response: %v", ErrUpstreamUnavailable, err)
	}
	if !body.Success || body.Data == nil {
		return nil, fmt.Errorf("%w: price service reported failure: %s", ErrUpstreamUnavailable, body.Msg)
	}

	prices := make(map[string]decimal.Decimal, len(instruments))
	var missing []string
	for _, it := range instruments {
		raw, ok := body.Data[it.Address]
		if !ok {
			missing = append(missing, it.Name)
			continue
		}
		price, present, err := decodeQuote(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s quote: %w", ErrUpstreamUnavailable, it.Name, err)
		}
		if !present {
			missing = append(missing, it.Name)
			continue
		}
		prices[it.Address] = price
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingQuote, strings.Join(missing, ","))
	}

	p.logger.Debug().Int("instruments", len(prices)).Msg("spot prices fetched")
	return prices, nil
}

// decodeQuote accepts either a JSON string or a JSON number and keeps its text form.
func decodeQuote(raw json.RawMessage) (decimal.Decimal, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Decimal{}, false, nil
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return decimal.Decimal{}, false, err
		}
		if strings.TrimSpace(text) == "" {
			return decimal.Decimal{}, false, nil
		}
	}

	price, err := marketcap.Parse(text)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return price, true, nil
}

type priceResponse struct {
	ID      string                     `json:"id"`
	Success bool                       `json:"success"`
	Msg     string                     `json:"msg"`
	Data    map[string]json.RawMessage `json:"data"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr struct {
		Msg     string `json:"msg"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Msg != "" {
			return fmt.Errorf("%w: price api error (%d): %s", ErrUpstreamUnavailable, status, apiErr.Msg)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%w: price api error (%d): %s", ErrUpstreamUnavailable, status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w: price api error (%d): %s", ErrUpstreamUnavailable, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: price api error (%d)", ErrUpstreamUnavailable, status)
}

var _ PriceFetcher = (*Price)(nil)
