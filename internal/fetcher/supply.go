package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"token-indexer/internal/instrument"
	"token-indexer/internal/marketcap"
)

const getTokenSupplyMethod = "getTokenSupply"

// SupplyOptions parameterise the ledger supply fetcher.
type SupplyOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Supply reads circulating token supply over Solana JSON-RPC.
type Supply struct {
	opts      SupplyOptions
	logger    zerolog.Logger
	client    *rpc.Client
	clientMux sync.Mutex
}

// NewSupply builds a new supply fetcher.
func NewSupply(opts SupplyOptions, logger zerolog.Logger) *Supply {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Supply{opts: opts, logger: logger.With().Str("component", "supply_fetcher").Logger()}
}

// FetchSupply issues one getTokenSupply call for the instrument.
func (s *Supply) FetchSupply(ctx context.Context, inst instrument.Instrument) (decimal.Decimal, error) {
	if s.opts.RPCURL == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: ledger rpc url not configured", ErrUpstreamUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: dial ledger: %v", ErrUpstreamUnavailable, err)
	}

	var result tokenSupplyResult
	if err := client.CallContext(ctx, &result, getTokenSupplyMethod, inst.Address); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s: %s", ErrUpstreamUnavailable, getTokenSupplyMethod, describeRPCError(err))
	}

	supply, err := marketcap.Parse(result.Value.UIAmountString)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s supply: %w", ErrUpstreamUnavailable, inst.Name, err)
	}

	s.logger.Debug().Str("instrument", inst.Name).Uint64("slot", result.Context.Slot).
		Str("supply", supply.String()).Msg("supply fetched")
	return supply, nil
}

// FetchSupplies fans out one call per instrument and waits for all of them.
// Any failure fails the whole batch; the error names every failed instrument.
func (s *Supply) FetchSupplies(ctx context.Context, instruments []instrument.Instrument) (map[string]decimal.Decimal, error) {
	if len(instruments) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	p := pool.NewWithResults[supplyReading]().
		WithMaxGoroutines(len(instruments)).
		WithContext(ctx)
	for _, inst := range instruments {
		p.Go(func(ctx context.Context) (supplyReading, error) {
			supply, err := s.FetchSupply(ctx, inst)
			if err != nil {
				return supplyReading{}, fmt.Errorf("%s (%s): %w", inst.Name, inst.Address, err)
			}
			return supplyReading{address: inst.Address, supply: supply}, nil
		})
	}

	readings, err := p.Wait()
	if err != nil {
		return nil, err
	}

	supplies := make(map[string]decimal.Decimal, len(readings))
	for _, r := range readings {
		supplies[r.address] = r.supply
	}
	return supplies, nil
}

func (s *Supply) getClient(ctx context.Context) (*rpc.Client, error) {
	s.clientMux.Lock()
	defer s.clientMux.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	client, err := rpc.DialOptions(ctx, s.opts.RPCURL, rpc.WithHTTPClient(&http.Client{Timeout: s.opts.Timeout}))
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

// Close releases the underlying RPC client.
func (s *Supply) Close() {
	s.clientMux.Lock()
	defer s.clientMux.Unlock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

func describeRPCError(err error) string {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("http status %d", httpErr.StatusCode)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Sprintf("rpc error %d: %s", rpcErr.ErrorCode(), rpcErr.Error())
	}
	return err.Error()
}

type supplyReading struct {
	address string
	supply  decimal.Decimal
}

type tokenSupplyResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Amount         string `json:"amount"`
		Decimals       int    `json:"decimals"`
		UIAmountString string `json:"uiAmountString"`
	} `json:"value"`
}

var _ SupplyFetcher = (*Supply)(nil)
