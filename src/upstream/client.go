package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"coinwatch/src/helpers"
	"coinwatch/src/interfaces"
	"coinwatch/src/logger"
	"coinwatch/src/models"

	"golang.org/x/time/rate"
)

// -----------------------------------------------------------------------------
// ExchangeClient
// -----------------------------------------------------------------------------

// ExchangeClient pulls per-asset metrics from the exchange's internal API.
// Stateless between cycles; safe to reuse or re-instantiate.
type ExchangeClient struct {
	Config  *models.MConfig
	Network interfaces.INetworkManager
	Logger  *logger.Entry
	limiter *rate.Limiter
}

// -----------------------------------------------------------------------------

func NewExchangeClient(cfg *models.MConfig, netMgr interfaces.INetworkManager, log *logger.Log) *ExchangeClient {
	rps := cfg.Upstream.RequestsPerSecond
	return &ExchangeClient{
		Config:  cfg,
		Network: netMgr,
		Logger:  log.WithComponent("upstream"),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

// -----------------------------------------------------------------------------

// FetchAll fetches the asset directory and then the four metric sub-calls for
// every asset. Batches run sequentially to bound concurrent upstream
// connections; assets within a batch run concurrently. A failed sub-call nulls
// only its metric; a failed directory call fails the whole fetch.
func (c *ExchangeClient) FetchAll(ctx context.Context) (models.MSnapshot, error) {
	directory, err := c.fetchDirectory(ctx)
	if err != nil {
		return nil, &helpers.UpstreamError{CoinwatchError: helpers.CoinwatchError{
			Message: "directory fetch failed", Cause: err}}
	}

	snapshot := make(models.MSnapshot, len(directory))
	var mu sync.Mutex

	batchSize := c.Config.Upstream.BatchSize
	for start := 0; start < len(directory); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + batchSize
		if end > len(directory) {
			end = len(directory)
		}

		var wg sync.WaitGroup
		for _, entry := range directory[start:end] {
			wg.Add(1)
			go func(e directoryEntry) {
				defer wg.Done()
				metrics := c.fetchAsset(ctx, e)
				mu.Lock()
				snapshot[metrics.Symbol] = metrics
				mu.Unlock()
			}(entry)
		}
		wg.Wait()
	}

	c.Logger.WithFields(logger.Fields{"assets": len(snapshot)}).Info("fetch cycle complete")
	return snapshot, nil
}

// -----------------------------------------------------------------------------

func (c *ExchangeClient) fetchDirectory(ctx context.Context) ([]directoryEntry, error) {
	body, err := c.get(ctx, "/api/v1/assets", nil)
	if err != nil {
		return nil, err
	}

	var resp directoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("directory decode failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("directory returned no assets")
	}

	// Drop duplicate symbols; snapshot keys must be unique.
	seen := make(map[string]bool, len(resp.Data))
	out := make([]directoryEntry, 0, len(resp.Data))
	for _, e := range resp.Data {
		if e.Symbol == "" || seen[e.Symbol] {
			continue
		}
		seen[e.Symbol] = true
		out = append(out, e)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// fetchAsset runs the four metric sub-calls concurrently. Each failure leaves
// only its own field nil.
func (c *ExchangeClient) fetchAsset(ctx context.Context, entry directoryEntry) *models.MAssetMetrics {
	metrics := &models.MAssetMetrics{
		Symbol:   entry.Symbol,
		Code:     entry.Code,
		Name:     entry.Name,
		FullName: entry.FullName,
	}

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		body, err := c.get(ctx, "/api/v1/holders", map[string]string{"currency": entry.Code})
		if err != nil {
			c.subCallFailed(entry.Symbol, "holders", err)
			return
		}
		var resp holdersResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			c.subCallFailed(entry.Symbol, "holders", err)
			return
		}
		metrics.Holders = resp.Data.HolderNum.Float()
	}()

	go func() {
		defer wg.Done()
		body, err := c.get(ctx, "/api/v1/circulation", map[string]string{"currency": entry.Code})
		if err != nil {
			c.subCallFailed(entry.Symbol, "circulation", err)
			return
		}
		var resp circulationResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			c.subCallFailed(entry.Symbol, "circulation", err)
			return
		}
		metrics.Circulation = resp.Data.Amount.Float()
		metrics.CirculationChangePercent = resp.Data.ChangePercent.Float()
	}()

	go func() {
		defer wg.Done()
		body, err := c.get(ctx, "/api/v1/holder-concentration", map[string]string{"currency": entry.Code})
		if err != nil {
			c.subCallFailed(entry.Symbol, "holder-concentration", err)
			return
		}
		var resp holderConcentrationResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			c.subCallFailed(entry.Symbol, "holder-concentration", err)
			return
		}
		metrics.HolderInfluence = resp.Data.InfluencePercent.Float()
		metrics.Purity = resp.Data.PurityPercent.Float()
	}()

	go func() {
		defer wg.Done()
		body, err := c.get(ctx, "/api/v1/trader-concentration", map[string]string{"currency": entry.Code})
		if err != nil {
			c.subCallFailed(entry.Symbol, "trader-concentration", err)
			return
		}
		var resp traderConcentrationResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			c.subCallFailed(entry.Symbol, "trader-concentration", err)
			return
		}
		metrics.TraderInfluence = resp.Data.InfluencePercent.Float()
	}()

	wg.Wait()
	return metrics
}

// -----------------------------------------------------------------------------

func (c *ExchangeClient) subCallFailed(symbol, call string, err error) {
	c.Logger.WithFields(logger.Fields{"symbol": symbol, "call": call}).
		WithError(err).Debug("sub-call failed, metric left null")
}

// -----------------------------------------------------------------------------

// get applies the politeness limiter and issues the request through the
// network manager.
func (c *ExchangeClient) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Network.Get(c.Config.Upstream.BaseURL+path, params)
}
