package upstream

import (
	"context"
	"encoding/json"
	"fmt"

	"coinwatch/src/models"
)

// -----------------------------------------------------------------------------
// Price Lookup (stateless pass-through for the detail endpoint)
// -----------------------------------------------------------------------------

// Ticker fetches the current price for one asset.
func (c *ExchangeClient) Ticker(ctx context.Context, symbol string) (*models.MTicker, error) {
	body, err := c.get(ctx, "/api/v1/ticker", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("ticker fetch failed for %s: %w", symbol, err)
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ticker decode failed for %s: %w", symbol, err)
	}

	price := resp.Data.Price.Float()
	if price == nil {
		return nil, fmt.Errorf("ticker for %s carried no price", symbol)
	}

	return &models.MTicker{
		Symbol:    symbol,
		Price:     *price,
		Timestamp: resp.Data.Time,
	}, nil
}

// -----------------------------------------------------------------------------

// RecentPrices fetches a short candlestick history for one asset. Rows with
// malformed values are skipped.
func (c *ExchangeClient) RecentPrices(ctx context.Context, symbol string, limit int) ([]models.MPricePoint, error) {
	body, err := c.get(ctx, "/api/v1/klines", map[string]string{
		"symbol": symbol,
		"limit":  fmt.Sprintf("%d", limit),
	})
	if err != nil {
		return nil, fmt.Errorf("kline fetch failed for %s: %w", symbol, err)
	}

	var resp klineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kline decode failed for %s: %w", symbol, err)
	}

	// Row layout: [time, open, high, low, close, volume]
	points := make([]models.MPricePoint, 0, len(resp.Data))
	for _, row := range resp.Data {
		if len(row) < 6 {
			continue
		}
		ts := row[0].Float()
		open := row[1].Float()
		high := row[2].Float()
		low := row[3].Float()
		closeVal := row[4].Float()
		volume := row[5].Float()
		if ts == nil || open == nil || high == nil || low == nil || closeVal == nil || volume == nil {
			continue
		}
		points = append(points, models.MPricePoint{
			Timestamp: int64(*ts),
			Open:      *open,
			High:      *high,
			Low:       *low,
			Close:     *closeVal,
			Volume:    *volume,
		})
	}

	return points, nil
}
