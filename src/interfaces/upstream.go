package interfaces

import (
	"context"

	"coinwatch/src/models"
)

// IUpstreamClient fetches the full asset snapshot from the exchange.
type IUpstreamClient interface {
	FetchAll(ctx context.Context) (models.MSnapshot, error)
}

// IPriceLookup answers single-asset realtime price questions. Stateless
// pass-through, no coordination with the refresh pipeline.
type IPriceLookup interface {
	Ticker(ctx context.Context, symbol string) (*models.MTicker, error)
	RecentPrices(ctx context.Context, symbol string, limit int) ([]models.MPricePoint, error)
}
