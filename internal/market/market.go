package market

import (
	"context"

	"ichimoku_bot/internal/models"
)

// Provider supplies market data to the strategy. Implementations may block
// on the network; the strategy never calls them while holding its state lock.
type Provider interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
	Get24hQuoteVolume(ctx context.Context, symbol string) (float64, error)
	ListActiveSymbols(ctx context.Context) ([]string, error)
	// GetShortableSymbols returns USDT pairs above minVolume 24h quote volume,
	// excluding the given symbols, sorted by volume descending, capped to limit.
	GetShortableSymbols(ctx context.Context, exclude []string, minVolume float64, limit int) ([]string, error)
}
