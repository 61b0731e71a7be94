package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"

	"ichimoku_bot/internal/models"
)

// cacheTTL is how long fetched candles and prices stay fresh. Staleness up
// to one TTL is acceptable; entries are never invalidated early.
const cacheTTL = 60 * time.Second

const fetchAttempts = 3

// BinanceClient is the real Binance Spot data provider with a short-lived
// read-through cache.
type BinanceClient struct {
	client *binance.Client

	mu          sync.Mutex
	candleCache map[string]candleEntry
	priceCache  map[string]priceEntry
}

type candleEntry struct {
	candles []models.Candle
	at      time.Time
}

type priceEntry struct {
	price float64
	at    time.Time
}

func NewBinanceClient(apiKey, secretKey string) *BinanceClient {
	return &BinanceClient{
		client:      binance.NewClient(apiKey, secretKey),
		candleCache: make(map[string]candleEntry),
		priceCache:  make(map[string]priceEntry),
	}
}

func (b *BinanceClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	key := fmt.Sprintf("%s_%s_%d", symbol, interval, limit)

	b.mu.Lock()
	if entry, ok := b.candleCache[key]; ok && time.Since(entry.at) < cacheTTL {
		candles := make([]models.Candle, len(entry.candles))
		copy(candles, entry.candles)
		b.mu.Unlock()
		return candles, nil
	}
	b.mu.Unlock()

	var klines []*binance.Kline
	err := b.retry(ctx, func() error {
		var err error
		klines, err = b.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	candles := make([]models.Candle, len(klines))
	for i, k := range klines {
		candles[i] = models.Candle{
			OpenTime: time.Unix(k.OpenTime/1000, 0),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		}
	}

	b.mu.Lock()
	b.candleCache[key] = candleEntry{candles: candles, at: time.Now()}
	b.mu.Unlock()

	out := make([]models.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (b *BinanceClient) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	if entry, ok := b.priceCache[symbol]; ok && time.Since(entry.at) < cacheTTL {
		b.mu.Unlock()
		return entry.price, nil
	}
	b.mu.Unlock()

	var price float64
	err := b.retry(ctx, func() error {
		prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("no price data for %s", symbol)
		}
		price = parseFloat(prices[0].Price)
		return nil
	})
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.priceCache[symbol] = priceEntry{price: price, at: time.Now()}
	b.mu.Unlock()
	return price, nil
}

func (b *BinanceClient) Get24hQuoteVolume(ctx context.Context, symbol string) (float64, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(stats) == 0 {
		return 0, fmt.Errorf("no 24h stats for %s", symbol)
	}
	return parseFloat(stats[0].QuoteVolume), nil
}

func (b *BinanceClient) ListActiveSymbols(ctx context.Context) ([]string, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}

	var symbols []string
	for _, s := range info.Symbols {
		if s.QuoteAsset == "USDT" && s.Status == "TRADING" && s.IsSpotTradingAllowed &&
			!isStableBase(s.BaseAsset) {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

func (b *BinanceClient) GetShortableSymbols(ctx context.Context, exclude []string, minVolume float64, limit int) ([]string, error) {
	active, err := b.ListActiveSymbols(ctx)
	if err != nil {
		return nil, err
	}
	activeSet := make(map[string]bool, len(active))
	for _, s := range active {
		activeSet[s] = true
	}
	excluded := make(map[string]bool, len(exclude))
	for _, s := range exclude {
		excluded[s] = true
	}

	// One bulk stats call covers every symbol's 24h quote volume.
	stats, err := b.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, err
	}

	type symbolVolume struct {
		symbol string
		volume float64
	}
	var candidates []symbolVolume
	for _, s := range stats {
		if !activeSet[s.Symbol] || excluded[s.Symbol] {
			continue
		}
		vol := parseFloat(s.QuoteVolume)
		if vol >= minVolume {
			candidates = append(candidates, symbolVolume{s.Symbol, vol})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].volume > candidates[j].volume
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	symbols := make([]string, len(candidates))
	for i, c := range candidates {
		symbols[i] = c.symbol
	}
	return symbols, nil
}

func (b *BinanceClient) retry(ctx context.Context, fn func() error) error {
	boff := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    2 * time.Second,
		Jitter: true,
	}
	var err error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(boff.Duration()):
		}
	}
	return err
}

func isStableBase(base string) bool {
	for _, stable := range []string{"USD", "BUSD", "USDC", "TUSD", "USDP", "DAI"} {
		if strings.Contains(base, stable) {
			return true
		}
	}
	return false
}

func parseFloat(s string) float64 {
	var f float64
	fmt.Sscanf(s, "%f", &f)
	return f
}
