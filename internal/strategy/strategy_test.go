package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"ichimoku_bot/config"
	"ichimoku_bot/internal/market"
	"ichimoku_bot/internal/models"
)

// fakeProvider is an in-memory market data source. GetCandles honours the
// limit the same way the exchange does: it returns the most recent candles.
type fakeProvider struct {
	mu        sync.Mutex
	candles   map[string][]models.Candle
	prices    map[string]float64
	priceErr  map[string]error
	shortable []string
}

var _ market.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) GetCandles(_ context.Context, symbol, _ string, limit int) ([]models.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs, ok := p.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}
	if limit > 0 && len(cs) > limit {
		cs = cs[len(cs)-limit:]
	}
	out := make([]models.Candle, len(cs))
	copy(out, cs)
	return out, nil
}

func (p *fakeProvider) GetLastPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.priceErr[symbol]; err != nil {
		return 0, err
	}
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (p *fakeProvider) setPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prices == nil {
		p.prices = make(map[string]float64)
	}
	p.prices[symbol] = price
}

func (p *fakeProvider) Get24hQuoteVolume(context.Context, string) (float64, error) {
	return 0, nil
}

func (p *fakeProvider) ListActiveSymbols(context.Context) ([]string, error) {
	return nil, nil
}

func (p *fakeProvider) GetShortableSymbols(context.Context, []string, float64, int) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shortable, nil
}

var testNow = time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Warmup = 0
	return cfg
}

// newTestStrategy pins the clock to testNow so candle settlement and the
// duplicate-action guard are deterministic.
func newTestStrategy(t *testing.T, cfg *config.Config, data market.Provider) *Strategy {
	t.Helper()
	s := New(cfg, data, nil)
	s.now = func() time.Time { return testNow }
	s.startupTime = testNow.Add(-24 * time.Hour)
	return s
}

// trendCandles builds an hourly series ending one period before testNow,
// flat at 100 until index jump, then trending up one unit per candle. With
// 3/5/10/5 periods the long signal holds from index jump+2 onward.
func trendCandles(n, jump int) []models.Candle {
	start := testNow.Truncate(time.Hour).Add(-time.Duration(n) * time.Hour)
	out := make([]models.Candle, n)
	for i := range out {
		c := 100.0
		if i >= jump {
			c = 120 + float64(i-jump)
		}
		out[i] = models.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c, High: c, Low: c, Close: c,
		}
		if i >= jump {
			out[i].High = c + 1
			out[i].Low = c - 1
		}
	}
	return out
}

func useShortPeriods(cfg *config.Config) {
	cfg.TenkanPeriod = 3
	cfg.KijunPeriod = 5
	cfg.SenkouPeriod = 10
	cfg.ChikouPeriod = 5
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOpenAndClosePosition(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{prices: map[string]float64{"BNBUSDT": 100}}
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, p)

	ok, err := s.OpenPosition(ctx, "BNBUSDT", models.SideLong)
	if err != nil || !ok {
		t.Fatalf("OpenPosition = %v, %v, want true", ok, err)
	}
	if !s.HasPosition("BNBUSDT") {
		t.Fatal("expected an open position in BNBUSDT")
	}

	// Sleeve math: 10000 * 0.5 / 4 slots = 1250 margin, 2x leverage at
	// price 100 buys 25 units.
	pos := s.positions["BNBUSDT"]
	if !almostEqual(pos.Quantity, 25) {
		t.Errorf("quantity = %.6f, want 25", pos.Quantity)
	}
	if !almostEqual(pos.Margin(), 1250) {
		t.Errorf("margin = %.2f, want 1250", pos.Margin())
	}
	if !almostEqual(s.portfolio.AvailableCash, 8750) {
		t.Errorf("cash after open = %.2f, want 8750", s.portfolio.AvailableCash)
	}

	p.setPrice("BNBUSDT", 110)
	ok, err = s.ClosePosition(ctx, "BNBUSDT")
	if err != nil || !ok {
		t.Fatalf("ClosePosition = %v, %v, want true", ok, err)
	}
	if s.HasPosition("BNBUSDT") {
		t.Fatal("position should be removed after close")
	}

	// Realized P&L applies leverage: (110-100) * 25 * 2 = 500.
	history := s.GetHistory(0)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	closed := history[0]
	if !almostEqual(closed.PnL, 500) {
		t.Errorf("pnl = %.2f, want 500", closed.PnL)
	}
	if !almostEqual(closed.PnLPercentage, 20) {
		t.Errorf("pnl%% = %.2f, want 20", closed.PnLPercentage)
	}
	if closed.ExitTime == nil || closed.Status != models.StatusClosed {
		t.Error("closed position should carry exit time and closed status")
	}
	if !almostEqual(s.portfolio.AvailableCash, 10500) {
		t.Errorf("cash after close = %.2f, want 10500", s.portfolio.AvailableCash)
	}
	if !almostEqual(s.portfolio.RealizedPnL, 500) {
		t.Errorf("realized pnl = %.2f, want 500", s.portfolio.RealizedPnL)
	}
}

func TestShortPositionPnL(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{prices: map[string]float64{"XYZUSDT": 200}}
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, p)

	if ok, err := s.OpenPosition(ctx, "XYZUSDT", models.SideShort); err != nil || !ok {
		t.Fatalf("OpenPosition = %v, %v, want true", ok, err)
	}
	// Short sleeve: 10000 * 0.5 / 4 = 1250 at 1x leverage, 6.25 units.
	pos := s.positions["XYZUSDT"]
	if !almostEqual(pos.Quantity, 6.25) {
		t.Fatalf("quantity = %.6f, want 6.25", pos.Quantity)
	}

	p.setPrice("XYZUSDT", 180)
	if ok, err := s.ClosePosition(ctx, "XYZUSDT"); err != nil || !ok {
		t.Fatalf("ClosePosition = %v, %v, want true", ok, err)
	}
	// (200-180) * 6.25 * 1 = 125 on a falling price.
	if got := s.GetHistory(0)[0].PnL; !almostEqual(got, 125) {
		t.Errorf("short pnl = %.2f, want 125", got)
	}
}

func TestDuplicateEntryGuard(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{prices: map[string]float64{"BNBUSDT": 100}}
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, p)

	if ok, _ := s.OpenPosition(ctx, "BNBUSDT", models.SideLong); !ok {
		t.Fatal("first open should succeed")
	}
	if ok, _ := s.ClosePosition(ctx, "BNBUSDT"); !ok {
		t.Fatal("close should succeed")
	}
	cashAfterClose := s.portfolio.AvailableCash

	// Re-entry within the same candle period is rejected without touching
	// portfolio state.
	ok, err := s.OpenPosition(ctx, "BNBUSDT", models.SideLong)
	if err != nil {
		t.Fatalf("rejected open should not error: %v", err)
	}
	if ok {
		t.Fatal("re-entry within the same candle should be rejected")
	}
	if !almostEqual(s.portfolio.AvailableCash, cashAfterClose) {
		t.Errorf("cash changed on rejected open: %.2f != %.2f", s.portfolio.AvailableCash, cashAfterClose)
	}

	// Once the period rolls over the guard clears.
	s.now = func() time.Time { return testNow.Add(time.Hour) }
	if ok, _ := s.OpenPosition(ctx, "BNBUSDT", models.SideLong); !ok {
		t.Fatal("open should succeed after a new candle settles")
	}
}

func TestPerSideLimits(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{prices: map[string]float64{
		"AAAUSDT": 10, "BBBUSDT": 10, "CCCUSDT": 10, "DDDUSDT": 10,
	}}
	cfg := testConfig(t)
	cfg.MaxLongPositions = 2
	s := newTestStrategy(t, cfg, p)

	for _, symbol := range []string{"AAAUSDT", "BBBUSDT"} {
		if ok, _ := s.OpenPosition(ctx, symbol, models.SideLong); !ok {
			t.Fatalf("open %s should succeed", symbol)
		}
	}
	if ok, _ := s.OpenPosition(ctx, "CCCUSDT", models.SideLong); ok {
		t.Fatal("third long should be rejected by the side limit")
	}
	// The short side has its own budget.
	if ok, _ := s.OpenPosition(ctx, "DDDUSDT", models.SideShort); !ok {
		t.Fatal("short open should be unaffected by the long limit")
	}
}

func TestCapitalConservation(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{prices: map[string]float64{"AAAUSDT": 50, "BBBUSDT": 80}}
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, p)

	s.OpenPosition(ctx, "AAAUSDT", models.SideLong)
	s.OpenPosition(ctx, "BBBUSDT", models.SideShort)
	p.setPrice("AAAUSDT", 65)
	s.ClosePosition(ctx, "AAAUSDT")

	// Cash plus locked margin minus realized P&L must equal the starting
	// capital at every step.
	locked := 0.0
	for _, pos := range s.positions {
		locked += pos.Margin()
	}
	total := s.portfolio.AvailableCash + locked - s.portfolio.RealizedPnL
	if !almostEqual(total, cfg.InitialPortfolioValue) {
		t.Errorf("capital not conserved: %.6f, want %.2f", total, cfg.InitialPortfolioValue)
	}
}

func TestOpenRejectsBadPrice(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{prices: map[string]float64{"AAAUSDT": 0}}
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, p)

	ok, err := s.OpenPosition(ctx, "AAAUSDT", models.SideLong)
	if err != nil || ok {
		t.Fatalf("zero price should reject without error, got %v, %v", ok, err)
	}

	ok, err = s.OpenPosition(ctx, "NOPEUSDT", models.SideLong)
	if err == nil {
		t.Fatal("price fetch failure should surface as an error")
	}
	if ok {
		t.Fatal("no position should be opened on a failed fetch")
	}
	if !almostEqual(s.portfolio.AvailableCash, cfg.InitialPortfolioValue) {
		t.Error("rejected opens must not touch cash")
	}
}

func TestValuationWithNoPositions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, &fakeProvider{})

	s.UpdatePortfolioValue(ctx)
	if !almostEqual(s.portfolio.TotalValue, s.portfolio.AvailableCash) {
		t.Errorf("total = %.2f, want cash %.2f", s.portfolio.TotalValue, s.portfolio.AvailableCash)
	}
	if s.portfolio.Drawdown != 0 {
		t.Errorf("drawdown = %.2f, want 0", s.portfolio.Drawdown)
	}
}

func TestPeakAndDrawdown(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{prices: map[string]float64{"BNBUSDT": 100}}
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, p)

	s.OpenPosition(ctx, "BNBUSDT", models.SideLong) // 25 units, 1250 margin

	// Valuation marks unrealized P&L without the leverage factor:
	// 8750 cash + 1250 margin + 20*25 = 10500.
	p.setPrice("BNBUSDT", 120)
	s.UpdatePortfolioValue(ctx)
	if !almostEqual(s.portfolio.TotalValue, 10500) {
		t.Fatalf("total = %.2f, want 10500", s.portfolio.TotalValue)
	}
	if !almostEqual(s.portfolio.PeakValue, 10500) || s.portfolio.Drawdown != 0 {
		t.Fatalf("peak = %.2f drawdown = %.2f, want 10500 and 0", s.portfolio.PeakValue, s.portfolio.Drawdown)
	}

	// Peak only ratchets up; the retreat shows as drawdown.
	p.setPrice("BNBUSDT", 100)
	s.UpdatePortfolioValue(ctx)
	if !almostEqual(s.portfolio.PeakValue, 10500) {
		t.Errorf("peak moved down to %.2f", s.portfolio.PeakValue)
	}
	wantDD := (10500.0 - 10000.0) / 10500.0 * 100
	if !almostEqual(s.portfolio.Drawdown, wantDD) {
		t.Errorf("drawdown = %.4f, want %.4f", s.portfolio.Drawdown, wantDD)
	}
}

func TestValuationSkipsUnpricedSymbols(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{prices: map[string]float64{"AAAUSDT": 100, "BBBUSDT": 100}}
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, p)

	s.OpenPosition(ctx, "AAAUSDT", models.SideLong)
	s.OpenPosition(ctx, "BBBUSDT", models.SideLong)

	p.mu.Lock()
	p.priceErr = map[string]error{"BBBUSDT": fmt.Errorf("stream down")}
	p.mu.Unlock()
	p.setPrice("AAAUSDT", 110)

	s.UpdatePortfolioValue(ctx)
	// Only the priced position contributes margin and unrealized P&L.
	aaa := s.positions["AAAUSDT"]
	want := s.portfolio.AvailableCash + aaa.Margin() + (110-aaa.EntryPrice)*aaa.Quantity
	if !almostEqual(s.portfolio.TotalValue, want) {
		t.Errorf("total = %.4f, want %.4f", s.portfolio.TotalValue, want)
	}
}

func TestCheckSignalFiresOnFreshEdgeOnly(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	useShortPeriods(cfg)
	cfg.LongCoins = []string{"AAA"}
	p := &fakeProvider{candles: map[string][]models.Candle{
		// Signal true from index 58: persisted two candles, no fresh edge.
		"AAAUSDT": trendCandles(60, 56),
	}}
	s := newTestStrategy(t, cfg, p)

	if _, fired, err := s.CheckSignal(ctx, "AAAUSDT"); err != nil || fired {
		t.Fatalf("persisted signal should not fire as fresh, got %v, %v", fired, err)
	}

	// Jump one candle later: signal true only on the latest settled candle.
	p.mu.Lock()
	p.candles["AAAUSDT"] = trendCandles(60, 57)
	p.mu.Unlock()

	side, fired, err := s.CheckSignal(ctx, "AAAUSDT")
	if err != nil || !fired {
		t.Fatalf("fresh edge should fire, got %v, %v", fired, err)
	}
	if side != models.SideLong {
		t.Errorf("side = %s, want long", side)
	}
}

func TestFormingCandleExcluded(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	useShortPeriods(cfg)
	cfg.LongCoins = []string{"AAA"}

	// 61 candles whose last bar opens in the current period. The signal
	// edge lands on that forming bar, so it must not fire yet.
	candles := trendCandles(61, 58)
	for i := range candles {
		candles[i].OpenTime = candles[i].OpenTime.Add(time.Hour)
	}
	last := candles[len(candles)-1].OpenTime
	if !last.Truncate(time.Hour).Equal(testNow.Truncate(time.Hour)) {
		t.Fatalf("fixture broken: last candle opens at %s, not the current period", last)
	}
	p := &fakeProvider{candles: map[string][]models.Candle{"AAAUSDT": candles}}
	s := newTestStrategy(t, cfg, p)

	if _, fired, _ := s.CheckSignal(ctx, "AAAUSDT"); fired {
		t.Fatal("signal on a forming candle must not fire")
	}

	// One period later the same bar has settled and the edge is real.
	s.now = func() time.Time { return testNow.Add(time.Hour) }
	if _, fired, _ := s.CheckSignal(ctx, "AAAUSDT"); !fired {
		t.Fatal("signal should fire once the candle settles")
	}
}

func TestScanRanksByTierThenPersistence(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	useShortPeriods(cfg)
	cfg.LongCoins = []string{"AAA", "BBB", "CCC"}
	p := &fakeProvider{candles: map[string][]models.Candle{
		"AAAUSDT": trendCandles(60, 57), // persistence 1, fresh
		"BBBUSDT": trendCandles(60, 52), // persistence 6, older
		"CCCUSDT": trendCandles(60, 55), // persistence 3, recent
	}}
	s := newTestStrategy(t, cfg, p)

	candidates := s.ScanForSignals(ctx)
	if len(candidates) != 3 {
		t.Fatalf("candidates = %d, want 3", len(candidates))
	}

	wantOrder := []struct {
		symbol      string
		priority    int
		persistence int
	}{
		{"AAAUSDT", 0, 1},
		{"CCCUSDT", 1, 3},
		{"BBBUSDT", 2, 6},
	}
	for i, want := range wantOrder {
		got := candidates[i]
		if got.Symbol != want.symbol || got.Priority != want.priority || got.Persistence != want.persistence {
			t.Errorf("rank %d = %s p%d/%d, want %s p%d/%d",
				i, got.Symbol, got.Priority, got.Persistence,
				want.symbol, want.priority, want.persistence)
		}
		if got.Side != models.SideLong {
			t.Errorf("rank %d side = %s, want long", i, got.Side)
		}
	}
}

func TestScanSkipsFailingSymbols(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	useShortPeriods(cfg)
	cfg.LongCoins = []string{"AAA", "BAD"}
	p := &fakeProvider{candles: map[string][]models.Candle{
		"AAAUSDT": trendCandles(60, 57),
		// BADUSDT has no candles: the fetch fails and the scan moves on.
	}}
	s := newTestStrategy(t, cfg, p)

	candidates := s.ScanForSignals(ctx)
	if len(candidates) != 1 || candidates[0].Symbol != "AAAUSDT" {
		t.Fatalf("scan should tolerate per-symbol failures, got %+v", candidates)
	}
}

func TestWarmupBlocksSignals(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	useShortPeriods(cfg)
	cfg.Warmup = time.Hour
	cfg.LongCoins = []string{"AAA"}
	p := &fakeProvider{candles: map[string][]models.Candle{"AAAUSDT": trendCandles(60, 57)}}
	s := newTestStrategy(t, cfg, p)
	s.startupTime = testNow

	if !s.InWarmup() {
		t.Fatal("expected warm-up to be active at startup")
	}
	if got := s.ScanForSignals(ctx); got != nil {
		t.Fatalf("scan during warm-up returned %+v", got)
	}
	if _, fired, _ := s.CheckSignal(ctx, "AAAUSDT"); fired {
		t.Fatal("signal check during warm-up must not fire")
	}

	s.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	if s.InWarmup() {
		t.Fatal("warm-up should be over")
	}
	if got := s.ScanForSignals(ctx); len(got) != 1 {
		t.Fatalf("scan after warm-up returned %d candidates, want 1", len(got))
	}
}

func TestCheckExitConditions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	useShortPeriods(cfg)

	// A long riding a clean uptrend has nothing to exit.
	p := &fakeProvider{candles: map[string][]models.Candle{"AAAUSDT": trendCandles(60, 38)}}
	s := newTestStrategy(t, cfg, p)
	s.positions["AAAUSDT"] = &models.Position{
		ID: "t1", Symbol: "AAAUSDT", Side: models.SideLong,
		EntryPrice: 120, Quantity: 10, Leverage: 2,
		EntryTime: testNow.Add(-3 * time.Hour), Status: models.StatusOpen,
	}

	exit, err := s.CheckExitConditions(ctx, "AAAUSDT")
	if err != nil {
		t.Fatalf("CheckExitConditions: %v", err)
	}
	if exit {
		t.Fatal("healthy uptrend should not trigger an exit for a long")
	}

	// Flip the series into a downtrend: the last close sits far below the
	// kijun and the long must be stopped out.
	down := trendCandles(60, 38)
	for i := 38; i < 60; i++ {
		c := 80.0 - float64(i-38)
		down[i].Open, down[i].Close = c, c
		down[i].High, down[i].Low = c+1, c-1
	}
	p.mu.Lock()
	p.candles["AAAUSDT"] = down
	p.mu.Unlock()

	exit, err = s.CheckExitConditions(ctx, "AAAUSDT")
	if err != nil || !exit {
		t.Fatalf("downtrend should stop out the long, got %v, %v", exit, err)
	}

	// Read-only: repeated checks agree and the position stays open.
	again, _ := s.CheckExitConditions(ctx, "AAAUSDT")
	if again != exit {
		t.Error("exit check should be repeatable")
	}
	if !s.HasPosition("AAAUSDT") {
		t.Error("exit check must not close the position itself")
	}

	if exit, _ := s.CheckExitConditions(ctx, "NONEUSDT"); exit {
		t.Error("no exit for a symbol without a position")
	}
}

func TestRecoverRederivesCash(t *testing.T) {
	cfg := testConfig(t)
	exit := testNow.Add(-time.Hour)
	seed := []*models.Position{
		{
			ID: "open-1", Symbol: "AAAUSDT", Side: models.SideLong,
			EntryPrice: 100, Quantity: 25, Leverage: 2,
			EntryTime: testNow.Add(-5 * time.Hour), Status: models.StatusOpen,
		},
		{
			ID: "closed-1", Symbol: "BBBUSDT", Side: models.SideShort,
			EntryPrice: 50, Quantity: 10, Leverage: 1,
			EntryTime: testNow.Add(-9 * time.Hour), Status: models.StatusClosed,
			ExitPrice: 40, ExitTime: &exit, PnL: 500,
		},
		{
			ID: "closed-2", Symbol: "CCCUSDT", Side: models.SideLong,
			EntryPrice: 10, Quantity: 100, Leverage: 2,
			EntryTime: testNow.Add(-8 * time.Hour), Status: models.StatusClosed,
			ExitPrice: 9, ExitTime: &exit, PnL: -200,
		},
	}
	if err := NewStore(cfg.DataDir + "/positions.json").Save(seed); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	s := newTestStrategy(t, cfg, &fakeProvider{})

	if !s.HasPosition("AAAUSDT") {
		t.Fatal("open position should be recovered")
	}
	if len(s.GetHistory(0)) != 2 {
		t.Fatalf("history = %d, want 2", len(s.GetHistory(0)))
	}
	// Cash is rederived, never read back: 10000 - 1250 margin + 300 realized.
	if !almostEqual(s.portfolio.AvailableCash, 9050) {
		t.Errorf("cash = %.2f, want 9050", s.portfolio.AvailableCash)
	}
	if !almostEqual(s.portfolio.RealizedPnL, 300) {
		t.Errorf("realized = %.2f, want 300", s.portfolio.RealizedPnL)
	}
}

func TestGetHistoryLimit(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, &fakeProvider{})
	for i := 0; i < 5; i++ {
		s.history = append(s.history, &models.Position{ID: fmt.Sprintf("t%d", i), PnL: float64(i)})
	}

	got := s.GetHistory(2)
	if len(got) != 2 || got[0].ID != "t3" || got[1].ID != "t4" {
		t.Fatalf("GetHistory(2) = %+v, want the two most recent", got)
	}
	if len(s.GetHistory(0)) != 5 {
		t.Fatal("limit 0 should return the full history")
	}
}

func TestCallbacksFireOutsideLock(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{prices: map[string]float64{"BNBUSDT": 100}}
	cfg := testConfig(t)
	s := newTestStrategy(t, cfg, p)

	var openNotified, closeNotified *models.Position
	s.SetCallbacks(
		func(pos *models.Position) {
			// Re-entering the strategy from the callback deadlocks if it
			// still holds the lock.
			s.HasPosition(pos.Symbol)
			openNotified = pos
		},
		func(pos *models.Position) {
			s.OpenSymbols()
			closeNotified = pos
		},
	)

	s.OpenPosition(ctx, "BNBUSDT", models.SideLong)
	if openNotified == nil || openNotified.Symbol != "BNBUSDT" {
		t.Fatal("open callback not invoked")
	}

	p.setPrice("BNBUSDT", 105)
	s.ClosePosition(ctx, "BNBUSDT")
	if closeNotified == nil || closeNotified.Status != models.StatusClosed {
		t.Fatal("close callback not invoked with the closed position")
	}
}
