package strategy

import (
	"context"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ichimoku_bot/config"
	"ichimoku_bot/internal/equity"
	"ichimoku_bot/internal/ichimoku"
	"ichimoku_bot/internal/market"
	"ichimoku_bot/internal/models"
)

// candleLimit is how many candles each evaluation fetches. Large enough for
// the cloud to be fully defined on the latest candles (senkou + kijun
// periods of warm-up) with room to measure signal persistence.
const candleLimit = 100

// Strategy owns the signal scanner and the portfolio state machine. All
// state mutation happens under mu; market-data calls are never made while
// holding it, so read queries stay responsive during a scan.
type Strategy struct {
	cfg     *config.Config
	data    market.Provider
	cloud   *ichimoku.Ichimoku
	tracker *equity.Tracker
	store   *Store

	mu         sync.RWMutex
	positions  map[string]*models.Position
	history    []*models.Position
	portfolio  models.Portfolio
	lastAction map[string]time.Time

	startupTime time.Time
	now         func() time.Time

	onTradeOpen  func(*models.Position)
	onTradeClose func(*models.Position)
}

func New(cfg *config.Config, data market.Provider, tracker *equity.Tracker) *Strategy {
	s := &Strategy{
		cfg:        cfg,
		data:       data,
		cloud:      ichimoku.New(cfg.TenkanPeriod, cfg.KijunPeriod, cfg.SenkouPeriod, cfg.ChikouPeriod),
		tracker:    tracker,
		store:      NewStore(filepath.Join(cfg.DataDir, "positions.json")),
		positions:  make(map[string]*models.Position),
		lastAction: make(map[string]time.Time),
		now:        time.Now,
	}
	s.startupTime = s.now()
	s.portfolio = models.Portfolio{
		TotalValue:    cfg.PortfolioValue(),
		AvailableCash: cfg.PortfolioValue(),
		PeakValue:     cfg.PortfolioValue(),
	}

	log.Printf("🚀 Trading strategy initialized at %s", s.startupTime.Format("2006-01-02 15:04:05"))
	log.Printf("⏳ Warm-up period: %s (no trades until one complete cycle observed)", cfg.Warmup)

	s.recover()
	return s
}

// recover repopulates state from the position store. Available cash is never
// trusted from disk: it is rederived from the configured capital minus the
// margin locked by recovered open positions plus realized P&L of closed ones.
func (s *Strategy) recover() {
	positions, err := s.store.Load()
	if err != nil {
		log.Printf("⚠️ Error loading positions: %v", err)
		return
	}
	if len(positions) == 0 {
		return
	}

	cash := s.cfg.PortfolioValue()
	realized := 0.0
	for _, pos := range positions {
		if pos.Status == models.StatusOpen {
			s.positions[pos.Symbol] = pos
			cash -= pos.Margin()
		} else {
			s.history = append(s.history, pos)
			realized += pos.PnL
		}
	}
	cash += realized

	s.portfolio.AvailableCash = cash
	s.portfolio.RealizedPnL = realized

	log.Printf("Loaded %d open positions and %d closed trades", len(s.positions), len(s.history))
	log.Printf("Realized P&L: $%.2f | Available Cash: $%.2f", realized, cash)
}

// SetCallbacks registers trade notification hooks. Callbacks receive a copy
// of the position and are invoked outside the state lock.
func (s *Strategy) SetCallbacks(onTradeOpen, onTradeClose func(*models.Position)) {
	s.onTradeOpen = onTradeOpen
	s.onTradeClose = onTradeClose
}

// InWarmup reports whether the post-startup warm-up period is still running.
func (s *Strategy) InWarmup() bool {
	return s.now().Sub(s.startupTime) < s.cfg.Warmup
}

// fetchSettled fetches candles for a symbol and drops the forming candle if
// its period has not fully elapsed yet. Only settled candles feed signals.
func (s *Strategy) fetchSettled(ctx context.Context, symbol string) ([]models.Candle, error) {
	candles, err := s.data.GetCandles(ctx, symbol, s.cfg.Timeframe, candleLimit)
	if err != nil {
		return nil, err
	}
	return s.dropForming(candles), nil
}

func (s *Strategy) dropForming(candles []models.Candle) []models.Candle {
	if len(candles) == 0 {
		return candles
	}
	period := s.cfg.TimeframeDuration()
	last := candles[len(candles)-1].OpenTime
	if last.Truncate(period).Equal(s.now().Truncate(period)) {
		return candles[:len(candles)-1]
	}
	return candles
}

// CheckSignal is the strict single-symbol query: a signal fires only on a
// false-to-true edge between the two most recent settled candles.
func (s *Strategy) CheckSignal(ctx context.Context, symbol string) (models.Side, bool, error) {
	if s.InWarmup() {
		remaining := s.cfg.Warmup - s.now().Sub(s.startupTime)
		log.Printf("⏳ Warm-up period: %d minutes remaining", int(remaining.Minutes()))
		return "", false, nil
	}

	candles, err := s.fetchSettled(ctx, symbol)
	if err != nil {
		return "", false, err
	}
	if len(candles) < ichimoku.MinCandles || len(candles) < 2 {
		return "", false, nil
	}

	f := s.cloud.Calculate(candles)
	i := len(candles) - 1

	if f.LongSignal[i] && !f.LongSignal[i-1] && s.cfg.IsLongCoin(symbol) {
		log.Printf("🆕 Fresh LONG signal detected for %s", symbol)
		return models.SideLong, true, nil
	}
	if f.ShortSignal[i] && !f.ShortSignal[i-1] {
		log.Printf("🆕 Fresh SHORT signal detected for %s", symbol)
		return models.SideShort, true, nil
	}
	return "", false, nil
}

// ScanForSignals evaluates the full eligible set and ranks current signals:
// tier 0 fresh (persistence 1), tier 1 recent (2-4), tier 2 older (5+).
// Within a tier, longer-persisted signals rank first. Per-symbol failures
// are skipped so one bad fetch never aborts the scan.
func (s *Strategy) ScanForSignals(ctx context.Context) []models.SignalCandidate {
	if s.InWarmup() {
		remaining := s.cfg.Warmup - s.now().Sub(s.startupTime)
		log.Printf("⏳ Warm-up period: %d minutes remaining", int(remaining.Minutes()))
		return nil
	}

	longSymbols := s.cfg.LongSymbols()
	shortSymbols, err := s.data.GetShortableSymbols(ctx, longSymbols, s.cfg.MinVolumeThreshold, s.cfg.ShortSymbolLimit)
	if err != nil {
		log.Printf("⚠️ Failed to fetch shortable symbols: %v", err)
	}

	var candidates []models.SignalCandidate
	for _, symbol := range longSymbols {
		if c := s.signalWithPriority(ctx, symbol, models.SideLong); c != nil {
			candidates = append(candidates, *c)
		}
	}
	for _, symbol := range shortSymbols {
		if c := s.signalWithPriority(ctx, symbol, models.SideShort); c != nil {
			candidates = append(candidates, *c)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Persistence > candidates[j].Persistence
	})

	if len(candidates) > 0 {
		labels := map[int]string{0: "🆕 FRESH", 1: "⏰ RECENT", 2: "⏳ OLDER"}
		log.Println("📊 Signal Priority Ranking:")
		for i, c := range candidates {
			if i >= 10 {
				break
			}
			log.Printf("  %d. %s: %s (%d candles) - %s", i+1, c.Symbol, labels[c.Priority], c.Persistence, c.Side)
		}
	}
	return candidates
}

func (s *Strategy) signalWithPriority(ctx context.Context, symbol string, side models.Side) *models.SignalCandidate {
	candles, err := s.fetchSettled(ctx, symbol)
	if err != nil {
		log.Printf("⚠️ Skipping %s: %v", symbol, err)
		return nil
	}
	if len(candles) < ichimoku.MinCandles {
		return nil
	}

	f := s.cloud.Calculate(candles)
	i := len(candles) - 1

	column := f.LongSignal
	if side == models.SideShort {
		column = f.ShortSignal
	}
	if !column[i] {
		return nil
	}

	persistence := 0
	for j := i; j >= 0 && column[j]; j-- {
		persistence++
	}

	priority := 2
	switch {
	case persistence == 1:
		priority = 0
	case persistence <= 4:
		priority = 1
	}

	return &models.SignalCandidate{
		Symbol:      symbol,
		Side:        side,
		Priority:    priority,
		Persistence: persistence,
	}
}

// OpenPosition opens a position for a ranked signal. Expected rejections
// (existing position, side limit, duplicate candle, bad price, zero size)
// return false with no state change; only market-data failures are errors.
func (s *Strategy) OpenPosition(ctx context.Context, symbol string, side models.Side) (bool, error) {
	s.mu.RLock()
	_, exists := s.positions[symbol]
	s.mu.RUnlock()
	if exists {
		return false, nil
	}

	if s.actedOnCurrentCandle(symbol) {
		log.Printf("Already acted on %s this candle, skipping duplicate entry", symbol)
		return false, nil
	}

	entryPrice, err := s.data.GetLastPrice(ctx, symbol)
	if err != nil {
		return false, err
	}
	if entryPrice <= 0 {
		log.Printf("⚠️ Invalid entry price %.4f for %s", entryPrice, symbol)
		return false, nil
	}

	s.mu.Lock()
	if _, ok := s.positions[symbol]; ok {
		s.mu.Unlock()
		return false, nil
	}
	longCount, shortCount := s.countBySideLocked()
	if (side == models.SideLong && longCount >= s.cfg.MaxLongPositions) ||
		(side == models.SideShort && shortCount >= s.cfg.MaxShortPositions) {
		s.mu.Unlock()
		return false, nil
	}

	quantity, leverage := s.positionSizeLocked(side, entryPrice)
	if quantity <= 0 {
		s.mu.Unlock()
		return false, nil
	}

	pos := &models.Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entryPrice,
		Quantity:   quantity,
		Leverage:   leverage,
		EntryTime:  s.now(),
		Status:     models.StatusOpen,
	}
	s.positions[symbol] = pos
	s.portfolio.AvailableCash -= pos.Margin()
	s.lastAction[symbol] = s.now()
	s.persistLocked()
	opened := *pos
	s.mu.Unlock()

	log.Printf("✅ Opened %s position in %s at $%.4f | Qty: %.6f | %gx", side, symbol, entryPrice, quantity, leverage)
	if s.onTradeOpen != nil {
		s.onTradeOpen(&opened)
	}
	return true, nil
}

// positionSizeLocked splits available cash into per-side sleeves and divides
// each sleeve across that side's position slots. The per-slot allocation is
// the margin that gets locked; the leveraged notional determines quantity.
func (s *Strategy) positionSizeLocked(side models.Side, entryPrice float64) (quantity, leverage float64) {
	cash := s.portfolio.AvailableCash
	var allocation float64
	if side == models.SideLong {
		allocation = cash * s.cfg.LongAllocation / float64(s.cfg.MaxLongPositions)
		leverage = s.cfg.LongLeverage()
	} else {
		allocation = cash * (1 - s.cfg.LongAllocation) / float64(s.cfg.MaxShortPositions)
		leverage = s.cfg.ShortLeverage
	}
	quantity = (allocation * leverage) / entryPrice
	return quantity, leverage
}

// actedOnCurrentCandle guards against a second entry or re-entry for a
// symbol before a new candle has settled. Both timestamps are truncated
// to the candle period, so the guard clears as soon as the period rolls.
func (s *Strategy) actedOnCurrentCandle(symbol string) bool {
	s.mu.RLock()
	last, ok := s.lastAction[symbol]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	period := s.cfg.TimeframeDuration()
	return last.Truncate(period).Equal(s.now().Truncate(period))
}

// ClosePosition closes an open position at the current market price,
// realizes its P&L and moves it to the trade history.
func (s *Strategy) ClosePosition(ctx context.Context, symbol string) (bool, error) {
	s.mu.RLock()
	_, ok := s.positions[symbol]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	exitPrice, err := s.data.GetLastPrice(ctx, symbol)
	if err != nil {
		return false, err
	}
	if exitPrice <= 0 {
		log.Printf("⚠️ Invalid exit price %.4f for %s", exitPrice, symbol)
		return false, nil
	}

	s.mu.Lock()
	pos, ok := s.positions[symbol]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}

	margin := pos.Margin()
	now := s.now()
	pos.ExitPrice = exitPrice
	pos.ExitTime = &now
	if pos.Side == models.SideLong {
		pos.PnL = (exitPrice - pos.EntryPrice) * pos.Quantity * pos.Leverage
	} else {
		pos.PnL = (pos.EntryPrice - exitPrice) * pos.Quantity * pos.Leverage
	}
	pos.PnLPercentage = pos.PnL / (pos.EntryPrice * pos.Quantity) * 100
	pos.Status = models.StatusClosed

	s.portfolio.AvailableCash += margin + pos.PnL
	s.portfolio.RealizedPnL += pos.PnL
	s.history = append(s.history, pos)
	delete(s.positions, symbol)
	s.lastAction[symbol] = now
	s.persistLocked()
	closed := *pos
	s.mu.Unlock()

	log.Printf("🎯 Closed %s position in %s at $%.4f | P&L: $%.2f (%.2f%%)", closed.Side, symbol, exitPrice, closed.PnL, closed.PnLPercentage)
	if s.onTradeClose != nil {
		s.onTradeClose(&closed)
	}
	return true, nil
}

// CheckExitConditions re-evaluates the stop-loss and target predicates for
// an open position on the latest settled candle. Read-only.
func (s *Strategy) CheckExitConditions(ctx context.Context, symbol string) (bool, error) {
	s.mu.RLock()
	pos, ok := s.positions[symbol]
	var side models.Side
	if ok {
		side = pos.Side
	}
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	candles, err := s.fetchSettled(ctx, symbol)
	if err != nil {
		return false, err
	}
	if len(candles) == 0 {
		return false, nil
	}

	f := s.cloud.Calculate(candles)
	i := len(candles) - 1
	stop := s.cloud.StopLoss(f, candles, side)[i]
	target := s.cloud.Target(f, candles, side)[i]
	return stop || target, nil
}

// UpdatePortfolioValue recomputes total value, peak and drawdown from live
// prices. Symbols whose price fetch fails are skipped for this pass. This is
// the only path that mutates peak and drawdown.
func (s *Strategy) UpdatePortfolioValue(ctx context.Context) {
	prices := s.fetchOpenPrices(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	lockedCapital := 0.0
	unrealized := 0.0
	for symbol, pos := range s.positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		lockedCapital += pos.Margin()
		if pos.Side == models.SideLong {
			unrealized += (price - pos.EntryPrice) * pos.Quantity
		} else {
			unrealized += (pos.EntryPrice - price) * pos.Quantity
		}
	}

	s.portfolio.TotalValue = s.portfolio.AvailableCash + lockedCapital + unrealized
	if s.portfolio.TotalValue > s.portfolio.PeakValue {
		s.portfolio.PeakValue = s.portfolio.TotalValue
		s.portfolio.Drawdown = 0
	} else {
		s.portfolio.Drawdown = (s.portfolio.PeakValue - s.portfolio.TotalValue) / s.portfolio.PeakValue * 100
	}
}

// fetchOpenPrices grabs a live price for every open symbol without holding
// the state lock.
func (s *Strategy) fetchOpenPrices(ctx context.Context) map[string]float64 {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.positions))
	for symbol := range s.positions {
		symbols = append(symbols, symbol)
	}
	s.mu.RUnlock()

	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		price, err := s.data.GetLastPrice(ctx, symbol)
		if err != nil {
			log.Printf("⚠️ Failed to fetch price for %s: %v", symbol, err)
			continue
		}
		prices[symbol] = price
	}
	return prices
}

// GetPortfolioSummary runs a valuation pass, records an equity snapshot and
// returns the aggregate read-model.
func (s *Strategy) GetPortfolioSummary(ctx context.Context) models.PortfolioSummary {
	s.UpdatePortfolioValue(ctx)
	prices := s.fetchOpenPrices(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := models.EquitySnapshot{
		Timestamp:     s.now(),
		TotalValue:    s.portfolio.TotalValue,
		RealizedPnL:   s.portfolio.RealizedPnL,
		Drawdown:      s.portfolio.Drawdown,
		OpenPositions: len(s.positions),
	}
	for symbol, pos := range s.positions {
		if pos.Side == models.SideLong {
			snap.LongPositions++
		} else {
			snap.ShortPositions++
		}
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		var diff float64
		if pos.Side == models.SideLong {
			diff = (price - pos.EntryPrice) * pos.Quantity
			snap.LongUnrealizedPnL += diff
		} else {
			diff = (pos.EntryPrice - price) * pos.Quantity
			snap.ShortUnrealizedPnL += diff
		}
		snap.UnrealizedPnL += diff
	}
	for _, trade := range s.history {
		if trade.Side == models.SideLong {
			snap.LongRealizedPnL += trade.PnL
		} else {
			snap.ShortRealizedPnL += trade.PnL
		}
	}

	if s.tracker != nil {
		s.tracker.AddSnapshot(snap)
	}

	totalPnL := s.portfolio.RealizedPnL + snap.UnrealizedPnL
	return models.PortfolioSummary{
		TotalValue:         equity.Round2(s.portfolio.TotalValue),
		AvailableCash:      equity.Round2(s.portfolio.AvailableCash),
		TotalPnL:           equity.Round2(totalPnL),
		RealizedPnL:        equity.Round2(s.portfolio.RealizedPnL),
		UnrealizedPnL:      equity.Round2(snap.UnrealizedPnL),
		TotalPnLPercentage: equity.Round2(totalPnL / s.cfg.InitialPortfolioValue * 100),
		PeakValue:          equity.Round2(s.portfolio.PeakValue),
		Drawdown:           equity.Round2(s.portfolio.Drawdown),
		OpenPositions:      len(s.positions),
		TotalTrades:        len(s.history),
	}
}

// GetPositions returns the open positions decorated with live prices and
// unrealized P&L.
func (s *Strategy) GetPositions(ctx context.Context) []models.PositionView {
	prices := s.fetchOpenPrices(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]models.PositionView, 0, len(s.positions))
	for symbol, pos := range s.positions {
		view := models.PositionView{Position: *pos}
		if price, ok := prices[symbol]; ok {
			view.CurrentPrice = price
			var diff float64
			if pos.Side == models.SideLong {
				diff = (price - pos.EntryPrice) * pos.Quantity
			} else {
				diff = (pos.EntryPrice - price) * pos.Quantity
			}
			view.PnL = equity.Round2(diff)
			view.PnLPercentage = equity.Round2(diff / (pos.EntryPrice * pos.Quantity) * 100)
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Symbol < views[j].Symbol })
	return views
}

// GetHistory returns up to limit most recent closed trades, oldest first.
func (s *Strategy) GetHistory(limit int) []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.history) > limit {
		start = len(s.history) - limit
	}
	out := make([]models.Position, 0, len(s.history)-start)
	for _, pos := range s.history[start:] {
		out = append(out, *pos)
	}
	return out
}

// OpenSymbols returns the symbols with an open position.
func (s *Strategy) OpenSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.positions))
	for symbol := range s.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// HasPosition reports whether a symbol currently has an open position.
func (s *Strategy) HasPosition(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.positions[symbol]
	return ok
}

func (s *Strategy) countBySideLocked() (longCount, shortCount int) {
	for _, pos := range s.positions {
		if pos.Side == models.SideLong {
			longCount++
		} else {
			shortCount++
		}
	}
	return
}

// persistLocked saves all positions. Failures are logged only: the
// in-memory state stays authoritative for the running session.
func (s *Strategy) persistLocked() {
	all := make([]*models.Position, 0, len(s.positions)+len(s.history))
	for _, pos := range s.positions {
		all = append(all, pos)
	}
	all = append(all, s.history...)
	if err := s.store.Save(all); err != nil {
		log.Printf("⚠️ Error saving positions: %v", err)
	}
}
