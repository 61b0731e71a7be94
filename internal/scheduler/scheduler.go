package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"ichimoku_bot/config"
	"ichimoku_bot/internal/strategy"
)

// Scheduler drives the trading loop: a fixed tick with a longer full-cycle
// interval. Strategy state is only ever mutated from this loop (and the
// manual web endpoints, which share the strategy's lock), one cycle at a
// time. A failing cycle is logged and the loop backs off one tick; it never
// kills the process.
type Scheduler struct {
	cfg  *config.Config
	strj *strategy.Strategy

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastCycle time.Time

	now func() time.Time
}

func New(cfg *config.Config, strj *strategy.Strategy) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		strj: strj,
		now:  time.Now,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	log.Println("🤖 Trading loop started")
}

// Stop cancels the loop and waits for any in-flight cycle to finish its
// state mutation before returning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Println("🛑 Trading loop stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	// First cycle fires on the first tick rather than immediately: the
	// warm-up gate would reject it anyway.
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Recovered from panic in trading cycle: %v", r)
		}
	}()

	now := s.now()
	if !s.lastCycle.IsZero() && now.Sub(s.lastCycle) < s.cfg.ScanInterval {
		// Between cycles, keep the valuation current.
		s.strj.UpdatePortfolioValue(ctx)
		return
	}

	log.Printf("⏰ [%s] Running trading cycle...", now.Format("2006-01-02 15:04:05"))
	s.runCycle(ctx)
	s.lastCycle = now
}

func (s *Scheduler) runCycle(ctx context.Context) {
	// Step 1: exit checks, only in the window just past a settlement
	// boundary and only with open positions.
	open := s.strj.OpenSymbols()
	if s.inExitWindow() && len(open) > 0 {
		log.Println("📊 Checking exit conditions for open positions (hourly check)...")
		closed := 0
		for _, symbol := range open {
			shouldExit, err := s.strj.CheckExitConditions(ctx, symbol)
			if err != nil {
				log.Printf("⚠️ Error checking exit conditions for %s: %v", symbol, err)
				continue
			}
			if !shouldExit {
				continue
			}
			ok, err := s.strj.ClosePosition(ctx, symbol)
			if err != nil {
				log.Printf("❌ Failed to close position %s: %v", symbol, err)
				continue
			}
			if ok {
				closed++
			}
		}
		if closed > 0 {
			log.Printf("📉 Closed %d position(s)", closed)
		}
	}

	// Step 2: unconditional scan; ranking order decides who claims the
	// remaining capital and slots first.
	candidates := s.strj.ScanForSignals(ctx)
	opened := 0
	for _, c := range candidates {
		if s.strj.HasPosition(c.Symbol) {
			continue
		}
		ok, err := s.strj.OpenPosition(ctx, c.Symbol, c.Side)
		if err != nil {
			log.Printf("❌ Failed to open position %s: %v", c.Symbol, err)
			continue
		}
		if ok {
			opened++
		}
	}
	if opened > 0 {
		log.Printf("📈 Opened %d new position(s)", opened)
	}

	// Step 3: valuation pass.
	s.strj.UpdatePortfolioValue(ctx)
}

// inExitWindow reports whether the clock sits a few minutes past the hourly
// settlement boundary, where freshly settled candles are worth re-checking.
func (s *Scheduler) inExitWindow() bool {
	minute := s.now().Minute()
	return minute >= 2 && minute <= 7
}
