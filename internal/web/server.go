package web

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"ichimoku_bot/config"
	"ichimoku_bot/internal/equity"
	"ichimoku_bot/internal/models"
	"ichimoku_bot/internal/scheduler"
	"ichimoku_bot/internal/strategy"
)

// Server exposes the strategy over a JSON API. All read endpoints go
// through the strategy's locked getters and can run concurrently with the
// trading loop.
type Server struct {
	cfg       *config.Config
	strategy  *strategy.Strategy
	scheduler *scheduler.Scheduler
	tracker   *equity.Tracker
}

func NewServer(cfg *config.Config, strj *strategy.Strategy, sched *scheduler.Scheduler, tracker *equity.Tracker) *Server {
	return &Server{
		cfg:       cfg,
		strategy:  strj,
		scheduler: sched,
		tracker:   tracker,
	}
}

func (s *Server) Start() {
	http.HandleFunc("/", s.handleIndex)
	http.HandleFunc("/api/portfolio", s.handlePortfolio)
	http.HandleFunc("/api/positions", s.handlePositions)
	http.HandleFunc("/api/history", s.handleHistory)
	http.HandleFunc("/api/signals", s.handleSignals)
	http.HandleFunc("/api/trade", s.handleTrade)
	http.HandleFunc("/api/check-exits", s.handleCheckExits)
	http.HandleFunc("/api/config", s.handleConfig)
	http.HandleFunc("/api/equity-curve", s.handleEquityCurve)
	http.HandleFunc("/api/trades/download", s.handleTradesDownload)
	http.HandleFunc("/api/health", s.handleHealth)

	log.Printf("🌐 API server starting on http://localhost:%s", s.cfg.Port)
	go func() {
		if err := http.ListenAndServe(":"+s.cfg.Port, nil); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"message": "Ichimoku Cloud Trading Bot API",
		"version": "1.0.0",
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.strategy.GetPortfolioSummary(r.Context()))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"positions": s.strategy.GetPositions(r.Context()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, map[string]interface{}{
		"trades": s.strategy.GetHistory(limit),
	})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"signals": s.strategy.ScanForSignals(r.Context()),
	})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Symbol string      `json:"symbol"`
		Side   models.Side `json:"side"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Side != models.SideLong && req.Side != models.SideShort {
		http.Error(w, "side must be long or short", http.StatusBadRequest)
		return
	}

	opened, err := s.strategy.OpenPosition(r.Context(), req.Symbol, req.Side)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if !opened {
		writeJSON(w, map[string]string{
			"error": fmt.Sprintf("Failed to open %s position in %s", req.Side, req.Symbol),
		})
		return
	}
	writeJSON(w, map[string]string{
		"message": fmt.Sprintf("Successfully opened %s position in %s", req.Side, req.Symbol),
	})
}

func (s *Server) handleCheckExits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var closed []string
	for _, symbol := range s.strategy.OpenSymbols() {
		shouldExit, err := s.strategy.CheckExitConditions(r.Context(), symbol)
		if err != nil || !shouldExit {
			continue
		}
		if ok, _ := s.strategy.ClosePosition(r.Context(), symbol); ok {
			closed = append(closed, symbol)
		}
	}
	writeJSON(w, map[string]interface{}{
		"closed_positions": closed,
		"count":            len(closed),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]interface{}{
			"long_coins":              s.cfg.LongCoins,
			"initial_portfolio_value": s.cfg.InitialPortfolioValue,
			"current_portfolio_value": s.cfg.PortfolioValue(),
			"long_leverage":           s.cfg.LongLeverage(),
			"short_leverage":          s.cfg.ShortLeverage,
			"max_long_positions":      s.cfg.MaxLongPositions,
			"max_short_positions":     s.cfg.MaxShortPositions,
			"timeframe":               s.cfg.Timeframe,
		})
	case http.MethodPut:
		var req struct {
			PortfolioValue *float64 `json:"portfolio_value"`
			LongLeverage   *float64 `json:"long_leverage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.PortfolioValue != nil {
			if err := s.cfg.UpdatePortfolioValue(*req.PortfolioValue); err != nil {
				writeJSON(w, map[string]string{"error": err.Error()})
				return
			}
		}
		if req.LongLeverage != nil {
			if err := s.cfg.UpdateLongLeverage(*req.LongLeverage); err != nil {
				writeJSON(w, map[string]string{"error": err.Error()})
				return
			}
		}
		writeJSON(w, map[string]string{"message": "Configuration updated successfully"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleEquityCurve(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, map[string]interface{}{
		"history":    s.tracker.GetHistory(limit),
		"statistics": s.tracker.GetStatistics(),
	})
}

func (s *Server) handleTradesDownload(w http.ResponseWriter, r *http.Request) {
	trades := s.strategy.GetHistory(0)

	filename := fmt.Sprintf("trades_history_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	writer := csv.NewWriter(w)
	defer writer.Flush()

	writer.Write([]string{
		"Symbol", "Type", "Entry Price", "Exit Price", "Quantity", "Leverage",
		"Entry Time", "Exit Time", "Duration (hours)", "P&L ($)", "P&L (%)",
		"Position Value", "Margin Used",
	})

	for _, trade := range trades {
		exitPrice := "N/A"
		exitTime := "N/A"
		duration := 0.0
		if trade.ExitPrice > 0 {
			exitPrice = strconv.FormatFloat(trade.ExitPrice, 'f', 6, 64)
		}
		if trade.ExitTime != nil {
			exitTime = trade.ExitTime.Format("2006-01-02 15:04:05")
			duration = trade.ExitTime.Sub(trade.EntryTime).Hours()
		}
		positionValue := trade.EntryPrice * trade.Quantity
		writer.Write([]string{
			trade.Symbol,
			string(trade.Side),
			strconv.FormatFloat(trade.EntryPrice, 'f', 6, 64),
			exitPrice,
			strconv.FormatFloat(trade.Quantity, 'f', 6, 64),
			strconv.FormatFloat(trade.Leverage, 'f', 1, 64),
			trade.EntryTime.Format("2006-01-02 15:04:05"),
			exitTime,
			strconv.FormatFloat(duration, 'f', 2, 64),
			strconv.FormatFloat(trade.PnL, 'f', 2, 64),
			strconv.FormatFloat(trade.PnLPercentage, 'f', 2, 64),
			strconv.FormatFloat(positionValue, 'f', 2, 64),
			strconv.FormatFloat(positionValue/trade.Leverage, 'f', 2, 64),
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":               "healthy",
		"timestamp":            time.Now().Format(time.RFC3339),
		"trading_loop_running": s.scheduler.IsRunning(),
		"warming_up":           s.strategy.InWarmup(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
