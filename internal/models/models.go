package models

import "time"

// Side of a position
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Status of a position
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Candle is a single OHLCV bar. Series are ordered ascending by OpenTime
// with no duplicate timestamps.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Position represents a leveraged position. A closed position is immutable:
// exit fields are set exactly once, when the position is closed.
type Position struct {
	ID            string     `json:"id"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	EntryPrice    float64    `json:"entry_price"`
	Quantity      float64    `json:"quantity"`
	Leverage      float64    `json:"leverage"`
	EntryTime     time.Time  `json:"entry_time"`
	Status        Status     `json:"status"`
	ExitPrice     float64    `json:"exit_price,omitempty"`
	ExitTime      *time.Time `json:"exit_time,omitempty"`
	PnL           float64    `json:"pnl"`
	PnLPercentage float64    `json:"pnl_percentage"`
}

// Margin returns the cash locked to back this position.
func (p *Position) Margin() float64 {
	return (p.EntryPrice * p.Quantity) / p.Leverage
}

// Portfolio aggregates. Mutated only by the strategy's valuation and
// open/close paths; never set independently.
type Portfolio struct {
	TotalValue    float64 `json:"total_value"`
	AvailableCash float64 `json:"available_cash"`
	RealizedPnL   float64 `json:"realized_pnl"`
	PeakValue     float64 `json:"peak_value"`
	Drawdown      float64 `json:"drawdown"`
}

// PortfolioSummary is the read-model returned to callers.
type PortfolioSummary struct {
	TotalValue         float64 `json:"total_value"`
	AvailableCash      float64 `json:"available_cash"`
	TotalPnL           float64 `json:"total_pnl"`
	RealizedPnL        float64 `json:"realized_pnl"`
	UnrealizedPnL      float64 `json:"unrealized_pnl"`
	TotalPnLPercentage float64 `json:"total_pnl_percentage"`
	PeakValue          float64 `json:"peak_value"`
	Drawdown           float64 `json:"drawdown"`
	OpenPositions      int     `json:"open_positions"`
	TotalTrades        int     `json:"total_trades"`
}

// PositionView is a position decorated with live pricing for read paths.
type PositionView struct {
	Position
	CurrentPrice float64 `json:"current_price,omitempty"`
}

// SignalCandidate is one qualifying entry opportunity from a priority scan.
// Priority: 0 = fresh (signal true for exactly one settled candle),
// 1 = recent (2-4 candles), 2 = older (5+).
type SignalCandidate struct {
	Symbol      string `json:"symbol"`
	Side        Side   `json:"side"`
	Priority    int    `json:"priority"`
	Persistence int    `json:"persistence"`
}

// EquitySnapshot is one immutable point on the equity curve.
type EquitySnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalValue    float64   `json:"total_value"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	TotalPnL      float64   `json:"total_pnl"`
	OpenPositions int       `json:"open_positions"`
	Drawdown      float64   `json:"drawdown"`

	LongPnL           float64 `json:"long_pnl"`
	LongRealizedPnL   float64 `json:"long_realized_pnl"`
	LongUnrealizedPnL float64 `json:"long_unrealized_pnl"`
	LongPositions     int     `json:"long_positions"`

	ShortPnL           float64 `json:"short_pnl"`
	ShortRealizedPnL   float64 `json:"short_realized_pnl"`
	ShortUnrealizedPnL float64 `json:"short_unrealized_pnl"`
	ShortPositions     int     `json:"short_positions"`
}

// EquityStatistics summarises the retained equity history. The baseline for
// the return figures is the first retained snapshot, which after truncation
// is not necessarily the account's inception.
type EquityStatistics struct {
	TotalSnapshots int     `json:"total_snapshots"`
	MaxValue       float64 `json:"max_value"`
	MinValue       float64 `json:"min_value"`
	CurrentValue   float64 `json:"current_value"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
}
