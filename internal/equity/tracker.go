package equity

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ichimoku_bot/internal/models"
)

// maxSnapshots bounds the retained history; older entries are truncated.
const maxSnapshots = 1000

// Tracker keeps an append-only equity curve. Snapshots are immutable once
// recorded and monetary fields are rounded to 2 decimal places at write time.
type Tracker struct {
	path string

	mu      sync.RWMutex
	history []models.EquitySnapshot
}

func NewTracker(path string) *Tracker {
	t := &Tracker{path: path}
	t.load()
	return t
}

func (t *Tracker) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("⚠️ Error loading equity history: %v", err)
		}
		return
	}
	if err := json.Unmarshal(data, &t.history); err != nil {
		log.Printf("⚠️ Error parsing equity history: %v", err)
		t.history = nil
	}
}

// AddSnapshot appends a snapshot, rounds its monetary fields, truncates the
// log past the cap and persists it.
func (t *Tracker) AddSnapshot(snap models.EquitySnapshot) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	snap.TotalValue = Round2(snap.TotalValue)
	snap.RealizedPnL = Round2(snap.RealizedPnL)
	snap.UnrealizedPnL = Round2(snap.UnrealizedPnL)
	snap.TotalPnL = Round2(snap.RealizedPnL + snap.UnrealizedPnL)
	snap.Drawdown = Round2(snap.Drawdown)
	snap.LongPnL = Round2(snap.LongRealizedPnL + snap.LongUnrealizedPnL)
	snap.LongRealizedPnL = Round2(snap.LongRealizedPnL)
	snap.LongUnrealizedPnL = Round2(snap.LongUnrealizedPnL)
	snap.ShortPnL = Round2(snap.ShortRealizedPnL + snap.ShortUnrealizedPnL)
	snap.ShortRealizedPnL = Round2(snap.ShortRealizedPnL)
	snap.ShortUnrealizedPnL = Round2(snap.ShortUnrealizedPnL)

	t.mu.Lock()
	t.history = append(t.history, snap)
	if len(t.history) > maxSnapshots {
		t.history = t.history[len(t.history)-maxSnapshots:]
	}
	snapshot := make([]models.EquitySnapshot, len(t.history))
	copy(snapshot, t.history)
	t.mu.Unlock()

	if err := t.save(snapshot); err != nil {
		log.Printf("⚠️ Error saving equity history: %v", err)
	}
}

func (t *Tracker) save(history []models.EquitySnapshot) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".equity-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), t.path)
}

// GetHistory returns the most recent limit snapshots, oldest first.
func (t *Tracker) GetHistory(limit int) []models.EquitySnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	start := 0
	if limit > 0 && len(t.history) > limit {
		start = len(t.history) - limit
	}
	out := make([]models.EquitySnapshot, len(t.history)-start)
	copy(out, t.history[start:])
	return out
}

// GetStatistics summarises the retained history. The return baseline is the
// first retained snapshot, not the account's true inception once the log has
// rolled over.
func (t *Tracker) GetStatistics() models.EquityStatistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.history) == 0 {
		return models.EquityStatistics{}
	}

	stats := models.EquityStatistics{
		TotalSnapshots: len(t.history),
		MaxValue:       t.history[0].TotalValue,
		MinValue:       t.history[0].TotalValue,
	}
	for _, s := range t.history {
		if s.TotalValue > stats.MaxValue {
			stats.MaxValue = s.TotalValue
		}
		if s.TotalValue < stats.MinValue {
			stats.MinValue = s.TotalValue
		}
		if s.Drawdown > stats.MaxDrawdown {
			stats.MaxDrawdown = s.Drawdown
		}
	}

	initial := t.history[0].TotalValue
	current := t.history[len(t.history)-1].TotalValue
	stats.CurrentValue = current
	stats.TotalReturn = Round2(current - initial)
	if initial > 0 {
		stats.TotalReturnPct = Round2((current - initial) / initial * 100)
	}
	return stats
}

// Round2 rounds a monetary amount to 2 decimal places.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
