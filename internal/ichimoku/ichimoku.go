package ichimoku

import (
	"math"

	"ichimoku_bot/internal/models"
)

// Ichimoku computes the cloud indicator over a settled candle series.
// Values before the minimum lookback are NaN and every predicate that
// touches a NaN input is false.
type Ichimoku struct {
	tenkanPeriod int
	kijunPeriod  int
	senkouPeriod int
	chikouPeriod int
}

func New(tenkan, kijun, senkou, chikou int) *Ichimoku {
	return &Ichimoku{
		tenkanPeriod: tenkan,
		kijunPeriod:  kijun,
		senkouPeriod: senkou,
		chikouPeriod: chikou,
	}
}

// Default returns the standard 9/26/52/26 configuration.
func Default() *Ichimoku {
	return New(9, 26, 52, 26)
}

// MinCandles is the practical minimum series length callers enforce before
// evaluating signals.
const MinCandles = 52

// Frame holds per-candle indicator values aligned with the input series.
type Frame struct {
	Tenkan      []float64
	Kijun       []float64
	SpanA       []float64
	SpanB       []float64
	Chikou      []float64
	CloudTop    []float64
	CloudBottom []float64

	LongSignal  []bool
	ShortSignal []bool
}

// Calculate computes the indicator lines and the long/short entry signals.
func (ic *Ichimoku) Calculate(candles []models.Candle) *Frame {
	n := len(candles)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	f := &Frame{
		Tenkan:      rollingMidpoint(highs, lows, ic.tenkanPeriod),
		Kijun:       rollingMidpoint(highs, lows, ic.kijunPeriod),
		SpanA:       nanSlice(n),
		SpanB:       nanSlice(n),
		Chikou:      nanSlice(n),
		CloudTop:    nanSlice(n),
		CloudBottom: nanSlice(n),
		LongSignal:  make([]bool, n),
		ShortSignal: make([]bool, n),
	}

	// Leading spans are projected forward by the kijun period: the value at
	// index i was computed from data ending kijun periods earlier.
	senkouMid := rollingMidpoint(highs, lows, ic.senkouPeriod)
	for i := ic.kijunPeriod; i < n; i++ {
		src := i - ic.kijunPeriod
		if !math.IsNaN(f.Tenkan[src]) && !math.IsNaN(f.Kijun[src]) {
			f.SpanA[i] = (f.Tenkan[src] + f.Kijun[src]) / 2
		}
		f.SpanB[i] = senkouMid[src]
	}

	// Lagging reference: the close from chikou periods ago.
	for i := ic.chikouPeriod; i < n; i++ {
		f.Chikou[i] = closes[i-ic.chikouPeriod]
	}

	for i := 0; i < n; i++ {
		if !math.IsNaN(f.SpanA[i]) && !math.IsNaN(f.SpanB[i]) {
			f.CloudTop[i] = math.Max(f.SpanA[i], f.SpanB[i])
			f.CloudBottom[i] = math.Min(f.SpanA[i], f.SpanB[i])
		}
	}

	ic.fillSignals(f, highs, lows, closes)
	return f
}

func (ic *Ichimoku) fillSignals(f *Frame, highs, lows, closes []float64) {
	for i := range closes {
		if math.IsNaN(f.CloudTop[i]) || math.IsNaN(f.Tenkan[i]) || math.IsNaN(f.Kijun[i]) {
			continue
		}
		close := closes[i]

		if close > f.CloudTop[i] && f.Tenkan[i] > f.Kijun[i] && close > f.Tenkan[i] &&
			ic.chikouCleanLong(f, lows, closes, i) {
			f.LongSignal[i] = true
		}
		if close < f.CloudBottom[i] && f.Tenkan[i] < f.Kijun[i] && close < f.Tenkan[i] &&
			ic.chikouCleanShort(f, highs, closes, i) {
			f.ShortSignal[i] = true
		}
	}
}

// chikouCleanLong reports whether the current close clears every low in the
// window the lagging span looks back over.
func (ic *Ichimoku) chikouCleanLong(f *Frame, lows, closes []float64, i int) bool {
	if math.IsNaN(f.Chikou[i]) {
		return false
	}
	lowest := math.MaxFloat64
	for j := max(0, i-ic.chikouPeriod); j <= i; j++ {
		if lows[j] < lowest {
			lowest = lows[j]
		}
	}
	return closes[i] > lowest
}

func (ic *Ichimoku) chikouCleanShort(f *Frame, highs, closes []float64, i int) bool {
	if math.IsNaN(f.Chikou[i]) {
		return false
	}
	highest := -math.MaxFloat64
	for j := max(0, i-ic.chikouPeriod); j <= i; j++ {
		if highs[j] > highest {
			highest = highs[j]
		}
	}
	return closes[i] < highest
}

// StopLoss returns the per-candle stop-loss predicate for the given side:
// close beyond the kijun line, or two consecutive closes settled inside the
// cloud band.
func (ic *Ichimoku) StopLoss(f *Frame, candles []models.Candle, side models.Side) []bool {
	n := len(candles)
	out := make([]bool, n)
	inside := make([]bool, n)
	for i := 0; i < n; i++ {
		close := candles[i].Close
		if !math.IsNaN(f.CloudBottom[i]) && !math.IsNaN(f.CloudTop[i]) {
			inside[i] = close >= f.CloudBottom[i] && close <= f.CloudTop[i]
		}

		kijunBreach := false
		if !math.IsNaN(f.Kijun[i]) {
			if side == models.SideLong {
				kijunBreach = close < f.Kijun[i]
			} else {
				kijunBreach = close > f.Kijun[i]
			}
		}
		twoInCloud := i > 0 && inside[i] && inside[i-1]
		out[i] = kijunBreach || twoInCloud
	}
	return out
}

// Target returns the per-candle take-profit predicate for the given side:
// close beyond the tenkan line, or a tenkan/kijun cross against the position.
func (ic *Ichimoku) Target(f *Frame, candles []models.Candle, side models.Side) []bool {
	n := len(candles)
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		close := candles[i].Close

		tenkanBreach := false
		if !math.IsNaN(f.Tenkan[i]) {
			if side == models.SideLong {
				tenkanBreach = close < f.Tenkan[i]
			} else {
				tenkanBreach = close > f.Tenkan[i]
			}
		}

		cross := false
		if i > 0 && !math.IsNaN(f.Tenkan[i]) && !math.IsNaN(f.Kijun[i]) &&
			!math.IsNaN(f.Tenkan[i-1]) && !math.IsNaN(f.Kijun[i-1]) {
			if side == models.SideLong {
				cross = f.Tenkan[i] < f.Kijun[i] && f.Tenkan[i-1] >= f.Kijun[i-1]
			} else {
				cross = f.Tenkan[i] > f.Kijun[i] && f.Tenkan[i-1] <= f.Kijun[i-1]
			}
		}
		out[i] = tenkanBreach || cross
	}
	return out
}

// rollingMidpoint is (highest high + lowest low) / 2 over a trailing window,
// NaN until a full window is available.
func rollingMidpoint(highs, lows []float64, window int) []float64 {
	n := len(highs)
	out := nanSlice(n)
	for i := window - 1; i < n; i++ {
		hh := -math.MaxFloat64
		ll := math.MaxFloat64
		for j := i - window + 1; j <= i; j++ {
			if highs[j] > hh {
				hh = highs[j]
			}
			if lows[j] < ll {
				ll = lows[j]
			}
		}
		out[i] = (hh + ll) / 2
	}
	return out
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
