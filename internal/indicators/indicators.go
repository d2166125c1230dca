// Package indicators computes the daily technical-indicator set from
// an ascending price series. Every value is optional: a nil pointer
// means the indicator's warm-up window is not satisfied yet, never
// zero.
package indicators

import (
	"math"

	"github.com/stockcheck/stockcheck/internal/dataflows"
)

// Row is the indicator set for one calendar day.
type Row struct {
	Date       string
	SMA20      *float64
	SMA50      *float64
	EMA12      *float64
	EMA26      *float64
	RSI14      *float64
	MACD       *float64
	MACDSignal *float64
	MACDHist   *float64
	BBMid      *float64
	BBUpper    *float64
	BBLower    *float64
}

// Compute derives one Row per input row. The input must already be
// sorted ascending by date (the adapter contract); results are
// recomputed from scratch over the whole window each run.
func Compute(rows []dataflows.PriceRow) []Row {
	n := len(rows)
	if n == 0 {
		return nil
	}

	closes := make([]float64, n)
	for i, row := range rows {
		closes[i] = row.Close
	}

	sma20 := sma(closes, 20)
	sma50 := sma(closes, 50)
	ema12Vals := emaValues(closes, 12)
	ema26Vals := emaValues(closes, 26)
	rsi14 := rsi(closes, 14)
	bbMid, bbUpper, bbLower := bollinger(closes, 20, 2.0)

	macdVals, macdDefined := macdLine(ema12Vals, ema26Vals, 26)
	signal := signalLine(macdVals, macdDefined, 9)

	out := make([]Row, n)
	for i := range rows {
		row := Row{
			Date:    rows[i].Date,
			SMA20:   sma20[i],
			SMA50:   sma50[i],
			EMA12:   maskedAt(ema12Vals, i, 12),
			EMA26:   maskedAt(ema26Vals, i, 26),
			RSI14:   rsi14[i],
			BBMid:   bbMid[i],
			BBUpper: bbUpper[i],
			BBLower: bbLower[i],
		}
		if macdDefined <= i {
			row.MACD = ptr(macdVals[i])
		}
		if signal[i] != nil {
			row.MACDSignal = signal[i]
			row.MACDHist = ptr(macdVals[i] - *signal[i])
		}
		out[i] = row
	}
	return out
}

func ptr(v float64) *float64 { return &v }

// sma computes the trailing arithmetic mean, undefined before period
// observations exist.
func sma(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			out[i] = ptr(sum / float64(period))
		}
	}
	return out
}

// emaValues runs the EMA recursion seeded at the first observation
// (smoothing 2/(n+1)). Warm-up masking is applied separately so the
// unmasked values stay available for MACD.
func emaValues(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	v := closes[0]
	out[0] = v
	for i := 1; i < len(closes); i++ {
		v = alpha*closes[i] + (1-alpha)*v
		out[i] = v
	}
	return out
}

func maskedAt(values []float64, i, period int) *float64 {
	if i < period-1 {
		return nil
	}
	return ptr(values[i])
}

// rsi is Wilder's smoothed RSI: gains and losses averaged with
// exponential smoothing factor 1/period, seeded at the first delta.
func rsi(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if len(closes) < 2 {
		return out
	}
	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		if i == 1 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgLoss = alpha*loss + (1-alpha)*avgLoss
		}
		// period deltas observed => defined from index period onward
		if i < period {
			continue
		}
		if avgLoss == 0 {
			// All-gain window pegs at 100; a fully flat window has
			// no defined relative strength at all.
			if avgGain > 0 {
				out[i] = ptr(100.0)
			}
			continue
		}
		rs := avgGain / avgLoss
		out[i] = ptr(100.0 - 100.0/(1.0+rs))
	}
	return out
}

// macdLine subtracts the slow EMA from the fast one. The line is
// defined once the slow EMA's warm-up is satisfied; the returned
// index is the first defined position.
func macdLine(fast, slow []float64, slowPeriod int) (values []float64, defined int) {
	values = make([]float64, len(fast))
	for i := range fast {
		values[i] = fast[i] - slow[i]
	}
	return values, slowPeriod - 1
}

// signalLine is an EMA over the defined span of the MACD line,
// undefined until signalPeriod MACD observations exist.
func signalLine(macd []float64, defined, signalPeriod int) []*float64 {
	out := make([]*float64, len(macd))
	if defined >= len(macd) {
		return out
	}
	alpha := 2.0 / (float64(signalPeriod) + 1.0)
	v := macd[defined]
	for i := defined; i < len(macd); i++ {
		if i > defined {
			v = alpha*macd[i] + (1-alpha)*v
		}
		if i-defined >= signalPeriod-1 {
			out[i] = ptr(v)
		}
	}
	return out
}

// bollinger computes the 20-period middle band with upper/lower at
// mid +/- mult * sample standard deviation.
func bollinger(closes []float64, period int, mult float64) (mid, upper, lower []*float64) {
	n := len(closes)
	mid = sma(closes, period)
	upper = make([]*float64, n)
	lower = make([]*float64, n)
	for i := period - 1; i < n; i++ {
		mean := *mid[i]
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			diff := closes[j] - mean
			variance += diff * diff
		}
		sd := math.Sqrt(variance / float64(period-1))
		upper[i] = ptr(mean + mult*sd)
		lower[i] = ptr(mean - mult*sd)
	}
	return mid, upper, lower
}
