package indicators

// MACDResult holds the three synthesized MACD sequences.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes macd[i] = EMA(x,fast)[i] - EMA(x,slow)[i] wherever both
// EMAs are defined, signal = EMA(macd, signalPeriod), and
// histogram = macd - signal.
func MACD(x []float64, fast, slow, signalPeriod int) MACDResult {
	n := len(x)
	fastEMA := EMA(x, fast)
	slowEMA := EMA(x, slow)
	macd := Difference(fastEMA, slowEMA)
	signal := EMA(macd, signalPeriod)
	hist := Difference(macd, signal)
	_ = n
	return MACDResult{MACD: macd, Signal: signal, Histogram: hist}
}
