package indicators

// PO computes the Price Oscillator: 100*(MA(x,fast)-MA(x,slow))/MA(x,slow),
// using simple moving averages for both legs.
func PO(x []float64, fast, slow int) []float64 {
	n := len(x)
	out := undefinedSeq(n)
	fastMA := SMA(x, fast)
	slowMA := SMA(x, slow)
	for i := 0; i < n; i++ {
		if IsDefined(fastMA[i]) && IsDefined(slowMA[i]) && slowMA[i] != 0 {
			out[i] = 100 * (fastMA[i] - slowMA[i]) / slowMA[i]
		}
	}
	return out
}
