package indicators

// Strength computes positiveSum/(positiveSum+negativeSum)*100 of
// one-step changes over a trailing window of period p, emitting 50
// when both sums are zero (flat window).
func Strength(x []float64, p int) []float64 {
	n := len(x)
	out := undefinedSeq(n)
	if p <= 0 || n < p+1 {
		return out
	}
	changes := make([]float64, n)
	for i := 1; i < n; i++ {
		changes[i] = x[i] - x[i-1]
	}
	for i := p; i < n; i++ {
		var pos, neg float64
		for j := i - p + 1; j <= i; j++ {
			if changes[j] > 0 {
				pos += changes[j]
			} else if changes[j] < 0 {
				neg += -changes[j]
			}
		}
		if pos == 0 && neg == 0 {
			out[i] = 50
			continue
		}
		out[i] = pos / (pos + neg) * 100
	}
	return out
}
