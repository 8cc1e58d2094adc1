package indicators

import "math"

// ATR computes the Average True Range over period p using Wilder
// smoothing of the true range: TR[i] = max(h[i]-l[i], |h[i]-c[i-1]|,
// |l[i]-c[i-1]|). The first bar's TR is just high-low.
func ATR(h, l, c []float64, p int) []float64 {
	n := len(c)
	out := undefinedSeq(n)
	if p <= 0 || p > n {
		return out
	}

	tr := make([]float64, n)
	tr[0] = h[0] - l[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(h[i]-l[i], math.Max(math.Abs(h[i]-c[i-1]), math.Abs(l[i]-c[i-1])))
	}

	sum := 0.0
	for i := 0; i < p; i++ {
		sum += tr[i]
	}
	out[p-1] = sum / float64(p)
	for i := p; i < n; i++ {
		out[i] = (out[i-1]*float64(p-1) + tr[i]) / float64(p)
	}
	return out
}
