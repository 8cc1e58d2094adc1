package indicators

// StochasticK computes the %K stochastic oscillator:
// 100*(c[i]-min(l,p))/(max(h,p)-min(l,p)), emitting 50 when the range
// is zero.
func StochasticK(h, l, c []float64, p int) []float64 {
	n := len(c)
	out := undefinedSeq(n)
	if p <= 0 || p > n {
		return out
	}
	for i := p - 1; i < n; i++ {
		lo := l[i-p+1]
		hi := h[i-p+1]
		for j := i - p + 2; j <= i; j++ {
			if l[j] < lo {
				lo = l[j]
			}
			if h[j] > hi {
				hi = h[j]
			}
		}
		rng := hi - lo
		if rng == 0 {
			out[i] = 50
			continue
		}
		out[i] = 100 * (c[i] - lo) / rng
	}
	return out
}

// StochasticD computes %D as the SMA of %K over period d.
func StochasticD(k []float64, d int) []float64 {
	return SMA(k, d)
}
