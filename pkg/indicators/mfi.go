package indicators

// MFI computes the Money Flow Index over period p: typical price times
// volume is partitioned into positive/negative flow based on the
// direction of the typical price versus the prior bar, then
// MFI = 100 - 100/(1 + posSum/negSum), emitting 100 when negSum is
// zero.
func MFI(h, l, c []float64, v []int64, p int) []float64 {
	n := len(c)
	out := undefinedSeq(n)
	if p <= 0 || n < p+1 {
		return out
	}

	typical := make([]float64, n)
	for i := 0; i < n; i++ {
		typical[i] = (h[i] + l[i] + c[i]) / 3.0
	}

	flow := make([]float64, n)
	for i := 0; i < n; i++ {
		flow[i] = typical[i] * float64(v[i])
	}

	for i := p; i < n; i++ {
		var posSum, negSum float64
		for j := i - p + 1; j <= i; j++ {
			if typical[j] > typical[j-1] {
				posSum += flow[j]
			} else if typical[j] < typical[j-1] {
				negSum += flow[j]
			}
		}
		if negSum == 0 {
			out[i] = 100
			continue
		}
		out[i] = 100 - 100/(1+posSum/negSum)
	}
	return out
}
