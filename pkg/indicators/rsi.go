package indicators

// RSI computes the Wilder-smoothed Relative Strength Index over period
// p. Warmup completes once p price values (p-1 one-step differences)
// are available: the seed average gain/loss is the simple mean of
// those p-1 differences, so RSI is first defined at index p-1.
// Thereafter avg = (avg*(p-1) + current) / p. When avg_loss is zero,
// RSI is 100.
func RSI(x []float64, p int) []float64 {
	n := len(x)
	out := undefinedSeq(n)
	if p <= 1 || n < p {
		return out
	}

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		change := x[i] - x[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	var avgGain, avgLoss float64
	// Seed: simple average of the first p-1 differences (indices 1..p-1).
	for i := 1; i < p; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(p - 1)
	avgLoss /= float64(p - 1)
	out[p-1] = rsiFromAverages(avgGain, avgLoss)

	for i := p; i < n; i++ {
		avgGain = (avgGain*float64(p-1) + gains[i]) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + losses[i]) / float64(p)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
