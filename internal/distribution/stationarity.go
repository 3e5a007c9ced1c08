package distribution

import "math"

// isStationary runs a simplified augmented-Dickey-Fuller-style regression
// on the series: delta(y_t) = alpha + beta*y_{t-1} + eps_t. A sufficiently
// negative t-statistic on beta rejects the unit-root null, i.e. the series
// is treated as stationary. No ADF implementation exists anywhere in the
// reference pack, so this is hand-rolled OLS rather than a library call
// (documented in the design ledger).
func isStationary(y []float64) bool {
	const criticalT = -2.89 // approximate 5% critical value, no trend, large n

	n := len(y) - 1
	if n < 3 {
		return false
	}
	lvl := make([]float64, n)  // y_{t-1}
	delta := make([]float64, n) // y_t - y_{t-1}
	for i := 0; i < n; i++ {
		lvl[i] = y[i]
		delta[i] = y[i+1] - y[i]
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += lvl[i]
		sumY += delta[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sxx, sxy float64
	for i := 0; i < n; i++ {
		dx := lvl[i] - meanX
		sxx += dx * dx
		sxy += dx * (delta[i] - meanY)
	}
	if sxx == 0 {
		return false
	}
	beta := sxy / sxx
	alpha := meanY - beta*meanX

	var sse float64
	for i := 0; i < n; i++ {
		resid := delta[i] - (alpha + beta*lvl[i])
		sse += resid * resid
	}
	dof := float64(n - 2)
	if dof <= 0 {
		return false
	}
	sigma2 := sse / dof
	seBeta := math.Sqrt(sigma2 / sxx)
	if seBeta == 0 {
		return false
	}
	tStat := beta / seBeta
	return tStat < criticalT
}
