package strategy

// sizeForDailyPnLBand inverts a linear price-change expectation to target
// a configured daily-P&L band (spec section 4.4): if the position were
// held and the price moved by expectedDailyChange, the resulting P&L
// should land near targetDailyPnL. A per-strategy notionalCap clamps the
// result.
func sizeForDailyPnLBand(targetDailyPnL, expectedDailyChange, notionalCap float64) float64 {
	if expectedDailyChange == 0 {
		return 0
	}
	size := targetDailyPnL / expectedDailyChange
	if size > notionalCap {
		return notionalCap
	}
	if size < -notionalCap {
		return -notionalCap
	}
	return size
}
