package pricer

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Quote is a single IV observation from the contract chain.
type Quote struct {
	IV         float64
	ObservedAt time.Time
}

// IVResolver supplies the three IV sources spec section 4.3 tries in
// order: contract-chain, realized 30-day vol, config default.
// ContractChain/Realized30DVol may be nil when that source is
// unavailable for the symbol.
type IVResolver struct {
	ContractChain func() (Quote, bool)
	Realized30DVol func() (float64, bool)
	ConfigDefault  float64
}

// ResolveIV tries each source in order and records which one was used
// (spec section 4.3: "the source actually used is recorded on the
// OptionSpec and surfaced in RunMetadata"). A contract-chain quote older
// than staleMax is treated as unavailable and the chain falls through to
// the next source (Open Question decision: stale-quote handling).
func ResolveIV(r IVResolver, now time.Time, staleMax time.Duration) (float64, IVSource) {
	if r.ContractChain != nil {
		if q, ok := r.ContractChain(); ok {
			if staleMax <= 0 || now.Sub(q.ObservedAt) <= staleMax {
				return q.IV, IVSourceContractChain
			}
		}
	}
	if r.Realized30DVol != nil {
		if v, ok := r.Realized30DVol(); ok && v > 0 {
			return v, IVSourceRealizedVol
		}
	}
	return r.ConfigDefault, IVSourceConfigDefault
}

// Realized30DVol annualizes the standard deviation of daily log returns
// over (at most) the trailing 30 observations, the realized-vol fallback
// source.
func Realized30DVol(logReturns []float64) (float64, bool) {
	n := len(logReturns)
	if n == 0 {
		return 0, false
	}
	window := logReturns
	if n > 30 {
		window = logReturns[n-30:]
	}
	std := stat.StdDev(window, nil)
	return std * math.Sqrt(252), true
}
