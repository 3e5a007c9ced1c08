// Package pathgen implements C2: vectorized Monte Carlo path synthesis
// from a fitted return distribution, the bankruptcy/overflow policy, and
// the three-tier storage policy (memory/memmap/compressed) that picks a
// backing store from available RAM.
package pathgen

import (
	"fmt"
	"math"

	"qscenario/internal/distribution"
	"qscenario/internal/qerrors"
	"qscenario/internal/repro"
)

// Tier is the storage policy selected for a generated path set.
type Tier string

const (
	TierMemory     Tier = "memory"
	TierMemmap     Tier = "memmap"
	TierCompressed Tier = "compressed"
)

const (
	overflowCeiling = 1e18
	bankruptcyFloor = 0.0
)

// BankruptcyEvent records the first step at which a path crossed the
// overflow/underflow boundary (spec section 4.2).
type BankruptcyEvent struct {
	PathIndex int
	StepIndex int
}

// ResourceLimits bounds the generator (mirrors config.ResourceLimits to
// avoid an import-cycle-prone dependency on the config package).
type ResourceLimits struct {
	MaxWorkers     int
	MemThresholdMB int
	Persistent     bool
}

// PricePaths is an (n_paths x n_steps+1) matrix of simulated prices,
// column 0 holding s0 and the remaining n_steps columns holding the
// cumulated levels, backed by one of the three storage tiers. Access is
// uniform across tiers via Get/Set so callers (pricer, metrics) never
// need to know which tier backs a given run.
type PricePaths struct {
	S0             float64
	NPaths         int
	NSteps         int
	Tier           Tier
	Seed           int64
	Bankruptcies   []BankruptcyEvent
	BankruptcyRate float64

	backing backing
}

// Get returns the price at (pathIdx, stepIdx); stepIdx 0 is s0, stepIdx
// in [1, NSteps] are the cumulated levels.
func (p *PricePaths) Get(pathIdx, stepIdx int) float64 {
	return p.backing.get(pathIdx*(p.NSteps+1) + stepIdx)
}

// Path copies path pathIdx into dst, s0 first (len(dst) must be >=
// NSteps+1).
func (p *PricePaths) Path(pathIdx int, dst []float64) {
	base := pathIdx * (p.NSteps + 1)
	for i := 0; i <= p.NSteps; i++ {
		dst[i] = p.backing.get(base + i)
	}
}

// Close releases any underlying file/mmap resources.
func (p *PricePaths) Close() error {
	return p.backing.close()
}

// footprintBytes estimates the raw matrix footprint per spec section 4.2:
// n_paths * (n_steps+1) * 8 bytes * 1.1 overhead factor, the +1 column
// accounting for the stored s0.
func footprintBytes(nPaths, nSteps int) uint64 {
	return uint64(math.Ceil(float64(nPaths) * float64(nSteps+1) * 8 * 1.1))
}

// decideTier applies the fixed storage-policy thresholds against
// available RAM (spec section 4.2).
func decideTier(footprint, availableRAM uint64, persistent bool) (Tier, error) {
	if availableRAM == 0 {
		return TierMemory, nil // RAM could not be measured; assume ample capacity
	}
	ratio := float64(footprint) / float64(availableRAM)
	switch {
	case ratio < 0.25:
		return TierMemory, nil
	case ratio < 0.50:
		return TierMemmap, nil
	default:
		if !persistent {
			return "", qerrors.New(qerrors.KindResourceLimit, qerrors.SubNone, "path footprint exceeds 50% of available RAM").
				WithField("footprint_bytes", footprint, "footprint < 50% of available RAM, or persistent=true", "reduce n_paths/n_steps or set persistent=true")
		}
		return TierCompressed, nil
	}
}

// chunkRows picks how many path rows to generate per batch, keeping the
// in-flight working set (the distribution sample buffer for the chunk)
// under 25% of available RAM regardless of the chosen storage tier (spec
// section 4.2: "chunk rows sized to keep working set < 25% RAM").
func chunkRows(nSteps int, availableRAM uint64) int {
	if availableRAM == 0 {
		return 4096
	}
	budget := float64(availableRAM) * 0.25
	rows := int(budget / (float64(nSteps) * 8 * 1.1))
	if rows < 1 {
		rows = 1
	}
	if rows > 100000 {
		rows = 100000
	}
	return rows
}

// Generate draws an (n_paths x n_steps) grid of log-returns from the
// fitted model, cumulates and exponentiates them into a price path per
// spec section 4.2's algorithm, applies the bankruptcy/overflow policy,
// and stores the result in the tier the resource limits dictate.
func Generate(kind distribution.Kind, fr *distribution.FitRecord, s0 float64, nPaths, nSteps int, seed int64, limits ResourceLimits) (*PricePaths, error) {
	model, err := distribution.Get(kind)
	if err != nil {
		return nil, err
	}

	footprint := footprintBytes(nPaths, nSteps)
	ram := availableRAMBytes()
	tier, err := decideTier(footprint, ram, limits.Persistent)
	if err != nil {
		return nil, err
	}

	return generateWithTier(model, fr, s0, nPaths, nSteps, seed, tier, ram)
}

// generateWithTier runs the generation loop against an explicit tier,
// bypassing the RAM-based decision. Exported within the package only so
// tests can exercise every tier deterministically regardless of the host
// machine's actual available RAM.
func generateWithTier(model distribution.Model, fr *distribution.FitRecord, s0 float64, nPaths, nSteps int, seed int64, tier Tier, ram uint64) (*PricePaths, error) {
	back, err := newBacking(tier, nPaths, nSteps)
	if err != nil {
		return nil, err
	}

	rows := chunkRows(nSteps, ram)
	bankrupt := 0
	var events []BankruptcyEvent

	for start := 0; start < nPaths; start += rows {
		end := start + rows
		if end > nPaths {
			end = nPaths
		}
		for pathIdx := start; pathIdx < end; pathIdx++ {
			pathSeed := repro.DeriveSeed(seed, fmt.Sprintf("path:%d", pathIdx))
			logReturns := model.Sample(fr, nSteps, pathSeed)

			dead, deadStep, err := cumulateAndStore(back, pathIdx, nSteps, s0, logReturns)
			if err != nil {
				return nil, err
			}
			if dead {
				bankrupt++
				events = append(events, BankruptcyEvent{PathIndex: pathIdx, StepIndex: deadStep})
			}
		}
	}

	rate := float64(bankrupt) / float64(nPaths)
	if rate > 0.50 {
		back.close()
		return nil, qerrors.New(qerrors.KindNumeric, qerrors.SubBankruptcy, "bankruptcy rate exceeds 50% of paths").
			WithField("bankruptcy_rate", rate, "<= 0.50", "revisit the distribution fit or shrink n_steps")
	}

	return &PricePaths{
		S0: s0, NPaths: nPaths, NSteps: nSteps, Tier: tier, Seed: seed,
		Bankruptcies: events, BankruptcyRate: rate, backing: back,
	}, nil
}

// Warn reports whether the generated path set should be flagged warn per
// the > 5% bankruptcy-rate threshold (spec section 4.2).
func (p *PricePaths) Warn() bool { return p.BankruptcyRate > 0.05 }

// cumulateAndStore cumulates a row of log-returns into a price path,
// applying the bankruptcy/overflow policy (spec section 4.2), and writes
// s0 followed by the resulting levels into back at pathIdx, so each
// stored path is n_steps+1 long with s0 as its first entry. Shared by
// the model-driven generation loop and FromReturnRows (C6 bootstrap
// resampling), which both produce raw log-return rows by different
// means but must apply the same cumulation and bankruptcy rule.
func cumulateAndStore(back backing, pathIdx, nSteps int, s0 float64, logReturns []float64) (dead bool, deadStep int, err error) {
	base := pathIdx * (nSteps + 1)
	back.set(base, s0)
	cum := 0.0
	deadStep = -1
	for step := 0; step < nSteps; step++ {
		if dead {
			back.set(base+1+step, 0)
			continue
		}
		r := logReturns[step]
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return false, -1, qerrors.New(qerrors.KindNumeric, qerrors.SubOverflow, "non-finite intermediate value during path generation").
				WithField("log_return", r, "finite", "inspect the fitted distribution parameters")
		}
		cum += r
		level := s0 * math.Exp(cum)
		if math.IsNaN(level) || math.IsInf(level, 0) {
			return false, -1, qerrors.New(qerrors.KindNumeric, qerrors.SubOverflow, "non-finite intermediate value during path generation").
				WithField("level", level, "finite", "inspect the fitted distribution parameters")
		}
		if level > overflowCeiling || level <= bankruptcyFloor {
			dead = true
			deadStep = step
			back.set(base+1+step, 0)
			continue
		}
		back.set(base+1+step, level)
	}
	return dead, deadStep, nil
}

// FromReturnRows builds a PricePaths from pre-drawn log-return rows (one
// row per path, already sampled by the caller — e.g. C6's bootstrap
// resampling of matched episode windows) by applying the same
// cumulation, overflow, and storage-tier policy Generate uses for
// model-driven draws.
func FromReturnRows(rows [][]float64, s0 float64, seed int64) (*PricePaths, error) {
	if len(rows) == 0 {
		return nil, qerrors.New(qerrors.KindData, qerrors.SubNone, "FromReturnRows requires at least one row")
	}
	nPaths := len(rows)
	nSteps := len(rows[0])

	footprint := footprintBytes(nPaths, nSteps)
	ram := availableRAMBytes()
	tier, err := decideTier(footprint, ram, false)
	if err != nil {
		return nil, err
	}

	back, err := newBacking(tier, nPaths, nSteps)
	if err != nil {
		return nil, err
	}

	bankrupt := 0
	var events []BankruptcyEvent
	for pathIdx, row := range rows {
		dead, deadStep, err := cumulateAndStore(back, pathIdx, nSteps, s0, row)
		if err != nil {
			return nil, err
		}
		if dead {
			bankrupt++
			events = append(events, BankruptcyEvent{PathIndex: pathIdx, StepIndex: deadStep})
		}
	}

	rate := float64(bankrupt) / float64(nPaths)
	return &PricePaths{
		S0: s0, NPaths: nPaths, NSteps: nSteps, Tier: tier, Seed: seed,
		Bankruptcies: events, BankruptcyRate: rate, backing: back,
	}, nil
}
