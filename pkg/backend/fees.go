package backend

import (
	"fmt"
	"math"
	"sort"
)

// Confirmation targets, in blocks, used to sample a backend's fee estimator.
const (
	TargetVeryUrgent = 2
	TargetUrgent     = 6
	TargetNormal     = 12
	TargetSlow       = 100
)

// FeerateFloor is the lowest feerate ever reported, in sat/kvB. lightningd
// rejects anything below its own 253 sat/kw floor (~1012 sat/kvB after
// rounding), so estimates are clamped to a round figure above it.
const FeerateFloor = 1000

// DefaultMaxFeeRate is the fee-sanity ceiling in sat/kvB (0.1 BTC/kvB),
// matching bitcoind's default maxfeerate for sendrawtransaction.
const DefaultMaxFeeRate = 10_000_000

// FeePolicy turns per-target feerates into lightningd's eight figures.
type FeePolicy struct {
	// MaxMultiplier scales the very urgent rate into max_acceptable.
	MaxMultiplier uint64

	// CommitPercent scales the very urgent rate into unilateral_close.
	CommitPercent uint64
}

// DefaultFeePolicy returns the policy lightningd's bcli plugin uses.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		MaxMultiplier: 10,
		CommitPercent: 100,
	}
}

// Targets returns the confirmation targets a backend should sample.
func Targets() []int {
	return []int{TargetVeryUrgent, TargetUrgent, TargetNormal, TargetSlow}
}

// Build maps sampled feerates (sat/kvB keyed by confirmation target) to a
// FeeEstimate. A missing target borrows the next higher target that was
// sampled. If any target cannot be resolved the whole estimate fails with
// ErrFeesUnavailable; partial results are never returned.
func (p FeePolicy) Build(rates map[int]float64) (*FeeEstimate, error) {
	resolved := make(map[int]uint64, 4)
	for _, target := range Targets() {
		rate, ok := lookupRate(rates, target)
		if !ok {
			return nil, fmt.Errorf("%w: no estimate for %d-block target", ErrFeesUnavailable, target)
		}
		resolved[target] = rate
	}

	veryUrgent := resolved[TargetVeryUrgent]
	urgent := resolved[TargetUrgent]
	normal := resolved[TargetNormal]
	slow := resolved[TargetSlow]

	mult := p.MaxMultiplier
	if mult == 0 {
		mult = DefaultFeePolicy().MaxMultiplier
	}
	percent := p.CommitPercent
	if percent == 0 {
		percent = DefaultFeePolicy().CommitPercent
	}

	return &FeeEstimate{
		Opening:         floor(normal),
		MutualClose:     floor(normal),
		UnilateralClose: floor(veryUrgent * percent / 100),
		DelayedToUs:     floor(normal),
		HTLCResolution:  floor(urgent),
		Penalty:         floor(normal),
		MinAcceptable:   floor(slow / 2),
		MaxAcceptable:   floor(veryUrgent * mult),
	}, nil
}

// lookupRate finds the rate for target, falling back to the closest higher
// target that is present.
func lookupRate(rates map[int]float64, target int) (uint64, bool) {
	if r, ok := rates[target]; ok && validRate(r) {
		return uint64(math.Round(r)), true
	}
	higher := make([]int, 0, len(rates))
	for t, r := range rates {
		if t > target && validRate(r) {
			higher = append(higher, t)
		}
	}
	if len(higher) == 0 {
		return 0, false
	}
	sort.Ints(higher)
	return uint64(math.Round(rates[higher[0]])), true
}

func validRate(r float64) bool {
	return r > 0 && !math.IsInf(r, 0) && !math.IsNaN(r)
}

func floor(rate uint64) uint64 {
	if rate < FeerateFloor {
		return FeerateFloor
	}
	return rate
}

// SatPerVByteToKvB converts an explorer feerate (sat/vB) to sat/kvB.
func SatPerVByteToKvB(rate float64) float64 {
	return rate * 1000
}

// BTCPerKvBToSat converts a bitcoind feerate (BTC/kvB) to sat/kvB.
func BTCPerKvBToSat(rate float64) float64 {
	return rate * 1e8
}
