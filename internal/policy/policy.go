// Package policy implements cost/reliability-weighted backend selection.
package policy

import (
	"math"
	"sort"
	"time"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Options tunes the composite score. Weights need not sum to one; they are
// applied as given so operators can bias selection without re-normalizing.
type Options struct {
	CostWeight     float64
	SuccessWeight  float64
	RecencyWeight  float64
	Epsilon        float64
	MinSuccessRate float64
}

// DefaultOptions mirrors the production tuning: cost and reliability carry
// equal weight, recency breaks the remainder.
func DefaultOptions() Options {
	return Options{
		CostWeight:     0.4,
		SuccessWeight:  0.4,
		RecencyWeight:  0.2,
		Epsilon:        1e-4,
		MinSuccessRate: 0.1,
	}
}

// Policy ranks backends. It is pure: no state, no I/O, deterministic for a
// fixed input.
type Policy struct {
	opts Options
}

// New builds a Policy, falling back to defaults for unset options.
func New(opts Options) *Policy {
	def := DefaultOptions()
	if opts.CostWeight == 0 && opts.SuccessWeight == 0 && opts.RecencyWeight == 0 {
		opts.CostWeight = def.CostWeight
		opts.SuccessWeight = def.SuccessWeight
		opts.RecencyWeight = def.RecencyWeight
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = def.Epsilon
	}
	return &Policy{opts: opts}
}

// Chain builds a job's fallback chain: backends at or above the minimum
// success rate, ranked. If the threshold would empty the set, every backend
// stays eligible so a run of bad luck cannot lock the system out entirely.
func (p *Policy) Chain(now time.Time, profiles []orchestrator.BackendProfile) []orchestrator.BackendID {
	eligible := make([]orchestrator.BackendProfile, 0, len(profiles))
	for _, prof := range profiles {
		if prof.SuccessRate() >= p.opts.MinSuccessRate {
			eligible = append(eligible, prof)
		}
	}
	if len(eligible) == 0 {
		eligible = profiles
	}
	return p.Rank(now, eligible)
}

// Rank orders the eligible set by composite score, best first. Ties break by
// lowest unit cost, then by registration order.
func (p *Policy) Rank(now time.Time, eligible []orchestrator.BackendProfile) []orchestrator.BackendID {
	if len(eligible) == 0 {
		return nil
	}

	costRaw := make([]float64, len(eligible))
	recencyRaw := make([]float64, len(eligible))
	for i, prof := range eligible {
		costRaw[i] = 1 / (prof.UnitCost + p.opts.Epsilon)
		recencyRaw[i] = recencyScore(now, prof.LastUsedAt)
	}
	costNorm := normalize(costRaw)
	recencyNorm := normalize(recencyRaw)

	type scored struct {
		prof  orchestrator.BackendProfile
		score float64
	}
	ranked := make([]scored, len(eligible))
	for i, prof := range eligible {
		ranked[i] = scored{
			prof: prof,
			score: p.opts.CostWeight*costNorm[i] +
				p.opts.SuccessWeight*prof.SuccessRate() +
				p.opts.RecencyWeight*recencyNorm[i],
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.prof.UnitCost != b.prof.UnitCost {
			return a.prof.UnitCost < b.prof.UnitCost
		}
		return a.prof.Order < b.prof.Order
	})

	out := make([]orchestrator.BackendID, len(ranked))
	for i, r := range ranked {
		out[i] = r.prof.ID
	}
	return out
}

// recencyScore decays with time since last use. A never-used backend scores
// zero, which the normalization then treats as the coldest candidate.
func recencyScore(now time.Time, lastUsed time.Time) float64 {
	if lastUsed.IsZero() {
		return 0
	}
	idle := now.Sub(lastUsed).Seconds()
	if idle < 0 {
		idle = 0
	}
	return 1 / (idle + 1)
}

// normalize rescales the values to [0,1] across the set so unbounded scores
// contribute comparably to the bounded success rate. A flat set maps to 1.
func normalize(values []float64) []float64 {
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	out := make([]float64, len(values))
	if maxV == minV {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - minV) / (maxV - minV)
	}
	return out
}
