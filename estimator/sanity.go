/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package estimator

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

// Default sanity bounds from spec.md §4.7: once a node believes it is
// synced, a candidate offset correction bigger than SaneOffsetSynced is
// rejected outright; before that, the much looser SaneOffsetUnsynced bound
// only guards against obviously corrupt beacons.
const (
	SaneOffsetSynced   = int64(1_000_000)             // 1s, in microseconds
	SaneOffsetUnsynced = int64(365 * 24 * 3600 * 1e6) // 1 year, in microseconds
)

// SanityGate decides whether a candidate offset correction is plausible
// enough to apply. The zero value behaves exactly like spec.md's fixed
// constants; an operator may instead supply a govaluate expression (see
// NewExprGate) to compute the synced bound from live statistics, for
// experimentation without a rebuild. ExprGate floors the expression's result
// at SaneOffsetSynced, so an expression can raise the synced bound above 1s
// but cannot lower it below 1s; no upper cap is applied.
type SanityGate interface {
	// Allow reports whether correction (a proposed delta in microseconds)
	// should be applied, given whether the node currently considers itself
	// synced.
	Allow(correction int64, synced bool) bool
}

// Observer is implemented by SanityGate variants that learn from the
// corrections they let through, e.g. ExprGate's rolling stddev. Engines
// type-assert for it after an Allow(...)==true correction has actually
// been applied to the LogicalClock, so gates that don't need feedback
// (FixedGate) pay nothing.
type Observer interface {
	Observe(correction int64)
}

// FixedGate is the spec's default: two hardcoded thresholds.
type FixedGate struct{}

// Allow implements SanityGate.
func (FixedGate) Allow(correction int64, synced bool) bool {
	bound := SaneOffsetUnsynced
	if synced {
		bound = SaneOffsetSynced
	}
	return abs64(correction) < bound
}

// ExprGate evaluates an operator-supplied govaluate expression to compute
// the synced-state bound, with the running standard deviation of the
// accepted offset corrections fed to Observe (kept in a RateStats) as the
// variable "stddev". It is meant
// for field tuning of noisy deployments without recompiling; the unsynced
// bound is always the spec's fixed SaneOffsetUnsynced regardless of the
// expression, since a still-converging node has no meaningful variance to
// evaluate against.
type ExprGate struct {
	expr  *govaluate.EvaluableExpression
	stats *RateStats
}

// NewExprGate compiles expr (e.g. "3 * stddev + 200000") once; it must
// evaluate to a float64 given the variable "stddev". stats accumulates the
// expression's "stddev" variable; the caller (or the gate's own Observe, if
// it feeds accepted corrections back in) is responsible for keeping it
// updated — an accumulator nothing ever writes to just means stddev stays
// 0 and the expression degenerates to a constant bound.
func NewExprGate(expr string, stats *RateStats) (*ExprGate, error) {
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("estimator: parsing sanity expression %q: %w", expr, err)
	}
	return &ExprGate{expr: e, stats: stats}, nil
}

// Observe feeds one accepted offset correction (microseconds) into the
// gate's rolling statistics, so the next Allow call's "stddev" variable
// reflects this node's own recent correction history rather than staying
// at zero forever. Callers apply this only to corrections that were
// actually accepted and applied to the LogicalClock.
func (g *ExprGate) Observe(correction int64) {
	g.stats.Observe(float64(correction))
}

// Allow implements SanityGate.
func (g *ExprGate) Allow(correction int64, synced bool) bool {
	if !synced {
		return abs64(correction) < SaneOffsetUnsynced
	}

	stddev := 0.0
	if g.stats.Count() > 1 {
		stddev = g.stats.Stddev()
	}
	result, err := g.expr.Evaluate(map[string]interface{}{"stddev": stddev})
	if err != nil {
		return abs64(correction) < SaneOffsetSynced
	}
	bound, ok := result.(float64)
	if !ok || math.IsNaN(bound) || bound < float64(SaneOffsetSynced) {
		bound = float64(SaneOffsetSynced)
	}
	return float64(abs64(correction)) < bound
}
