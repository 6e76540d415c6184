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

import "github.com/eclesh/welford"

// RateStats tracks a running mean/variance of the samples it is fed.
// gtsp.Engine feeds it each neighbor's filtered relative rate; ExprGate
// feeds it accepted offset corrections. No Prometheus gauge is exported for
// it, and it never feeds back into AverageRate, which always applies the
// spec's plain average clamped to RateClamp.
type RateStats struct {
	s *welford.Stats
}

// NewRateStats returns an empty accumulator.
func NewRateStats() *RateStats {
	return &RateStats{s: welford.New()}
}

// Observe records one sample.
func (r *RateStats) Observe(rate float64) {
	r.s.Add(rate)
}

// Mean returns the running mean of observed samples, or 0 if none were
// recorded yet.
func (r *RateStats) Mean() float64 {
	return r.s.Mean()
}

// Variance returns the running variance of observed samples.
func (r *RateStats) Variance() float64 {
	return r.s.Variance()
}

// Stddev returns the running standard deviation of observed samples.
func (r *RateStats) Stddev() float64 {
	return r.s.Stddev()
}

// Count reports how many samples have been observed.
func (r *RateStats) Count() uint64 {
	return r.s.Count()
}
