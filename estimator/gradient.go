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
	"math"

	"github.com/meshtime/clocksync/synctable"
)

// FloatCalcCompensationMicros is the small fixed compensation spec.md §4.4
// subtracts from the remote-delta estimate, attributed in the original
// source to float-arithmetic latency on FPU-less platforms. We no longer
// run on such hardware, but the constant is part of the filter's tuning and
// is kept for numeric parity with spec.md.
const FloatCalcCompensationMicros = 10

// RateClamp bounds the rate GTSP is willing to apply, per spec.md §4.4.
const RateClamp = 5e-5

// CurrentRate computes the instantaneous relative-rate estimate between two
// consecutive beacons from the same neighbor (spec.md §4.4 step 1, first
// three bullets).
func CurrentRate(toaLocal uint64, sp *synctable.Neighbor, beaconLocal uint64, beaconRate float32) float64 {
	deltaLocal := int64(toaLocal) - int64(sp.LocalLocal)
	if deltaLocal == 0 {
		return sp.RelativeRate
	}
	remoteDelta := int64(beaconLocal) - int64(sp.RemoteLocal)
	deltaRemote := -int64(FloatCalcCompensationMicros) + remoteDelta + int64(float64(remoteDelta)*float64(beaconRate))
	return float64(deltaRemote-deltaLocal) / float64(deltaLocal)
}

// FilterRate applies the exponential moving average from spec.md §4.4 step 1
// (alpha defaults to 0.9 per spec.md's MOVING_ALPHA).
func FilterRate(previous, current, alpha float64) float64 {
	return alpha*previous + (1-alpha)*current
}

// ClampRate bounds r to [-RateClamp, +RateClamp].
func ClampRate(r float64) float64 {
	if r > RateClamp {
		return RateClamp
	}
	if r < -RateClamp {
		return -RateClamp
	}
	return r
}

// AverageRate implements spec.md §4.5's GTSP rate averaging: the node's own
// current rate plus every neighbor's filtered relative rate, averaged over
// (n+1) terms and clamped.
func AverageRate(ownRate float64, neighbors []*synctable.Neighbor) float64 {
	sum := ownRate
	for _, n := range neighbors {
		sum += n.RelativeRate
	}
	return ClampRate(sum / float64(len(neighbors)+1))
}

// OffsetCorrection implements spec.md §4.5's GTSP offset-correction
// averaging: only offsets that are positive (neighbor ahead) or small
// negative values (within jumpThreshold of zero) are folded in; if the node
// already jumped this round, or the averaged correction itself still
// exceeds jumpThreshold, no correction is applied.
func OffsetCorrection(neighbors []*synctable.Neighbor, jumpThreshold int64, jumped bool) (correction int64, apply bool) {
	var sum float64
	var contributed bool
	for _, n := range neighbors {
		offset := int64(n.RemoteGlobal) - int64(n.LocalGlobal)
		if offset > -jumpThreshold {
			sum += float64(offset)
			contributed = true
		}
	}
	if !contributed || jumped || len(neighbors) == 0 {
		return 0, false
	}
	c := int64(math.Ceil(sum / float64(len(neighbors)+1)))
	if abs64(c) >= jumpThreshold {
		return 0, false
	}
	return c, true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
