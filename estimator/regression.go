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

// Package estimator implements the two ways this module turns a handful of
// sync-point observations into a clock correction: weighted linear
// regression (FTSP/PulseSync) and moving-average gradient tracking (GTSP).
package estimator

import "github.com/meshtime/clocksync/synctable"

// Regression is the result of fitting global = Rate*local + Offset to a set
// of FTSP/PulseSync sync points.
type Regression struct {
	Rate   float64
	Offset float64
}

// Regress performs the weighted linear regression from SPEC_FULL.md §4.5
// over the FULL entries of a synctable.Table. To keep the local*global
// products within float64's exact-integer range even when raw hardware
// timestamps are large, every Local/Global value is shifted by the table's
// minimum before summing (the shift cancels out of the slope and is undone
// in the intercept), per spec.md's "Numeric notes".
//
// With zero entries it returns the identity mapping (rate=1, offset=0) and
// ok=false so callers know not to apply anything. With exactly one entry it
// returns rate=1 and the single point's raw offset, matching spec.md's
// "Else: rate = 1.0" branch.
func Regress(entries []synctable.Point) (r Regression, ok bool) {
	n := len(entries)
	if n == 0 {
		return Regression{Rate: 1.0}, false
	}

	refL, refG := entries[0].Local, entries[0].Global
	for _, e := range entries[1:] {
		if e.Local < refL {
			refL = e.Local
		}
		if e.Global < refG {
			refG = e.Global
		}
	}

	var sumL, sumG, sumLL, sumLG int64
	for _, e := range entries {
		l := int64(e.Local) - int64(refL)
		g := int64(e.Global) - int64(refG)
		sumL += l
		sumG += g
		sumLL += l * l
		sumLG += l * g
	}

	fn := float64(n)
	rate := 1.0
	if n > 1 {
		denom := float64(sumLL) - float64(sumL)*float64(sumL)/fn
		if denom != 0 {
			rate = (float64(sumLG) - float64(sumL)*float64(sumG)/fn) / denom
		}
	}

	shiftedOffset := (float64(sumG) - rate*float64(sumL)) / fn
	// Undo the reference shift: global = rate*local + offset, where local
	// and global here are the *unshifted* raw values.
	offset := shiftedOffset - rate*float64(refL) + float64(refG)

	return Regression{Rate: rate, Offset: offset}, true
}
