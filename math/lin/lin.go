// Copyright © 2013-2015 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package lin provides the linear algebra this physics core needs: 3D
// vectors, 3x3 matrices, quaternions, and a translation+rotation transform.
//
// Package lin is trimmed from the vu (virtual universe) 3D engine's math
// library down to the subset a rigid-body solver actually calls: render-side
// concerns like 4x4/homogeneous matrices, projection matrices, and texture
// lerp helpers have no caller here and were removed.
package lin

import "math"

// Epsilon is used to distinguish when a float is close enough to a number.
const Epsilon float64 = 0.000001

// Max3 returns the largest of the 3 numbers.
func Max3(a, b, c float64) float64 { return math.Max(a, math.Max(b, c)) }

// Clamp returns a scalar value (one of: s, lb, ub) guaranteed to be within
// the range given by lower bound lb and upper bound ub.
func Clamp(s, lb, ub float64) float64 {
	switch {
	case s < lb:
		return lb
	case s > ub:
		return ub
	}
	return s
}
