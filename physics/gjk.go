// Copyright © 2024 Galvanized Logic Inc.

package physics

import (
	"log/slog"

	"github.com/hexfall/rigidbody/math/lin"
)

// gjkMaxIterations bounds the GJK loop (spec: "bound the iteration count,
// approx 20"). Exceeding it is reported as no contact this step, not a
// fatal error (spec section 7).
const gjkMaxIterations = 20

// minkowskiPoint is one point of the Minkowski difference A-B, carrying
// the originating support point on A's surface (the "witness") alongside
// it so simplex reordering can never separate the two. EPA interpolates
// the witnesses of the terminal face to place the contact on A.
type minkowskiPoint struct {
	p       lin.V3 // supportA(d) - supportB(-d).
	witness lin.V3 // supportA(d), in world space.
}

// simplex is the up-to-four point set GJK maintains over the course of
// one intersection test, most-recently-added point first.
type simplex struct {
	points [4]minkowskiPoint
	dim    int
}

func (s *simplex) push(m minkowskiPoint) {
	if s.dim >= 4 {
		slog.Error("physics: gjk simplex overflow")
		return
	}
	for i := s.dim; i > 0; i-- {
		s.points[i] = s.points[i-1]
	}
	s.points[0] = m
	s.dim++
}

// containsOrigin implements spec section 4.3's per-dimension simplex
// reduction: (1) line returns the direction toward the origin, (2)
// triangle discards a vertex outside an edge's Voronoi region or picks
// the plane side, (3) tetrahedron tests the three outward faces (abc,
// acd, adb) and recurses into the first face the origin lies in front
// of, or reports containment.
func (s *simplex) containsOrigin(dir *lin.V3) bool {
	ao := *lin.NewV3().Neg(&s.points[0].p)

	switch s.dim {
	case 2:
		ab := *lin.NewV3().Sub(&s.points[1].p, &s.points[0].p)
		abao := *lin.NewV3().Cross(&ab, &ao)
		if abao.X == 0 && abao.Y == 0 && abao.Z == 0 {
			// origin lies on the line itself; any perpendicular works.
			abao.X++
		}
		dir.Cross(&abao, &ab)
		return false

	case 3:
		ab := *lin.NewV3().Sub(&s.points[1].p, &s.points[0].p)
		ac := *lin.NewV3().Sub(&s.points[2].p, &s.points[0].p)
		n := *lin.NewV3().Cross(&ab, &ac)

		abn := *lin.NewV3().Cross(&ab, &n)
		if abn.Dot(&ao) > 0 {
			// origin is outside the triangle at side ab.
			s.dim = 2
			tmp := *lin.NewV3().Cross(&ab, &ao)
			dir.Cross(&tmp, &ab)
			return false
		}

		acn := *lin.NewV3().Cross(&n, &ac)
		if acn.Dot(&ao) > 0 {
			// origin is outside the triangle at side ac.
			s.points[1] = s.points[2]
			s.dim = 2
			tmp := *lin.NewV3().Cross(&ac, &ao)
			dir.Cross(&tmp, &ac)
			return false
		}

		if n.Dot(&ao) > 0 {
			*dir = n
		} else {
			// below the triangle: flip the winding so the tetrahedron
			// case sees consistently oriented faces.
			s.points[1], s.points[2] = s.points[2], s.points[1]
			dir.Neg(&n)
		}
		return false

	case 4:
		ab := *lin.NewV3().Sub(&s.points[1].p, &s.points[0].p)
		ac := *lin.NewV3().Sub(&s.points[2].p, &s.points[0].p)
		abcn := *lin.NewV3().Cross(&ab, &ac)
		if abcn.Dot(&ao) > 0 {
			s.dim = 3
			return s.containsOrigin(dir)
		}

		ad := *lin.NewV3().Sub(&s.points[3].p, &s.points[0].p)
		acdn := *lin.NewV3().Cross(&ac, &ad)
		if acdn.Dot(&ao) > 0 {
			s.points[1], s.points[2] = s.points[2], s.points[3]
			s.dim = 3
			return s.containsOrigin(dir)
		}

		adbn := *lin.NewV3().Cross(&ad, &ab)
		if adbn.Dot(&ao) > 0 {
			s.points[2] = s.points[1]
			s.points[1] = s.points[3]
			s.dim = 3
			return s.containsOrigin(dir)
		}

		return true
	}
	return false
}

// supportBody bundles one collider's shape, rigid transform and
// per-axis scale for support queries. lin.T carries no scale slot, so
// scale folds into the query itself: the world support of a scaled
// convex is R*(S*support(S*R^-1*d)) + x -- the direction is
// inverse-rotated and scaled before the shape-local lookup, and the
// returned vertex is scaled before the rigid transform. (For a diagonal
// S this is the exact support of the scaled hull, ellipsoids included.)
type supportBody struct {
	shape *Shape
	t     *lin.T
	scale *lin.V3
}

func (sb *supportBody) worldSupport(d lin.V3) lin.V3 {
	dir := rotateInverse(sb.t, d)
	dir.X, dir.Y, dir.Z = dir.X*sb.scale.X, dir.Y*sb.scale.Y, dir.Z*sb.scale.Z
	p := sb.shape.Support(&dir)
	p.X, p.Y, p.Z = p.X*sb.scale.X, p.Y*sb.scale.Y, p.Z*sb.scale.Z
	sb.t.App(&p)
	return p
}

// minkowskiSupport returns w = supportA(d) - supportB(-d), carrying the
// originating supportA point as the contact witness (spec section 3,
// Contact's "witness").
func minkowskiSupport(a, b *supportBody, d lin.V3) minkowskiPoint {
	pa := a.worldSupport(d)
	neg := *lin.NewV3().Neg(&d)
	pb := b.worldSupport(neg)

	var w lin.V3
	w.Sub(&pa, &pb)
	return minkowskiPoint{p: w, witness: pa}
}

// rotateInverse rotates direction d by the inverse of t's rotation,
// letting Support() work in shape-local space regardless of world
// orientation.
func rotateInverse(t *lin.T, d lin.V3) lin.V3 {
	inv := lin.NewQ().Inv(t.Rot)
	var out lin.V3
	out.MultvQ(&d, inv)
	return out
}

// gjkTest runs GJK over the Minkowski difference of colliders a and b.
// On intersection it returns the terminal tetrahedron simplex for EPA.
// A non-convergent loop is reported as no contact this step (spec
// section 7), not an error.
func gjkTest(a, b *supportBody) (s simplex, collides bool) {
	d := lin.V3{X: 1, Y: 1, Z: 1}
	w := minkowskiSupport(a, b, d)
	s.push(w)
	direction := *lin.NewV3().Neg(&w.p)

	for i := 0; i < gjkMaxIterations; i++ {
		next := minkowskiSupport(a, b, direction)
		if next.p.Dot(&direction) < 0 {
			return s, false
		}
		s.push(next)
		if s.containsOrigin(&direction) {
			return s, true
		}
	}
	slog.Warn("physics: gjk did not converge within iteration bound")
	return s, false
}
