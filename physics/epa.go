// SPDX-FileCopyrightText : © 2024 Galvanized Logic Inc.
// SPDX-License-Identifier: BSD-2-Clause

package physics

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/hexfall/rigidbody/math/lin"
)

// epaMaxIterations is the EPA loop's hard bound (spec: "approx 10000
// iterations with a hard assertion on non-convergence" -- a degenerate
// hull is a programmer error, not a recoverable event).
const epaMaxIterations = 10000

// epaEpsilon is the "face is the Minkowski surface" convergence test
// tolerance (spec section 4.3, epsilon approx 1e-3).
const epaEpsilon = 1e-3

type v2Int struct{ x, y uint32 }
type v3Int struct{ x, y, z uint32 }

// polytopeFromSimplex builds the initial 4-triangle EPA polytope from a
// GJK tetrahedron (spec section 4.3).
func polytopeFromSimplex(s *simplex) (verts, witness []lin.V3, faces []v3Int) {
	if s.dim != 4 {
		slog.Error("physics: polytopeFromSimplex expects a tetrahedron simplex")
	}
	verts = make([]lin.V3, 4)
	witness = make([]lin.V3, 4)
	for i, m := range s.points {
		verts[i], witness[i] = m.p, m.witness
	}
	faces = []v3Int{{0, 1, 2}, {0, 2, 3}, {0, 3, 1}, {1, 2, 3}}
	return verts, witness, faces
}

// faceNormalAndDistance returns the face's outward unit normal and the
// (non-negative, by construction) distance from the origin to the
// face's plane. Ties/degenerate cases are resolved by checking the sign
// against the rest of the polytope, which must lie behind a convex
// face's plane. The spec intentionally preserves this `|n.a|` rather
// than `n.a` sign convention (see design notes, open question a).
func faceNormalAndDistance(face v3Int, polytope []lin.V3) (normal lin.V3, distance float64) {
	a, b, c := &polytope[face.x], &polytope[face.y], &polytope[face.z]
	ab := lin.NewV3().Sub(b, a)
	ac := lin.NewV3().Sub(c, a)
	n := lin.NewV3().Cross(ab, ac).Unit()
	if n.X == 0 && n.Y == 0 && n.Z == 0 {
		slog.Error("physics: epa face normal is degenerate")
		return normal, distance
	}

	distance = n.Dot(a)
	switch {
	case distance < 0:
		n.Neg(n)
		distance = -distance
	case distance == 0:
		resolved := false
		for i := range polytope {
			d := n.Dot(&polytope[i])
			if d != 0 {
				if d >= 0 {
					n.Neg(n)
				}
				resolved = true
				break
			}
		}
		if !resolved {
			panic(fmt.Errorf("physics: epa polytope is degenerate (all points coplanar)"))
		}
	}
	return *n, distance
}

func addEdge(edges []v2Int, edge v2Int) []v2Int {
	for i, e := range edges {
		if (e.x == edge.x && e.y == edge.y) || (e.x == edge.y && e.y == edge.x) {
			return slices.Delete(edges, i, i+1)
		}
	}
	return append(edges, edge)
}

func triangleCentroid(a, b, c lin.V3) lin.V3 {
	centroid := lin.NewV3().Add(&b, &c)
	centroid.Add(centroid, &a)
	centroid.Scale(centroid, 1.0/3.0)
	return *centroid
}

// barycentric returns the barycentric coordinates of point p projected
// onto triangle (a,b,c), used to interpolate the face's witness supports
// to the origin's location on the Minkowski surface (spec section 4.3).
func barycentric(p, a, b, c lin.V3) (u, v, w float64) {
	v0 := *lin.NewV3().Sub(&b, &a)
	v1 := *lin.NewV3().Sub(&c, &a)
	v2 := *lin.NewV3().Sub(&p, &a)
	d00 := v0.Dot(&v0)
	d01 := v0.Dot(&v1)
	d11 := v1.Dot(&v1)
	d20 := v2.Dot(&v0)
	d21 := v2.Dot(&v1)
	denom := d00*d11 - d01*d01
	if math.Abs(denom) < 1e-12 {
		return 1.0 / 3, 1.0 / 3, 1.0 / 3
	}
	v = (d11*d20 - d01*d21) / denom
	w = (d00*d21 - d01*d20) / denom
	u = 1 - v - w
	return u, v, w
}

// epaResult carries everything the narrow phase needs to build a
// Contact: the outward face normal on the Minkowski surface, the
// penetration depth, and the witness point on A's surface
// (barycentric-interpolated per spec section 4.3). The contact's own
// normal is the negation of this face normal; the narrow phase flips it
// when it builds the Contact.
type epaResult struct {
	normal    lin.V3 // outward A-B face normal; negate for the contact.
	depth     float64
	witnessA  lin.V3
	converged bool
}

// epa expands the GJK tetrahedron into the Minkowski surface, extracting
// penetration normal and depth plus the contact witness on A, following
// spec section 4.3 exactly (face selection by smallest |n.a|, expansion
// by deleting visible faces and stitching new ones to the silhouette).
func epa(a, b *supportBody, s *simplex) epaResult {
	polytope, witnessA, faces := polytopeFromSimplex(s)

	normals := make([]lin.V3, len(faces))
	dists := make([]float64, len(faces))
	minIdx := 0
	minDist := math.MaxFloat64
	for i, f := range faces {
		normals[i], dists[i] = faceNormalAndDistance(f, polytope)
		if dists[i] < minDist {
			minDist, minIdx = dists[i], i
		}
	}

	var edges []v2Int
	for it := 0; it < epaMaxIterations; it++ {
		minNormal := normals[minIdx]
		sp := minkowskiSupport(a, b, minNormal)
		supportPoint := sp.p

		d := minNormal.Dot(&supportPoint)
		if math.Abs(d-dists[minIdx]) < epaEpsilon {
			face := faces[minIdx]
			originOnFace := scaleV3(minNormal, dists[minIdx])
			u, v, w := barycentric(originOnFace, polytope[face.x], polytope[face.y], polytope[face.z])
			wa, wb, wc := witnessA[face.x], witnessA[face.y], witnessA[face.z]
			contact := lin.V3{
				X: u*wa.X + v*wb.X + w*wc.X,
				Y: u*wa.Y + v*wb.Y + w*wc.Y,
				Z: u*wa.Z + v*wb.Z + w*wc.Z,
			}
			return epaResult{normal: minNormal, depth: dists[minIdx], witnessA: contact, converged: true}
		}

		newIdx := uint32(len(polytope))
		polytope = append(polytope, supportPoint)
		witnessA = append(witnessA, sp.witness)

		for i := 0; i < len(normals); i++ {
			n := normals[i]
			f := faces[i]
			centroid := triangleCentroid(polytope[f.x], polytope[f.y], polytope[f.z])
			toSupport := lin.NewV3().Sub(&supportPoint, &centroid)
			if n.Dot(toSupport) <= 0 {
				continue
			}
			edges = addEdge(edges, v2Int{f.x, f.y})
			edges = addEdge(edges, v2Int{f.y, f.z})
			edges = addEdge(edges, v2Int{f.z, f.x})
			faces = slices.Delete(faces, i, i+1)
			dists = slices.Delete(dists, i, i+1)
			normals = slices.Delete(normals, i, i+1)
			i--
		}

		for _, e := range edges {
			nf := v3Int{e.x, e.y, newIdx}
			n, d := faceNormalAndDistance(nf, polytope)
			faces = append(faces, nf)
			normals = append(normals, n)
			dists = append(dists, d)
		}
		edges = edges[:0]

		minDist = math.MaxFloat64
		for i, dd := range dists {
			if dd < minDist {
				minDist, minIdx = dd, i
			}
		}
	}
	panic(fmt.Errorf("physics: epa exceeded %d iterations without converging (degenerate hull)", epaMaxIterations))
}

func scaleV3(v lin.V3, s float64) lin.V3 {
	v.Scale(&v, s)
	return v
}
