// Copyright © 2013-2015 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package physics

import (
	"fmt"
	"math"

	"github.com/hexfall/rigidbody/math/lin"
)

// ShapeKind tags the closed-form family used for support mapping and
// inertia. Hull, Pyramid, Cylinder and Lane share the generic
// vertex-iteration support map and the Mirtich/Melax hull inertia
// integrator; only Sphere and Box get the analytic shortcuts.
type ShapeKind int

const (
	SphereShape ShapeKind = iota
	BoxShape
	HullShape
	PyramidShape
	CylinderShape
	LaneShape
)

// Shape is an immutable convex hull: a vertex list (>=3 unless analytic),
// a cached local-space AABB, and a support mapping. Shapes do not
// allocate during simulation; everything needed for AABB/inertia queries
// is precomputed at construction. Owned by exactly one RigidBody.
type Shape struct {
	kind ShapeKind

	verts  []lin.V3 // local-space convex vertex set (box corners included).
	radius float64  // meaningful for SphereShape only.
	half   lin.V3   // half-extents, meaningful for BoxShape only.

	aabb Abox // local-space bounding box.
}

// Type returns the shape's kind tag.
func (s *Shape) Type() ShapeKind { return s.kind }

// NewSphere creates a unit-family sphere shape of the given radius.
func NewSphere(radius float64) (*Shape, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("physics: sphere radius must be positive, got %v", radius)
	}
	s := &Shape{kind: SphereShape, radius: radius}
	s.aabb = Abox{Sx: -radius, Sy: -radius, Sz: -radius, Lx: radius, Ly: radius, Lz: radius}
	return s, nil
}

// NewBox creates an axis-aligned box shape from half-extents.
func NewBox(hx, hy, hz float64) (*Shape, error) {
	if hx <= 0 || hy <= 0 || hz <= 0 {
		return nil, fmt.Errorf("physics: box half-extents must be positive, got (%v,%v,%v)", hx, hy, hz)
	}
	s := &Shape{kind: BoxShape, half: lin.V3{X: hx, Y: hy, Z: hz}}
	s.verts = []lin.V3{
		{X: -hx, Y: -hy, Z: -hz}, {X: +hx, Y: -hy, Z: -hz},
		{X: -hx, Y: +hy, Z: -hz}, {X: +hx, Y: +hy, Z: -hz},
		{X: -hx, Y: -hy, Z: +hz}, {X: +hx, Y: -hy, Z: +hz},
		{X: -hx, Y: +hy, Z: +hz}, {X: +hx, Y: +hy, Z: +hz},
	}
	s.aabb = Abox{Sx: -hx, Sy: -hy, Sz: -hz, Lx: hx, Ly: hy, Lz: hz}
	return s, nil
}

// NewHull creates a generic convex hull shape from a vertex set. kind
// should be HullShape, PyramidShape, CylinderShape or LaneShape; all
// four use the same vertex-iteration support map and inertia integrator,
// the kind only documents intent for callers and diagnostics.
func NewHull(kind ShapeKind, verts []lin.V3) (*Shape, error) {
	if len(verts) < 3 {
		return nil, fmt.Errorf("physics: hull shape needs at least 3 vertices, got %d", len(verts))
	}
	s := &Shape{kind: kind, verts: append([]lin.V3(nil), verts...)}
	min, max := s.verts[0], s.verts[0]
	for _, v := range s.verts[1:] {
		min.Min(&min, &v)
		max.Max(&max, &v)
	}
	s.aabb = Abox{Sx: min.X, Sy: min.Y, Sz: min.Z, Lx: max.X, Ly: max.Y, Lz: max.Z}
	return s, nil
}

// Support returns the vertex of the hull maximising dot(v, d): for a
// unit sphere this is d/|d|*radius, for a box it is the half-extent
// corner selected componentwise by sign(d), otherwise the vertex set is
// scanned directly.
func (s *Shape) Support(d *lin.V3) lin.V3 {
	switch s.kind {
	case SphereShape:
		n := *d
		if l := n.Len(); l > 1e-12 {
			n.Scale(&n, s.radius/l)
		} else {
			n = lin.V3{X: s.radius}
		}
		return n
	case BoxShape:
		sign := func(x float64) float64 {
			if x < 0 {
				return -1
			}
			return 1
		}
		return lin.V3{X: sign(d.X) * s.half.X, Y: sign(d.Y) * s.half.Y, Z: sign(d.Z) * s.half.Z}
	default:
		best := s.verts[0]
		bestDot := best.Dot(d)
		for _, v := range s.verts[1:] {
			if dot := v.Dot(d); dot > bestDot {
				bestDot, best = dot, v
			}
		}
		return best
	}
}

// Aabb updates ab to be the world-space axis aligned bounding box of the
// shape under transform t and uniform-per-axis scale, expanded by
// margin. Sphere uses its radius times the largest scale component on
// every axis; box goes through the cheap transformed-basis-vector
// projection (valid because it is symmetric about the origin);
// everything else expands all cached local AABB corners through t.
func (s *Shape) Aabb(t *lin.T, scale *lin.V3, ab *Abox, margin float64) *Abox {
	switch s.kind {
	case SphereShape:
		r := s.radius*maxComponent(scale) + margin
		ab.Sx, ab.Sy, ab.Sz = t.Loc.X-r, t.Loc.Y-r, t.Loc.Z-r
		ab.Lx, ab.Ly, ab.Lz = t.Loc.X+r, t.Loc.Y+r, t.Loc.Z+r
		return ab
	case BoxShape:
		xx, xy, xz := lin.MultSQ(1, 0, 0, t.Rot)
		yx, yy, yz := lin.MultSQ(0, 1, 0, t.Rot)
		zx, zy, zz := lin.MultSQ(0, 0, 1, t.Rot)
		xx, xy, xz = math.Abs(xx), math.Abs(xy), math.Abs(xz)
		yx, yy, yz = math.Abs(yx), math.Abs(yy), math.Abs(yz)
		zx, zy, zz = math.Abs(zx), math.Abs(zy), math.Abs(zz)
		hmx, hmy, hmz := s.half.X*scale.X+margin, s.half.Y*scale.Y+margin, s.half.Z*scale.Z+margin
		ex := hmx*xx + hmy*xy + hmz*xz
		ey := hmx*yx + hmy*yy + hmz*yz
		ez := hmx*zx + hmy*zy + hmz*zz
		ab.Sx, ab.Sy, ab.Sz = t.Loc.X-ex, t.Loc.Y-ey, t.Loc.Z-ez
		ab.Lx, ab.Ly, ab.Lz = t.Loc.X+ex, t.Loc.Y+ey, t.Loc.Z+ez
		return ab
	default:
		return transformAabb(&s.aabb, t, scale, ab, margin)
	}
}

func maxComponent(v *lin.V3) float64 { return lin.Max3(v.X, v.Y, v.Z) }

// transformAabb expands all 8 corners of local AABB "local" through
// transform t and scale, taking componentwise min/max, matching the
// math/primitives "8-corner transform" (spec section 2).
func transformAabb(local *Abox, t *lin.T, scale *lin.V3, ab *Abox, margin float64) *Abox {
	corners := [8]lin.V3{
		{X: local.Sx, Y: local.Sy, Z: local.Sz}, {X: local.Lx, Y: local.Sy, Z: local.Sz},
		{X: local.Sx, Y: local.Ly, Z: local.Sz}, {X: local.Lx, Y: local.Ly, Z: local.Sz},
		{X: local.Sx, Y: local.Sy, Z: local.Lz}, {X: local.Lx, Y: local.Sy, Z: local.Lz},
		{X: local.Sx, Y: local.Ly, Z: local.Lz}, {X: local.Lx, Y: local.Ly, Z: local.Lz},
	}
	var min, max lin.V3
	for i := range corners {
		c := corners[i]
		c.X, c.Y, c.Z = c.X*scale.X, c.Y*scale.Y, c.Z*scale.Z
		t.App(&c)
		if i == 0 {
			min, max = c, c
			continue
		}
		min.Min(&min, &c)
		max.Max(&max, &c)
	}
	ab.Sx, ab.Sy, ab.Sz = min.X-margin, min.Y-margin, min.Z-margin
	ab.Lx, ab.Ly, ab.Lz = max.X+margin, max.Y+margin, max.Z+margin
	return ab
}

// Inertia returns the body-frame inertia tensor for the given mass and
// per-axis scale. Sphere and Box use closed forms; every other kind
// integrates the Mirtich/Melax signed-tetrahedron formula over the
// hull's vertices taken in triangle triples, normalised by 60*V (diagonal)
// and 120*V (off-diagonal), per spec section 4.2.
func (s *Shape) Inertia(mass float64, scale *lin.V3) lin.M3 {
	switch s.kind {
	case SphereShape:
		r := s.radius * (scale.X + scale.Y + scale.Z) / 3
		i := 0.4 * mass * r * r
		return lin.M3{Xx: i, Yy: i, Zz: i}
	case BoxShape:
		w, h, d := 2*s.half.X*scale.X, 2*s.half.Y*scale.Y, 2*s.half.Z*scale.Z
		c := mass / 12
		return lin.M3{Xx: c * (h*h + d*d), Yy: c * (w*w + d*d), Zz: c * (w*w + h*h)}
	default:
		return hullInertia(s.verts, mass, scale)
	}
}

func hullInertia(verts []lin.V3, mass float64, scale *lin.V3) lin.M3 {
	var volume, dx, dy, dz, ox, oy, oz float64
	for i := 0; i+2 < len(verts); i += 3 {
		a := lin.V3{X: verts[i].X * scale.X, Y: verts[i].Y * scale.Y, Z: verts[i].Z * scale.Z}
		b := lin.V3{X: verts[i+1].X * scale.X, Y: verts[i+1].Y * scale.Y, Z: verts[i+1].Z * scale.Z}
		c := lin.V3{X: verts[i+2].X * scale.X, Y: verts[i+2].Y * scale.Y, Z: verts[i+2].Z * scale.Z}

		detJ := a.X*(b.Y*c.Z-b.Z*c.Y) - a.Y*(b.X*c.Z-b.Z*c.X) + a.Z*(b.X*c.Y-b.Y*c.X)
		volume += detJ / 6

		dx += detJ * (a.X*a.X + a.X*b.X + b.X*b.X + a.X*c.X + b.X*c.X + c.X*c.X)
		dy += detJ * (a.Y*a.Y + a.Y*b.Y + b.Y*b.Y + a.Y*c.Y + b.Y*c.Y + c.Y*c.Y)
		dz += detJ * (a.Z*a.Z + a.Z*b.Z + b.Z*b.Z + a.Z*c.Z + b.Z*c.Z + c.Z*c.Z)

		ox += detJ * (2*a.Y*a.Z + b.Y*c.Z + c.Y*b.Z + 2*b.Y*b.Z + a.Y*c.Z + c.Y*a.Z + 2*c.Y*c.Z + a.Y*b.Z + b.Y*a.Z)
		oy += detJ * (2*a.X*a.Z + b.X*c.Z + c.X*b.Z + 2*b.X*b.Z + a.X*c.Z + c.X*a.Z + 2*c.X*c.Z + a.X*b.Z + b.X*a.Z)
		oz += detJ * (2*a.X*a.Y + b.X*c.Y + c.X*b.Y + 2*b.X*b.Y + a.X*c.Y + c.X*a.Y + 2*c.X*c.Y + a.X*b.Y + b.X*a.Y)
	}
	if math.Abs(volume) < 1e-12 {
		return lin.M3{}
	}
	density := mass / volume
	return lin.M3{
		Xx: density * (dy + dz) / 60,
		Yy: density * (dx + dz) / 60,
		Zz: density * (dx + dy) / 60,
		Xy: -density * oz / 120, Yx: -density * oz / 120,
		Xz: -density * oy / 120, Zx: -density * oy / 120,
		Yz: -density * ox / 120, Zy: -density * ox / 120,
	}
}

// Abox
// ============================================================================

// Abox is an axis aligned bounding box used during the broad phase and
// as the cached shape-local bound. Vertices for the full axis aligned
// box are the smallest point (Sx,Sy,Sz) and largest point (Lx,Ly,Lz).
type Abox struct {
	Sx, Sy, Sz float64
	Lx, Ly, Lz float64
}

// Overlaps returns true if Abox a and b are intersecting. Returns false
// if they are disjoint or only touching along a point, edge or face.
func (a *Abox) Overlaps(b *Abox) bool {
	return a.Lx > b.Sx && a.Sx < b.Lx && a.Ly > b.Sy && a.Sy < b.Ly && a.Lz > b.Sz && a.Sz < b.Lz
}

// Contains returns true if point p lies within (or on the boundary of)
// the box, used by testable-property checks that the world AABB fully
// contains the transformed shape vertices.
func (a *Abox) Contains(p *lin.V3) bool {
	return p.X >= a.Sx && p.X <= a.Lx && p.Y >= a.Sy && p.Y <= a.Ly && p.Z >= a.Sz && p.Z <= a.Lz
}
