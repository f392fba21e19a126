// Copyright © 2024 Galvanized Logic Inc.

package physics

import (
	"math"
	"testing"

	"github.com/hexfall/rigidbody/math/lin"
)

func TestNewHullRejectsTooFewVertices(t *testing.T) {
	if _, err := NewHull(HullShape, []lin.V3{{X: 1}, {Y: 1}}); err == nil {
		t.Errorf("a hull needs at least 3 vertices")
	}
}

func TestNewSphereRejectsNonPositiveRadius(t *testing.T) {
	if _, err := NewSphere(0); err == nil {
		t.Errorf("a sphere needs a positive radius")
	}
	if _, err := NewSphere(-1); err == nil {
		t.Errorf("a sphere needs a positive radius")
	}
}

func TestSphereSupportIsScaledDirection(t *testing.T) {
	s, err := NewSphere(2)
	if err != nil {
		t.Fatalf("NewSphere: %v", err)
	}
	d := lin.V3{X: 3, Y: 4}
	p := s.Support(&d)
	if math.Abs(p.X-1.2) > 1e-12 || math.Abs(p.Y-1.6) > 1e-12 || p.Z != 0 {
		t.Errorf("sphere support should be r*d/|d|, got %+v", p)
	}
}

func TestBoxSupportPicksSignedCorner(t *testing.T) {
	s, err := NewBox(0.5, 1, 2)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	d := lin.V3{X: 1, Y: -2, Z: 0.1}
	p := s.Support(&d)
	want := lin.V3{X: 0.5, Y: -1, Z: 2}
	if p != want {
		t.Errorf("box support = %+v, want %+v", p, want)
	}
}

func TestHullSupportMaximisesDot(t *testing.T) {
	verts := []lin.V3{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1}}
	s, err := NewHull(HullShape, verts)
	if err != nil {
		t.Fatalf("NewHull: %v", err)
	}
	d := lin.V3{X: 0.1, Y: 0.9}
	p := s.Support(&d)
	best := p.Dot(&d)
	for _, v := range verts {
		if v.Dot(&d) > best+1e-12 {
			t.Errorf("support returned %+v but %+v has a larger dot with %+v", p, v, d)
		}
	}
}

func TestBoxInertiaMatchesClosedForm(t *testing.T) {
	s, err := NewBox(0.5, 0.5, 0.5)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	scale := lin.V3{X: 1, Y: 1, Z: 1}
	i := s.Inertia(6, &scale)
	// unit cube, mass 6: I = 6/12 * (1+1) = 1 on each axis.
	if math.Abs(i.Xx-1) > 1e-12 || math.Abs(i.Yy-1) > 1e-12 || math.Abs(i.Zz-1) > 1e-12 {
		t.Errorf("unit cube inertia diagonal should be 1, got %+v", i)
	}
	if i.Xy != 0 || i.Xz != 0 || i.Yz != 0 {
		t.Errorf("axis-aligned box inertia must be diagonal, got %+v", i)
	}
}

func TestSphereInertiaMatchesClosedForm(t *testing.T) {
	s, err := NewSphere(0.5)
	if err != nil {
		t.Fatalf("NewSphere: %v", err)
	}
	scale := lin.V3{X: 1, Y: 1, Z: 1}
	i := s.Inertia(2, &scale)
	want := 0.4 * 2 * 0.25 // 2/5 m r^2.
	if math.Abs(i.Xx-want) > 1e-12 || math.Abs(i.Yy-want) > 1e-12 || math.Abs(i.Zz-want) > 1e-12 {
		t.Errorf("sphere inertia diagonal should be %v, got %+v", want, i)
	}
}

func TestWorldAabbContainsTransformedVertices(t *testing.T) {
	shape, err := NewBox(0.5, 1, 2)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	// rotate 45 degrees about Z so the world box must grow to cover the
	// tilted corners.
	half := math.Pi / 8
	q := lin.Q{Z: math.Sin(half), W: math.Cos(half)}
	b, err := NewRigidBody(0, shape, 1, lin.V3{X: 3, Y: -2, Z: 1}, q)
	if err != nil {
		t.Fatalf("NewRigidBody: %v", err)
	}
	for _, v := range shape.verts {
		world := b.LocalToWorld(v)
		if !b.AABB.Contains(&world) {
			t.Errorf("world AABB %+v should contain transformed vertex %+v", b.AABB, world)
		}
	}
}
