// Copyright © 2024 Galvanized Logic Inc.

package physics

import (
	"testing"

	"github.com/hexfall/rigidbody/math/lin"
)

// newManifoldContact builds a pool contact fully wired to two static
// bodies sitting at the origin with identity orientation, so
// LocalToWorld(loc) == loc and maintainManifold's drift/side checks have
// real bodies to call into instead of nil.
func newManifoldContact(t *testing.T, pool *contactPool, bodyA, bodyB *RigidBody, loc lin.V3, normal lin.V3) *Contact {
	t.Helper()
	c := pool.get()
	c.BodyA, c.BodyB = bodyA, bodyB
	c.Location = loc
	c.LocationB = loc
	c.localA = loc
	c.localB = loc
	c.Normal = normal
	return c
}

func TestContactPoolReusesReturnedContacts(t *testing.T) {
	pool := newContactPool()
	c := pool.get()
	pool.put(c)
	c2 := pool.get()
	if c2 != c {
		t.Errorf("expected the pool to hand back the just-returned contact")
	}
}

func TestContactPoolPanicsOnDoubleReturn(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected a panic returning a not-in-use contact to the pool")
		}
	}()
	pool := newContactPool()
	c := &Contact{}
	pool.put(c)
}

func TestMaintainManifoldAddsFreshContactFarFromExisting(t *testing.T) {
	pool := newContactPool()
	bodyA := newTestSphere(t, 0, 0, lin.V3{})
	bodyB := newTestSphere(t, 1, 0, lin.V3{})
	m := &ContactManifold{Points: make([]*Contact, 0, 4), Normal: lin.V3{Y: 1}}

	existing := newManifoldContact(t, pool, bodyA, bodyB, lin.V3{X: 0}, lin.V3{Y: 1})
	m.Points = append(m.Points, existing)

	fresh := newManifoldContact(t, pool, bodyA, bodyB, lin.V3{X: 1}, lin.V3{Y: 1})

	maintainManifold(m, fresh, pool)

	if len(m.Points) != 2 {
		t.Fatalf("expected the manifold to grow to 2 points, got %d", len(m.Points))
	}
}

func TestMaintainManifoldSkipsFreshContactTooCloseToExisting(t *testing.T) {
	pool := newContactPool()
	bodyA := newTestSphere(t, 0, 0, lin.V3{})
	bodyB := newTestSphere(t, 1, 0, lin.V3{})
	m := &ContactManifold{Points: make([]*Contact, 0, 4), Normal: lin.V3{Y: 1}}

	existing := newManifoldContact(t, pool, bodyA, bodyB, lin.V3{X: 0}, lin.V3{Y: 1})
	m.Points = append(m.Points, existing)

	fresh := newManifoldContact(t, pool, bodyA, bodyB, lin.V3{X: 0.001}, lin.V3{Y: 1})

	maintainManifold(m, fresh, pool)

	if len(m.Points) != 1 {
		t.Fatalf("a contact within the persistence threshold of an existing one should not be added, got %d points", len(m.Points))
	}
}

func TestMaintainManifoldReducesAboveFourContacts(t *testing.T) {
	pool := newContactPool()
	bodyA := newTestSphere(t, 0, 0, lin.V3{})
	bodyB := newTestSphere(t, 1, 0, lin.V3{})
	m := &ContactManifold{Normal: lin.V3{Y: 1}}

	locs := []lin.V3{{X: 0}, {X: 1}, {X: 0, Z: 1}, {X: 1, Z: 1}}
	for _, l := range locs {
		c := newManifoldContact(t, pool, bodyA, bodyB, l, lin.V3{Y: 1})
		m.Points = append(m.Points, c)
	}

	fresh := newManifoldContact(t, pool, bodyA, bodyB, lin.V3{X: 0.5, Z: 0.5}, lin.V3{Y: 1})

	maintainManifold(m, fresh, pool)

	if len(m.Points) > 4 {
		t.Errorf("manifold must never carry more than 4 contacts, got %d", len(m.Points))
	}
}

func TestTangentBasisIsOrthonormalToNormal(t *testing.T) {
	for _, n := range []lin.V3{{X: 1}, {Y: 1}, {Z: 1}, {X: 1, Y: 1, Z: 1}} {
		nu := n
		nu.Unit()
		u, v := tangentBasis(nu)
		if d := nu.Dot(&u); d > 1e-9 || d < -1e-9 {
			t.Errorf("tangent u should be orthogonal to normal %+v, dot=%v", nu, d)
		}
		if d := nu.Dot(&v); d > 1e-9 || d < -1e-9 {
			t.Errorf("tangent v should be orthogonal to normal %+v, dot=%v", nu, d)
		}
		if d := u.Dot(&v); d > 1e-9 || d < -1e-9 {
			t.Errorf("tangents should be orthogonal to each other, dot=%v", d)
		}
	}
}

func TestPairKeyOrdersAscending(t *testing.T) {
	lo, hi := pairKey(5, 2)
	if lo != 2 || hi != 5 {
		t.Errorf("pairKey(5,2) = (%d,%d), want (2,5)", lo, hi)
	}
	lo, hi = pairKey(2, 5)
	if lo != 2 || hi != 5 {
		t.Errorf("pairKey(2,5) = (%d,%d), want (2,5)", lo, hi)
	}
}
