// Copyright © 2024 Galvanized Logic Inc.

package physics

import (
	"log/slog"
	"math"

	"github.com/hexfall/rigidbody/math/lin"
)

// Tuning constants for manifold maintenance (spec section 6 defaults).
const (
	persistenceThreshold = 0.01 // T in spec section 4.4.
	collisionThreshold   = 0.1  // Colliding/Diverging boundary on vRel.
)

// ContactType classifies a contact's relative normal velocity against
// collisionThreshold (spec section 3).
type ContactType int

const (
	Colliding ContactType = iota
	Diverging
)

// Contact carries one point of a manifold (spec section 3). Allocated
// through a free-list pool, owned by exactly one manifold.
type Contact struct {
	BodyA, BodyB *RigidBody

	Normal lin.V3 // unit, points from B to A.

	Location  lin.V3 // world location on A's surface.
	LocationB lin.V3 // mirrored location on B: Location + Depth*Normal.

	localA, localB lin.V3 // cached body-local anchors, re-transformed each step.

	TangentU, TangentV lin.V3

	Depth float64
	VRel  float64
	Type  ContactType

	constraint *ContactConstraint

	inUse bool
}

// reset clears a pooled contact back to its zero value before returning
// it to the free list.
func (c *Contact) reset() { *c = Contact{} }

// ContactManifold is keyed by an ordered (minId, maxId) body pair and
// holds up to four contacts chosen to maximise contact area (spec
// section 3/4.4).
type ContactManifold struct {
	BodyA, BodyB *RigidBody
	Points       []*Contact
	Normal       lin.V3
	persistent   bool
}

// contactPool and manifoldPool are per-world free lists (spec section 9:
// "process-wide pools are properly a per-world resource").
type contactPool struct {
	free []*Contact
}

func newContactPool() *contactPool { return &contactPool{} }

func (p *contactPool) get() *Contact {
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		c.inUse = true
		return c
	}
	return &Contact{inUse: true}
}

// put returns a contact to the pool. Returning one twice (or one that
// never came from get) is a fatal assertion (spec section 7, "pool
// misuse").
func (p *contactPool) put(c *Contact) {
	if !c.inUse {
		panic("physics: contact returned to pool while not marked in-use")
	}
	c.reset()
	p.free = append(p.free, c)
}

type manifoldPool struct {
	free []*ContactManifold
}

func newManifoldPool() *manifoldPool { return &manifoldPool{} }

func (p *manifoldPool) get() *ContactManifold {
	if n := len(p.free); n > 0 {
		m := p.free[n-1]
		p.free = p.free[:n-1]
		return m
	}
	return &ContactManifold{Points: make([]*Contact, 0, 4)}
}

func (p *manifoldPool) put(m *ContactManifold) {
	m.BodyA, m.BodyB, m.Normal, m.persistent = nil, nil, lin.V3{}, false
	m.Points = m.Points[:0]
	p.free = append(p.free, m)
}

// pairKey orders two body ids as (minId, maxId) (spec section 3/5:
// "pair keys are always (minId, maxId)").
func pairKey(a, b BodyID) (minID, maxID BodyID) {
	if a < b {
		return a, b
	}
	return b, a
}

// maintainManifold reconciles manifold m with fresh geometry, following
// spec section 4.4 steps 1-4. fresh is the newly computed GJK/EPA
// contact for this step, or nil if narrow phase produced nothing.
func maintainManifold(m *ContactManifold, fresh *Contact, pool *contactPool) {
	// Step 1: drop contacts whose re-transformed anchors have drifted
	// past the persistence threshold, or whose bodies no longer
	// penetrate along the contact's normal.
	kept := m.Points[:0]
	for _, c := range m.Points {
		worldA := c.BodyA.LocalToWorld(c.localA)
		worldB := c.BodyB.LocalToWorld(c.localB)
		diff := *lin.NewV3().Sub(&worldB, &worldA)
		if c.Normal.Dot(&diff) < 0 {
			pool.put(c)
			continue
		}
		driftA := *lin.NewV3().Sub(&worldA, &c.Location)
		driftB := *lin.NewV3().Sub(&worldB, &c.LocationB)
		if driftA.Len() > persistenceThreshold || driftB.Len() > persistenceThreshold {
			pool.put(c)
			continue
		}
		kept = append(kept, c)
	}
	m.Points = kept

	// Step 2: add the newly computed contact if it's farther than T from
	// every surviving contact on both bodies.
	if fresh != nil {
		farEnough := true
		for _, c := range m.Points {
			if lin.NewV3().Sub(&fresh.Location, &c.Location).Len() <= persistenceThreshold ||
				lin.NewV3().Sub(&fresh.LocationB, &c.LocationB).Len() <= persistenceThreshold {
				farEnough = false
				break
			}
		}
		if farEnough {
			cacheLocalAnchors(fresh)
			m.Points = append(m.Points, fresh)
		} else {
			pool.put(fresh)
		}
	}

	// Step 3: reduce to at most 4 contacts.
	for len(m.Points) > 4 {
		m.Points = reduceManifold(m.Points, pool)
	}

	// Step 4: promote the shared normal to the most recent contact.
	if fresh != nil {
		m.Normal = fresh.Normal
	} else if len(m.Points) > 0 {
		m.Normal = m.Points[len(m.Points)-1].Normal
	}
}

func cacheLocalAnchors(c *Contact) {
	c.localA = c.BodyA.WorldToLocal(c.Location)
	c.localB = c.BodyB.WorldToLocal(c.LocationB)
}

// reduceManifold implements spec section 4.4 step 3's exact reduction
// when 5 contacts are present: deepest first (c1), farthest from c1
// (c2), farthest from line c1c2 (c3), farthest from triangle c1c2c3 via
// clamped barycentric projection (c4).
func reduceManifold(points []*Contact, pool *contactPool) []*Contact {
	deepest := 0
	for i, c := range points {
		if c.Depth > points[deepest].Depth {
			deepest = i
		}
	}
	c1 := points[deepest]

	farthest := -1
	farDist := -1.0
	for i, c := range points {
		if c == c1 {
			continue
		}
		d := lin.NewV3().Sub(&c.Location, &c1.Location).Len()
		if d > farDist {
			farDist, farthest = d, i
		}
	}
	c2 := points[farthest]

	n := *lin.NewV3().Sub(&c2.Location, &c1.Location)
	if l := n.Len(); l > 1e-12 {
		n.Scale(&n, 1/l)
	}
	farFromLine := -1
	farLineDist := -1.0
	for i, c := range points {
		if c == c1 || c == c2 {
			continue
		}
		q := *lin.NewV3().Sub(&c1.Location, &c.Location)
		proj := n.Dot(&q)
		perp := *lin.NewV3().Scale(&n, proj)
		perp.Sub(&q, &perp)
		if d := perp.Len(); d > farLineDist {
			farLineDist, farFromLine = d, i
		}
	}
	c3 := points[farFromLine]

	farFromTri := -1
	farTriDist := -1.0
	for i, c := range points {
		if c == c1 || c == c2 || c == c3 {
			continue
		}
		u, v, w := barycentric(c.Location, c1.Location, c2.Location, c3.Location)
		u, v, w = lin.Clamp(u, 0, 1), lin.Clamp(v, 0, 1), lin.Clamp(w, 0, 1)
		sum := u + v + w
		if sum == 0 {
			sum = 1
		}
		proj := lin.V3{
			X: (u*c1.Location.X + v*c2.Location.X + w*c3.Location.X) / sum,
			Y: (u*c1.Location.Y + v*c2.Location.Y + w*c3.Location.Y) / sum,
			Z: (u*c1.Location.Z + v*c2.Location.Z + w*c3.Location.Z) / sum,
		}
		if d := lin.NewV3().Sub(&c.Location, &proj).Len(); d > farTriDist {
			farTriDist, farFromTri = d, i
		}
	}

	survivors := make([]*Contact, 0, 4)
	keepSet := map[*Contact]bool{c1: true, c2: true, c3: true}
	if farFromTri >= 0 {
		keepSet[points[farFromTri]] = true
	}
	for _, c := range points {
		if keepSet[c] {
			survivors = append(survivors, c)
		} else {
			pool.put(c)
		}
	}
	return survivors
}

// tangentBasis computes two orthonormal tangents completing normal n,
// using the "one-of-two" formula with threshold 0.57735 on |n.x| (spec
// section 4.7), grounded on gazed-vu's lin.V3.Plane (Bullet
// btPlaneSpace1).
func tangentBasis(n lin.V3) (u, v lin.V3) {
	if math.Abs(n.X) >= 0.57735 {
		l := math.Sqrt(n.X*n.X + n.Y*n.Y)
		u = lin.V3{X: n.Y / l, Y: -n.X / l, Z: 0}
	} else {
		l := math.Sqrt(n.Y*n.Y + n.Z*n.Z)
		u = lin.V3{X: 0, Y: n.Z / l, Z: -n.Y / l}
	}
	v = *lin.NewV3().Cross(&n, &u)
	return u, v
}

// logDroppedManifold is invoked by the narrow phase when a pair's
// manifold is recycled because it wasn't observed this step.
func logDroppedManifold(a, b BodyID) {
	slog.Debug("physics: recycling unobserved manifold", "a", a, "b", b)
}
