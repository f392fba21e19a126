// Copyright © 2024 Galvanized Logic Inc.

package physics

import "github.com/google/uuid"

// InactivityDetector runs at a fixed cadence, independent of the
// substep rate, propagating "inactive" status from grounded static
// bodies through chains of sleeping bodies (spec section 4.8), adapted
// from the union-find/graph-traversal idiom in gazed-vu's
// broad_collect_simulation_islands (the spec wants a connected-component
// DFS that can abort mid-traversal, rather than an unconditional union,
// so the two differ at the point where a non-sleeping body is reached).
type InactivityDetector struct {
	period  float64 // inactivityPeriod, spec section 6 default 0.5s (2Hz).
	accum   float64
	nextSet uint32

	// generation identifies the most recent completed run, for
	// diagnostics/test fixtures that need to tell two runs apart without
	// caring about the fast per-body InactiveSetID arithmetic below.
	generation uuid.UUID
}

// NewInactivityDetector builds a detector with the spec's default period.
func NewInactivityDetector() *InactivityDetector {
	return &InactivityDetector{period: 0.5}
}

// Generation returns the id of the most recently completed run, or the
// zero UUID if the detector has never run.
func (d *InactivityDetector) Generation() uuid.UUID { return d.generation }

// Tick accumulates real time and runs the detector when the configured
// period has elapsed.
func (d *InactivityDetector) Tick(bodies []*RigidBody, dt float64) {
	d.accum += dt
	if d.accum < d.period {
		return
	}
	d.accum = 0
	d.run(bodies)
	d.generation = uuid.New()
}

func (d *InactivityDetector) run(bodies []*RigidBody) {
	// Step 1: dissolve prior sets and clear grounded marks; every body
	// re-proves its inactivity from scratch each run.
	for _, b := range bodies {
		b.Inactive = false
		b.InactiveSetID = 0
		b.grounded = false
	}

	// Step 2: recursions start only from bodies touching static ground.
	checked := make(map[BodyID]bool)
	for _, ground := range bodies {
		if !ground.IsStatic() {
			continue
		}
		for _, m := range ground.manifolds {
			other := otherBody(m, ground.ID)
			other.grounded = true
			if !other.Sleeping || checked[other.ID] {
				continue
			}
			checked[other.ID] = true

			candidate := map[BodyID]*RigidBody{other.ID: other}
			if d.growCandidateSet(other, candidate, checked) {
				// Step 3: the whole component is sleeping; retire it.
				setID := d.nextSet
				d.nextSet++
				for _, member := range candidate {
					member.Inactive = true
					member.InactiveSetID = setID
				}
			}
		}
	}

	// Step 4: every dynamic body that is neither inactive nor grounded,
	// sleeping or not, must re-prove quiescence before it may sleep.
	for _, b := range bodies {
		if !b.Inactive && !b.IsStatic() && !b.grounded {
			b.revalidateSleeping()
		}
	}
}

// growCandidateSet grows a candidate set by DFS over cur's manifolds.
// Every reachable dynamic body is marked grounded along the way. The
// traversal fails (returns false) the moment it reaches a body that is
// neither static nor sleeping, or a body already consumed by a failed
// traversal -- only static or sleeping bodies may belong to an inactive
// set.
func (d *InactivityDetector) growCandidateSet(cur *RigidBody, candidate map[BodyID]*RigidBody, checked map[BodyID]bool) bool {
	for _, m := range cur.manifolds {
		next := otherBody(m, cur.ID)
		if next.IsStatic() {
			continue
		}
		next.grounded = true

		if checked[next.ID] {
			// Checked but outside this set means an earlier traversal
			// over it failed; this set inherits that failure.
			if _, ok := candidate[next.ID]; !ok {
				return false
			}
			continue
		}
		checked[next.ID] = true

		if !next.Sleeping {
			return false
		}
		candidate[next.ID] = next
		if !d.growCandidateSet(next, candidate, checked) {
			return false
		}
	}
	return true
}

func otherBody(m *ContactManifold, id BodyID) *RigidBody {
	if m.BodyA.ID == id {
		return m.BodyB
	}
	return m.BodyA
}

// Reactivate flips every member of body b's inactive set back to
// active, dissolving the set atomically (spec section 4.8 Reactivation).
// Called by the narrow phase when a fresh contact involves an inactive
// body; a no-op for active bodies.
func Reactivate(b *RigidBody, bodies []*RigidBody) {
	if !b.Inactive {
		return
	}
	setID := b.InactiveSetID
	for _, other := range bodies {
		if other.Inactive && other.InactiveSetID == setID {
			other.Wake()
		}
	}
}
