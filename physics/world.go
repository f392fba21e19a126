// Copyright © 2024 Galvanized Logic Inc.

package physics

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hexfall/rigidbody/math/lin"
)

// maxSubsteps bounds how many substeps a single Step call will run.
// Step always runs TimestepDivider substeps whatever dtFrame is (dtFrame
// only sets the substep length), so the cap applies only when
// TimestepDivider exceeds it; a capped Step then simulates just
// maxSubsteps/TimestepDivider of the frame's time.
const maxSubsteps = 64

// Params holds the solver/driver tuning constants (spec section 6
// defaults).
type Params struct {
	Gravity          float64
	SolverIterations int
	TimestepDivider  int
	Speedup          int
	BroadPhase       BroadPhaseKind
}

// DefaultParams returns the spec's documented defaults.
func DefaultParams() Params {
	return Params{
		Gravity:          0.9,
		SolverIterations: 4,
		TimestepDivider:  4,
		Speedup:          2,
		BroadPhase:       BroadSweepAndPrune,
	}
}

// Diagnostics is the optional numerical-health sink (spec section 7):
// nothing in the core reads these back, they exist for callers and tests
// to observe per-step behaviour.
type Diagnostics struct {
	ContactsCreated     int
	ContactsReused      int
	ContactsDropped     int
	MaxSubstepsClamped  bool
	IntegrateDuration   time.Duration
	BroadPhaseDuration  time.Duration
	NarrowPhaseDuration time.Duration
	SolverDuration      time.Duration

	// InactivityGeneration is the id of the most recent completed
	// inactivity-detector run (zero UUID if it hasn't run yet this world).
	InactivityGeneration uuid.UUID
}

// World owns the body/manifold/constraint registries and drives the
// substep loop (spec section 4.9 and section 6 "World"), grounded on
// original_source/common/PhysicManager.h.
type World struct {
	// ID distinguishes one World from another in multi-world test
	// fixtures and logs; it plays no role in simulation itself.
	ID uuid.UUID

	Params      Params
	Diagnostics Diagnostics

	bodies    []*RigidBody
	bodyIndex map[BodyID]*RigidBody
	nextID    BodyID

	manifolds    map[Pair]*ContactManifold
	contactPool  *contactPool
	manifoldPool *manifoldPool

	dynamicConstraints    []Constraint
	persistentConstraints []Constraint

	inactivity *InactivityDetector

	running bool
}

// NewWorld constructs an empty world with default tuning.
func NewWorld() *World {
	return &World{
		ID:           uuid.New(),
		Params:       DefaultParams(),
		bodyIndex:    make(map[BodyID]*RigidBody),
		manifolds:    make(map[Pair]*ContactManifold),
		contactPool:  newContactPool(),
		manifoldPool: newManifoldPool(),
		inactivity:   NewInactivityDetector(),
		running:      true,
	}
}

// AddBody constructs and registers a rigid body, returning a stable
// handle (its BodyID doubles as the handle; the *RigidBody itself is
// also a valid, equally stable reference for the lifetime of the world).
func (w *World) AddBody(shape *Shape, mass float64, position lin.V3, orient lin.Q) (*RigidBody, error) {
	b, err := NewRigidBody(w.nextID, shape, mass, position, orient)
	if err != nil {
		return nil, err
	}
	w.nextID++
	w.bodies = append(w.bodies, b)
	w.bodyIndex[b.ID] = b
	return b, nil
}

// BodyDescriptor bundles everything needed to construct a body in one
// value (spec section 6). A zero Scale means (1,1,1); a zero Orient
// means identity; Friction and Restitution are clamped to [0,1].
type BodyDescriptor struct {
	Shape       *Shape
	Mass        float64 // 0 means static.
	Position    lin.V3
	Orient      lin.Q
	Scale       lin.V3
	Friction    float64
	Restitution float64
}

// AddBodyFrom constructs and registers a rigid body from a descriptor.
func (w *World) AddBodyFrom(d BodyDescriptor) (*RigidBody, error) {
	orient := d.Orient
	if orient == (lin.Q{}) {
		orient = *lin.NewQI()
	}
	b, err := w.AddBody(d.Shape, d.Mass, d.Position, orient)
	if err != nil {
		return nil, err
	}
	if d.Scale != (lin.V3{}) {
		b.SetScale(d.Scale)
	}
	b.Friction = lin.Clamp(d.Friction, 0, 1)
	b.Restitution = lin.Clamp(d.Restitution, 0, 1)
	return b, nil
}

// AddConstraint registers a persistent user constraint (Distance,
// TwoBodyDistance, BallJoint, Hinge, SoftDistance or Spring).
func (w *World) AddConstraint(c Constraint) {
	w.persistentConstraints = append(w.persistentConstraints, c)
}

// Bodies returns the world's bodies in registration order.
func (w *World) Bodies() []*RigidBody { return w.bodies }

// Body looks up a body by its stable id.
func (w *World) Body(id BodyID) (*RigidBody, bool) {
	b, ok := w.bodyIndex[id]
	return b, ok
}

// CountBodies returns the number of registered bodies.
func (w *World) CountBodies() int { return len(w.bodies) }

// Clear resets the world to empty, resetting the id counter (spec
// section 5: "the integer id counter is monotonic within a world and
// reset when the world is cleared") and restoring the tuning defaults.
func (w *World) Clear() {
	w.bodies = nil
	w.bodyIndex = make(map[BodyID]*RigidBody)
	w.nextID = 0
	w.manifolds = make(map[Pair]*ContactManifold)
	w.persistentConstraints = nil
	w.dynamicConstraints = nil
	w.contactPool = newContactPool()
	w.manifoldPool = newManifoldPool()
	w.inactivity = NewInactivityDetector()
	w.Params = DefaultParams()
}

// Start and Stop gate Step (original_source PhysicManager::Start/Stop).
func (w *World) Start()          { w.running = true }
func (w *World) Stop()           { w.running = false }
func (w *World) IsRunning() bool { return w.running }

// SetSpeedup, SetTimestepDivider and SetSolverIterations are the
// language-neutral setters named in spec section 6.
func (w *World) SetSpeedup(u int)          { w.Params.Speedup = u }
func (w *World) SetTimestepDivider(u int)  { w.Params.TimestepDivider = u }
func (w *World) SetSolverIterations(u int) { w.Params.SolverIterations = u }

// ContactInfo is the contact-query result shape (spec section 6:
// "normal, depth, world location on A and B, tangents, accumulated
// normal and tangent impulses").
type ContactInfo struct {
	Normal               lin.V3
	Depth                float64
	LocationA, LocationB lin.V3
	TangentU, TangentV   lin.V3
	NormalImpulse        float64
	Tangent1Impulse      float64
	Tangent2Impulse      float64
}

// QueryContacts returns up to four contacts for the (a, b) pair's live
// manifold, or nil if the pair has no manifold this step.
func (w *World) QueryContacts(a, b BodyID) []ContactInfo {
	lo, hi := pairKey(a, b)
	m, ok := w.manifolds[Pair{A: lo, B: hi}]
	if !ok || !m.persistent {
		return nil
	}
	infos := make([]ContactInfo, 0, len(m.Points))
	for _, c := range m.Points {
		info := ContactInfo{
			Normal: c.Normal, Depth: c.Depth,
			LocationA: c.Location, LocationB: c.LocationB,
			TangentU: c.TangentU, TangentV: c.TangentV,
		}
		if c.constraint != nil {
			info.NormalImpulse = c.constraint.normalImpulseSum
			info.Tangent1Impulse = c.constraint.tangent1ImpulseSum
			info.Tangent2Impulse = c.constraint.tangent2ImpulseSum
		}
		infos = append(infos, info)
	}
	return infos
}

// Manifolds calls fn for every live (persistent-this-step) manifold.
func (w *World) Manifolds(fn func(a, b BodyID, m *ContactManifold)) {
	for k, m := range w.manifolds {
		if m.persistent {
			fn(k.A, k.B, m)
		}
	}
}

// Step advances the world by one frame: scale dtFrame by speedup,
// subdivide into TimestepDivider substeps, run each substep's
// integrate/broad/narrow/solve pipeline, then tick the inactivity
// detector at its own cadence (spec section 4.9).
func (w *World) Step(dtFrame float64) {
	w.step(dtFrame, maxSubsteps)
}

// step is Step's implementation with the substep clamp threshold
// exposed as a parameter: Stabilise passes its own much larger
// threshold derived from the requested settle duration T, since
// maxSubsteps would otherwise cut the 220*T substeps a multi-second
// stabilisation pass runs down to 64.
func (w *World) step(dtFrame float64, clampAt int) {
	if !w.running || len(w.bodies) == 0 {
		return
	}

	speedup := w.Params.Speedup
	if speedup <= 0 {
		speedup = 1
	}
	divider := w.Params.TimestepDivider
	if divider <= 0 {
		divider = 1
	}
	total := dtFrame * float64(speedup)
	h := total / float64(divider)

	substeps := divider
	if substeps > clampAt {
		w.Diagnostics.MaxSubstepsClamped = true
		substeps = clampAt
	} else {
		w.Diagnostics.MaxSubstepsClamped = false
	}

	for i := 0; i < substeps; i++ {
		w.substep(h)
	}

	w.inactivity.Tick(w.bodies, total)
	w.Diagnostics.InactivityGeneration = w.inactivity.Generation()
}

// substep runs one fixed-size integration/collision/solve pass.
func (w *World) substep(h float64) {
	t0 := time.Now()
	for _, b := range w.bodies {
		b.Integrate(h)
	}
	w.Diagnostics.IntegrateDuration = time.Since(t0)

	for _, b := range w.bodies {
		b.ClearForces()
		if !b.IsStatic() {
			b.force = lin.V3{Y: -w.Params.Gravity}
		}
	}

	t1 := time.Now()
	w.runNarrowPhase()
	w.Diagnostics.NarrowPhaseDuration = time.Since(t1)

	t2 := time.Now()
	w.runSolver(h)
	w.Diagnostics.SolverDuration = time.Since(t2)
}

// runNarrowPhase recycles manifolds not observed last step, runs the
// configured broad phase, and for each pair either short-circuits a
// sleeping pair or runs GJK+EPA and manifold maintenance (spec section
// 4.6), grounded on original_source/common/collision/CollisionDetector.h.
func (w *World) runNarrowPhase() {
	t0 := time.Now()
	for k, m := range w.manifolds {
		if !m.persistent {
			w.recycleManifold(k, m)
		} else {
			m.persistent = false
		}
	}
	pairs := broadPhase(w.Params.BroadPhase, w.bodies)
	w.Diagnostics.BroadPhaseDuration = time.Since(t0)

	for _, p := range pairs {
		a, ok := w.bodyIndex[p.A]
		if !ok {
			continue
		}
		b, ok := w.bodyIndex[p.B]
		if !ok {
			continue
		}

		// Reuse last step's contacts untouched when both bodies sleep
		// (static bodies count as sleeping), spec section 4.4's
		// sleeping-pair short-circuit.
		m, ok := w.manifolds[p]
		if ok && a.Sleeping && b.Sleeping {
			m.persistent = true
			a.manifolds[b.ID] = m
			b.manifolds[a.ID] = m
			continue
		}
		if !ok {
			m = w.manifoldPool.get()
			m.BodyA, m.BodyB = a, b
			w.manifolds[p] = m
		}

		fresh := w.computeFreshContact(a, b)
		if fresh == nil {
			continue
		}
		maintainManifold(m, fresh, w.contactPool)
		for _, c := range m.Points {
			if c.constraint == nil {
				newContactConstraint(c)
				w.Diagnostics.ContactsCreated++
			} else {
				w.Diagnostics.ContactsReused++
			}
		}

		m.persistent = true
		a.manifolds[b.ID] = m
		b.manifolds[a.ID] = m
		Reactivate(a, w.bodies)
		Reactivate(b, w.bodies)
	}
}

// computeFreshContact runs GJK then EPA for the pair, returning a
// pool-allocated Contact on success or nil on no contact this step
// (spec section 7: GJK/EPA non-convergence is "no contact", not an
// error).
func (w *World) computeFreshContact(a, b *RigidBody) *Contact {
	ta, tb := a.Model(), b.Model()
	ca := supportBody{shape: a.Shape, t: &ta, scale: &a.Scale}
	cb := supportBody{shape: b.Shape, t: &tb, scale: &b.Scale}
	s, hit := gjkTest(&ca, &cb)
	if !hit {
		return nil
	}
	res := epa(&ca, &cb, &s)
	if !res.converged {
		return nil
	}

	// The contact normal is the negated Minkowski face normal: it points
	// from B toward A, so a positive normal impulse pushes the bodies
	// apart. locationB sits depth below location along that normal.
	c := w.contactPool.get()
	c.BodyA, c.BodyB = a, b
	c.Normal = *lin.NewV3().Neg(&res.normal)
	c.Depth = res.depth
	c.Location = res.witnessA
	offset := *lin.NewV3().Scale(&res.normal, res.depth)
	c.LocationB = *lin.NewV3().Sub(&res.witnessA, &offset)
	c.TangentU, c.TangentV = tangentBasis(c.Normal)
	updateContactKinematics(c)
	return c
}

// recycleManifold drops an unobserved manifold: its contacts return to
// the contact pool, the manifold to the manifold pool, and both bodies'
// manifold maps forget it.
func (w *World) recycleManifold(k Pair, m *ContactManifold) {
	delete(w.manifolds, k)
	if m.BodyA != nil && m.BodyB != nil {
		delete(m.BodyA.manifolds, m.BodyB.ID)
		delete(m.BodyB.manifolds, m.BodyA.ID)
		logDroppedManifold(m.BodyA.ID, m.BodyB.ID)
	}
	w.Diagnostics.ContactsDropped += len(m.Points)
	for _, c := range m.Points {
		w.contactPool.put(c)
	}
	w.manifoldPool.put(m)
}

// runSolver gathers this step's dynamic (per-contact) constraints,
// warm-starts both classes, then iterates SolverIterations times with
// dynamic constraints solved before persistent ones every iteration
// (spec section 4.7 and section 5 ordering guarantee 2).
func (w *World) runSolver(h float64) {
	// Constraint order must be stable between steps so warm-started
	// stacks see the same solve sequence every substep; pair keys give a
	// canonical order where Go's map iteration would not.
	keys := make([]Pair, 0, len(w.manifolds))
	for k, m := range w.manifolds {
		if m.persistent {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b Pair) int {
		if a.A != b.A {
			return int(a.A) - int(b.A)
		}
		return int(a.B) - int(b.B)
	})

	w.dynamicConstraints = w.dynamicConstraints[:0]
	for _, k := range keys {
		m := w.manifolds[k]
		for _, c := range m.Points {
			if c.constraint == nil {
				continue
			}
			if c.BodyA.Inactive && c.BodyB.Inactive {
				continue
			}
			if c.BodyA.Inactive && c.BodyB.IsStatic() {
				continue
			}
			if c.BodyA.IsStatic() && c.BodyB.Inactive {
				continue
			}
			w.dynamicConstraints = append(w.dynamicConstraints, c.constraint)
		}
	}

	for _, c := range w.dynamicConstraints {
		c.Apply(h)
	}
	for _, c := range w.persistentConstraints {
		c.Apply(h)
	}

	iterations := w.Params.SolverIterations
	if iterations <= 0 {
		iterations = 1
	}
	for i := 0; i < iterations; i++ {
		for _, c := range w.dynamicConstraints {
			c.Solve(h)
		}
		for _, c := range w.persistentConstraints {
			c.Solve(h)
		}
	}
}

// Stabilise runs Step(T) once with temporarily inflated solver
// iterations and timestep divider, letting a freshly constructed stack
// settle before normal stepping begins (spec section 4.9). The substep
// clamp is raised to match the requested divider here: under
// maxSubsteps the 220*T substeps would be cut to 64, and the pass would
// simulate only 64/(220*T) of T.
//
// Speedup is deliberately NOT restored to its prior value afterward:
// original_source PhysicManager::Stabilize backs up speedup, sets it to
// 1, and on restore assigns the backup variable from the live field
// instead of writing the backup back (`speedupBackup = speedup;` where
// `speedup = speedupBackup;` was clearly intended), so the original
// simulator is left running at speedup=1 after every Stabilize call.
// Preserved as-is per the "preserve likely bugs" design guidance.
func (w *World) Stabilise(T float64) {
	origIterations := w.Params.SolverIterations
	origDivider := w.Params.TimestepDivider
	origRunning := w.running

	w.running = true
	w.Params.Speedup = 1
	w.Params.SolverIterations = 100
	divider := int(T * 220)
	w.Params.TimestepDivider = divider

	clampAt := divider
	if clampAt < maxSubsteps {
		clampAt = maxSubsteps
	}
	w.step(T, clampAt)

	w.running = origRunning
	w.Params.SolverIterations = origIterations
	w.Params.TimestepDivider = origDivider
}
