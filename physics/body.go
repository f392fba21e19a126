// Copyright © 2013-2015 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package physics

import (
	"fmt"
	"math"

	"github.com/hexfall/rigidbody/math/lin"
)

// sleepThreshold, sleepLinearDamp and sleepAngularDamp are the sleep
// contract's tuning constants (spec section 6 defaults).
const (
	sleepThreshold     = 0.1
	sleepLinearDamp    = 0.7
	sleepAngularDamp   = 0.4
	sleepAverageWindow = 10.0 / 120.0 // divided by dt gives N in the running average.
)

// BodyID is a stable, monotonically assigned per-world integer id used
// for pair ordering and manifold hash keys (spec section 3).
type BodyID uint32

// RigidBody is a convex-hull rigid body: state, derived-state cache,
// integrator, support-mapping wrapper, AABB maintenance and sleeping
// flags (spec section 3/4.1).
type RigidBody struct {
	ID BodyID

	Shape *Shape
	Scale lin.V3

	Position lin.V3
	Orient   lin.Q

	invMass float64 // 0 means static.
	invI    lin.M3  // body-frame inverse inertia tensor.
	invIw   lin.M3  // cached R * invI * R^T.

	momentum  lin.V3 // linear momentum P.
	angular   lin.V3 // angular momentum L.
	linVel    lin.V3 // derived: P * invMass.
	angVel    lin.V3 // derived: invIw * L.

	force  lin.V3
	torque lin.V3

	LinearDamping  float64 // per-step multiplicative damping, default 1 (supplemented, original_source RigidBody.h).
	AngularDamping float64

	Friction    float64
	Restitution float64

	AABB Abox // world-space, derived from Shape.Aabb each integration.

	Sleeping      bool
	Inactive      bool
	InactiveSetID uint32
	changeAverage float64 // running "recent motion" average sigma.
	forceWakeup   bool
	grounded      bool

	// NoSleep suppresses sleep entry entirely (original_source
	// RigidBody::SetSleepingEnabled(false)). Constraint constructors
	// that anchor a body to a point or another body set this, since a
	// sleeping constrained body would otherwise stop satisfying its
	// constraint.
	NoSleep bool

	// manifolds maps "other body id" to the shared ContactManifold
	// (spec section 3). Recast from the teacher's cyclic body<->manifold
	// references into an id-keyed map per spec section 9's arena
	// guidance -- bodies never hold a pointer to another body.
	manifolds map[BodyID]*ContactManifold
}

// NewRigidBody validates and constructs a body. mass == 0 creates a
// static body (spec section 7: construction errors surface to the
// caller).
func NewRigidBody(id BodyID, shape *Shape, mass float64, position lin.V3, orient lin.Q) (*RigidBody, error) {
	if shape == nil {
		return nil, fmt.Errorf("physics: body %d has no shape", id)
	}
	if mass < 0 || math.IsNaN(mass) || math.IsInf(mass, 0) {
		return nil, fmt.Errorf("physics: body %d has invalid mass %v", id, mass)
	}
	b := &RigidBody{
		ID: id, Shape: shape, Scale: lin.V3{X: 1, Y: 1, Z: 1},
		Position: position, Orient: orient,
		LinearDamping: 1, AngularDamping: 1,
		Friction: 0.5, Restitution: 0,
		changeAverage: 1000, // don't allow sleep for the first cycles.
		manifolds:     make(map[BodyID]*ContactManifold),
	}
	if mass == 0 {
		// Static bodies count as permanently asleep: the narrow phase's
		// sleeping-pair short-circuit and the inactivity traversal both
		// treat them as already at rest.
		b.Sleeping = true
	}
	if mass > 0 {
		b.invMass = 1 / mass
		tensor := shape.Inertia(mass, &b.Scale)
		det := tensor.Det()
		if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
			return nil, fmt.Errorf("physics: body %d has a non-invertible inertia tensor", id)
		}
		b.invI.Inv(&tensor)
	}
	b.updateWorldInertia()
	b.updateAABB()
	return b, nil
}

// SetScale applies a per-axis scale to the body's world geometry,
// rebuilding the body-frame inertia tensor and world AABB the way
// construction does.
func (b *RigidBody) SetScale(s lin.V3) {
	b.Scale = s
	if !b.IsStatic() {
		tensor := b.Shape.Inertia(1/b.invMass, &b.Scale)
		b.invI = lin.M3{}
		b.invI.Inv(&tensor)
	}
	b.updateWorldInertia()
	b.updateAABB()
}

// IsStatic returns true when the body has zero inverse mass.
func (b *RigidBody) IsStatic() bool { return b.invMass == 0 }

// Active reports whether the body should participate in integration,
// broad/narrow phase and the solver this substep.
func (b *RigidBody) Active() bool { return !b.IsStatic() && !b.Inactive }

func (b *RigidBody) updateWorldInertia() {
	if b.IsStatic() {
		b.invIw = lin.M3{}
		return
	}
	r := lin.NewM3().SetQ(&b.Orient)
	rt := lin.NewM3().Transpose(r)
	aux := lin.NewM3().Mult(r, &b.invI)
	aux.Mult(aux, rt)
	b.invIw = *aux
}

func (b *RigidBody) updateAABB() {
	t := lin.T{Loc: &b.Position, Rot: &b.Orient}
	b.Shape.Aabb(&t, &b.Scale, &b.AABB, 0)
}

func (b *RigidBody) deriveVelocities() {
	if b.IsStatic() {
		b.linVel, b.angVel = lin.V3{}, lin.V3{}
		return
	}
	b.linVel.Scale(&b.momentum, b.invMass)
	b.angVel.MultvM(&b.angular, &b.invIw)
}

// LinearVelocity and AngularVelocity expose the derived state (spec
// invariant: v = P/m, omega = Iworld^-1 * L, re-derived after momentum
// changes).
func (b *RigidBody) LinearVelocity() lin.V3  { return b.linVel }
func (b *RigidBody) AngularVelocity() lin.V3 { return b.angVel }

// ApplyForce adds a force at the center of mass.
func (b *RigidBody) ApplyForce(f lin.V3) {
	if b.IsStatic() {
		return
	}
	b.force.Add(&b.force, &f)
}

// ApplyTorque adds a torque.
func (b *RigidBody) ApplyTorque(t lin.V3) {
	if b.IsStatic() {
		return
	}
	b.torque.Add(&b.torque, &t)
}

// ApplyForceAtPoint adds force f acting at world point p, contributing
// torque (p - x) x F (spec section 4.1).
func (b *RigidBody) ApplyForceAtPoint(f, p lin.V3) {
	if b.IsStatic() {
		return
	}
	b.force.Add(&b.force, &f)
	r := *lin.NewV3().Sub(&p, &b.Position)
	t := *lin.NewV3().Cross(&r, &f)
	b.torque.Add(&b.torque, &t)
}

// ApplyLinearImpulse adds impulse j directly to linear momentum and
// re-derives velocity.
func (b *RigidBody) ApplyLinearImpulse(j lin.V3) {
	if b.IsStatic() {
		return
	}
	b.momentum.Add(&b.momentum, &j)
	b.deriveVelocities()
}

// ApplyAngularImpulse adds impulse j directly to angular momentum and
// re-derives velocity.
func (b *RigidBody) ApplyAngularImpulse(j lin.V3) {
	if b.IsStatic() {
		return
	}
	b.angular.Add(&b.angular, &j)
	b.deriveVelocities()
}

// ApplyImpulseAtPoint applies linear impulse j at world point p.
func (b *RigidBody) ApplyImpulseAtPoint(j, p lin.V3) {
	if b.IsStatic() {
		return
	}
	b.momentum.Add(&b.momentum, &j)
	r := *lin.NewV3().Sub(&p, &b.Position)
	ang := *lin.NewV3().Cross(&r, &j)
	b.angular.Add(&b.angular, &ang)
	b.deriveVelocities()
}

// applyImpulsePair adds a linear and an angular impulse that were
// already computed by the caller (a constraint's Jacobian row), in one
// derive-velocities pass.
func (b *RigidBody) applyImpulsePair(linear, angular lin.V3) {
	if b.IsStatic() {
		return
	}
	b.momentum.Add(&b.momentum, &linear)
	b.angular.Add(&b.angular, &angular)
	b.deriveVelocities()
}

// Model returns the rigid (rotation + translation) part of the body's
// local-to-world transform. lin.T carries no scale slot, so Scale rides
// alongside it: the narrow phase folds it into the support queries and
// WorldToLocal/LocalToWorld below compose it the way a full
// translate*rotate*scale model matrix would.
func (b *RigidBody) Model() lin.T { return lin.T{Loc: &b.Position, Rot: &b.Orient} }

// WorldToLocal converts a world point into body-local (pre-scale)
// space: inverse rigid transform, then inverse per-axis scale.
func (b *RigidBody) WorldToLocal(p lin.V3) lin.V3 {
	t := lin.T{Loc: &b.Position, Rot: &b.Orient}
	out := *t.Inv(&p)
	out.X, out.Y, out.Z = out.X/b.Scale.X, out.Y/b.Scale.Y, out.Z/b.Scale.Z
	return out
}

// LocalToWorld converts a body-local point into world space: per-axis
// scale, then the rigid transform.
func (b *RigidBody) LocalToWorld(p lin.V3) lin.V3 {
	p.X, p.Y, p.Z = p.X*b.Scale.X, p.Y*b.Scale.Y, p.Z*b.Scale.Z
	t := lin.T{Loc: &b.Position, Rot: &b.Orient}
	return *t.App(&p)
}

// Integrate advances the body by dt using semi-implicit Euler (spec
// section 4.1): momentum += dt*force/torque, re-derive velocities,
// advance position by dt*v, advance orientation by the small-rotation
// quaternion (0, 0.5*dt*omega)*q, renormalise, rebuild cached world
// inverse inertia, recompute AABB.
//
// The sleep check runs first: a body whose recent-motion average and
// both momenta are under the threshold enters (or stays in) sleep, with
// its momenta damped each quiescent substep to bleed residual jitter,
// and a sleeping body skips integration entirely so resting stacks hold
// their exact positions. The running average updates regardless, so a
// sleeping body that the solver nudges re-proves (or loses) its
// quiescence every substep.
func (b *RigidBody) Integrate(dt float64) {
	if b.IsStatic() || b.Inactive {
		return
	}

	if !b.NoSleep && !b.forceWakeup {
		if b.changeAverage < sleepThreshold && b.momentum.Len() < sleepThreshold && b.angular.Len() < sleepThreshold {
			b.Sleeping = true
			b.momentum.Scale(&b.momentum, sleepLinearDamp)
			b.angular.Scale(&b.angular, sleepAngularDamp)
			b.deriveVelocities()
		} else if b.Sleeping {
			b.Sleeping = false
		}
	}

	if !b.Sleeping || b.forceWakeup {
		impulseF := *lin.NewV3().Scale(&b.force, dt)
		impulseT := *lin.NewV3().Scale(&b.torque, dt)
		b.momentum.Add(&b.momentum, &impulseF)
		b.angular.Add(&b.angular, &impulseT)
		if b.LinearDamping != 1 {
			b.momentum.Scale(&b.momentum, b.LinearDamping)
		}
		if b.AngularDamping != 1 {
			b.angular.Scale(&b.angular, b.AngularDamping)
		}
		b.deriveVelocities()

		dp := *lin.NewV3().Scale(&b.linVel, dt)
		b.Position.Add(&b.Position, &dp)

		halfOmega := lin.Q{X: 0.5 * dt * b.angVel.X, Y: 0.5 * dt * b.angVel.Y, Z: 0.5 * dt * b.angVel.Z, W: 0}
		dq := *lin.NewQ().Mult(&halfOmega, &b.Orient)
		b.Orient.Add(&b.Orient, &dq)
		b.Orient.Unit()

		b.updateWorldInertia()
		b.updateAABB()
	}

	n := sleepAverageWindow / dt
	b.changeAverage = (n*b.changeAverage + b.linVel.Len() + b.angVel.Len()) / (n + 1)
	b.forceWakeup = false
}

// ClearForces resets per-step external force/torque accumulators (the
// driver re-applies gravity and user forces each substep).
func (b *RigidBody) ClearForces() { b.force, b.torque = lin.V3{}, lin.V3{} }

// Wake reactivates a sleeping/inactive body and forces at least one
// substep of re-validation before it can sleep again (spec section 4.1,
// "forceWakeup"). The motion average is seeded well above the sleep
// threshold so the body cannot immediately re-sleep.
func (b *RigidBody) Wake() {
	b.Sleeping = false
	b.Inactive = false
	b.InactiveSetID = 0
	b.forceWakeup = true
	b.changeAverage = 20
}

// revalidateSleeping bumps a body's sleep state so it must re-prove
// quiescence: the motion average is nudged just above the threshold and
// the next substep integrates regardless of the sleep check. The
// inactivity detector calls this for every non-inactive, non-grounded
// dynamic body, sleeping or not (spec section 4.8 step 4).
func (b *RigidBody) revalidateSleeping() {
	if b.IsStatic() {
		return
	}
	b.forceWakeup = true
	b.changeAverage = 0.2
}
