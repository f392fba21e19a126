// Copyright © 2013-2015 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package physics

import (
	"math"

	"github.com/hexfall/rigidbody/math/lin"
)

// solveTranslationRow computes the linear/angular impulse pair for a
// ball-joint-style positional constraint C_trans = (x2+r2) - (x1+r1),
// shared by BallJointConstraint and HingeConstraint's translation rows.
// Grounded on BallJointConstraint::Solve / HingeConstraint::Solve.
func solveTranslationRow(bodyA, bodyB *RigidBody, r1, r2 lin.V3, dt float64) (impA, angA, impB, angB lin.V3) {
	ma := transMassInv3(bodyA, r1)
	mb := transMassInv3(bodyB, r2)
	kTrans := lin.M3{
		Xx: ma.Xx + mb.Xx, Xy: ma.Xy + mb.Xy, Xz: ma.Xz + mb.Xz,
		Yx: ma.Yx + mb.Yx, Yy: ma.Yy + mb.Yy, Yz: ma.Yz + mb.Yz,
		Zx: ma.Zx + mb.Zx, Zy: ma.Zy + mb.Zy, Zz: ma.Zz + mb.Zz,
	}
	var kInv lin.M3
	kInv.Inv(&kTrans)

	r1CrossOmega1 := *lin.NewV3().Cross(&r1, &bodyA.angVel)
	r2CrossOmega2 := *lin.NewV3().Cross(&r2, &bodyB.angVel)

	cTrans := *lin.NewV3().Add(&bodyB.Position, &r2)
	x1PlusR1 := *lin.NewV3().Add(&bodyA.Position, &r1)
	cTrans.Sub(&cTrans, &x1PlusR1)

	deltaV := *lin.NewV3().Sub(&bodyB.linVel, &bodyA.linVel)
	deltaV.Add(&deltaV, &r1CrossOmega1)
	deltaV.Sub(&deltaV, &r2CrossOmega2)
	bias := *lin.NewV3().Scale(&cTrans, baumgarteBeta/dt)
	deltaV.Add(&deltaV, &bias)

	negDeltaV := *lin.NewV3().Neg(&deltaV)
	lambdaTrans := *lin.NewV3().MultMv(&kInv, &negDeltaV)

	impA = *lin.NewV3().Neg(&lambdaTrans) // J1 = -I
	impB = lambdaTrans                    // J3 = I

	ang1Raw := *lin.NewV3().Cross(&r1, &lambdaTrans)
	angA = *lin.NewV3().Neg(&ang1Raw) // -(J2*lambda), J2 = skew(r1)
	angB = *lin.NewV3().Cross(&r2, &lambdaTrans)
	return impA, angA, impB, angB
}

// BallJointConstraint pins two bodies' local anchor points together
// (spec section 6: BallJoint(a, b, world point)), grounded on
// original_source/common/constraint/BallJointConstraint.h.
type BallJointConstraint struct {
	bodyA, bodyB         *RigidBody
	anchorALoc, anchorBLoc lin.V3
}

// NewBallJointConstraint builds the joint from a shared world anchor
// point, caching each body's local offset to it. Constrained bodies are
// marked NoSleep (original_source SetSleepingEnabled(false)).
func NewBallJointConstraint(a, b *RigidBody, worldPoint lin.V3) *BallJointConstraint {
	a.NoSleep, b.NoSleep = true, true
	return &BallJointConstraint{
		bodyA: a, bodyB: b,
		anchorALoc: a.WorldToLocal(worldPoint),
		anchorBLoc: b.WorldToLocal(worldPoint),
	}
}

func (c *BallJointConstraint) Apply(dt float64) {}

func (c *BallJointConstraint) Solve(dt float64) {
	x1, x2 := c.bodyA.Position, c.bodyB.Position
	pA := c.bodyA.LocalToWorld(c.anchorALoc)
	pB := c.bodyB.LocalToWorld(c.anchorBLoc)
	r1 := *lin.NewV3().Sub(&pA, &x1)
	r2 := *lin.NewV3().Sub(&pB, &x2)

	impA, angA, impB, angB := solveTranslationRow(c.bodyA, c.bodyB, r1, r2, dt)
	c.bodyA.applyImpulsePair(impA, angA)
	c.bodyB.applyImpulsePair(impB, angB)
}

// HingeConstraint pins two bodies' anchor points together and locks
// their hinge axes parallel (spec section 6: Hinge(a, b, world axis,
// world point)), grounded on
// original_source/common/constraint/HingeConstraint.h.
type HingeConstraint struct {
	bodyA, bodyB           *RigidBody
	axisALoc, axisBLoc     lin.V3
	anchorALoc, anchorBLoc lin.V3
}

// NewHingeConstraint builds the joint from a shared world axis and
// anchor point. The axis is a direction, so it takes the inverse
// rotation and inverse per-axis scale (no translation); Solve's
// LocalToWorld round trip then recovers the world axis for any scale.
func NewHingeConstraint(a, b *RigidBody, worldAxis, worldPoint lin.V3) *HingeConstraint {
	a.NoSleep, b.NoSleep = true, true
	axisA := *lin.NewV3().MultvQ(&worldAxis, lin.NewQ().Inv(&a.Orient))
	axisA.X, axisA.Y, axisA.Z = axisA.X/a.Scale.X, axisA.Y/a.Scale.Y, axisA.Z/a.Scale.Z
	axisB := *lin.NewV3().MultvQ(&worldAxis, lin.NewQ().Inv(&b.Orient))
	axisB.X, axisB.Y, axisB.Z = axisB.X/b.Scale.X, axisB.Y/b.Scale.Y, axisB.Z/b.Scale.Z
	axisA.Unit()
	axisB.Unit()
	return &HingeConstraint{
		bodyA: a, bodyB: b,
		axisALoc: axisA, axisBLoc: axisB,
		anchorALoc: a.WorldToLocal(worldPoint),
		anchorBLoc: b.WorldToLocal(worldPoint),
	}
}

// hingeOrthogonal returns an arbitrary vector orthogonal to v, avoiding
// collinearity by permuting components before the cross product
// (original_source GetAOrthogonalVector).
func hingeOrthogonal(v lin.V3) lin.V3 {
	tmp := lin.V3{X: v.Y, Y: v.Z, Z: v.X}
	out := *lin.NewV3().Cross(&tmp, &v)
	if out.LenSqr() < 1e-12 {
		// v has equal components, so the permutation left it unchanged.
		tmp = lin.V3{X: 1}
		out.Cross(&tmp, &v)
	}
	out.Unit()
	return out
}

func (c *HingeConstraint) Apply(dt float64) {}

func (c *HingeConstraint) Solve(dt float64) {
	x1, x2 := c.bodyA.Position, c.bodyB.Position
	pA := c.bodyA.LocalToWorld(c.anchorALoc)
	pB := c.bodyB.LocalToWorld(c.anchorBLoc)
	r1 := *lin.NewV3().Sub(&pA, &x1)
	r2 := *lin.NewV3().Sub(&pB, &x2)

	aWorldA := c.bodyA.LocalToWorld(c.axisALoc)
	aWorldB := c.bodyB.LocalToWorld(c.axisBLoc)
	a1 := *lin.NewV3().Sub(&aWorldA, &x1)
	a1.Unit()
	a2 := *lin.NewV3().Sub(&aWorldB, &x2)
	a2.Unit()

	impA, angA, impB, angB := solveTranslationRow(c.bodyA, c.bodyB, r1, r2, dt)

	b2 := hingeOrthogonal(a2)
	c2 := *lin.NewV3().Cross(&a2, &b2)

	j12 := lin.NewV3().Cross(&b2, &a1)
	j12.Neg(j12)
	j14 := *lin.NewV3().Cross(&b2, &a1)
	j22 := lin.NewV3().Cross(&c2, &a1)
	j22.Neg(j22)
	j24 := *lin.NewV3().Cross(&c2, &a1)

	zero := lin.V3{}
	mA := coupledEffMassInv2(c.bodyA, zero, *j12, zero, *j22)
	mB := coupledEffMassInv2(c.bodyB, zero, j14, zero, j24)
	kRot := mat2Inv(mat2{mA.a + mB.a, mA.b + mB.b, mA.c + mB.c, mA.d + mB.d})

	cRot1 := a1.Dot(&b2)
	cRot2 := a1.Dot(&c2)

	dv1 := j12.Dot(&c.bodyA.angVel) + j14.Dot(&c.bodyB.angVel) + cRot1
	dv2 := j22.Dot(&c.bodyA.angVel) + j24.Dot(&c.bodyB.angVel) + cRot2
	lam1, lam2 := mat2MulVec(kRot, -dv1, -dv2)

	extraA := *lin.NewV3().Scale(j12, lam1)
	tmp := *lin.NewV3().Scale(j22, lam2)
	extraA.Add(&extraA, &tmp)
	extraB := *lin.NewV3().Scale(&j14, lam1)
	tmp2 := *lin.NewV3().Scale(&j24, lam2)
	extraB.Add(&extraB, &tmp2)

	angA.Add(&angA, &extraA)
	angB.Add(&angB, &extraB)

	c.bodyA.applyImpulsePair(impA, angA)
	c.bodyB.applyImpulsePair(impB, angB)
}

// DistanceConstraint keeps a single body a fixed distance from a world
// point (spec section 4.7), grounded on
// original_source/common/constraint/DistanceConstraint.h.
type DistanceConstraint struct {
	body   *RigidBody
	point  lin.V3
	length float64
}

// NewDistanceConstraint anchors body at its current distance from point.
func NewDistanceConstraint(body *RigidBody, point lin.V3) *DistanceConstraint {
	body.NoSleep = true
	diff := *lin.NewV3().Sub(&body.Position, &point)
	return &DistanceConstraint{body: body, point: point, length: diff.Len()}
}

func (c *DistanceConstraint) Apply(dt float64) {}

func (c *DistanceConstraint) Solve(dt float64) {
	if c.body.invMass == 0 {
		return
	}
	diff := *lin.NewV3().Sub(&c.body.Position, &c.point)
	dist := diff.Len()
	j := diff
	if dist > 1e-12 {
		j.Scale(&j, 1/dist)
	}
	bias := dist - c.length

	effMass := 1 / c.body.invMass
	deltaV := c.body.linVel.Dot(&j) + bias
	lambda := -effMass * deltaV

	impulse := *lin.NewV3().Scale(&j, lambda)
	c.body.ApplyLinearImpulse(impulse)
}

// TwoBodyDistanceConstraint keeps two bodies' local anchor points a
// fixed distance apart (spec section 6: TwoBodyDistance(a, b,
// anchor_a_local, anchor_b_local)). The Jacobian is borrowed from
// original_source/common/constraint/SoftTwoBodyDistanceConstraint.h
// (its anchored rows, since the plain BodyDistanceConstraint.h has no
// anchors); unlike that soft variant this constraint carries no CFM term.
type TwoBodyDistanceConstraint struct {
	bodyA, bodyB           *RigidBody
	anchorALoc, anchorBLoc lin.V3
	length                 float64
}

// NewTwoBodyDistanceConstraint anchors the two bodies at their current
// separation.
func NewTwoBodyDistanceConstraint(a, b *RigidBody, anchorALocal, anchorBLocal lin.V3) *TwoBodyDistanceConstraint {
	a.NoSleep, b.NoSleep = true, true
	wa := a.LocalToWorld(anchorALocal)
	wb := b.LocalToWorld(anchorBLocal)
	diff := *lin.NewV3().Sub(&wb, &wa)
	return &TwoBodyDistanceConstraint{
		bodyA: a, bodyB: b,
		anchorALoc: anchorALocal, anchorBLoc: anchorBLocal,
		length: diff.Len(),
	}
}

func (c *TwoBodyDistanceConstraint) Apply(dt float64) {}

func (c *TwoBodyDistanceConstraint) Solve(dt float64) {
	wa := c.bodyA.LocalToWorld(c.anchorALoc)
	wb := c.bodyB.LocalToWorld(c.anchorBLoc)

	// d is the body-center separation, not the anchor separation: the
	// Jacobian direction and lever arms follow original_source
	// SoftTwoBodyDistanceConstraint::Solve exactly (J1 = -d, J2 =
	// -cross(rA,d), J3 = d, J4 = cross(rB,d)); only the bias term C
	// below uses the anchor-to-anchor distance.
	d := *lin.NewV3().Sub(&c.bodyB.Position, &c.bodyA.Position)

	j1 := *lin.NewV3().Neg(&d)
	ra := *lin.NewV3().Sub(&wa, &c.bodyA.Position)
	j2 := lin.NewV3().Cross(&ra, &d)
	j2.Neg(j2)
	j3 := d
	rb := *lin.NewV3().Sub(&wb, &c.bodyB.Position)
	j4 := *lin.NewV3().Cross(&rb, &d)

	effMassInv := effMassInvPair(c.bodyA, j1, *j2) + effMassInvPair(c.bodyB, j3, j4)
	if math.Abs(effMassInv) < 1e-12 {
		return
	}
	effMass := 1 / effMassInv

	constraintC := lin.NewV3().Sub(&wa, &wb).Len() - c.length
	deltaV := c.bodyA.linVel.Dot(&j1) + c.bodyA.angVel.Dot(j2) +
		c.bodyB.linVel.Dot(&j3) + c.bodyB.angVel.Dot(&j4) + baumgarteBeta*constraintC
	lambda := -effMass * deltaV

	impA := *lin.NewV3().Scale(&j1, lambda)
	angA := *lin.NewV3().Scale(j2, lambda)
	impB := *lin.NewV3().Scale(&j3, lambda)
	angB := *lin.NewV3().Scale(&j4, lambda)

	c.bodyA.applyImpulsePair(impA, angA)
	c.bodyB.applyImpulsePair(impB, angB)
}

// SoftDistanceConstraint is DistanceConstraint with a constraint-force-
// mixing term softening the effective mass (spec section 4.7: "add
// CFM/dt on the diagonal ... before inversion"), grounded on
// original_source/common/constraint/SoftDistanceConstraint.h.
type SoftDistanceConstraint struct {
	body   *RigidBody
	point  lin.V3
	length float64
	cfm    float64
}

// NewSoftDistanceConstraint anchors body at its current distance from
// point with constraint-force-mixing cfm, expected in [1e-5, 1].
func NewSoftDistanceConstraint(body *RigidBody, point lin.V3, cfm float64) *SoftDistanceConstraint {
	body.NoSleep = true
	diff := *lin.NewV3().Sub(&body.Position, &point)
	return &SoftDistanceConstraint{body: body, point: point, length: diff.Len(), cfm: cfm}
}

func (c *SoftDistanceConstraint) Apply(dt float64) {}

func (c *SoftDistanceConstraint) Solve(dt float64) {
	diff := *lin.NewV3().Sub(&c.body.Position, &c.point)
	dist := diff.Len()
	j := diff
	if dist > 1e-12 {
		j.Scale(&j, 1/dist)
	}
	bias := dist - c.length

	effMass := 1 / (c.body.invMass + c.cfm/dt)
	deltaV := c.body.linVel.Dot(&j) + bias
	lambda := -effMass * deltaV

	impulse := *lin.NewV3().Scale(&j, lambda)
	c.body.ApplyLinearImpulse(impulse)
}

// SpringConstraint pulls a body toward a world point with a bias
// quadratic in the distance deviation rather than a hard distance lock
// (spec section 4.7: "Spring: same Jacobian as distance, bias quadratic
// in the deviation scaled by a small stiffness"), grounded on
// original_source/common/constraint/SpringConstraint.h. The original
// omits the velocity term from deltaV entirely -- preserved as-is.
type SpringConstraint struct {
	body      *RigidBody
	point     lin.V3
	length    float64
	stiffness float64
}

// NewSpringConstraint anchors body at its current rest length from
// point with the given stiffness.
func NewSpringConstraint(body *RigidBody, point lin.V3, stiffness float64) *SpringConstraint {
	body.NoSleep = true
	diff := *lin.NewV3().Sub(&body.Position, &point)
	return &SpringConstraint{body: body, point: point, length: diff.Len(), stiffness: stiffness}
}

func (c *SpringConstraint) Apply(dt float64) {}

func (c *SpringConstraint) Solve(dt float64) {
	diff := *lin.NewV3().Sub(&c.body.Position, &c.point)
	dist := diff.Len()
	j := diff
	if dist > 1e-12 {
		j.Scale(&j, 1/dist)
	}
	deviation := dist - c.length
	bias := 0.5 * deviation * deviation

	if c.body.invMass == 0 {
		return
	}
	effMass := 1 / c.body.invMass
	deltaV := c.stiffness * bias
	lambda := -effMass * deltaV

	impulse := *lin.NewV3().Scale(&j, lambda)
	c.body.ApplyLinearImpulse(impulse)
}
