// Copyright © 2013-2015 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package physics

import (
	"math"

	"github.com/hexfall/rigidbody/math/lin"
)

// Tuning constants for the solver (spec section 6 defaults).
const (
	warmStartFactor = 0.7
	restitutionSlop = 0.01
	penetrationSlop = 0.01
	baumgarteBeta   = 0.01
)

// Constraint is the solver's trait contract (spec section 4.7): Apply
// warm-starts by re-applying a fraction of the last step's accumulated
// impulses, Solve runs one sequential-impulse iteration. ContactConstraint
// is dynamic (1:1 with a live Contact); the joint kinds in joints.go are
// persistent, added once to a World and solved every step thereafter.
type Constraint interface {
	Apply(dt float64)
	Solve(dt float64)
}

// clampSum adds lambda to the running accumulator *sum, clamps the
// accumulator (never the delta) to [0, +inf), and returns the clamped
// delta actually applied this call -- the solver's fundamental
// invariant (spec section 4.7, "impulses accumulate ... clamping is
// applied to the accumulator, never to the per-iteration delta").
func clampSum(sum *float64, lambda float64) float64 {
	old := *sum
	*sum += lambda
	if *sum < 0 {
		*sum = 0
	}
	return *sum - old
}

// clampSumRange is clampSum with an arbitrary [lo, hi] bound, used by
// friction (bound by the Coulomb cone).
func clampSumRange(sum *float64, lambda, lo, hi float64) float64 {
	old := *sum
	*sum += lambda
	if *sum < lo {
		*sum = lo
	}
	if *sum > hi {
		*sum = hi
	}
	return *sum - old
}

// effMassInvPair mirrors RigidBody::GetEffectiveMassInverse(J1,J2): the
// scalar effective-mass-inverse contribution of one body to a single
// constraint row with linear Jacobian block jLin and angular block jAng.
func effMassInvPair(b *RigidBody, jLin, jAng lin.V3) float64 {
	iJAng := lin.NewV3().MultMv(&b.invIw, &jAng)
	return b.invMass*jLin.Dot(&jLin) + jAng.Dot(iJAng)
}

// mat2 is a 2x2 row-major matrix, used for the coupled tangent-friction
// and hinge-rotation effective mass blocks.
type mat2 struct{ a, b, c, d float64 }

func mat2Inv(m mat2) mat2 {
	det := m.a*m.d - m.b*m.c
	if math.Abs(det) < 1e-12 {
		return mat2{}
	}
	inv := 1 / det
	return mat2{m.d * inv, -m.b * inv, -m.c * inv, m.a * inv}
}

func mat2MulVec(m mat2, x, y float64) (float64, float64) {
	return m.a*x + m.b*y, m.c*x + m.d*y
}

// coupledEffMassInv2 mirrors RigidBody::GetEffectiveMassInverse(J1Upper,
// J1Lower, J2Upper, J2Lower): the 2x2 effective-mass-inverse block one
// body contributes to a coupled two-row constraint (tangent friction,
// hinge rotation).
func coupledEffMassInv2(b *RigidBody, j1Upper, j1Lower, j2Upper, j2Lower lin.V3) mat2 {
	iJ1L := lin.NewV3().MultMv(&b.invIw, &j1Lower)
	iJ2L := lin.NewV3().MultMv(&b.invIw, &j2Lower)
	m11 := b.invMass*j1Upper.Dot(&j1Upper) + j1Lower.Dot(iJ1L)
	m22 := b.invMass*j2Upper.Dot(&j2Upper) + j2Lower.Dot(iJ2L)
	m12 := b.invMass*j1Upper.Dot(&j2Upper) + j1Lower.Dot(iJ2L)
	return mat2{m11, m12, m12, m22}
}

// transMassInv3 mirrors RigidBody::GetEffectiveMassInverse(mat3,mat3)
// specialised for a ball-joint/hinge translation row, where the linear
// Jacobian block is always +-identity: invMass*J1*J1^T cancels to
// invMass*I regardless of sign, leaving invMass*I + skew(r)*Iw^-1*skew(r)^T.
func transMassInv3(b *RigidBody, r lin.V3) lin.M3 {
	var s, st, tmp, out lin.M3
	s.SetSkewSym(&r)
	st.Transpose(&s)
	tmp.Mult(&s, &b.invIw)
	out.Mult(&tmp, &st)
	out.Xx += b.invMass
	out.Yy += b.invMass
	out.Zz += b.invMass
	return out
}

// pointVelocity returns the world velocity of the material point r away
// from b's centre of mass (b's linear velocity plus the rotational
// contribution omega x r), grounded on RigidBody::GetPointVelocity.
func pointVelocity(b *RigidBody, r lin.V3) lin.V3 {
	wxr := *lin.NewV3().Cross(&b.angVel, &r)
	return *lin.NewV3().Add(&b.linVel, &wxr)
}

// updateContactKinematics recomputes a contact's vRel and type from the
// bodies' current velocities. Grounded on original_source Contact::Update,
// which is called fresh at the top of both Apply and Solve -- vRel is
// never a fixed per-step snapshot taken at narrow-phase time.
func updateContactKinematics(c *Contact) {
	ra := *lin.NewV3().Sub(&c.Location, &c.BodyA.Position)
	rb := *lin.NewV3().Sub(&c.Location, &c.BodyB.Position)
	vA := pointVelocity(c.BodyA, ra)
	vB := pointVelocity(c.BodyB, rb)
	rel := *lin.NewV3().Sub(&vA, &vB)
	c.VRel = c.Normal.Dot(&rel)
	if c.VRel > collisionThreshold {
		c.Type = Diverging
	} else {
		c.Type = Colliding
	}
}

// ContactConstraint resolves one contact point's normal and coupled
// 2D-tangent friction impulses (spec section 4.7), grounded on
// original_source/common/constraint/ContactConstraint.h.
type ContactConstraint struct {
	contact *Contact

	normalImpulseSum    float64
	tangent1ImpulseSum  float64
	tangent2ImpulseSum  float64
	warm                bool
}

// newContactConstraint builds a constraint for contact c and wires it
// back onto the contact (spec section 3: "a pointer to an owned
// ContactConstraint").
func newContactConstraint(c *Contact) *ContactConstraint {
	cc := &ContactConstraint{contact: c}
	c.constraint = cc
	return cc
}

func (cc *ContactConstraint) clear() {
	cc.normalImpulseSum, cc.tangent1ImpulseSum, cc.tangent2ImpulseSum = 0, 0, 0
	cc.warm = false
}

// Apply re-applies warmStartFactor of the last step's accumulated
// impulses. Only contacts marked warm (i.e. solved last step) warm-start,
// and only while still Colliding.
func (cc *ContactConstraint) Apply(dt float64) {
	if !cc.warm {
		return
	}
	c := cc.contact
	updateContactKinematics(c)
	if c.Type != Colliding {
		cc.clear()
		return
	}

	cc.normalImpulseSum *= warmStartFactor
	ra := *lin.NewV3().Sub(&c.Location, &c.BodyA.Position)
	rb := *lin.NewV3().Sub(&c.Location, &c.BodyB.Position)
	raCrossN := *lin.NewV3().Cross(&ra, &c.Normal)
	rbCrossN := *lin.NewV3().Cross(&rb, &c.Normal)

	force := *lin.NewV3().Scale(&c.Normal, cc.normalImpulseSum)
	ang := *lin.NewV3().Scale(&raCrossN, cc.normalImpulseSum)
	c.BodyA.applyImpulsePair(force, ang)
	negForce := *lin.NewV3().Neg(&force)
	negAng := *lin.NewV3().Scale(&rbCrossN, -cc.normalImpulseSum)
	c.BodyB.applyImpulsePair(negForce, negAng)

	cc.tangent1ImpulseSum *= warmStartFactor
	cc.tangent2ImpulseSum *= warmStartFactor

	t1 := *lin.NewV3().Scale(&c.TangentU, cc.tangent1ImpulseSum)
	t2 := *lin.NewV3().Scale(&c.TangentV, cc.tangent2ImpulseSum)
	tForce := *lin.NewV3().Add(&t1, &t2)

	raCrossT1 := *lin.NewV3().Cross(&ra, &c.TangentU)
	rbCrossT1 := *lin.NewV3().Cross(&rb, &c.TangentU)
	raCrossT2 := *lin.NewV3().Cross(&ra, &c.TangentV)
	rbCrossT2 := *lin.NewV3().Cross(&rb, &c.TangentV)

	angA := *lin.NewV3().Scale(&raCrossT1, cc.tangent1ImpulseSum)
	tmp := *lin.NewV3().Scale(&raCrossT2, cc.tangent2ImpulseSum)
	angA.Add(&angA, &tmp)

	angB := *lin.NewV3().Scale(&rbCrossT1, -cc.tangent1ImpulseSum)
	tmp2 := *lin.NewV3().Scale(&rbCrossT2, -cc.tangent2ImpulseSum)
	angB.Add(&angB, &tmp2)

	c.BodyA.applyImpulsePair(tForce, angA)
	negTForce := *lin.NewV3().Neg(&tForce)
	c.BodyB.applyImpulsePair(negTForce, angB)

	cc.warm = false
}

// Solve runs one sequential-impulse iteration: normal impulse first,
// then coupled tangent friction bounded by the current normal impulse.
func (cc *ContactConstraint) Solve(dt float64) {
	c := cc.contact
	updateContactKinematics(c)
	if c.Type != Colliding {
		return
	}
	cc.solveNormal(dt)
	cc.solveTangentCoupled()
	cc.warm = true
}

func (cc *ContactConstraint) solveNormal(dt float64) {
	c := cc.contact
	restitution := c.BodyA.Restitution * c.BodyB.Restitution

	ra := *lin.NewV3().Sub(&c.Location, &c.BodyA.Position)
	rb := *lin.NewV3().Sub(&c.Location, &c.BodyB.Position)
	raCrossN := *lin.NewV3().Cross(&ra, &c.Normal)
	rbCrossN := *lin.NewV3().Cross(&rb, &c.Normal)

	b := restitution * math.Min(c.VRel+restitutionSlop, 0)
	b -= baumgarteBeta * math.Max(c.Depth-penetrationSlop, 0) / dt

	effMass := 1 / (effMassInvPair(c.BodyA, c.Normal, raCrossN) + effMassInvPair(c.BodyB, c.Normal, rbCrossN))

	deltaV := c.VRel + b
	lambda := clampSum(&cc.normalImpulseSum, -effMass*deltaV)

	force := *lin.NewV3().Scale(&c.Normal, lambda)
	ang := *lin.NewV3().Scale(&raCrossN, lambda)
	c.BodyA.applyImpulsePair(force, ang)
	negForce := *lin.NewV3().Neg(&force)
	negAng := *lin.NewV3().Scale(&rbCrossN, -lambda)
	c.BodyB.applyImpulsePair(negForce, negAng)
}

// solveTangentCoupled resolves both tangent rows together via a 2x2
// effective mass matrix, bounded by the Coulomb cone mu*lambda_n (spec
// section 4.7), grounded on ContactConstraint::solveTangentCoupled.
func (cc *ContactConstraint) solveTangentCoupled() {
	c := cc.contact
	ra := *lin.NewV3().Sub(&c.Location, &c.BodyA.Position)
	rb := *lin.NewV3().Sub(&c.Location, &c.BodyB.Position)
	raCrossT1 := *lin.NewV3().Cross(&ra, &c.TangentU)
	rbCrossT1 := *lin.NewV3().Cross(&rb, &c.TangentU)
	raCrossT2 := *lin.NewV3().Cross(&ra, &c.TangentV)
	rbCrossT2 := *lin.NewV3().Cross(&rb, &c.TangentV)

	negT1 := *lin.NewV3().Neg(&c.TangentU)
	negT2 := *lin.NewV3().Neg(&c.TangentV)
	negRbT1 := *lin.NewV3().Neg(&rbCrossT1)
	negRbT2 := *lin.NewV3().Neg(&rbCrossT2)

	mA := coupledEffMassInv2(c.BodyA, c.TangentU, raCrossT1, c.TangentV, raCrossT2)
	mB := coupledEffMassInv2(c.BodyB, negT1, negRbT1, negT2, negRbT2)
	eff := mat2Inv(mat2{mA.a + mB.a, mA.b + mB.b, mA.c + mB.c, mA.d + mB.d})

	vA, omegaA := c.BodyA.linVel, c.BodyA.angVel
	vB, omegaB := c.BodyB.linVel, c.BodyB.angVel

	dv1 := vA.Dot(&c.TangentU) - vB.Dot(&c.TangentU) + omegaA.Dot(&raCrossT1) - omegaB.Dot(&rbCrossT1)
	dv2 := vA.Dot(&c.TangentV) - vB.Dot(&c.TangentV) + omegaA.Dot(&raCrossT2) - omegaB.Dot(&rbCrossT2)

	lam1Raw, lam2Raw := mat2MulVec(eff, -dv1, -dv2)

	bound := cc.normalImpulseSum * c.BodyA.Friction * c.BodyB.Friction
	lam1 := clampSumRange(&cc.tangent1ImpulseSum, lam1Raw, -bound, bound)
	lam2 := clampSumRange(&cc.tangent2ImpulseSum, lam2Raw, -bound, bound)

	t1f := *lin.NewV3().Scale(&c.TangentU, lam1)
	t2f := *lin.NewV3().Scale(&c.TangentV, lam2)
	force := *lin.NewV3().Add(&t1f, &t2f)

	angA := *lin.NewV3().Scale(&raCrossT1, lam1)
	tmp := *lin.NewV3().Scale(&raCrossT2, lam2)
	angA.Add(&angA, &tmp)

	angB := *lin.NewV3().Scale(&rbCrossT1, -lam1)
	tmp2 := *lin.NewV3().Scale(&rbCrossT2, -lam2)
	angB.Add(&angB, &tmp2)

	c.BodyA.applyImpulsePair(force, angA)
	negForce := *lin.NewV3().Neg(&force)
	c.BodyB.applyImpulsePair(negForce, angB)
}
