package physics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hexfall/rigidbody/math/lin"
)

// restingContact builds a falling sphere resting on a static sphere,
// penetrating slightly along +Y, with a fresh ContactConstraint wired
// onto it -- enough state to drive Apply/Solve without a full world.
func restingContact(t *testing.T) (*RigidBody, *RigidBody, *Contact) {
	t.Helper()
	ground := newTestSphere(t, 0, 0, lin.V3{})
	ball := newTestSphere(t, 1, 1, lin.V3{Y: 1.9})
	ball.momentum = lin.V3{Y: -1}
	ball.deriveVelocities()
	ball.Friction, ground.Friction = 0.5, 0.5

	c := &Contact{
		BodyA: ball, BodyB: ground,
		Normal:   lin.V3{Y: 1},
		Location: lin.V3{Y: 1.95}, LocationB: lin.V3{Y: 1.9},
		Depth: 0.05,
	}
	c.TangentU, c.TangentV = tangentBasis(c.Normal)
	c.inUse = true
	updateContactKinematics(c)
	newContactConstraint(c)
	return ball, ground, c
}

func TestContactConstraintNormalImpulseNeverNegative(t *testing.T) {
	ball, _, c := restingContact(t)
	dt := 1.0 / 120.0
	c.constraint.Apply(dt)
	for i := 0; i < 8; i++ {
		c.constraint.Solve(dt)
	}
	require.GreaterOrEqual(t, c.constraint.normalImpulseSum, 0.0,
		"accumulated normal impulse must never go negative")
	require.Less(t, ball.LinearVelocity().Y, 0.5,
		"the solver should have removed most of the approach velocity")
}

func TestContactConstraintFrictionStaysInCone(t *testing.T) {
	ball, ground, c := restingContact(t)
	ball.momentum.Add(&ball.momentum, &lin.V3{X: 2})
	ball.deriveVelocities()
	dt := 1.0 / 120.0
	c.constraint.Apply(dt)
	for i := 0; i < 8; i++ {
		c.constraint.Solve(dt)
	}
	bound := c.constraint.normalImpulseSum * ball.Friction * ground.Friction
	tangentMag := c.constraint.tangent1ImpulseSum*c.constraint.tangent1ImpulseSum +
		c.constraint.tangent2ImpulseSum*c.constraint.tangent2ImpulseSum
	require.LessOrEqual(t, tangentMag, bound*bound+1e-9,
		"combined tangent impulse must stay within the Coulomb cone bound by the normal impulse")
}

func TestContactConstraintWarmStartIsIdempotentOnSettledContact(t *testing.T) {
	ball, _, c := restingContact(t)
	dt := 1.0 / 120.0
	c.constraint.Apply(dt)
	for i := 0; i < 20; i++ {
		c.constraint.Solve(dt)
	}
	settled := c.constraint.normalImpulseSum

	// A second Apply/Solve pass on an already-settled contact should not
	// blow up the accumulated impulse: warm-starting only replays a
	// fraction of the prior sum, then the solver corrects around it.
	c.constraint.Apply(dt)

	// A further Apply before any Solve must change nothing: the warm
	// start is replayed at most once per solve.
	v, sum := ball.LinearVelocity(), c.constraint.normalImpulseSum
	c.constraint.Apply(dt)
	require.Equal(t, v, ball.LinearVelocity(), "a repeated Apply must not re-apply the warm-start impulse")
	require.Equal(t, sum, c.constraint.normalImpulseSum, "a repeated Apply must not rescale the accumulated impulse")

	for i := 0; i < 20; i++ {
		c.constraint.Solve(dt)
	}
	require.InDelta(t, settled, c.constraint.normalImpulseSum, settled*0.5+1e-6,
		"warm-started re-solve of a settled contact should converge near the same impulse")
}

func TestContactConstraintDivergingContactAddsNoImpulse(t *testing.T) {
	ball, _, c := restingContact(t)
	ball.momentum = lin.V3{Y: 5}
	ball.deriveVelocities()
	dt := 1.0 / 120.0
	c.constraint.Apply(dt)
	for i := 0; i < 4; i++ {
		c.constraint.Solve(dt)
	}
	require.Zero(t, c.constraint.normalImpulseSum,
		"a separating contact must not accumulate a normal impulse")
}

func TestClampSumNeverClampsDelta(t *testing.T) {
	var sum float64
	delta := clampSum(&sum, -5)
	require.Equal(t, 0.0, sum, "accumulator floors at zero")
	require.Equal(t, 0.0, delta, "starting from zero, a negative lambda contributes nothing")

	sum = 3
	delta = clampSum(&sum, 2)
	require.Equal(t, 5.0, sum)
	require.Equal(t, 2.0, delta, "when the accumulator stays in range the full lambda is applied")

	sum = 3
	delta = clampSum(&sum, -10)
	require.Equal(t, 0.0, sum)
	require.Equal(t, -3.0, delta, "delta is whatever change actually brought the accumulator to its clamped floor")
}
