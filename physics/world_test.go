package physics

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hexfall/rigidbody/math/lin"
)

func mustSphere(t *testing.T, r float64) *Shape {
	t.Helper()
	s, err := NewSphere(r)
	require.NoError(t, err)
	return s
}

func TestWorldGravityIsAppliedAsRawForce(t *testing.T) {
	w := NewWorld()
	light, err := w.AddBody(mustSphere(t, 0.5), 1, lin.V3{Y: 10}, *lin.NewQI())
	require.NoError(t, err)
	heavy, err := w.AddBody(mustSphere(t, 0.5), 100, lin.V3{X: 5, Y: 10}, *lin.NewQI())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		w.Step(1.0 / 60.0)
	}

	// Gravity is a raw, non-mass-scaled force, so a body's downward
	// acceleration is g/m: the heavier body genuinely falls slower. A
	// deliberate quirk of the force model, preserved as-is.
	require.Less(t, light.Position.Y, 10.0, "a free body should have fallen")
	require.Less(t, light.Position.Y, heavy.Position.Y,
		"raw-force gravity accelerates a heavy body less than a light one")
}

func TestWorldSphereComesToRestOnStaticGround(t *testing.T) {
	w := NewWorld()
	_, err := w.AddBody(mustSphere(t, 5), 0, lin.V3{Y: -5}, *lin.NewQI())
	require.NoError(t, err)
	ball, err := w.AddBody(mustSphere(t, 1), 1, lin.V3{Y: 1.05}, *lin.NewQI())
	require.NoError(t, err)

	for i := 0; i < 600; i++ {
		w.Step(1.0 / 60.0)
	}

	require.InDelta(t, 1.0, ball.Position.Y, 0.2,
		"a ball dropped onto a ground sphere should settle near surface contact, not sink through or fly off")
}

func TestWorldTwoBoxStackDoesNotInterpenetrate(t *testing.T) {
	w := NewWorld()
	_, err := w.AddBody(mustSphere(t, 10), 0, lin.V3{Y: -10}, *lin.NewQI())
	require.NoError(t, err)
	box1Shape, err := NewBox(0.5, 0.5, 0.5)
	require.NoError(t, err)
	box1, err := w.AddBody(box1Shape, 1, lin.V3{Y: 0.55}, *lin.NewQI())
	require.NoError(t, err)
	box2, err := w.AddBody(box1Shape, 1, lin.V3{Y: 1.65}, *lin.NewQI())
	require.NoError(t, err)

	for i := 0; i < 600; i++ {
		w.Step(1.0 / 60.0)
	}

	require.Greater(t, box2.Position.Y-box1.Position.Y, 0.9,
		"the upper box must not have sunk into the lower one")
}

func TestWorldDistancePendulumStaysNearAnchorLength(t *testing.T) {
	w := NewWorld()
	bob, err := w.AddBody(mustSphere(t, 0.2), 1, lin.V3{X: 2}, *lin.NewQI())
	require.NoError(t, err)
	w.AddConstraint(NewDistanceConstraint(bob, lin.V3{}))

	for i := 0; i < 300; i++ {
		w.Step(1.0 / 60.0)
	}

	dist := bob.Position.Len()
	require.InDelta(t, 2.0, dist, 0.3,
		"a distance-constrained pendulum should stay near its anchor length, not fall freely")
}

func TestWorldDistanceConstraintSetsNoSleep(t *testing.T) {
	w := NewWorld()
	bob, err := w.AddBody(mustSphere(t, 0.2), 1, lin.V3{X: 2}, *lin.NewQI())
	require.NoError(t, err)
	require.False(t, bob.NoSleep)
	NewDistanceConstraint(bob, lin.V3{})
	require.True(t, bob.NoSleep, "anchoring a body with a joint must suppress its sleep entry")
}

func TestWorldHingePendulumSwingsAboutItsAxis(t *testing.T) {
	w := NewWorld()
	anchor, err := w.AddBody(mustSphere(t, 0.1), 0, lin.V3{}, *lin.NewQI())
	require.NoError(t, err)
	bob, err := w.AddBody(mustSphere(t, 0.2), 1, lin.V3{X: 2}, *lin.NewQI())
	require.NoError(t, err)
	w.AddConstraint(NewHingeConstraint(bob, anchor, lin.V3{Z: 1}, lin.V3{}))

	for i := 0; i < 120; i++ {
		w.Step(1.0 / 60.0)
	}
	// A hinge about Z anchored at the origin should keep the bob's Z
	// coordinate pinned near zero while it's free to swing in X/Y.
	require.InDelta(t, 0, bob.Position.Z, 0.2)
}

func TestWorldBallJointPendulumHoldsAnchorLength(t *testing.T) {
	w := NewWorld()
	anchor, err := w.AddBody(mustSphere(t, 0.1), 0, lin.V3{}, *lin.NewQI())
	require.NoError(t, err)
	bob, err := w.AddBody(mustSphere(t, 0.2), 1, lin.V3{X: 2}, *lin.NewQI())
	require.NoError(t, err)
	require.False(t, bob.NoSleep)
	w.AddConstraint(NewBallJointConstraint(bob, anchor, lin.V3{}))
	require.True(t, bob.NoSleep, "anchoring a body with a ball joint must suppress its sleep entry")

	for i := 0; i < 300; i++ {
		w.Step(1.0 / 60.0)
	}

	require.InDelta(t, 2.0, bob.Position.Len(), 0.3,
		"a ball-joint pendulum anchored at the origin should swing freely while holding its anchor distance")
}

func TestWorldTwoBodyDistanceConstraintHoldsAnchorToAnchorLength(t *testing.T) {
	w := NewWorld()
	anchorBody, err := w.AddBody(mustSphere(t, 0.1), 0, lin.V3{}, *lin.NewQI())
	require.NoError(t, err)
	bob, err := w.AddBody(mustSphere(t, 0.3), 1, lin.V3{Y: 1, Z: 3}, *lin.NewQI())
	require.NoError(t, err)

	// anchorALoc/anchorBLoc are both off-center: the body-center
	// separation (0,1,3) differs from the anchor-to-anchor separation
	// (0.5,0,3) this constraint must actually hold, which is exactly the
	// condition that catches a Jacobian built from the wrong basis.
	tether := NewTwoBodyDistanceConstraint(anchorBody, bob, lin.V3{Y: 1}, lin.V3{X: 0.5})
	w.AddConstraint(tether)

	for i := 0; i < 300; i++ {
		w.Step(1.0 / 60.0)
	}

	wa := anchorBody.LocalToWorld(tether.anchorALoc)
	wb := bob.LocalToWorld(tether.anchorBLoc)
	dist := lin.NewV3().Sub(&wa, &wb).Len()
	require.InDelta(t, tether.length, dist, 0.3,
		"a two-body distance tether with off-center anchors must hold the anchor-to-anchor separation at rest length")
}

func TestWorldAddBodyFromDescriptor(t *testing.T) {
	w := NewWorld()
	b, err := w.AddBodyFrom(BodyDescriptor{
		Shape:       mustSphere(t, 0.5),
		Mass:        2,
		Position:    lin.V3{Y: 4},
		Scale:       lin.V3{X: 2, Y: 2, Z: 2},
		Friction:    1.5, // clamped to 1.
		Restitution: 0.3,
	})
	require.NoError(t, err)
	require.Equal(t, lin.V3{X: 2, Y: 2, Z: 2}, b.Scale)
	require.Equal(t, 1.0, b.Friction)
	require.Equal(t, 0.3, b.Restitution)
	// radius 0.5 scaled by 2 -> the world AABB spans 1 either side.
	require.InDelta(t, 3.0, b.AABB.Sy, 1e-12)
	require.InDelta(t, 5.0, b.AABB.Ly, 1e-12)
	// the zero Orient defaults to identity.
	require.Equal(t, *lin.NewQI(), b.Orient)
}

func TestWorldClearResetsBodyIDCounter(t *testing.T) {
	w := NewWorld()
	b1, err := w.AddBody(mustSphere(t, 1), 1, lin.V3{}, *lin.NewQI())
	require.NoError(t, err)
	require.Equal(t, BodyID(0), b1.ID)

	w.Clear()
	b2, err := w.AddBody(mustSphere(t, 1), 1, lin.V3{}, *lin.NewQI())
	require.NoError(t, err)
	require.Equal(t, BodyID(0), b2.ID, "Clear must reset the monotonic id counter")
	require.Equal(t, 1, w.CountBodies())
}

func TestWorldStepNoOpWhenStopped(t *testing.T) {
	w := NewWorld()
	ball, err := w.AddBody(mustSphere(t, 1), 1, lin.V3{Y: 10}, *lin.NewQI())
	require.NoError(t, err)
	w.Stop()
	w.Step(1.0 / 60.0)
	require.Equal(t, 10.0, ball.Position.Y, "Step must be a no-op while the world is stopped")
}

func TestWorldSleepingBodyEventuallyBecomesInactive(t *testing.T) {
	w := NewWorld()
	_, err := w.AddBody(mustSphere(t, 5), 0, lin.V3{Y: -5}, *lin.NewQI())
	require.NoError(t, err)
	ball, err := w.AddBody(mustSphere(t, 1), 1, lin.V3{Y: 1.02}, *lin.NewQI())
	require.NoError(t, err)

	for i := 0; i < 3000; i++ {
		w.Step(1.0 / 60.0)
	}

	require.True(t, ball.Sleeping, "a resting ball should fall asleep given enough quiet time")
	require.True(t, ball.Inactive,
		"a sleeping ball resting directly on static ground should be retired by the inactivity detector")
	y := ball.Position.Y
	w.Step(1.0 / 60.0)
	require.Equal(t, y, ball.Position.Y, "an inactive body's position must not change")
}

func TestWorldFreeFallMatchesAnalyticDrop(t *testing.T) {
	w := NewWorld()
	w.Params.Speedup = 1
	w.Params.TimestepDivider = 1
	ball, err := w.AddBody(mustSphere(t, 0.5), 1, lin.V3{Y: 10}, *lin.NewQI())
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		w.Step(1.0 / 60.0)
	}

	// y = 10 - 0.5*g*t^2 = 9.55 for g = 0.9 over 1s; the first-order
	// integrator at this substep size lands within 0.01 of it.
	require.InDelta(t, 9.55, ball.Position.Y, 0.01)
	require.InDelta(t, 0, ball.Position.X, 1e-12)
	require.InDelta(t, 0, ball.Position.Z, 1e-12)
}

func TestWorldBroadPhaseStrategiesAgreeOnRandomBodies(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var bodies []*RigidBody
	shape, err := NewSphere(1)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		pos := lin.V3{
			X: rng.Float64()*60 - 30,
			Y: rng.Float64()*60 - 30,
			Z: rng.Float64()*60 - 30,
		}
		b, err := NewRigidBody(BodyID(i), shape, 1, pos, *lin.NewQI())
		require.NoError(t, err)
		bodies = append(bodies, b)
	}

	naive := pairSet(broadPhase(BroadNaive, bodies))
	sap := pairSet(broadPhase(BroadSweepAndPrune, bodies))
	hash := pairSet(broadPhase(BroadSpatialHash, bodies))

	require.Equal(t, naive, sap, "sweep-and-prune must report exactly the naive pair set")
	require.Equal(t, naive, hash, "the spatial hash must report exactly the naive pair set")
}

func TestWorldQueryContactsExposesImpulses(t *testing.T) {
	w := NewWorld()
	ground, err := w.AddBody(mustSphere(t, 5), 0, lin.V3{Y: -5}, *lin.NewQI())
	require.NoError(t, err)
	ball, err := w.AddBody(mustSphere(t, 1), 1, lin.V3{Y: 1.05}, *lin.NewQI())
	require.NoError(t, err)

	for i := 0; i < 120; i++ {
		w.Step(1.0 / 60.0)
	}

	infos := w.QueryContacts(ground.ID, ball.ID)
	require.NotEmpty(t, infos, "a resting pair should expose a live manifold")
	for _, ci := range infos {
		require.InDelta(t, 1.0, ci.Normal.Len(), 1e-6, "contact normals are unit length")
		require.GreaterOrEqual(t, ci.NormalImpulse, 0.0, "accumulated normal impulse is never negative")
		offset := *lin.NewV3().Scale(&ci.Normal, ci.Depth)
		wantB := *lin.NewV3().Add(&ci.LocationA, &offset)
		require.InDelta(t, wantB.X, ci.LocationB.X, 1e-9)
		require.InDelta(t, wantB.Y, ci.LocationB.Y, 1e-9)
		require.InDelta(t, wantB.Z, ci.LocationB.Z, 1e-9)
	}
}

func TestWorldStabiliseRunsFullRequestedDurationUnclamped(t *testing.T) {
	w := NewWorld()
	_, err := w.AddBody(mustSphere(t, 5), 0, lin.V3{Y: -5}, *lin.NewQI())
	require.NoError(t, err)
	box, err := w.AddBody(mustSphere(t, 0.5), 1, lin.V3{Y: 0.6}, *lin.NewQI())
	require.NoError(t, err)

	w.Stabilise(1.0)

	require.False(t, w.Diagnostics.MaxSubstepsClamped,
		"Stabilise's own divider (220*T substeps) must not be truncated by the real-time-frame substep clamp")
	require.InDelta(t, 0.5, box.Position.Y, 0.1,
		"a full 1s stabilisation pass at 220*T substeps and 100 solver iterations should settle a nearly-resting body onto the ground")
}

func TestWorldStabiliseRestoresIterationsAndDividerButNotSpeedup(t *testing.T) {
	w := NewWorld()
	_, err := w.AddBody(mustSphere(t, 1), 1, lin.V3{}, *lin.NewQI())
	require.NoError(t, err)
	w.Params.SolverIterations = 7
	w.Params.TimestepDivider = 9

	w.Stabilise(0.1)

	require.Equal(t, 7, w.Params.SolverIterations)
	require.Equal(t, 9, w.Params.TimestepDivider)
	require.Equal(t, 1, w.Params.Speedup,
		"Stabilise leaves speedup at 1 afterward, preserving the original's speedupBackup ordering bug")
}
