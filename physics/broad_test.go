package physics

import (
	"testing"

	"github.com/hexfall/rigidbody/math/lin"
)

func pairSet(pairs []Pair) map[Pair]bool {
	out := make(map[Pair]bool, len(pairs))
	for _, p := range pairs {
		out[p] = true
	}
	return out
}

func TestBroadPhaseStrategiesAgreeOnOverlappingBodies(t *testing.T) {
	a := newTestSphere(t, 0, 1, lin.V3{})
	b := newTestSphere(t, 1, 1, lin.V3{X: 1.5})
	c := newTestSphere(t, 2, 1, lin.V3{X: 100})
	bodies := []*RigidBody{a, b, c}

	naive := pairSet(broadPhase(BroadNaive, bodies))
	sap := pairSet(broadPhase(BroadSweepAndPrune, bodies))
	hash := pairSet(broadPhase(BroadSpatialHash, bodies))

	want := mkPair(a.ID, b.ID)
	if !naive[want] || !sap[want] || !hash[want] {
		t.Errorf("all three broad phases should agree that overlapping bodies a and b pair up: naive=%v sap=%v hash=%v", naive, sap, hash)
	}
	far := mkPair(a.ID, c.ID)
	if naive[far] || sap[far] || hash[far] {
		t.Errorf("a distant body should not pair with a under any strategy")
	}
}

func TestBroadPhaseSkipsStaticStaticPairs(t *testing.T) {
	a := newTestSphere(t, 0, 0, lin.V3{})
	b := newTestSphere(t, 1, 0, lin.V3{X: 0.5})
	bodies := []*RigidBody{a, b}
	for _, kind := range []BroadPhaseKind{BroadNaive, BroadSweepAndPrune, BroadSpatialHash} {
		pairs := broadPhase(kind, bodies)
		if len(pairs) != 0 {
			t.Errorf("two overlapping static bodies should never pair (kind %v), got %v", kind, pairs)
		}
	}
}

func TestBroadPhaseIsIdempotent(t *testing.T) {
	a := newTestSphere(t, 0, 1, lin.V3{})
	b := newTestSphere(t, 1, 1, lin.V3{X: 1.5})
	bodies := []*RigidBody{a, b}
	first := pairSet(broadPhase(BroadSweepAndPrune, bodies))
	second := pairSet(broadPhase(BroadSweepAndPrune, bodies))
	if len(first) != len(second) {
		t.Errorf("running the same broad phase twice on unchanged state should yield the same pair set")
	}
	for p := range first {
		if !second[p] {
			t.Errorf("pair %v present in first run missing from second", p)
		}
	}
}
