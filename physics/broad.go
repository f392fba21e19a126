// Copyright © 2024 Galvanized Logic Inc.

package physics

// Broad phase strategies over the set of world AABBs (spec section 4.5).
// All three are pairwise-equivalent and idempotent: running any of them
// twice on unchanged state yields the same pair set.

// Pair is an ordered (minId, maxId) body-id pair whose AABBs overlap.
type Pair struct{ A, B BodyID }

// BroadPhaseKind selects a strategy.
type BroadPhaseKind int

const (
	BroadNaive BroadPhaseKind = iota
	BroadSweepAndPrune
	BroadSpatialHash
)

// broadNaive is an O(n^2) AABB-vs-AABB test (spec section 4.5).
func broadNaive(bodies []*RigidBody) []Pair {
	var pairs []Pair
	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			a, b := bodies[i], bodies[j]
			if a.IsStatic() && b.IsStatic() {
				continue
			}
			if a.AABB.Overlaps(&b.AABB) {
				pairs = append(pairs, mkPair(a.ID, b.ID))
			}
		}
	}
	return pairs
}

// broadSweepAndPrune sorts bodies by aabb.min.x and sweeps an active
// list, testing every active body against the current one (spec section
// 4.5).
func broadSweepAndPrune(bodies []*RigidBody) []Pair {
	order := append([]*RigidBody(nil), bodies...)
	insertionSortByMinX(order)

	var pairs []Pair
	var active []*RigidBody
	for _, cur := range order {
		kept := active[:0]
		for _, other := range active {
			if other.AABB.Lx >= cur.AABB.Sx {
				kept = append(kept, other)
				if !(cur.IsStatic() && other.IsStatic()) && cur.AABB.Overlaps(&other.AABB) {
					pairs = append(pairs, mkPair(cur.ID, other.ID))
				}
			}
		}
		active = append(kept, cur)
	}
	return pairs
}

func insertionSortByMinX(bodies []*RigidBody) {
	for i := 1; i < len(bodies); i++ {
		j := i
		for j > 0 && bodies[j-1].AABB.Sx > bodies[j].AABB.Sx {
			bodies[j-1], bodies[j] = bodies[j], bodies[j-1]
			j--
		}
	}
}

// spatialHashCellXZ/Y set an anisotropic resolution: x/z coarser than y
// to accommodate a wide floor (spec section 4.5).
const (
	spatialHashCellXZ = 4.0
	spatialHashCellY  = 1.0
)

// broadSpatialHash enumerates the integer cells each body's AABB
// occupies, bucketing by cell, and emits every intersecting pair within
// a cell exactly once via set insertion (spec section 4.5).
func broadSpatialHash(bodies []*RigidBody) []Pair {
	type cell struct{ x, y, z int32 }
	buckets := make(map[cell][]*RigidBody)
	cellOf := func(x, y, z float64) cell {
		return cell{
			x: int32(floorDiv(x, spatialHashCellXZ)),
			y: int32(floorDiv(y, spatialHashCellY)),
			z: int32(floorDiv(z, spatialHashCellXZ)),
		}
	}
	for _, b := range bodies {
		minC := cellOf(b.AABB.Sx, b.AABB.Sy, b.AABB.Sz)
		maxC := cellOf(b.AABB.Lx, b.AABB.Ly, b.AABB.Lz)
		for x := minC.x; x <= maxC.x; x++ {
			for y := minC.y; y <= maxC.y; y++ {
				for z := minC.z; z <= maxC.z; z++ {
					c := cell{x, y, z}
					buckets[c] = append(buckets[c], b)
				}
			}
		}
	}

	seen := make(map[Pair]bool)
	var pairs []Pair
	for _, list := range buckets {
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				a, b := list[i], list[j]
				if a.ID == b.ID || (a.IsStatic() && b.IsStatic()) {
					continue
				}
				if !a.AABB.Overlaps(&b.AABB) {
					continue
				}
				p := mkPair(a.ID, b.ID)
				if !seen[p] {
					seen[p] = true
					pairs = append(pairs, p)
				}
			}
		}
	}
	return pairs
}

func floorDiv(x, cell float64) float64 {
	q := x / cell
	if q < 0 {
		return q - 1
	}
	return q
}

func mkPair(a, b BodyID) Pair {
	lo, hi := pairKey(a, b)
	return Pair{A: lo, B: hi}
}

// broadPhase dispatches to the configured strategy.
func broadPhase(kind BroadPhaseKind, bodies []*RigidBody) []Pair {
	switch kind {
	case BroadSweepAndPrune:
		return broadSweepAndPrune(bodies)
	case BroadSpatialHash:
		return broadSpatialHash(bodies)
	default:
		return broadNaive(bodies)
	}
}
