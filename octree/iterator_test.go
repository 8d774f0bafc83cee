package octree

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/ISWBenjaminKaiser/UFOMap/geometry"
)

func TestTreeIteratorVisitsEveryNode(t *testing.T) {
	m := newTestMap(t)
	m.IntegrateHitAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05})
	m.IntegrateHitAt(r3.Vector{X: -3.05, Y: 2.05, Z: 0.05})
	for i := 0; i < 8; i++ {
		m.IntegrateMissAt(r3.Vector{X: 1.05, Y: 1.05, Z: 1.05})
	}

	count := 0
	it := m.NewTreeIterator(IterateOptions{Occupied: true, Free: true, Unknown: true, Contains: true})
	for it.Next() {
		count++
	}
	test.That(t, count, test.ShouldEqual, m.Size())
}

func TestLeafIteratorFilters(t *testing.T) {
	m := newTestMap(t)
	occupied := []r3.Vector{
		{X: 0.05, Y: 0.05, Z: 0.05},
		{X: 2.05, Y: 0.05, Z: 0.05},
	}
	for _, p := range occupied {
		m.IntegrateHitAt(p)
	}
	for i := 0; i < 8; i++ {
		m.IntegrateMissAt(r3.Vector{X: 1.05, Y: 1.05, Z: 1.05})
	}

	var codes []Code
	it := m.NewLeafIterator(IterateOptions{Occupied: true})
	for it.Next() {
		test.That(t, m.isOccupiedLog(it.Logit()), test.ShouldBeTrue)
		codes = append(codes, it.Code())
	}
	test.That(t, len(codes), test.ShouldEqual, len(occupied))
	for _, p := range occupied {
		found := false
		want := NewCode(m.CoordToKey(p, 0))
		for _, code := range codes {
			if code == want {
				found = true
			}
		}
		test.That(t, found, test.ShouldBeTrue)
	}

	free := 0
	freeIt := m.NewLeafIterator(IterateOptions{Free: true})
	for freeIt.Next() {
		test.That(t, m.isFreeLog(freeIt.Logit()), test.ShouldBeTrue)
		free++
	}
	test.That(t, free, test.ShouldEqual, 1)
}

func TestIteratorDeterministicOrder(t *testing.T) {
	m := buildScatteredMap(t)

	collect := func() []Code {
		var codes []Code
		it := m.NewLeafIterator(IterateOptions{Occupied: true, Free: true, Unknown: true})
		for it.Next() {
			codes = append(codes, it.Code())
		}
		return codes
	}
	first := collect()
	second := collect()
	test.That(t, len(first), test.ShouldBeGreaterThan, 0)
	test.That(t, second, test.ShouldResemble, first)
}

func TestLeafIteratorMinDepth(t *testing.T) {
	m := buildScatteredMap(t)

	it := m.NewLeafIterator(IterateOptions{Occupied: true, Free: true, Unknown: true, MinDepth: 3})
	count := 0
	for it.Next() {
		test.That(t, it.Depth(), test.ShouldBeGreaterThanOrEqualTo, 3)
		count++
	}
	test.That(t, count, test.ShouldBeGreaterThan, 0)
}

func TestIteratorBoundingVolume(t *testing.T) {
	m := newTestMap(t)
	m.IntegrateHitAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05})
	m.IntegrateHitAt(r3.Vector{X: 20.05, Y: 0.05, Z: 0.05})

	bv := geometry.NewBoundingVolume(geometry.NewAABB(
		r3.Vector{X: -1, Y: -1, Z: -1}, r3.Vector{X: 1, Y: 1, Z: 1}))
	it := m.NewLeafIterator(IterateOptions{Occupied: true, BoundingVolume: bv})
	count := 0
	for it.Next() {
		test.That(t, it.Center().X, test.ShouldBeBetween, -1.0, 1.0)
		count++
	}
	test.That(t, count, test.ShouldEqual, 1)
}

func TestIterateLeavesCallback(t *testing.T) {
	m := newTestMap(t)
	m.IntegrateHitAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05})
	m.IntegrateHitAt(r3.Vector{X: 5.05, Y: 0.05, Z: 0.05})

	count := 0
	m.IterateLeaves(IterateOptions{Occupied: true}, func(node Node, center r3.Vector, halfSize float64) bool {
		test.That(t, halfSize, test.ShouldAlmostEqual, 0.05, 1e-9)
		count++
		return count < 1
	})
	test.That(t, count, test.ShouldEqual, 1)
}

func TestIteratorCenterMatchesKeyCoord(t *testing.T) {
	m := newTestMap(t)
	points := []r3.Vector{
		{X: 0.05, Y: 0.05, Z: 0.05},
		{X: -1.15, Y: 0.35, Z: 2.25},
	}
	for _, p := range points {
		m.IntegrateHitAt(p)
	}

	it := m.NewLeafIterator(IterateOptions{Occupied: true})
	for it.Next() {
		want := m.KeyToCoord(it.Code().ToKey())
		got := it.Center()
		test.That(t, got.X, test.ShouldAlmostEqual, want.X, 1e-9)
		test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 1e-9)
		test.That(t, got.Z, test.ShouldAlmostEqual, want.Z, 1e-9)
	}
}
