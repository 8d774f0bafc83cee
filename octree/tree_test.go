package octree

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/ISWBenjaminKaiser/UFOMap/pointcloud"
)

// newTestMap mirrors the end-to-end configuration used across these tests:
// 10cm voxels, 16 depth levels, hit 0.7, miss 0.4, occupied above 0.5, free
// below 0.12, clamping [0.1192, 0.971].
func newTestMap(t *testing.T) *OccupancyMap {
	t.Helper()
	m, err := NewOccupancyMapWithModel(0.1, 16, golog.NewTestLogger(t), 0.5, 0.12, 0.7, 0.4, 0.1192, 0.971)
	test.That(t, err, test.ShouldBeNil)
	return m
}

// checkSummaries walks the whole tree verifying that every inner node with
// children carries the max child value and the OR of the child flags.
func checkSummaries(t *testing.T, m *OccupancyMap) {
	t.Helper()
	var walk func(node *innerNode, depth uint)
	walk = func(node *innerNode, depth uint) {
		if !node.hasChildren() {
			return
		}
		maxLogit := float32(0)
		containsFree := false
		containsUnknown := false
		if depth == 1 {
			maxLogit = node.leafChildren[0].logit
			for i := range node.leafChildren {
				l := node.leafChildren[i].logit
				if l > maxLogit {
					maxLogit = l
				}
				switch {
				case m.isFreeLog(l):
					containsFree = true
				case m.isUnknownLog(l):
					containsUnknown = true
				}
			}
		} else {
			maxLogit = node.innerChildren[0].logit
			for i := range node.innerChildren {
				child := &node.innerChildren[i]
				walk(child, depth-1)
				if child.logit > maxLogit {
					maxLogit = child.logit
				}
				childFree, childUnknown := child.containsFree, child.containsUnknown
				if !child.hasChildren() {
					childFree = m.isFreeLog(child.logit)
					childUnknown = m.isUnknownLog(child.logit)
				}
				containsFree = containsFree || childFree
				containsUnknown = containsUnknown || childUnknown
			}
		}
		test.That(t, node.logit, test.ShouldEqual, maxLogit)
		test.That(t, node.containsFree, test.ShouldEqual, containsFree)
		test.That(t, node.containsUnknown, test.ShouldEqual, containsUnknown)
	}
	walk(&m.root, m.depthLevels)
}

// countNodes enumerates the actual allocation.
func countNodes(node *innerNode, depth uint) (inner, innerLeaf, leaf int) {
	if depth == 1 {
		if node.leafChildren == nil {
			return 0, 1, 0
		}
		return 1, 0, 8
	}
	if node.innerChildren == nil {
		return 0, 1, 0
	}
	inner = 1
	for i := range node.innerChildren {
		ci, cil, cl := countNodes(&node.innerChildren[i], depth-1)
		inner += ci
		innerLeaf += cil
		leaf += cl
	}
	return inner, innerLeaf, leaf
}

func checkCounters(t *testing.T, m *OccupancyMap) {
	t.Helper()
	inner, innerLeaf, leaf := countNodes(&m.root, m.depthLevels)
	test.That(t, m.NumInnerNodes(), test.ShouldEqual, inner)
	test.That(t, m.NumInnerLeafNodes(), test.ShouldEqual, innerLeaf)
	test.That(t, m.NumLeafNodes(), test.ShouldEqual, leaf)
	test.That(t, m.Size(), test.ShouldEqual, inner+innerLeaf+leaf)
}

func TestNewOccupancyMapValidation(t *testing.T) {
	logger := golog.NewTestLogger(t)

	_, err := NewOccupancyMap(0.1, 1, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOccupancyMap(0.1, 22, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOccupancyMap(0, 16, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOccupancyMapWithModel(0.1, 16, logger, 0.5, 0.5, 1.0, 0.4, 0.1192, 0.971)
	test.That(t, err, test.ShouldNotBeNil)

	m, err := NewOccupancyMap(0.1, 16, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Size(), test.ShouldEqual, 1)
	test.That(t, m.Resolution(), test.ShouldEqual, 0.1)
	test.That(t, m.DepthLevels(), test.ShouldEqual, 16)
	test.That(t, m.TreeType(), test.ShouldEqual, "occupancy_map")
}

func TestCoordKeyRoundTrip(t *testing.T) {
	m := newTestMap(t)

	coords := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 0.05, Y: 0.05, Z: 0.05},
		{X: 1.234, Y: -5.678, Z: 9.1},
		{X: -100.001, Y: 250.5, Z: -0.049},
	}
	for _, c := range coords {
		for _, depth := range []uint{0, 1, 2, 3, 8} {
			key := m.CoordToKey(c, depth)
			test.That(t, key.Depth(), test.ShouldEqual, depth)
			back := m.KeyToCoord(key)
			half := m.NodeHalfSize(depth)
			test.That(t, back.X, test.ShouldAlmostEqual, c.X, half+1e-9)
			test.That(t, back.Y, test.ShouldAlmostEqual, c.Y, half+1e-9)
			test.That(t, back.Z, test.ShouldAlmostEqual, c.Z, half+1e-9)
		}
	}
}

func TestCoordKeyChecked(t *testing.T) {
	m := newTestMap(t)

	_, ok := m.CoordToKeyChecked(r3.Vector{X: 1e9}, 0)
	test.That(t, ok, test.ShouldBeFalse)
	key, ok := m.CoordToKeyChecked(r3.Vector{X: 1}, 0)
	test.That(t, ok, test.ShouldBeTrue)

	_, ok = m.KeyToCoordChecked(m.CoordToKey(r3.Vector{X: 1}, 3), 1)
	test.That(t, ok, test.ShouldBeFalse)
	coord, ok := m.KeyToCoordChecked(key, 2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, coord.X, test.ShouldAlmostEqual, 1, m.NodeHalfSize(2)+1e-9)
}

func TestIntegrateSingleHit(t *testing.T) {
	m := newTestMap(t)

	node := m.IntegrateHitAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05})
	test.That(t, float64(node.Logit()), test.ShouldAlmostEqual, 0.8473, 0.001)
	test.That(t, m.IsOccupiedAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, 0), test.ShouldBeTrue)
	test.That(t, float64(m.Root().Logit()), test.ShouldAlmostEqual, 0.8473, 0.001)

	// one allocated path from the root down to the leaf block
	test.That(t, m.NumInnerNodes(), test.ShouldEqual, 16)
	test.That(t, m.NumInnerLeafNodes(), test.ShouldEqual, 105)
	test.That(t, m.NumLeafNodes(), test.ShouldEqual, 8)
	test.That(t, m.Size(), test.ShouldEqual, 129)

	checkSummaries(t, m)
	checkCounters(t, m)
}

func TestMissSaturationCollapsesSiblings(t *testing.T) {
	m := newTestMap(t)

	// the eight leaves of the depth-1 cell around (0.1, 0.1, 0.1)
	var cells []r3.Vector
	for _, x := range []float64{0.05, 0.15} {
		for _, y := range []float64{0.05, 0.15} {
			for _, z := range []float64{0.05, 0.15} {
				cells = append(cells, r3.Vector{X: x, Y: y, Z: z})
			}
		}
	}

	m.IntegrateMissAt(cells[0])
	sizeExpanded := m.Size()
	test.That(t, sizeExpanded, test.ShouldEqual, 129)

	for _, c := range cells {
		for i := 0; i < 8; i++ {
			m.IntegrateMissAt(c)
		}
	}

	// all eight leaves saturated at the lower clamp, so the parent collapsed
	// and dropped its leaf block
	test.That(t, m.Size(), test.ShouldEqual, sizeExpanded-8)
	test.That(t, m.NumLeafNodes(), test.ShouldEqual, 0)

	code := NewCode(m.CoordToKey(cells[3], 0))
	node, exact := m.NodeAt(code)
	test.That(t, exact, test.ShouldBeFalse)
	test.That(t, node.Depth(), test.ShouldEqual, 1)
	test.That(t, node.Logit(), test.ShouldEqual, m.ClampingThresMinLog())

	// a collapsed subtree answers for all of its descendants
	for _, c := range cells {
		got := m.GetNode(NewCode(m.CoordToKey(c, 0)))
		test.That(t, got.Logit(), test.ShouldEqual, m.ClampingThresMinLog())
	}

	checkSummaries(t, m)
	checkCounters(t, m)
}

func TestUpdateShortCircuitsWhenSaturated(t *testing.T) {
	m := newTestMap(t)

	p := r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}
	for i := 0; i < 10; i++ {
		m.IntegrateHitAt(p)
	}
	test.That(t, m.GetNodeAt(p, 0).Logit(), test.ShouldEqual, m.ClampingThresMaxLog())

	size := m.Size()
	changes := m.NumChanges()
	m.IntegrateHitAt(p)
	test.That(t, m.Size(), test.ShouldEqual, size)
	test.That(t, m.NumChanges(), test.ShouldEqual, changes)
}

func TestSetNodeValueOverwritesSubtree(t *testing.T) {
	m := newTestMap(t)

	for _, x := range []float64{0.05, 0.15, 0.25, 0.35} {
		m.IntegrateHitAt(r3.Vector{X: x, Y: 0.05, Z: 0.05})
	}
	test.That(t, m.IsOccupiedAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, 0), test.ShouldBeTrue)

	// overwrite the whole depth-2 cell with the lower clamp
	m.SetNodeValueAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, 2, m.ClampingThresMinLog())

	for _, x := range []float64{0.05, 0.15, 0.25, 0.35} {
		node := m.GetNodeAt(r3.Vector{X: x, Y: 0.05, Z: 0.05}, 0)
		test.That(t, node.Logit(), test.ShouldEqual, m.ClampingThresMinLog())
	}
	checkSummaries(t, m)
	checkCounters(t, m)
}

func TestExpandSeedsChildrenFromParent(t *testing.T) {
	m := newTestMap(t)

	// make a uniform occupied depth-1 cell, then touch a single leaf in it
	m.SetNodeValueAt(r3.Vector{X: 0.1, Y: 0.1, Z: 0.1}, 1, m.ClampingThresMaxLog())
	before := m.GetNodeAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, 0)
	test.That(t, before.Depth(), test.ShouldEqual, 1)
	test.That(t, before.Logit(), test.ShouldEqual, m.ClampingThresMaxLog())

	m.UpdateNodeValueAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, 0, m.ProbMissLog())

	// the touched leaf moved, its seven siblings keep the parent's value
	touched := m.GetNodeAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, 0)
	test.That(t, touched.Depth(), test.ShouldEqual, 0)
	test.That(t, touched.Logit(), test.ShouldBeLessThan, m.ClampingThresMaxLog())
	sibling := m.GetNodeAt(r3.Vector{X: 0.15, Y: 0.15, Z: 0.15}, 0)
	test.That(t, sibling.Logit(), test.ShouldEqual, m.ClampingThresMaxLog())

	checkSummaries(t, m)
	checkCounters(t, m)
}

func TestPruneIdempotent(t *testing.T) {
	m := newTestMap(t)
	m.SetAutomaticPruning(false)

	var cells []r3.Vector
	for _, x := range []float64{0.05, 0.15} {
		for _, y := range []float64{0.05, 0.15} {
			for _, z := range []float64{0.05, 0.15} {
				cells = append(cells, r3.Vector{X: x, Y: y, Z: z})
			}
		}
	}
	for _, c := range cells {
		for i := 0; i < 8; i++ {
			m.IntegrateMissAt(c)
		}
	}

	// with automatic pruning off the uniform leaf block stays allocated
	test.That(t, m.NumLeafNodes(), test.ShouldEqual, 8)

	m.Prune()
	pruned := m.Size()
	test.That(t, m.NumLeafNodes(), test.ShouldEqual, 0)
	checkCounters(t, m)

	m.Prune()
	test.That(t, m.Size(), test.ShouldEqual, pruned)
	checkCounters(t, m)
}

func TestInsertEmptyCloudIsNoop(t *testing.T) {
	m := newTestMap(t)
	m.InsertPointCloud(r3.Vector{}, pointcloud.New(), -1)
	test.That(t, m.Size(), test.ShouldEqual, 1)
	test.That(t, m.Root().Logit(), test.ShouldEqual, float32(0))
}

func TestInsertPointCloud(t *testing.T) {
	m := newTestMap(t)

	cloud := pointcloud.New()
	cloud.Add(r3.Vector{X: 1, Y: 0, Z: 0})

	// hits accumulate at the endpoint while every traversed cell takes one
	// miss per cloud; repeat until the misses clear the free threshold
	for i := 0; i < 5; i++ {
		m.InsertPointCloud(r3.Vector{}, cloud, -1)
	}

	test.That(t, m.IsOccupiedAt(r3.Vector{X: 1, Y: 0, Z: 0}, 0), test.ShouldBeTrue)
	for x := 0.05; x < 1.0; x += 0.1 {
		test.That(t, m.IsFreeAt(r3.Vector{X: x, Y: 0.05, Z: 0.05}, 0), test.ShouldBeTrue)
	}
	checkSummaries(t, m)
	checkCounters(t, m)
}

func TestInsertPointCloudMaxRange(t *testing.T) {
	m := newTestMap(t)

	cloud := pointcloud.New()
	cloud.Add(r3.Vector{X: 1, Y: 0, Z: 0})
	m.InsertPointCloud(r3.Vector{}, cloud, 0.45)

	// the endpoint was clipped away, so nothing is occupied
	test.That(t, m.IsOccupiedAt(r3.Vector{X: 1, Y: 0, Z: 0}, 0), test.ShouldBeFalse)
	test.That(t, m.GetNodeAt(r3.Vector{X: 1, Y: 0, Z: 0}, 0).Logit(), test.ShouldEqual, float32(0))
	// cells within range took a miss
	test.That(t, m.GetNodeAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, 0).Logit(), test.ShouldBeLessThan, 0)
}

func TestInsertPointCloudHitBeatsMiss(t *testing.T) {
	m := newTestMap(t)

	// two points along +x: the nearer endpoint is traversed by the farther
	// point's ray, but its hit must win over that miss
	cloud := pointcloud.New()
	cloud.Add(r3.Vector{X: 0.55, Y: 0.05, Z: 0.05})
	cloud.Add(r3.Vector{X: 0.95, Y: 0.05, Z: 0.05})
	m.InsertPointCloud(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, cloud, -1)

	test.That(t, m.IsOccupiedAt(r3.Vector{X: 0.55, Y: 0.05, Z: 0.05}, 0), test.ShouldBeTrue)
	test.That(t, m.IsOccupiedAt(r3.Vector{X: 0.95, Y: 0.05, Z: 0.05}, 0), test.ShouldBeTrue)
}

func TestInsertPointCloudTransformed(t *testing.T) {
	m := newTestMap(t)

	cloud := pointcloud.New()
	cloud.Add(r3.Vector{X: 1, Y: 0, Z: 0})
	pose := pointcloud.NewPose(r3.Vector{X: 0, Y: 1, Z: 0}, pointcloud.IdentityPose().Rotation)
	m.InsertPointCloudTransformed(r3.Vector{}, cloud, pose, -1)

	test.That(t, m.IsOccupiedAt(r3.Vector{X: 1, Y: 1, Z: 0}, 0), test.ShouldBeTrue)
	test.That(t, m.IsOccupiedAt(r3.Vector{X: 1, Y: 0, Z: 0}, 0), test.ShouldBeFalse)
	// the source cloud itself is untouched
	test.That(t, cloud.At(0), test.ShouldResemble, r3.Vector{X: 1, Y: 0, Z: 0})
}

func TestInsertPointCloudDiscrete(t *testing.T) {
	m := newTestMap(t)

	cloud := pointcloud.New()
	// duplicates within one voxel collapse to a single endpoint
	cloud.Add(r3.Vector{X: 1, Y: 0.05, Z: 0.05})
	cloud.Add(r3.Vector{X: 1.01, Y: 0.051, Z: 0.049})
	cloud.Add(r3.Vector{X: 1.02, Y: 0.052, Z: 0.048})

	m.InsertPointCloudDiscrete(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, cloud, -1, 0, 0)

	endpoint := m.GetNodeAt(r3.Vector{X: 1, Y: 0.05, Z: 0.05}, 0)
	test.That(t, float64(endpoint.Logit()), test.ShouldAlmostEqual, float64(m.ProbHitLog()), 1e-6)
	test.That(t, m.GetNodeAt(r3.Vector{X: 0.55, Y: 0.05, Z: 0.05}, 0).Logit(), test.ShouldBeLessThan, 0)
	checkSummaries(t, m)
	checkCounters(t, m)
}

func TestInsertPointCloudDiscreteCoarse(t *testing.T) {
	m := newTestMap(t)

	cloud := pointcloud.New()
	cloud.Add(r3.Vector{X: 2, Y: 0.05, Z: 0.05})
	m.InsertPointCloudDiscrete(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, cloud, -1, 0, 2)

	// the endpoint is integrated directly at full resolution
	test.That(t, m.IsOccupiedAt(r3.Vector{X: 2, Y: 0.05, Z: 0.05}, 0), test.ShouldBeTrue)
	// the coarse ray wrote weighted misses somewhere along the way
	free := 0
	it := m.NewLeafIterator(IterateOptions{Free: true, Unknown: true})
	for it.Next() {
		if it.Logit() < 0 {
			free++
		}
	}
	test.That(t, free, test.ShouldBeGreaterThan, 0)
	checkSummaries(t, m)
	checkCounters(t, m)
}

func TestGetDiscreteCloud(t *testing.T) {
	m := newTestMap(t)

	cloud := pointcloud.New()
	cloud.Add(r3.Vector{X: 0.01, Y: 0.01, Z: 0.01})
	cloud.Add(r3.Vector{X: 0.02, Y: 0.03, Z: 0.04})
	cloud.Add(r3.Vector{X: 0.31, Y: 0.01, Z: 0.01})

	discrete := m.GetDiscreteCloud(cloud, 0)
	test.That(t, discrete.Size(), test.ShouldEqual, 2)
	test.That(t, discrete.At(0), test.ShouldResemble, r3.Vector{X: 0.05, Y: 0.05, Z: 0.05})
}

func TestChangeDetection(t *testing.T) {
	m := newTestMap(t)
	test.That(t, m.ChangeDetectionEnabled(), test.ShouldBeFalse)

	m.IntegrateHitAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05})
	test.That(t, m.NumChanges(), test.ShouldEqual, 0)

	m.EnableChangeDetection(true)
	target := NewCode(m.CoordToKey(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, 0))
	m.IntegrateHit(target)

	test.That(t, m.NumChanges(), test.ShouldBeGreaterThan, 0)
	found := false
	m.IterateChangedCodes(func(code Code) bool {
		if code == target {
			found = true
			return false
		}
		return true
	})
	test.That(t, found, test.ShouldBeTrue)

	codes := m.ChangedCodes()
	test.That(t, len(codes), test.ShouldEqual, m.NumChanges())

	m.ResetChangeDetection()
	test.That(t, m.NumChanges(), test.ShouldEqual, 0)
}

func TestClearAreaBBX(t *testing.T) {
	m := newTestMap(t)

	for _, x := range []float64{0.05, 0.15, 0.25} {
		m.IntegrateHitAt(r3.Vector{X: x, Y: 0.05, Z: 0.05})
	}
	m.ClearAreaBBX(r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 0.3, Y: 0.3, Z: 0.3}, 0)

	for _, x := range []float64{0.05, 0.15, 0.25} {
		node := m.GetNodeAt(r3.Vector{X: x, Y: 0.05, Z: 0.05}, 0)
		test.That(t, node.Logit(), test.ShouldEqual, m.ClampingThresMinLog())
	}
	checkSummaries(t, m)
	checkCounters(t, m)
}

func TestClearResetsTree(t *testing.T) {
	m := newTestMap(t)

	m.IntegrateHitAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05})
	test.That(t, m.Size(), test.ShouldBeGreaterThan, 1)

	m.Clear()
	test.That(t, m.Size(), test.ShouldEqual, 1)
	test.That(t, m.Root().Logit(), test.ShouldEqual, float32(0))

	err := m.ClearWith(0.2, 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Resolution(), test.ShouldEqual, 0.2)
	test.That(t, m.DepthLevels(), test.ShouldEqual, 10)

	test.That(t, m.ClearWith(-1, 10), test.ShouldNotBeNil)
	test.That(t, m.ClearWith(0.1, 1), test.ShouldNotBeNil)
}

func TestChildLookup(t *testing.T) {
	m := newTestMap(t)

	m.IntegrateHitAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05})

	root := m.Root()
	child, err := m.Child(root, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, child.Depth(), test.ShouldEqual, root.Depth()-1)

	_, err = m.Child(root, 8)
	test.That(t, err, test.ShouldNotBeNil)

	leaf := m.GetNodeAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, 0)
	_, err = m.Child(leaf, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestResummarizeOnThresholdChange(t *testing.T) {
	m := newTestMap(t)

	// a region below the default free threshold
	for i := 0; i < 8; i++ {
		m.IntegrateMissAt(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05})
	}
	rootCode := m.Root().Code()
	test.That(t, m.ContainsFree(rootCode), test.ShouldBeTrue)

	// nothing is free under an unreachable threshold
	m.SetFreeThresLog(-10)
	test.That(t, m.ContainsFree(rootCode), test.ShouldBeFalse)
	checkSummaries(t, m)

	m.SetFreeThres(0.12)
	test.That(t, m.ContainsFree(rootCode), test.ShouldBeTrue)
	checkSummaries(t, m)
}

func TestMetricBounds(t *testing.T) {
	m := newTestMap(t)

	m.IntegrateHitAt(r3.Vector{X: 1.05, Y: 0.05, Z: 0.05})
	min := m.MetricMin(0)
	max := m.MetricMax(0)
	test.That(t, min.X, test.ShouldAlmostEqual, 1.0, 1e-6)
	test.That(t, max.X, test.ShouldAlmostEqual, 1.1, 1e-6)
	test.That(t, m.Volume(), test.ShouldBeGreaterThan, 0.0)
	test.That(t, m.MemoryUsage(), test.ShouldBeGreaterThan, 0)
}
