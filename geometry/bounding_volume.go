package geometry

// BoundingVolume is a collection of primitive volumes treated as their
// union. The zero value is empty and places no restriction on space.
type BoundingVolume struct {
	boxes []AABB
}

// NewBoundingVolume returns a volume containing the given boxes.
func NewBoundingVolume(boxes ...AABB) BoundingVolume {
	bv := BoundingVolume{}
	for _, b := range boxes {
		bv.Add(b)
	}
	return bv
}

// Add includes another box in the volume.
func (bv *BoundingVolume) Add(a AABB) {
	bv.boxes = append(bv.boxes, a)
}

// Empty reports whether the volume contains no primitives.
func (bv BoundingVolume) Empty() bool {
	return len(bv.boxes) == 0
}

// Size returns the number of primitives in the volume.
func (bv BoundingVolume) Size() int {
	return len(bv.boxes)
}

// Intersects reports whether any primitive in the volume overlaps the box.
func (bv BoundingVolume) Intersects(a AABB) bool {
	for _, b := range bv.boxes {
		if b.Intersects(a) {
			return true
		}
	}
	return false
}
