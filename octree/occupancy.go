package octree

import (
	"math"

	"github.com/golang/geo/r3"
)

// Logit returns the log-odds form of a probability.
func Logit(probability float64) float32 {
	return float32(math.Log(probability / (1.0 - probability)))
}

// Probability returns the probability form of a log-odds value.
func Probability(logit float32) float64 {
	return 1.0 - (1.0 / (1.0 + math.Exp(float64(logit))))
}

func (m *OccupancyMap) isOccupiedLog(logit float32) bool {
	return logit > m.occupancyThresLog
}

func (m *OccupancyMap) isFreeLog(logit float32) bool {
	return logit < m.freeThresLog
}

func (m *OccupancyMap) isUnknownLog(logit float32) bool {
	return m.freeThresLog <= logit && logit <= m.occupancyThresLog
}

// IsOccupied reports whether the cell addressed by code is occupied. A
// lookup ending at a collapsed ancestor uses the ancestor's value.
func (m *OccupancyMap) IsOccupied(code Code) bool {
	return m.isOccupiedLog(m.GetNode(code).logit)
}

// IsOccupiedAt reports whether the cell containing p at the given depth is
// occupied.
func (m *OccupancyMap) IsOccupiedAt(p r3.Vector, depth uint) bool {
	return m.IsOccupied(NewCode(m.CoordToKey(p, depth)))
}

// IsFree reports whether the cell addressed by code is free.
func (m *OccupancyMap) IsFree(code Code) bool {
	return m.isFreeLog(m.GetNode(code).logit)
}

// IsFreeAt reports whether the cell containing p at the given depth is free.
func (m *OccupancyMap) IsFreeAt(p r3.Vector, depth uint) bool {
	return m.IsFree(NewCode(m.CoordToKey(p, depth)))
}

// IsUnknown reports whether the cell addressed by code is neither occupied
// nor free.
func (m *OccupancyMap) IsUnknown(code Code) bool {
	return m.isUnknownLog(m.GetNode(code).logit)
}

// IsUnknownAt reports whether the cell containing p at the given depth is
// unknown.
func (m *OccupancyMap) IsUnknownAt(p r3.Vector, depth uint) bool {
	return m.IsUnknown(NewCode(m.CoordToKey(p, depth)))
}

// ContainsOccupied reports whether any cell in the subtree addressed by
// code is occupied. The subtree summary is the maximum child value, so this
// is the occupancy test on the summary itself.
func (m *OccupancyMap) ContainsOccupied(code Code) bool {
	return m.IsOccupied(code)
}

// ContainsFree reports whether any cell in the subtree addressed by code is
// free.
func (m *OccupancyMap) ContainsFree(code Code) bool {
	leaf, inner, _ := m.getNode(code)
	if inner != nil && inner.hasChildren() {
		return inner.containsFree
	}
	return m.isFreeLog(leaf.logit)
}

// ContainsUnknown reports whether any cell in the subtree addressed by code
// is unknown.
func (m *OccupancyMap) ContainsUnknown(code Code) bool {
	leaf, inner, _ := m.getNode(code)
	if inner != nil && inner.hasChildren() {
		return inner.containsUnknown
	}
	return m.isUnknownLog(leaf.logit)
}

// IntegrateHit applies one hit observation to the cell addressed by code.
func (m *OccupancyMap) IntegrateHit(code Code) Node {
	return m.UpdateNodeValue(code, m.probHitLog)
}

// IntegrateHitAt applies one hit observation to the voxel containing p.
func (m *OccupancyMap) IntegrateHitAt(p r3.Vector) Node {
	return m.IntegrateHit(NewCode(m.CoordToKey(p, 0)))
}

// IntegrateMiss applies one miss observation to the cell addressed by code.
func (m *OccupancyMap) IntegrateMiss(code Code) Node {
	return m.UpdateNodeValue(code, m.probMissLog)
}

// IntegrateMissAt applies one miss observation to the voxel containing p.
func (m *OccupancyMap) IntegrateMissAt(p r3.Vector) Node {
	return m.IntegrateMiss(NewCode(m.CoordToKey(p, 0)))
}

// OccupancyThres returns the occupancy threshold as a probability.
func (m *OccupancyMap) OccupancyThres() float64 {
	return Probability(m.occupancyThresLog)
}

// OccupancyThresLog returns the occupancy threshold in log-odds.
func (m *OccupancyMap) OccupancyThresLog() float32 {
	return m.occupancyThresLog
}

// FreeThres returns the free threshold as a probability.
func (m *OccupancyMap) FreeThres() float64 {
	return Probability(m.freeThresLog)
}

// FreeThresLog returns the free threshold in log-odds.
func (m *OccupancyMap) FreeThresLog() float32 {
	return m.freeThresLog
}

// ProbHit returns the hit probability of the sensor model.
func (m *OccupancyMap) ProbHit() float64 {
	return Probability(m.probHitLog)
}

// ProbHitLog returns the hit update in log-odds.
func (m *OccupancyMap) ProbHitLog() float32 {
	return m.probHitLog
}

// ProbMiss returns the miss probability of the sensor model.
func (m *OccupancyMap) ProbMiss() float64 {
	return Probability(m.probMissLog)
}

// ProbMissLog returns the miss update in log-odds.
func (m *OccupancyMap) ProbMissLog() float32 {
	return m.probMissLog
}

// ClampingThresMin returns the lower clamping bound as a probability.
func (m *OccupancyMap) ClampingThresMin() float64 {
	return Probability(m.clampingThresMinLog)
}

// ClampingThresMinLog returns the lower clamping bound in log-odds.
func (m *OccupancyMap) ClampingThresMinLog() float32 {
	return m.clampingThresMinLog
}

// ClampingThresMax returns the upper clamping bound as a probability.
func (m *OccupancyMap) ClampingThresMax() float64 {
	return Probability(m.clampingThresMaxLog)
}

// ClampingThresMaxLog returns the upper clamping bound in log-odds.
func (m *OccupancyMap) ClampingThresMaxLog() float32 {
	return m.clampingThresMaxLog
}

// SetOccupancyThres changes the occupancy threshold. Cached subtree
// summaries depend on the thresholds, so the whole tree is re-summarized;
// this is expensive on large maps.
func (m *OccupancyMap) SetOccupancyThres(probability float64) {
	m.SetOccupancyThresLog(Logit(probability))
}

// SetOccupancyThresLog is SetOccupancyThres in log-odds form.
func (m *OccupancyMap) SetOccupancyThresLog(logit float32) {
	m.occupancyThresLog = logit
	m.resummarize()
}

// SetFreeThres changes the free threshold and re-summarizes the tree.
func (m *OccupancyMap) SetFreeThres(probability float64) {
	m.SetFreeThresLog(Logit(probability))
}

// SetFreeThresLog is SetFreeThres in log-odds form.
func (m *OccupancyMap) SetFreeThresLog(logit float32) {
	m.freeThresLog = logit
	m.resummarize()
}

// SetProbHit changes the hit probability of the sensor model.
func (m *OccupancyMap) SetProbHit(probability float64) {
	m.probHitLog = Logit(probability)
}

// SetProbMiss changes the miss probability of the sensor model.
func (m *OccupancyMap) SetProbMiss(probability float64) {
	m.probMissLog = Logit(probability)
}

// SetClampingThresMin changes the lower clamping bound.
func (m *OccupancyMap) SetClampingThresMin(probability float64) {
	m.clampingThresMinLog = Logit(probability)
}

// SetClampingThresMax changes the upper clamping bound.
func (m *OccupancyMap) SetClampingThresMax(probability float64) {
	m.clampingThresMaxLog = Logit(probability)
}

func (m *OccupancyMap) clamp(logit float32) float32 {
	if logit < m.clampingThresMinLog {
		return m.clampingThresMinLog
	}
	if logit > m.clampingThresMaxLog {
		return m.clampingThresMaxLog
	}
	return logit
}
