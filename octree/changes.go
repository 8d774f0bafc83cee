package octree

// EnableChangeDetection toggles recording of the codes whose stored value
// or summary changed.
func (m *OccupancyMap) EnableChangeDetection(enable bool) {
	m.changeDetectionEnabled = enable
}

// ChangeDetectionEnabled reports whether change detection is on.
func (m *OccupancyMap) ChangeDetectionEnabled() bool {
	return m.changeDetectionEnabled
}

// ResetChangeDetection forgets all recorded changes.
func (m *OccupancyMap) ResetChangeDetection() {
	clear(m.changedCodes)
}

// NumChanges returns the number of distinct codes recorded since the last
// reset.
func (m *OccupancyMap) NumChanges() int {
	return len(m.changedCodes)
}

// ChangedCodes returns the recorded codes. Order is unspecified.
func (m *OccupancyMap) ChangedCodes() []Code {
	codes := make([]Code, 0, len(m.changedCodes))
	for code := range m.changedCodes {
		codes = append(codes, code)
	}
	return codes
}

// IterateChangedCodes calls fn for every recorded code in unspecified
// order. If fn returns false, iteration stops.
func (m *OccupancyMap) IterateChangedCodes(fn func(Code) bool) {
	for code := range m.changedCodes {
		if !fn(code) {
			return
		}
	}
}
