package analyzer

// Level is a queue's occupancy sampled at the end of a cycle.
type Level struct {
	Name      string
	Occupancy int
	Depth     int
}

// Threshold is the hysteresis margin for a queue of the given depth.
func Threshold(depth int) int {
	if depth > 4 {
		return depth / 4
	}
	return depth / 2
}

// ThrottleOn reports whether any queue is within Threshold of being full.
func ThrottleOn(levels []Level) bool {
	for _, l := range levels {
		if l.Occupancy >= l.Depth-Threshold(l.Depth) {
			return true
		}
	}
	return false
}

// ThrottleOff reports whether every queue has drained below Threshold.
func ThrottleOff(levels []Level) bool {
	for _, l := range levels {
		if l.Occupancy >= Threshold(l.Depth) {
			return false
		}
	}
	return true
}

// OverrunTrip reports whether any queue has at most two free slots left.
func OverrunTrip(levels []Level) bool {
	for _, l := range levels {
		if l.Occupancy >= l.Depth-2 {
			return true
		}
	}
	return false
}

// FlowControl holds the throttle and overrun registers. Throttle switches
// with hysteresis and raises Edge for the cycle after each switch; overrun
// is sticky until Reset.
type FlowControl struct {
	throttle bool
	edge     bool
	overrun  bool
}

// Update samples queue levels at the end of a cycle.
func (f *FlowControl) Update(levels []Level) {
	switch {
	case !f.throttle && ThrottleOn(levels):
		f.throttle, f.edge = true, true
	case f.throttle && ThrottleOff(levels):
		f.throttle, f.edge = false, true
	default:
		f.edge = false
	}
	if OverrunTrip(levels) {
		f.overrun = true
	}
}

// Throttle reports whether producers must pause.
func (f *FlowControl) Throttle() bool { return f.throttle }

// Edge reports whether Throttle changed in the last Update.
func (f *FlowControl) Edge() bool { return f.edge }

// Overrun reports whether data loss has become unavoidable.
func (f *FlowControl) Overrun() bool { return f.overrun }

// Reset clears all registers.
func (f *FlowControl) Reset() {
	*f = FlowControl{}
}
