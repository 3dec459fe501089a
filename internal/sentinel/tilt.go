package sentinel

import "time"

// updateTilt implements spec.md §4.9: a negative or overlarge gap
// since the previous tick (clock jump, long GC-like pause) suspends
// acting decisions while probers and down detectors keep observing.
// Entering/exiting TILT never touches registry data (spec.md §8
// "TILT idempotence"), only s.tilt and s.tiltStartTime.
func (s *Sentinel) updateTilt(now time.Time) {
	if !s.previousTickTime.IsZero() {
		delta := now.Sub(s.previousTickTime)
		if delta < 0 || delta > tiltTrigger {
			if !s.tilt {
				s.tilt = true
				s.tiltStartTime = now
				s.emitGlobal(EventTiltEnter, "")
			}
		}
	}
	if s.tilt && now.Sub(s.tiltStartTime) > tiltPeriod {
		s.tilt = false
		s.emitGlobal(EventTiltExit, "")
	}
	s.previousTickTime = now
}
