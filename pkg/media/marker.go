package media

// FragmentMarker is an opaque, monotonically increasing cursor into a live
// media source. Producers emit decimal strings that grow over time, so
// ordering is length-then-lexicographic.
type FragmentMarker string

// MarkerZero means "start of stream"; resuming from it replays everything.
const MarkerZero FragmentMarker = ""

// CompareMarkers returns -1, 0 or 1 as a orders before, equal to or after b.
func CompareMarkers(a, b FragmentMarker) int {
	if a == b {
		return 0
	}
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	if a < b {
		return -1
	}
	return 1
}

// MarkerAfter reports whether a comes strictly after b. The zero marker
// never comes after anything.
func MarkerAfter(a, b FragmentMarker) bool {
	if a == MarkerZero {
		return false
	}
	if b == MarkerZero {
		return true
	}
	return CompareMarkers(a, b) > 0
}
