package timer

// State classifies a key by comparing its stored end time with now.
type State uint8

const (
	// StateAbsent means no usable record exists under the key.
	StateAbsent State = iota
	// StateRunning means the record's end time has not yet passed.
	StateRunning
	// StateExpired means the record's end time lies in the past. The record
	// still exists; records never delete themselves.
	StateExpired
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateRunning:
		return "running"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Classify returns the State of a record with the given end time.
// An end time equal to now is still running; only IsInPast expires it.
func Classify(now, endTime int64, found bool) State {
	switch {
	case !found:
		return StateAbsent
	case IsInPast(now, endTime):
		return StateExpired
	default:
		return StateRunning
	}
}
