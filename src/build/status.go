package build

// Status is a job's position in the build pipeline.
type Status string

const (
	StatusQueued   Status = "queued"   // waiting for a free build slot
	StatusBuilding Status = "building" // admitted, pipeline running
	StatusSuccess  Status = "success"  // pulled, built, tagged and pushed
	StatusFailure  Status = "failure"  // a fatal pipeline step failed
)

// Terminal reports whether no further transitions can follow s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// rank orders statuses so transitions can be checked for regression.
// Both terminal statuses share the highest rank.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusBuilding:
		return 1
	case StatusSuccess, StatusFailure:
		return 2
	default:
		return -1
	}
}

// canAdvance reports whether a job may move from s to next.
func (s Status) canAdvance(next Status) bool {
	if s.Terminal() || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}
