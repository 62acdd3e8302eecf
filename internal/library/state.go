package library

// State is the lifecycle of the list as a whole. Transitions:
//
//	Idle → Loading       fetch requested, waiting for the total count
//	Loading → Populating total received, slots filling progressively
//	Populating → Settled completion received
//	Settled → Loading    refresh (pull, data-source change)
//	Settled → Populating retry (only failed slots revisit pending)
//
// A fetch requested while Loading or Populating is rejected rather
// than overlapped: concurrent writes into the shared snapshot are not
// safe, and the caller gets ErrFetchInProgress to surface instead.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePopulating
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePopulating:
		return "populating"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// busy reports whether a fetch is currently in flight.
func (s State) busy() bool {
	return s == StateLoading || s == StatePopulating
}
