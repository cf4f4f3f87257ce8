package hitcounter

import "time"

// State is a step of a single Increment call.
type State int

const (
	Attempting State = iota
	BackingOff
	Succeeded
	FailedExhausted
	FailedFatal
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case BackingOff:
		return "backing_off"
	case Succeeded:
		return "succeeded"
	case FailedExhausted:
		return "failed_exhausted"
	case FailedFatal:
		return "failed_fatal"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == Succeeded || s == FailedExhausted || s == FailedFatal
}

// Transition describes one state change of an Increment call.
type Transition struct {
	Key  string
	From State
	To   State
	// Attempt is the number of datastore calls made so far.
	Attempt int
	// RetriesLeft is the remaining budget after this transition.
	RetriesLeft int
	// Delay is the pause about to be taken, set when To is BackingOff.
	Delay time.Duration
	// Elapsed is the time since the call started.
	Elapsed time.Duration
	// Remote is set when the transition follows a datastore call.
	Remote bool
	Err    error
}

// Observer is notified of every transition, in order, on the calling goroutine.
type Observer interface {
	Observe(t Transition)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(t Transition)

func (f ObserverFunc) Observe(t Transition) {
	f(t)
}
