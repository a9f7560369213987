package pipeline

import "fmt"

// State is one step of a verification sequence.
type State int

const (
	StateStart State = iota
	StateSubmitForms
	StateSettleWait
	StateFetch
	StateMatch
	StateNotify
	StateCleanup
	StateDone
)

var stateNames = map[State]string{
	StateStart:       "start",
	StateSubmitForms: "submit_forms",
	StateSettleWait:  "settle_wait",
	StateFetch:       "fetch",
	StateMatch:       "match",
	StateNotify:      "notify",
	StateCleanup:     "cleanup",
	StateDone:        "done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions is unconditional: a failed state still hands over to the next.
var transitions = map[State]State{
	StateStart:       StateSubmitForms,
	StateSubmitForms: StateSettleWait,
	StateSettleWait:  StateFetch,
	StateFetch:       StateMatch,
	StateMatch:       StateNotify,
	StateNotify:      StateCleanup,
	StateCleanup:     StateDone,
}

// Next returns the state after s. StateDone and unknown states map to StateDone.
func Next(s State) State {
	if next, ok := transitions[s]; ok {
		return next
	}
	return StateDone
}

// Sequence lists every state from StateStart to StateDone in order.
func Sequence() []State {
	var out []State
	for s := StateStart; ; s = Next(s) {
		out = append(out, s)
		if s == StateDone {
			return out
		}
	}
}
