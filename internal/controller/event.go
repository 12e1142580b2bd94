package controller

import "fmt"

// Action is what happened to a key.
type Action int

const (
	Press Action = iota
	Release
	// Toggle is a press when idle and a release while recording, decided
	// on the event loop. Used by inputs with no key-up.
	Toggle
)

func (a Action) String() string {
	switch a {
	case Press:
		return "press"
	case Release:
		return "release"
	case Toggle:
		return "toggle"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Key identifies the input that produced an event.
type Key int

const (
	KeyRecord Key = iota
	KeyMode
)

func (k Key) String() string {
	switch k {
	case KeyRecord:
		return "rec"
	case KeyMode:
		return "mode"
	default:
		return fmt.Sprintf("key(%d)", int(k))
	}
}

// Event is one input delivered to the controller. Source names the input
// device ("keyboard", "web", ...).
type Event struct {
	Source string
	Action Action
	Key    Key
}

func (e Event) String() string {
	return e.Source + ":" + e.Key.String() + ":" + e.Action.String()
}
