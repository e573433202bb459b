package fsm

import "fmt"

// State is one adapter lifecycle state.
type State string

type Event string

const (
	StateUnpowered   State = "unpowered"
	StatePowering    State = "powering"
	StatePowered     State = "powered"
	StateDiscovering State = "discovering"
)

const (
	EventPowerOn        Event = "power_on"
	EventPowerConfirmed Event = "power_confirmed"
	EventPowerFailed    Event = "power_failed"
	EventDiscover       Event = "discover"
	EventDiscoveryEnded Event = "discovery_ended"
	EventPowerLost      Event = "power_lost"
)

// Transition returns the state reached by applying event to current.
// Invalid pairs leave the state unchanged and return an error.
func Transition(current State, event Event) (State, error) {
	if event == EventPowerLost {
		switch current {
		case StateUnpowered, StatePowering, StatePowered, StateDiscovering:
			return StateUnpowered, nil
		}
	}

	switch current {
	case StateUnpowered:
		switch event {
		case EventPowerOn:
			return StatePowering, nil
		case EventPowerConfirmed:
			// Adapter was already powered by another bus client.
			return StatePowered, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StatePowering:
		switch event {
		case EventPowerConfirmed:
			return StatePowered, nil
		case EventPowerFailed:
			return StateUnpowered, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StatePowered:
		switch event {
		case EventDiscover:
			return StateDiscovering, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDiscovering:
		switch event {
		case EventDiscoveryEnded:
			return StatePowered, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Powered reports whether s implies the adapter radio is on.
func (s State) Powered() bool {
	return s == StatePowered || s == StateDiscovering
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
