package pinentry

import "fmt"

// A session moves strictly forward: the helper greets us, we configure
// the dialog, we issue exactly one terminal command, and then we shut
// down. Keeping the states explicit makes "failure still reaps the
// child" a property of the machine instead of a convention every call
// site has to remember.

type state string

type event string

const (
	stateHandshake   state = "handshake"
	stateConfiguring state = "configuring"
	stateExecuting   state = "executing"
	stateCompleted   state = "completed"
	stateFailed      state = "failed"
)

const (
	eventGreeted   event = "greeted"
	eventConfigure event = "configure"
	eventExecute   event = "execute"
	eventDone      event = "done"
	eventFail      event = "fail"
)

func transition(current state, ev event) (state, error) {
	if ev == eventFail {
		return stateFailed, nil
	}

	switch current {
	case stateHandshake:
		if ev == eventGreeted {
			return stateConfiguring, nil
		}
	case stateConfiguring:
		switch ev {
		case eventConfigure:
			return stateConfiguring, nil
		case eventExecute:
			return stateExecuting, nil
		}
	case stateExecuting:
		if ev == eventDone {
			return stateCompleted, nil
		}
	}
	return current, fmt.Errorf("pinentry: invalid session transition %s in state %s", ev, current)
}
