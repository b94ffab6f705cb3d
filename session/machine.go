// Package session coordinates the recording lifecycle: state transitions,
// engine failover, timers, and the summarization hand-off.
package session

import (
	"errors"
	"fmt"
)

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateConsent    State = "consent"
	StateRecording  State = "recording"
	StateCountdown  State = "countdown"
	StateProcessing State = "processing"
	StateReady      State = "ready"
)

const (
	EventRequestConsent   Event = "request_consent"
	EventStart            Event = "start"
	EventTriggerCountdown Event = "trigger_countdown"
	EventResume           Event = "resume"
	EventStop             Event = "stop"
	EventSummarized       Event = "summarized"
	EventSummarizeFailed  Event = "summarize_failed"
	EventReset            Event = "reset"
)

var ErrInvalidTransition = errors.New("invalid transition")

// Transition applies one lifecycle event. Reset is valid from any state;
// everything else follows the machine exactly.
func Transition(current State, event Event) (State, error) {
	if event == EventReset {
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventRequestConsent:
			return StateConsent, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConsent:
		switch event {
		case EventStart:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventTriggerCountdown:
			return StateCountdown, nil
		case EventStop:
			return StateProcessing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCountdown:
		switch event {
		case EventResume:
			return StateRecording, nil
		case EventStop:
			return StateProcessing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventSummarized:
			return StateReady, nil
		case EventSummarizeFailed:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateReady:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("%w: %s --(%s)--> ?", ErrInvalidTransition, state, event)
}
