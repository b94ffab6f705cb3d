package stt

import "context"

// Engine identifies which speech-to-text backend produced a result.
type Engine string

const (
	EnginePrimary  Engine = "primary"
	EngineFallback Engine = "fallback"
)

type EventKind int

const (
	// EventCommit carries finalized transcript text.
	EventCommit EventKind = iota
	// EventError carries a backend-reported failure reason.
	EventError
	// EventClosed signals the backend closed the stream without being asked.
	EventClosed
)

type Event struct {
	Kind    EventKind
	Text    string
	Message string
}

// Connector is one live transcription stream. Start must be called before
// Events; Stop is idempotent and closes the event channel.
type Connector interface {
	Start(ctx context.Context) error
	Events() <-chan Event
	Stop() error
	Engine() Engine
}
