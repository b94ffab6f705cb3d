package session

import "github.com/charmbracelet/log"

// Notifier is the user-visible notification surface.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// LogNotifier reports notifications through the structured logger; the
// actual UI surface is an external collaborator.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Success(message string) {
	n.Logger.Info("notify", "kind", "success", "message", message)
}

func (n LogNotifier) Error(message string) {
	n.Logger.Error("notify", "kind", "error", "message", message)
}
