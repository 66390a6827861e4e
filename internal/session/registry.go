// Package session abstracts the LLM session layer. Session keys are
// structured strings the orchestrator generates; the registry treats them as
// opaque.
package session

import (
	"context"
	"time"
)

// LiveKeys is the set of session keys the registry believes are alive.
// A nil LiveKeys means unknown: the session layer was unreachable and the
// caller must treat that as "no information", never as "dead".
type LiveKeys map[string]struct{}

// Contains reports liveness for a key; false on an empty (but known) set.
func (k LiveKeys) Contains(key string) bool {
	_, ok := k[key]
	return ok
}

// SendOptions parameterize a task delivery.
type SendOptions struct {
	Model             string
	ExtraSystemPrompt string
	Timeout           time.Duration
	OrchestratorKey   string
}

// Registry is the abstract session-layer adapter.
type Registry interface {
	// EnsureSession creates the session if absent, or patches the model if
	// present. Callers treat it as fire-and-forget.
	EnsureSession(ctx context.Context, key, model, label string, timeout time.Duration) error

	// SendToSession delivers the task brief. May be fire-and-forget.
	SendToSession(ctx context.Context, key, message string, opts SendOptions) error

	// DeleteSession is best-effort cleanup.
	DeleteSession(ctx context.Context, key string) error

	// ListLiveSessionKeys enumerates live keys. A nil result means unknown.
	ListLiveSessionKeys(ctx context.Context) (LiveKeys, error)
}
