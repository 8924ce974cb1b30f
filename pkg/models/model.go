package models

import "context"

// Message roles understood by backends.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Sampling controls generation for one completion. Nil fields fall back to
// the backend's configured defaults.
type Sampling struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int64   `json:"max_tokens,omitempty"`
}

// Message is one chat turn sent to a model.
type Message struct {
	Role string
	Text string
	// Image, when set, is attached to the message as an inline image part.
	Image []byte
}

// Request is the input to one model completion.
type Request struct {
	Messages []Message
	Sampling Sampling
}

// Model is a loaded inference backend. Handles are shared across
// concurrently running tasks and must be safe for concurrent use; callers
// never mutate a handle.
type Model interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Builder constructs the model registered under a name. Builds may take
// seconds to minutes; the Manager never runs two builds for the same name
// at once.
type Builder func(ctx context.Context) (Model, error)
