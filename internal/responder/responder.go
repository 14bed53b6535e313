// Package responder produces assistant text for a conversation, either from
// a deterministic local rule set or from an OpenAI-compatible chat
// completions endpoint. Both variants support one-shot and streamed output.
package responder

import (
	"context"
	"os"

	"github.com/taskdeck/taskdeck/internal/chat"
)

type Responder interface {
	Name() string

	// Respond produces the full reply for the given conversation, oldest
	// turn first.
	Respond(ctx context.Context, turns []chat.Turn) (string, error)

	// Stream produces the reply incrementally. The returned stream always
	// terminates and is safe to fully drain; mid-stream failures end the
	// stream after a single descriptive error chunk.
	Stream(ctx context.Context, turns []chat.Turn) (*Stream, error)
}

// Config selects between the two variants.
type Config struct {
	BaseURL   string // chat completions base URL, e.g. "https://api.openai.com/v1"
	APIKeyEnv string // environment variable holding the bearer credential
	Model     string // default model when the caller does not name one
}

// Select returns the external variant only when the caller asked for it and
// the credential is present; otherwise the local variant, silently. "External
// not configured" is not an error.
func Select(cfg Config, local Responder, useExternal bool, model string) Responder {
	if !useExternal {
		return local
	}
	if os.Getenv(cfg.APIKeyEnv) == "" {
		return local
	}
	if model == "" {
		model = cfg.Model
	}
	return NewOpenAI(OpenAIConfig{
		BaseURL:   cfg.BaseURL,
		APIKeyEnv: cfg.APIKeyEnv,
		Model:     model,
	})
}
