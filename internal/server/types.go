package server

import (
	"github.com/taskdeck/taskdeck/internal/chat"
	"github.com/taskdeck/taskdeck/internal/tasks"
)

// SubmitMessageRequest is the POST /chat/messages request body.
type SubmitMessageRequest struct {
	// Text is the user's message. Required.
	Text string `json:"text"`

	// UseExternal asks for the external responder. Silently falls back to
	// the local one when the credential is absent.
	UseExternal bool `json:"use_external,omitempty"`

	// Model overrides the configured external model.
	Model string `json:"model,omitempty"`
}

// QueuedResponse is returned when a message arrives while the session is
// already streaming: the message waits its turn instead of being sent.
type QueuedResponse struct {
	Queued   bool `json:"queued"`
	QueueLen int  `json:"queue_len"`
}

// HistoryResponse is returned by GET /chat/history.
type HistoryResponse struct {
	Session string      `json:"session"`
	Turns   []chat.Turn `json:"turns"`
}

// TasksResponse is returned by GET /tasks.
type TasksResponse struct {
	Tasks   []tasks.Task `json:"tasks"`
	Message string       `json:"message,omitempty"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
