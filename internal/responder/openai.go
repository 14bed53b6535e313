package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/chat"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultAPIKeyEnv = "OPENAI_API_KEY"
	DefaultModel     = "gpt-4o-mini"

	completeTimeout = 30 * time.Second
	streamTimeout   = 60 * time.Second

	maxResponseBytes = 8 << 20
)

type OpenAIConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string

	// Client overrides the HTTP client, mainly for tests. Deadlines come
	// from request contexts, not the client.
	Client *http.Client
}

// OpenAI is the external variant: an OpenAI-compatible chat completions
// endpoint reached over plain HTTP with a bearer credential from the
// environment.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultAPIKeyEnv
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &OpenAI{cfg: cfg, client: client}
}

func (o *OpenAI) Name() string { return "openai" }

// Respond sends the whole conversation and returns the first choice's text.
// An unrecognized response shape degrades to the stringified raw body so the
// session stays usable.
func (o *OpenAI) Respond(ctx context.Context, turns []chat.Turn) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()

	resp, err := o.post(rctx, turns, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", o.wrapTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ExternalServiceError{
			Provider:   o.Name(),
			Reason:     ReasonBadStatus,
			StatusCode: resp.StatusCode,
			Message:    "chat.completions failed: " + truncateForError(raw),
		}
	}

	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return string(raw), nil
	}
	if text, ok := firstChoiceMessage(body); ok {
		return strings.TrimSpace(text), nil
	}
	return string(raw), nil
}

// Stream consumes the completions SSE feed and yields each content delta as
// it arrives, terminating on the [DONE] sentinel. Mid-stream failure yields
// one descriptive error chunk and ends the stream.
func (o *OpenAI) Stream(ctx context.Context, turns []chat.Turn) (*Stream, error) {
	rctx, cancel := context.WithTimeout(ctx, streamTimeout)

	resp, err := o.post(rctx, turns, true)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		cancel()
		return nil, &ExternalServiceError{
			Provider:   o.Name(),
			Reason:     ReasonBadStatus,
			StatusCode: resp.StatusCode,
			Message:    "chat.completions failed: " + truncateForError(raw),
		}
	}

	s := NewChanStream(cancel)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer s.CloseSend()

		err := ParseSSE(rctx, resp.Body, func(ev SSEEvent) error {
			payload := strings.TrimSpace(string(ev.Data))
			if payload == "" {
				return nil
			}
			if payload == "[DONE]" {
				return errStreamDone
			}
			var chunk map[string]any
			dec := json.NewDecoder(strings.NewReader(payload))
			dec.UseNumber()
			if err := dec.Decode(&chunk); err != nil {
				// Skip undecodable events rather than killing the stream.
				return nil
			}
			if delta, ok := firstChoiceDelta(chunk); ok && delta != "" {
				if !s.Send(delta) {
					return context.Canceled
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStreamDone) && !errors.Is(err, context.Canceled) {
			s.Send(fmt.Sprintf("(assistant error) %v", o.wrapTransportError(err)))
		}
	}()
	return s, nil
}

var errStreamDone = errors.New("stream done")

func (o *OpenAI) post(ctx context.Context, turns []chat.Turn, stream bool) (*http.Response, error) {
	apiKey := os.Getenv(o.cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, &ExternalServiceError{
			Provider: o.Name(),
			Reason:   ReasonNoCredential,
			Message:  o.cfg.APIKeyEnv + " not set",
		}
	}

	body := map[string]any{
		"model":       o.cfg.Model,
		"messages":    toWireMessages(turns),
		"temperature": 0.2,
		"max_tokens":  512,
	}
	if stream {
		body["stream"] = true
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, o.wrapTransportError(err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, o.wrapTransportError(err)
	}
	return resp, nil
}

func (o *OpenAI) wrapTransportError(err error) error {
	reason := ReasonNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	return &ExternalServiceError{Provider: o.Name(), Reason: reason, Message: err.Error()}
}

// toWireMessages maps turns to {role, content} pairs, oldest first. The
// in-progress placeholder rides along with empty content, matching what the
// engine has appended when it invokes the responder.
func toWireMessages(turns []chat.Turn) []map[string]string {
	out := make([]map[string]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, map[string]string{
			"role":    string(t.Role),
			"content": t.Content,
		})
	}
	return out
}

func firstChoiceMessage(body map[string]any) (string, bool) {
	choice, ok := firstChoice(body)
	if !ok {
		return "", false
	}
	msg, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := msg["content"].(string)
	return text, ok
}

func firstChoiceDelta(body map[string]any) (string, bool) {
	choice, ok := firstChoice(body)
	if !ok {
		return "", false
	}
	delta, ok := choice["delta"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := delta["content"].(string)
	return text, ok
}

func firstChoice(body map[string]any) (map[string]any, bool) {
	choices, ok := body["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	choice, ok := choices[0].(map[string]any)
	return choice, ok
}

func truncateForError(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}
