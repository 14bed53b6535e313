// Package tasks is the REST client for the task backend, with a mock-data
// substitute for running the demo without one. Consumers see fetch / create /
// update / delete calls returning success/message tuples; connection trouble
// degrades to friendly messages, never panics.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const connectFailMsg = "Cannot connect to server. Please check if backend is running."

type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	CreatedAt   string `json:"created_at"`
}

type Statistics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	UseMock bool
}

type Client struct {
	cfg    Config
	client *http.Client
	mock   *mockBackend
}

func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{cfg: cfg, client: &http.Client{Timeout: 0}}
	if cfg.UseMock {
		c.mock = newMockBackend()
	}
	return c
}

// List returns the user's tasks. limit <= 0 means all. Failures degrade to
// an empty list with a message.
func (c *Client) List(ctx context.Context, limit int) ([]Task, string) {
	if c.mock != nil {
		return c.mock.list(limit), ""
	}

	url := c.cfg.BaseURL + "/tasks"
	if limit > 0 {
		url += "?limit=" + strconv.Itoa(limit)
	}
	body, msg := c.do(ctx, http.MethodGet, url, nil)
	if msg != "" {
		return nil, msg
	}
	var payload struct {
		Tasks []Task `json:"tasks"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Sprintf("Error fetching tasks: %v", err)
	}
	return payload.Tasks, ""
}

// Create adds a task and reports (success, message).
func (c *Client) Create(ctx context.Context, title, description, status, priority string) (bool, string) {
	if status == "" {
		status = "pending"
	}
	if priority == "" {
		priority = "medium"
	}
	if c.mock != nil {
		c.mock.create(title, description, status, priority)
		return true, "Task created successfully!"
	}

	payload, _ := json.Marshal(map[string]string{
		"title":       title,
		"description": description,
		"status":      status,
		"priority":    priority,
	})
	_, msg := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/tasks", payload)
	if msg != "" {
		return false, msg
	}
	return true, "Task created successfully!"
}

// Update modifies the named fields of a task and reports (success, message).
func (c *Client) Update(ctx context.Context, id string, fields map[string]string) (bool, string) {
	if c.mock != nil {
		if c.mock.update(id, fields) {
			return true, "Task updated successfully!"
		}
		return false, "Task not found"
	}

	payload, _ := json.Marshal(fields)
	_, msg := c.do(ctx, http.MethodPut, c.cfg.BaseURL+"/tasks/"+id, payload)
	if msg != "" {
		return false, msg
	}
	return true, "Task updated successfully!"
}

// Delete removes a task and reports (success, message).
func (c *Client) Delete(ctx context.Context, id string) (bool, string) {
	if c.mock != nil {
		if c.mock.delete(id) {
			return true, "Task deleted successfully!"
		}
		return false, "Task not found"
	}

	_, msg := c.do(ctx, http.MethodDelete, c.cfg.BaseURL+"/tasks/"+id, nil)
	if msg != "" {
		return false, msg
	}
	return true, "Task deleted successfully!"
}

// Statistics summarizes task counts by status, computed locally from List
// when the backend does not serve a stats endpoint.
func (c *Client) Statistics(ctx context.Context) (Statistics, string) {
	tasks, msg := c.List(ctx, 0)
	if msg != "" {
		return Statistics{}, msg
	}
	stats := Statistics{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case "pending":
			stats.Pending++
		case "in_progress":
			stats.InProgress++
		case "completed":
			stats.Completed++
		}
	}
	return stats, ""
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, string) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(rctx, method, url, body)
	if err != nil {
		return nil, fmt.Sprintf("Error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, connectFailMsg
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Sprintf("Error: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
			return nil, envelope.Message
		}
		return nil, fmt.Sprintf("Request failed with status %d", resp.StatusCode)
	}
	return raw, ""
}
