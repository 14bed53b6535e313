package tasks

import (
	"strconv"
	"sync"
)

// mockBackend serves the fixed demo data set so the UI works without a
// backend. Mutations apply in memory for the process lifetime.
type mockBackend struct {
	mu    sync.Mutex
	tasks []Task
}

func newMockBackend() *mockBackend {
	return &mockBackend{tasks: []Task{
		{
			ID:          "1",
			Title:       "Complete project documentation",
			Description: "Write comprehensive documentation for the task management system",
			Status:      "in_progress",
			Priority:    "high",
			CreatedAt:   "2025-12-01 10:00:00",
		},
		{
			ID:          "2",
			Title:       "Review code changes",
			Description: "Review pull requests from team members",
			Status:      "pending",
			Priority:    "medium",
			CreatedAt:   "2025-12-02 14:30:00",
		},
		{
			ID:          "3",
			Title:       "Update dependencies",
			Description: "Update packages to latest stable versions",
			Status:      "completed",
			Priority:    "low",
			CreatedAt:   "2025-11-30 09:15:00",
		},
		{
			ID:          "4",
			Title:       "Design new features",
			Description: "Create mockups for upcoming features",
			Status:      "pending",
			Priority:    "high",
			CreatedAt:   "2025-12-03 08:00:00",
		},
	}}
}

func (m *mockBackend) list(limit int) []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, len(m.tasks))
	copy(out, m.tasks)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (m *mockBackend) create(title, description, status, priority string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, Task{
		ID:          strconv.Itoa(len(m.tasks) + 1),
		Title:       title,
		Description: description,
		Status:      status,
		Priority:    priority,
	})
}

func (m *mockBackend) update(id string, fields map[string]string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID != id {
			continue
		}
		if v, ok := fields["title"]; ok {
			m.tasks[i].Title = v
		}
		if v, ok := fields["description"]; ok {
			m.tasks[i].Description = v
		}
		if v, ok := fields["status"]; ok {
			m.tasks[i].Status = v
		}
		if v, ok := fields["priority"]; ok {
			m.tasks[i].Priority = v
		}
		return true
	}
	return false
}

func (m *mockBackend) delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return true
		}
	}
	return false
}
