// Package config loads the taskdeck YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type RetentionConfig struct {
	MaxAgeHours int      `json:"max_age_hours,omitempty" yaml:"max_age_hours,omitempty"`
	KeepGlobs   []string `json:"keep_globs,omitempty" yaml:"keep_globs,omitempty"`
}

type HistoryConfig struct {
	Dir       string          `json:"dir" yaml:"dir"`
	Retention RetentionConfig `json:"retention,omitempty" yaml:"retention,omitempty"`
}

type AssistantConfig struct {
	UseExternal    bool   `json:"use_external" yaml:"use_external"`
	Model          string `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv      string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	DefaultSession string `json:"default_session,omitempty" yaml:"default_session,omitempty"`
}

type TasksConfig struct {
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	UseMock   bool   `json:"use_mock" yaml:"use_mock"`
}

type File struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Assistant AssistantConfig `json:"assistant" yaml:"assistant"`
	Tasks     TasksConfig     `json:"tasks" yaml:"tasks"`
}

func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	f.applyDefaults()
	return &f, nil
}

// Default returns the configuration used when no file is given.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

func (f *File) applyDefaults() {
	if f.Server.Addr == "" {
		f.Server.Addr = "127.0.0.1:8321"
	}
	if f.History.Dir == "" {
		f.History.Dir = "data"
	}
	if f.Assistant.Model == "" {
		f.Assistant.Model = "gpt-4o-mini"
	}
	if f.Assistant.BaseURL == "" {
		f.Assistant.BaseURL = "https://api.openai.com/v1"
	}
	if f.Assistant.APIKeyEnv == "" {
		f.Assistant.APIKeyEnv = "OPENAI_API_KEY"
	}
	if f.Assistant.DefaultSession == "" {
		f.Assistant.DefaultSession = "default"
	}
	if f.Tasks.BaseURL == "" {
		f.Tasks.BaseURL = "http://localhost:8000/api"
		// No backend configured means the mock data set serves reads.
		f.Tasks.UseMock = true
	}
	if f.Tasks.TimeoutMS <= 0 {
		f.Tasks.TimeoutMS = 10_000
	}
}
