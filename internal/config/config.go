package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the swarm configuration
type Config struct {
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Agent   AgentConfig   `json:"agent" mapstructure:"agent"`
	Tools   ToolsConfig   `json:"tools" mapstructure:"tools"`
	Buffers BuffersConfig `json:"buffers" mapstructure:"buffers"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	DataDir string        `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host             string  `json:"host" mapstructure:"host"`
	Port             int     `json:"port" mapstructure:"port"`
	RateLimit        float64 `json:"rate_limit" mapstructure:"rate_limit"` // start requests per second
	Burst            int     `json:"burst" mapstructure:"burst"`
	StreamIntervalMs int     `json:"stream_interval_ms" mapstructure:"stream_interval_ms"`
}

// AgentConfig holds the decision model and loop bounds
type AgentConfig struct {
	Provider           string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey             string  `json:"api_key" mapstructure:"api_key"`
	BaseURL            string  `json:"base_url,omitempty" mapstructure:"base_url"`
	Model              string  `json:"model" mapstructure:"model"`
	Temperature        float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens          int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries         int     `json:"max_retries" mapstructure:"max_retries"`
	MaxIterations      int     `json:"max_iterations" mapstructure:"max_iterations"`
	ToolTimeoutSeconds int     `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
	SystemPrompt       string  `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
}

// ToolsConfig selects the optional capability providers
type ToolsConfig struct {
	Exa     ExaConfig     `json:"exa" mapstructure:"exa"`
	Browser BrowserConfig `json:"browser" mapstructure:"browser"`
}

// ExaConfig configures the web_search provider
type ExaConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url"`
}

// BrowserConfig configures the browser_extract provider
type BrowserConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	Headless       bool   `json:"headless" mapstructure:"headless"`
	ControlURL     string `json:"control_url,omitempty" mapstructure:"control_url"`
	ChromePath     string `json:"chrome_path,omitempty" mapstructure:"chrome_path"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// BuffersConfig controls session buffer eviction
type BuffersConfig struct {
	TTLMinutes    int    `json:"ttl_minutes" mapstructure:"ttl_minutes"` // 0 disables eviction
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file,omitempty" mapstructure:"audit_file"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Exporter    string  `json:"exporter" mapstructure:"exporter"` // none, stdout
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			RateLimit:        5,
			Burst:            10,
			StreamIntervalMs: 500,
		},
		Agent: AgentConfig{
			Provider:           "anthropic",
			Model:              "claude-3-5-sonnet-20241022",
			Temperature:        0.7,
			MaxTokens:          4096,
			MaxRetries:         3,
			MaxIterations:      10,
			ToolTimeoutSeconds: 30,
		},
		Tools: ToolsConfig{
			Browser: BrowserConfig{
				Headless:       true,
				TimeoutSeconds: 30,
			},
		},
		Buffers: BuffersConfig{
			TTLMinutes:    30,
			SweepSchedule: "@every 1m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the settings serve cannot run without
func (c *Config) Validate() error {
	if c.Agent.APIKey == "" {
		return fmt.Errorf("no AI credentials configured: agent.api_key is required (or SWARM_AGENT_API_KEY)")
	}
	if c.Agent.Provider != "anthropic" && c.Agent.Provider != "openai" {
		return fmt.Errorf("invalid agent provider %s (must be: anthropic, openai)", c.Agent.Provider)
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if c.Tools.Exa.Enabled && c.Tools.Exa.APIKey == "" {
		return fmt.Errorf("exa api key is required when web search is enabled")
	}
	return nil
}

// ToolTimeout returns the per-call tool timeout
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Agent.ToolTimeoutSeconds) * time.Second
}

// StreamInterval returns the WebSocket polling interval
func (c *Config) StreamInterval() time.Duration {
	return time.Duration(c.Server.StreamIntervalMs) * time.Millisecond
}

// BufferTTL returns how long finished buffers are kept
func (c *Config) BufferTTL() time.Duration {
	return time.Duration(c.Buffers.TTLMinutes) * time.Minute
}
