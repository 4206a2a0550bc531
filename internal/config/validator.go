package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates the decision provider name
func (v *Validator) ValidateProvider(provider string) error {
	return oneOf("agent provider", provider, []string{"anthropic", "openai"})
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateMaxIterations validates the per-run decision bound
func (v *Validator) ValidateMaxIterations(n int) error {
	if n <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", n)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// ValidateBaseURL accepts empty or absolute http(s) URLs
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base url %q: must be an absolute http(s) url", raw)
	}
	return nil
}

// ValidateSchedule validates a cron spec or descriptor
func (v *Validator) ValidateSchedule(spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("log level", level, []string{"debug", "info", "warn", "error"})
}

// ValidateExporter validates the trace exporter name
func (v *Validator) ValidateExporter(exporter string) error {
	if exporter == "" {
		return nil
	}
	return oneOf("trace exporter", exporter, []string{"none", "stdout"})
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error
	add := func(err error) {
		if err != nil {
			errors = append(errors, err)
		}
	}

	add(v.ValidatePort(cfg.Server.Port))
	if cfg.Server.RateLimit < 0 {
		add(fmt.Errorf("server.rate_limit must be >= 0"))
	}
	if cfg.Server.Burst < 0 {
		add(fmt.Errorf("server.burst must be >= 0"))
	}
	if cfg.Server.StreamIntervalMs < 0 {
		add(fmt.Errorf("server.stream_interval_ms must be >= 0"))
	}

	add(v.ValidateProvider(cfg.Agent.Provider))
	if cfg.Agent.APIKey != "" && cfg.Agent.BaseURL == "" {
		if err := v.ValidateAPIKey(cfg.Agent.APIKey, cfg.Agent.Provider); err != nil {
			add(fmt.Errorf("agent: %w", err))
		}
	}
	add(v.ValidateBaseURL(cfg.Agent.BaseURL))
	if cfg.Agent.Temperature != 0 {
		add(v.ValidateTemperature(cfg.Agent.Temperature))
	}
	if cfg.Agent.MaxTokens != 0 {
		add(v.ValidateMaxTokens(cfg.Agent.MaxTokens))
	}
	add(v.ValidateMaxIterations(cfg.Agent.MaxIterations))
	if cfg.Agent.ToolTimeoutSeconds < 0 {
		add(fmt.Errorf("agent.tool_timeout_seconds must be >= 0"))
	}

	add(v.ValidateBaseURL(cfg.Tools.Exa.BaseURL))
	if cfg.Tools.Browser.TimeoutSeconds < 0 {
		add(fmt.Errorf("tools.browser.timeout_seconds must be >= 0"))
	}

	if cfg.Buffers.TTLMinutes < 0 {
		add(fmt.Errorf("buffers.ttl_minutes must be >= 0"))
	}
	if cfg.Buffers.SweepSchedule != "" {
		add(v.ValidateSchedule(cfg.Buffers.SweepSchedule))
	}

	add(v.ValidateLogLevel(cfg.Logging.Level))
	add(v.ValidateExporter(cfg.Tracing.Exporter))
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		add(fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errors
}

func oneOf(what, value string, valid []string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %s (must be one of: %s)", what, value, strings.Join(valid, ", "))
}
