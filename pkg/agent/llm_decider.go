package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/swarm/internal/observability"
	"github.com/harun/swarm/internal/tracing"
	"github.com/harun/swarm/pkg/capability"
	"github.com/rs/zerolog"
)

// DefaultSystemPrompt is used when none is configured
const DefaultSystemPrompt = "You are a research agent. Use the available tools to gather what you need, " +
	"then answer the user. Stop calling tools once you can answer."

const defaultRetryBase = time.Second

// LLMDeciderConfig holds LLM decider configuration
type LLMDeciderConfig struct {
	Provider  LLMProvider
	Registry  *capability.Registry
	Decision  DecisionConfig
	RetryBase time.Duration
	Logger    zerolog.Logger
}

// LLMDecider asks a language model for the next message
type LLMDecider struct {
	provider  LLMProvider
	registry  *capability.Registry
	config    DecisionConfig
	retryBase time.Duration
	logger    zerolog.Logger
}

// NewLLMDecider creates a decider backed by an LLM provider
func NewLLMDecider(cfg LLMDeciderConfig) (*LLMDecider, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Decision.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Decision.MaxRetries <= 0 {
		cfg.Decision.MaxRetries = 3
	}
	if cfg.Decision.SystemPrompt == "" {
		cfg.Decision.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}

	return &LLMDecider{
		provider:  cfg.Provider,
		registry:  cfg.Registry,
		config:    cfg.Decision,
		retryBase: cfg.RetryBase,
		logger:    cfg.Logger,
	}, nil
}

// Decide implements Decider
func (d *LLMDecider) Decide(ctx context.Context, history []Message) (Message, error) {
	request := LLMRequest{
		Model:        d.config.Model,
		Messages:     history,
		Temperature:  d.config.Temperature,
		MaxTokens:    d.config.MaxTokens,
		SystemPrompt: d.config.SystemPrompt,
	}
	if d.registry != nil {
		request.Tools = d.registry.Descriptors()
	}

	response, err := d.callWithRetry(ctx, request)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Role:      RoleAssistant,
		Content:   response.Content,
		ToolCalls: response.ToolCalls,
	}, nil
}

// callWithRetry calls the provider with exponential backoff retry
func (d *LLMDecider) callWithRetry(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("provider", d.provider.Provider()).Logger()
	var lastErr error

	for attempt := 0; attempt < d.config.MaxRetries; attempt++ {
		start := time.Now()
		response, err := d.provider.Call(ctx, request)
		observability.RecordDecision(d.provider.Provider(), time.Since(start), err == nil)
		if err == nil {
			if response.Usage != nil {
				logger.Debug().
					Int("input_tokens", response.Usage.InputTokens).
					Int("output_tokens", response.Usage.OutputTokens).
					Msg("Decision received")
			}
			return response, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == d.config.MaxRetries-1 {
			break
		}

		delay := backoff(d.retryBase, attempt)
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", d.config.MaxRetries, lastErr)
}
