package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/ucsal/oraculo-anonimo/internal/analysis/report"
	"github.com/ucsal/oraculo-anonimo/internal/config"
	"github.com/ucsal/oraculo-anonimo/internal/logger"
	"github.com/ucsal/oraculo-anonimo/internal/model/intake"
)

const module = "ai"

var (
	ErrEmptyCompletion  = errors.New("completion service returned an empty analysis")
	ErrTimeout          = errors.New("classification timed out")
	ErrProviderUnknown  = errors.New("unknown completion provider")
	ErrProviderDisabled = errors.New("completion provider credentials missing")
)

// Service is the classification gateway: one prompt, one completion call per report.
type Service struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	timeout time.Duration
	log     logger.Logger
}

// NewService compiles the classification chain around the given chat model.
// A zero timeout leaves the call bounded only by ctx.
func NewService(ctx context.Context, chatModel model.BaseChatModel, timeout time.Duration, log logger.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage(classifierUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile classification chain: %w", err)
	}

	return &Service{
		chain:   runnable,
		timeout: timeout,
		log:     log,
	}, nil
}

// NewServiceFromConfig picks the configured completion backend and builds the gateway on it.
func NewServiceFromConfig(ctx context.Context, cfg config.AIConfig, log logger.Logger) (*Service, error) {
	chatModel, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewService(ctx, chatModel, cfg.ClassifyTimeout, log)
}

// NewChatModel returns the chat model for cfg.Provider.
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		if !cfg.Gemini.Enabled() {
			return nil, fmt.Errorf("%w: set GEMINI_API_KEY", ErrProviderDisabled)
		}
		return NewGeminiChatModel(GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		}), nil
	case config.ProviderArk:
		if !cfg.Ark.Enabled() {
			return nil, fmt.Errorf("%w: set ARK_API_KEY + Model or an AK/SK pair", ErrProviderDisabled)
		}
		return cfg.Ark.NewChatModel(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrProviderUnknown, cfg.Provider)
	}
}

// Classify sends the report to the completion service and returns its analysis unmodified,
// together with a best-effort parse of the requested fields.
func (s *Service) Classify(ctx context.Context, req intake.ClassificationRequest) (intake.ClassificationResult, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	msg, err := s.chain.Invoke(callCtx, map[string]any{"report": req.ReportText})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return intake.ClassificationResult{}, fmt.Errorf("%w after %s: %v", ErrTimeout, s.timeout, err)
		}
		return intake.ClassificationResult{}, fmt.Errorf("failed to run classification chain: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return intake.ClassificationResult{}, ErrEmptyCompletion
	}

	analysis, parseErr := report.Parse(msg.Content)
	result := intake.ClassificationResult{
		Raw:        msg.Content,
		Analysis:   analysis,
		Structured: parseErr == nil,
	}

	s.log.Info(module, "report classified", map[string]any{
		"reportLength": len(req.ReportText),
		"answerLength": len(msg.Content),
		"structured":   result.Structured,
		"severity":     string(analysis.Severity),
		"latencyMs":    time.Since(started).Milliseconds(),
	})
	return result, nil
}
