package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucsal/oraculo-anonimo/internal/analysis/report"
	"github.com/ucsal/oraculo-anonimo/internal/config"
	"github.com/ucsal/oraculo-anonimo/internal/logger"
	"github.com/ucsal/oraculo-anonimo/internal/model/intake"
)

type fakeChatModel struct {
	mu     sync.Mutex
	calls  int
	input  []*schema.Message
	answer string
	err    error
	delay  time.Duration
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.calls++
	f.input = input
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.answer, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

const wellFormedAnswer = `---
DADOS PARA O BANCO/EXCEL
Tipo de manifestação: Racismo
Nível de gravidade: Alta
Análise: Situação grave que merece acolhimento imediato.
---`

func newTestService(t *testing.T, fake *fakeChatModel, timeout time.Duration) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), fake, timeout, logger.NewNop())
	require.NoError(t, err)
	return svc
}

func TestClassifyEmbedsReportVerbatim(t *testing.T) {
	fake := &fakeChatModel{answer: wellFormedAnswer}
	svc := newTestService(t, fake, time.Second)

	reportText := "Foi dito algo ofensivo na sala X {nome}"
	result, err := svc.Classify(context.Background(), intake.ClassificationRequest{ReportText: reportText})
	require.NoError(t, err)

	assert.Equal(t, 1, fake.calls)
	require.Len(t, fake.input, 2)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Equal(t, schema.User, fake.input[1].Role)
	assert.Contains(t, fake.input[1].Content, `"""`+reportText+`"""`)
	assert.Contains(t, fake.input[1].Content, "Nível de gravidade: [Gravidade]")

	assert.Equal(t, wellFormedAnswer, result.Raw)
	assert.True(t, result.Structured)
	assert.Equal(t, report.SeverityHigh, result.Analysis.Severity)
	assert.Equal(t, "Racismo", result.Analysis.Manifestation)
}

func TestClassifyPassesThroughUnstructuredAnswer(t *testing.T) {
	fake := &fakeChatModel{answer: "Não consegui classificar este relato."}
	svc := newTestService(t, fake, time.Second)

	result, err := svc.Classify(context.Background(), intake.ClassificationRequest{ReportText: "relato"})
	require.NoError(t, err)
	assert.False(t, result.Structured)
	assert.Equal(t, "Não consegui classificar este relato.", result.Raw)
}

func TestClassifyEmptyAnswer(t *testing.T) {
	fake := &fakeChatModel{answer: "  \n"}
	svc := newTestService(t, fake, time.Second)

	_, err := svc.Classify(context.Background(), intake.ClassificationRequest{ReportText: "relato"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestClassifyPropagatesModelError(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("quota exceeded")}
	svc := newTestService(t, fake, time.Second)

	_, err := svc.Classify(context.Background(), intake.ClassificationRequest{ReportText: "relato"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "quota exceeded"))
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, fake.calls, "no retry")
}

func TestClassifyTimesOut(t *testing.T) {
	fake := &fakeChatModel{answer: wellFormedAnswer, delay: time.Second}
	svc := newTestService(t, fake, 20*time.Millisecond)

	_, err := svc.Classify(context.Background(), intake.ClassificationRequest{ReportText: "relato"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNewServiceRequiresModel(t *testing.T) {
	_, err := NewService(context.Background(), nil, time.Second, logger.NewNop())
	assert.Error(t, err)
}

func TestNewChatModelProviderSelection(t *testing.T) {
	ctx := context.Background()

	_, err := NewChatModel(ctx, config.AIConfig{Provider: "openai"})
	assert.ErrorIs(t, err, ErrProviderUnknown)

	_, err = NewChatModel(ctx, config.AIConfig{Provider: config.ProviderGemini})
	assert.ErrorIs(t, err, ErrProviderDisabled)

	_, err = NewChatModel(ctx, config.AIConfig{Provider: config.ProviderArk})
	assert.ErrorIs(t, err, ErrProviderDisabled)

	chatModel, err := NewChatModel(ctx, config.AIConfig{
		Provider: config.ProviderGemini,
		Gemini:   config.GeminiConfig{APIKey: "k", Model: "gemini-2.0-flash", BaseURL: "http://localhost"},
	})
	require.NoError(t, err)
	assert.IsType(t, &GeminiChatModel{}, chatModel)
}
