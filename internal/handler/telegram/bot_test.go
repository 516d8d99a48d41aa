package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucsal/oraculo-anonimo/internal/logger"
	model "github.com/ucsal/oraculo-anonimo/internal/model/intake"
	intakeService "github.com/ucsal/oraculo-anonimo/internal/service/intake"
)

type fakeAPI struct {
	updates chan tgbotapi.Update

	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type cannedClassifier struct{}

func (cannedClassifier) Classify(_ context.Context, req model.ClassificationRequest) (model.ClassificationResult, error) {
	return model.ClassificationResult{Raw: "análise de: " + req.ReportText, Structured: true}, nil
}

type fixedClassifier struct {
	raw string
}

func (c fixedClassifier) Classify(_ context.Context, _ model.ClassificationRequest) (model.ClassificationResult, error) {
	return model.ClassificationResult{Raw: c.raw, Structured: true}, nil
}

type recordingClassifier struct {
	mu   sync.Mutex
	seen []string
}

func (c *recordingClassifier) Classify(_ context.Context, req model.ClassificationRequest) (model.ClassificationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, req.ReportText)
	return model.ClassificationResult{Raw: "ok", Structured: true}, nil
}

func (c *recordingClassifier) reports() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func textUpdate(chatID int64, messageID int, from *tgbotapi.User, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: messageID,
		From:      from,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}}
}

func TestBotRunsConversation(t *testing.T) {
	api := newFakeAPI()
	svc := intakeService.NewService(cannedClassifier{}, time.Minute, logger.NewNop())
	bot := New(api, svc, Config{PollTimeout: 1}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	user := &tgbotapi.User{ID: 99, UserName: "carla", FirstName: "Carla"}
	api.updates <- textUpdate(10, 1, user, "/start")
	api.updates <- tgbotapi.Update{} // ignored: no message
	api.updates <- textUpdate(10, 2, user, "2")
	api.updates <- textUpdate(10, 3, user, "Comentário capacitista no estágio")

	require.Eventually(t, func() bool { return len(api.messages()) == 3 }, 2*time.Second, 10*time.Millisecond)

	sent := api.messages()
	assert.Equal(t, int64(10), sent[0].ChatID)
	assert.Contains(t, sent[0].Text, "Olá Carla")
	assert.Equal(t, 1, sent[0].ReplyToMessageID)
	assert.Equal(t, tgbotapi.ForceReply{ForceReply: true, Selective: true}, sent[0].ReplyMarkup)

	assert.Nil(t, sent[1].ReplyMarkup)
	assert.Contains(t, sent[2].Text, "👤 @carla")
	assert.Contains(t, sent[2].Text, "análise de: Comentário capacitista no estágio")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop")
	}

	api.mu.Lock()
	assert.True(t, api.stopped)
	api.mu.Unlock()
}

func TestBotKeepsChatsApart(t *testing.T) {
	api := newFakeAPI()
	svc := intakeService.NewService(cannedClassifier{}, time.Minute, logger.NewNop())
	bot := New(api, svc, Config{WorkerIdle: 20 * time.Millisecond}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bot.Run(ctx) }()

	api.updates <- textUpdate(1, 1, &tgbotapi.User{ID: 1}, "/start")
	api.updates <- textUpdate(2, 1, &tgbotapi.User{ID: 2}, "1")

	require.Eventually(t, func() bool { return len(api.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)

	_, ok := svc.Session("tg:1:1")
	assert.True(t, ok)
	_, ok = svc.Session("tg:2:2")
	assert.False(t, ok)

	// Idle workers are released and recreated on demand.
	require.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return len(bot.workers) == 0
	}, 2*time.Second, 10*time.Millisecond)

	api.updates <- textUpdate(1, 2, &tgbotapi.User{ID: 1}, "1")
	require.Eventually(t, func() bool { return len(api.messages()) == 3 }, 2*time.Second, 10*time.Millisecond)
	session, ok := svc.Session("tg:1:1")
	require.True(t, ok)
	assert.Equal(t, model.StateAwaitingReport, session.State())
}

func TestToInbound(t *testing.T) {
	in := ToInbound(tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: -100123},
		From: &tgbotapi.User{ID: 5, UserName: "", FirstName: "Rui", LastName: "Lima"},
		Text: " 1 ",
	})

	assert.Equal(t, "tg:-100123:5", in.ConversationID)
	assert.Equal(t, "5", in.Sender.ID)
	assert.Equal(t, "", in.Sender.Handle)
	assert.Equal(t, "Rui Lima", in.Sender.DisplayName)
	assert.Equal(t, " 1 ", in.Text)
}

func TestBotKeepsGroupUsersApart(t *testing.T) {
	api := newFakeAPI()
	classifier := &recordingClassifier{}
	svc := intakeService.NewService(classifier, time.Minute, logger.NewNop())
	bot := New(api, svc, Config{}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bot.Run(ctx) }()

	alice := &tgbotapi.User{ID: 1, UserName: "alice"}
	bob := &tgbotapi.User{ID: 2, UserName: "bob"}

	api.updates <- textUpdate(-100, 1, alice, "/start")
	api.updates <- textUpdate(-100, 2, bob, "1")
	api.updates <- textUpdate(-100, 3, bob, "conversa paralela no grupo")

	require.Eventually(t, func() bool { return len(api.messages()) == 3 }, 2*time.Second, 10*time.Millisecond)

	session, ok := svc.Session("tg:-100:1")
	require.True(t, ok)
	assert.Equal(t, model.StateAwaitingIdentificationChoice, session.State())

	_, ok = svc.Session("tg:-100:2")
	assert.False(t, ok)
	assert.Empty(t, classifier.reports())
}

func TestBotIgnoresCommandsForOtherBots(t *testing.T) {
	api := newFakeAPI()
	svc := intakeService.NewService(cannedClassifier{}, time.Minute, logger.NewNop())
	bot := New(api, svc, Config{Username: "OraculoBot"}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bot.Run(ctx) }()

	user := &tgbotapi.User{ID: 7}
	api.updates <- textUpdate(-5, 1, user, "/start@otherbot")
	api.updates <- textUpdate(-5, 2, user, "/start@oraculobot")

	require.Eventually(t, func() bool { return len(api.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, api.messages()[0].ReplyToMessageID)

	// Nothing else arrives for the foreign command.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, api.messages(), 1)
}

func TestBotSplitsLongReplies(t *testing.T) {
	api := newFakeAPI()
	raw := strings.Repeat("Análise detalhada do relato. 🕵️\n", 400)
	svc := intakeService.NewService(fixedClassifier{raw: raw}, time.Minute, logger.NewNop())
	bot := New(api, svc, Config{}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bot.Run(ctx) }()

	user := &tgbotapi.User{ID: 3}
	api.updates <- textUpdate(4, 1, user, "/start")
	api.updates <- textUpdate(4, 2, user, "1")
	api.updates <- textUpdate(4, 3, user, "relato")

	require.Eventually(t, func() bool {
		sent := api.messages()
		return len(sent) > 3 && strings.Contains(sent[len(sent)-1].Text, "A equipe da ouvidoria")
	}, 2*time.Second, 10*time.Millisecond)

	var full strings.Builder
	for _, msg := range api.messages()[2:] {
		assert.LessOrEqual(t, utf16Len(msg.Text), MaxMessageLength)
		full.WriteString(msg.Text)
	}
	assert.Contains(t, full.String(), raw)
	assert.Contains(t, full.String(), "🕵️ Anônimo")
}

func TestBotStopsWorkersWhenUpdatesClose(t *testing.T) {
	api := newFakeAPI()
	svc := intakeService.NewService(cannedClassifier{}, time.Minute, logger.NewNop())
	bot := New(api, svc, Config{WorkerIdle: time.Hour}, logger.NewNop())

	done := make(chan error, 1)
	go func() { done <- bot.Run(context.Background()) }()

	api.updates <- textUpdate(1, 1, &tgbotapi.User{ID: 1}, "/start")
	require.Eventually(t, func() bool { return len(api.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	close(api.updates)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bot kept waiting on idle workers")
	}
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"curto"}, SplitText("curto", 10))

	chunks := SplitText("linha um\nlinha dois\nfim", 12)
	assert.Equal(t, []string{"linha um\n", "linha dois\n", "fim"}, chunks)

	// Emoji outside the BMP count as two units and are never cut in half.
	chunks = SplitText(strings.Repeat("😀", 5), 4)
	assert.Equal(t, []string{"😀😀", "😀😀", "😀"}, chunks)
	assert.Equal(t, strings.Repeat("😀", 5), strings.Join(chunks, ""))
}
