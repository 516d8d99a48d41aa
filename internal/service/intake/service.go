package intake

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/ucsal/oraculo-anonimo/internal/logger"
	model "github.com/ucsal/oraculo-anonimo/internal/model/intake"
)

const module = "intake"

const (
	CommandStart  = "start"
	CommandCancel = "cancel"

	choiceAnonymous  = "1"
	choiceIdentified = "2"
)

var ErrConversationRequired = errors.New("conversation id is required")

// Classifier turns a report into the model's analysis.
type Classifier interface {
	Classify(ctx context.Context, req model.ClassificationRequest) (model.ClassificationResult, error)
}

// Service is the intake state machine. Turns of one conversation run one at a time;
// different conversations never share state.
type Service struct {
	classifier Classifier
	sessions   *sessionStore
	log        logger.Logger
	now        func() time.Time
}

// NewService wires the state machine to its classifier. Sessions idle longer than ttl are dropped.
func NewService(classifier Classifier, ttl time.Duration, log logger.Logger) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		classifier: classifier,
		sessions:   newSessionStore(ttl),
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Session returns a snapshot of the live session of a conversation.
func (s *Service) Session(conversationID string) (model.Session, bool) {
	return s.sessions.get(conversationID)
}

// Handle interprets one inbound message against the conversation's current state and
// returns the single reply to emit. Classification failures are answered with an apology
// and leave the session waiting for the report.
func (s *Service) Handle(ctx context.Context, in model.Inbound) (model.Reply, error) {
	if strings.TrimSpace(in.ConversationID) == "" {
		return model.Reply{}, ErrConversationRequired
	}

	unlock := s.sessions.lock(in.ConversationID)
	defer unlock()

	text := strings.TrimSpace(in.Text)
	if command, ok := parseCommand(text); ok {
		return s.handleCommand(in, command), nil
	}

	session, ok := s.sessions.get(in.ConversationID)
	if !ok {
		return model.Reply{Text: msgNoSession, State: model.StateIdle}, nil
	}

	switch stage := session.Stage.(type) {
	case model.AwaitingChoice:
		return s.handleChoice(session, text), nil
	case model.AwaitingReport:
		return s.handleReport(ctx, session, stage, in), nil
	default:
		// Unreachable: only the two stages above are ever stored.
		s.sessions.delete(in.ConversationID)
		return model.Reply{Text: msgNoSession, State: model.StateIdle}, nil
	}
}

func (s *Service) handleCommand(in model.Inbound, command string) model.Reply {
	switch command {
	case CommandStart:
		session := model.Session{
			ID:             uuid.NewString(),
			ConversationID: in.ConversationID,
			Sender:         in.Sender,
			Stage:          model.AwaitingChoice{},
			StartedAt:      s.now(),
		}
		if previous, ok := s.sessions.get(in.ConversationID); ok {
			s.log.Info(module, "session restarted", map[string]any{"previous": previous.ID, "session": session.ID})
		}
		s.sessions.save(session)
		s.log.Info(module, "session started", map[string]any{"session": session.ID, "conversation": in.ConversationID})
		return model.Reply{Text: welcomeMessage(in.Sender), State: session.State(), ForceReply: true}

	case CommandCancel:
		if session, ok := s.sessions.get(in.ConversationID); ok {
			s.sessions.delete(in.ConversationID)
			s.log.Info(module, "session cancelled", map[string]any{"session": session.ID, "state": string(session.State())})
		}
		return model.Reply{Text: msgCancelled, State: model.StateIdle}

	default:
		state := model.StateIdle
		if session, ok := s.sessions.get(in.ConversationID); ok {
			state = session.State()
		}
		return model.Reply{Text: msgUnknownCommand, State: state}
	}
}

func (s *Service) handleChoice(session model.Session, text string) model.Reply {
	if text != choiceAnonymous && text != choiceIdentified {
		// Refresh the idle timer without touching the stage.
		s.sessions.save(session)
		return model.Reply{Text: msgInvalidChoice, State: session.State()}
	}

	session.Stage = model.AwaitingReport{Anonymous: text == choiceAnonymous}
	s.sessions.save(session)
	s.log.Debug(module, "identification chosen", map[string]any{"session": session.ID, "anonymous": text == choiceAnonymous})
	return model.Reply{Text: msgAskReport, State: session.State()}
}

func (s *Service) handleReport(ctx context.Context, session model.Session, stage model.AwaitingReport, in model.Inbound) model.Reply {
	result, err := s.classifier.Classify(ctx, model.ClassificationRequest{ReportText: in.Text})
	if err != nil {
		s.sessions.save(session)
		s.log.Error(module, "classification failed", map[string]any{"session": session.ID, "error": err})
		return model.Reply{Text: msgClassifyFailure, State: session.State()}
	}

	s.sessions.delete(in.ConversationID)
	s.log.Info(module, "report acknowledged", map[string]any{
		"session":    session.ID,
		"anonymous":  stage.Anonymous,
		"structured": result.Structured,
		"durationMs": s.now().Sub(session.StartedAt).Milliseconds(),
	})

	return model.Reply{
		Text:  acknowledgment(Badge(stage.Anonymous, in.Sender), result),
		State: model.StateDone,
	}
}

// parseCommand recognises "/name" and "/name@bot" and returns the lowercased name.
// The name must follow the slash directly. Which bot a suffix addresses is the
// transport's concern.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	word := text[1:]
	if end := strings.IndexFunc(word, unicode.IsSpace); end >= 0 {
		word = word[:end]
	}
	if at := strings.Index(word, "@"); at >= 0 {
		word = word[:at]
	}
	if word == "" {
		return "", false
	}
	return strings.ToLower(word), true
}
