package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ucsal/oraculo-anonimo/internal/logger"
	model "github.com/ucsal/oraculo-anonimo/internal/model/intake"
)

const (
	module           = "telegram"
	workerQueueSize  = 16
	defaultIdleAfter = 5 * time.Minute

	// MaxMessageLength is Telegram's text limit, counted in UTF-16 code units.
	MaxMessageLength = 4096
)

// API is the subset of *tgbotapi.BotAPI the bot relies on.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Conversations processes inbound messages; implemented by the intake service.
type Conversations interface {
	Handle(ctx context.Context, in model.Inbound) (model.Reply, error)
}

// Config tunes long polling. Username is the bot's own handle; commands addressed
// to any other bot ("/start@otherbot") are ignored.
type Config struct {
	Username    string
	PollTimeout int
	WorkerIdle  time.Duration
}

// Bot relays Telegram messages to the intake state machine. Each chat gets its own
// worker so that turns of one chat stay ordered while chats proceed in parallel.
type Bot struct {
	api           API
	conversations Conversations
	log           logger.Logger
	cfg           Config

	mu      sync.Mutex
	workers map[int64]chan tgbotapi.Message
	wg      sync.WaitGroup
}

// NewAPI connects to Telegram with the given token.
func NewAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = debug
	return api, nil
}

// New creates the bot.
func New(api API, conversations Conversations, cfg Config, log logger.Logger) *Bot {
	if cfg.WorkerIdle <= 0 {
		cfg.WorkerIdle = defaultIdleAfter
	}
	return &Bot{
		api:           api,
		conversations: conversations,
		log:           log,
		cfg:           cfg,
		workers:       make(map[int64]chan tgbotapi.Message),
	}
}

// Run polls for updates until ctx is cancelled or the update channel closes, then
// stops the chat workers and waits for them.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.log.Info(module, "polling started", map[string]any{"timeout": b.cfg.PollTimeout})

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer b.wg.Wait()
	defer stopWorkers()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info(module, "polling stopped", nil)
			return nil
		case update, ok := <-updates:
			if !ok {
				b.log.Warn(module, "update channel closed", nil)
				return nil
			}
			b.dispatch(workerCtx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return
	}
	if !b.addressedToMe(msg) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	queue, ok := b.workers[msg.Chat.ID]
	if !ok {
		queue = make(chan tgbotapi.Message, workerQueueSize)
		b.workers[msg.Chat.ID] = queue
		b.wg.Add(1)
		go b.work(ctx, msg.Chat.ID, queue)
	}

	// Never block while holding mu: an idle worker needs it to retire.
	select {
	case queue <- *msg:
	default:
		b.log.Warn(module, "chat backlog full, message dropped", map[string]any{"chat": msg.Chat.ID})
	}
}

func (b *Bot) work(ctx context.Context, chatID int64, queue chan tgbotapi.Message) {
	defer b.wg.Done()

	idle := time.NewTimer(b.cfg.WorkerIdle)
	defer idle.Stop()

	for {
		select {
		case msg := <-queue:
			b.handle(ctx, msg)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(b.cfg.WorkerIdle)
		case <-idle.C:
			b.mu.Lock()
			if len(queue) == 0 {
				delete(b.workers, chatID)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			idle.Reset(b.cfg.WorkerIdle)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg tgbotapi.Message) {
	in := ToInbound(msg)
	reply, err := b.conversations.Handle(ctx, in)
	if err != nil {
		b.log.Error(module, "turn failed", map[string]any{"conversation": in.ConversationID, "error": err})
		return
	}

	chunks := SplitText(reply.Text, MaxMessageLength)
	for i, chunk := range chunks {
		out := tgbotapi.NewMessage(msg.Chat.ID, chunk)
		// The prompt for the next answer is the last chunk.
		if reply.ForceReply && i == len(chunks)-1 {
			out.ReplyToMessageID = msg.MessageID
			out.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
		}

		if _, err := b.api.Send(out); err != nil {
			b.log.Error(module, "failed to send reply", map[string]any{
				"conversation": in.ConversationID,
				"part":         i + 1,
				"parts":        len(chunks),
				"error":        err,
			})
			return
		}
	}
}

// addressedToMe drops commands that name another bot.
func (b *Bot) addressedToMe(msg *tgbotapi.Message) bool {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return true
	}
	word := strings.Fields(text)[0]
	at := strings.Index(word, "@")
	if at < 0 {
		return true
	}
	return b.cfg.Username != "" && strings.EqualFold(word[at+1:], b.cfg.Username)
}

// SplitText cuts text into pieces of at most limit UTF-16 code units, preferring to
// break after a newline. Concatenating the pieces yields text.
func SplitText(text string, limit int) []string {
	if limit <= 0 || utf16Len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		cut, units, lastNewline := 0, 0, -1
		for i, r := range text {
			n := utf16.RuneLen(r)
			if n < 0 {
				n = 1
			}
			if units+n > limit {
				break
			}
			units += n
			cut = i + utf8.RuneLen(r)
			if r == '\n' {
				lastNewline = cut
			}
		}
		if cut == len(text) {
			chunks = append(chunks, text)
			break
		}
		if lastNewline > 0 {
			cut = lastNewline
		}
		if cut == 0 {
			_, size := utf8.DecodeRuneInString(text)
			cut = size
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

func utf16Len(text string) int {
	n := 0
	for _, r := range text {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// ToInbound maps a Telegram message onto the transport-neutral inbound message.
// The conversation is keyed by chat and sender: "tg:<chatID>:<userID>".
func ToInbound(msg tgbotapi.Message) model.Inbound {
	in := model.Inbound{Text: msg.Text}
	if msg.Chat != nil {
		in.ConversationID = "tg:" + strconv.FormatInt(msg.Chat.ID, 10)
		// A group chat hosts one session per member.
		if msg.From != nil {
			in.ConversationID += ":" + strconv.FormatInt(msg.From.ID, 10)
		}
	}
	if msg.From != nil {
		in.Sender = model.Sender{
			ID:          strconv.FormatInt(msg.From.ID, 10),
			Handle:      msg.From.UserName,
			DisplayName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		}
	}
	return in
}
