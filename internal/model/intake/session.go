package intake

import "time"

// State names the position of a conversation in the intake flow.
type State string

const (
	StateIdle                         State = "idle"
	StateAwaitingIdentificationChoice State = "awaiting_identification_choice"
	StateAwaitingReport               State = "awaiting_report"
	StateDone                         State = "done"
)

// Stage is the tagged per-state payload of a session. Only the variants below implement it.
type Stage interface {
	State() State
	stage()
}

// AwaitingChoice waits for the user to pick anonymous (1) or identified (2).
type AwaitingChoice struct{}

func (AwaitingChoice) State() State { return StateAwaitingIdentificationChoice }
func (AwaitingChoice) stage()       {}

// AwaitingReport carries the identification preference, fixed when the stage is entered.
type AwaitingReport struct {
	Anonymous bool
}

func (AwaitingReport) State() State { return StateAwaitingReport }
func (AwaitingReport) stage()       {}

// Session captures one user's progress from /start until completion or cancellation.
type Session struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         Sender    `json:"sender"`
	Stage          Stage     `json:"-"`
	StartedAt      time.Time `json:"startedAt"`
}

// State returns the state of the current stage.
func (s Session) State() State {
	if s.Stage == nil {
		return StateIdle
	}
	return s.Stage.State()
}

// Anonymous returns the identification preference once it has been chosen.
func (s Session) Anonymous() (anonymous bool, chosen bool) {
	report, ok := s.Stage.(AwaitingReport)
	if !ok {
		return false, false
	}
	return report.Anonymous, true
}
