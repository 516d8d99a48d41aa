package intake

import "github.com/ucsal/oraculo-anonimo/internal/analysis/report"

// Sender identifies who wrote an inbound message.
type Sender struct {
	ID          string `json:"id"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Inbound is a single message delivered by a transport.
type Inbound struct {
	ConversationID string `json:"conversationId"`
	Sender         Sender `json:"sender"`
	Text           string `json:"text"`
}

// Reply is the one message emitted back for each inbound message.
type Reply struct {
	Text       string `json:"text"`
	State      State  `json:"state"`
	ForceReply bool   `json:"forceReply,omitempty"`
}

// ClassificationRequest is the report handed to the classification gateway.
type ClassificationRequest struct {
	ReportText string
}

// ClassificationResult is the model output for one report.
type ClassificationResult struct {
	Raw        string
	Analysis   report.Analysis
	Structured bool
}
