// Package session holds the client-side state of a chat session and the
// controller that drives it from user actions, REST responses and pushed
// events.
package session

import (
	"time"

	"github.com/raphaelgruber/sqlchat-go/internal/channel"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// maxNotices bounds the workflow notice history.
const maxNotices = 50

// Notice is a workflow notification shown to the user.
type Notice struct {
	WorkflowID string
	Kind       models.EventType
	Text       string
	IsError    bool
	At         time.Time
}

// POPush is the latest status pushed for a purchase order.
type POPush struct {
	Status string
	At     time.Time
}

// State is an immutable snapshot of the session. Reduce never modifies the
// slices or maps of a State it was given.
type State struct {
	Projects          []models.Project
	SelectedProjectID string

	Conversations  []models.Conversation
	ConversationID string // "" until the server assigns one
	// Epoch increments on every conversation or project switch. Responses
	// carry the epoch they were issued in and are dropped when it changed.
	Epoch    uint64
	Messages []models.Message
	Input    string
	Pending  bool
	// Loading is set while the history of a selected conversation is in
	// flight.
	Loading bool

	Embedding           models.EmbeddingStatus
	EmbeddingProcessing bool

	POsToday        []models.PurchaseOrder
	POsSelectedDate []models.PurchaseOrder
	POSummary       models.POSummary
	SelectedDate    string
	// POPushes holds the newest pushed status per PO number. It is applied
	// to every list loaded later so a slow poll cannot revert a push.
	POPushes map[string]POPush

	Connection channel.State
	Notices    []Notice
}

// SelectedProject returns the selected project, if any.
func (s State) SelectedProject() (models.Project, bool) {
	if s.SelectedProjectID == "" {
		return models.Project{}, false
	}
	for _, p := range s.Projects {
		if p.ID == s.SelectedProjectID {
			return p, true
		}
	}
	return models.Project{}, false
}

// LastMessage returns the newest message, if any.
func (s State) LastMessage() (models.Message, bool) {
	if len(s.Messages) == 0 {
		return models.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
