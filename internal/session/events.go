package session

import (
	"time"

	"github.com/raphaelgruber/sqlchat-go/internal/channel"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// Event is an input to Reduce.
type Event interface {
	isEvent()
}

// UserSubmitted appends the optimistic user message and clears the input.
type UserSubmitted struct {
	Message models.Message
}

// InputChanged replaces the draft input.
type InputChanged struct {
	Text string
}

// QueryCompleted carries the assistant's answer to a query issued in Epoch.
// ConversationID is the server-assigned conversation of the answer.
type QueryCompleted struct {
	Epoch          uint64
	ConversationID string
	Title          string
	Message        models.Message
}

// QueryFailed carries the synthesized error message for a query issued in
// Epoch.
type QueryFailed struct {
	Epoch   uint64
	Message models.Message
}

// ConversationSelected switches to another conversation. An empty ID starts
// a new one.
type ConversationSelected struct {
	ID string
}

// ConversationLoaded replaces the message list of the conversation selected
// in Epoch.
type ConversationLoaded struct {
	Epoch    uint64
	ID       string
	Messages []models.Message
}

// ConversationLoadFailed ends the loading of the conversation selected in
// Epoch without changing its messages.
type ConversationLoadFailed struct {
	Epoch uint64
	ID    string
}

// ConversationsLoaded replaces the conversation list of a project.
type ConversationsLoaded struct {
	ProjectID     string
	Conversations []models.Conversation
}

// ConversationDeleted removes a conversation from the list.
type ConversationDeleted struct {
	ID string
}

// MessageAnnotated attaches chart and suggestion data to a message.
type MessageAnnotated struct {
	MessageID  string
	Annotation models.Annotation
}

// POStatusUpdated sets the status of a purchase order wherever it is listed,
// and in lists loaded later. At orders it against other pushes and against
// the UpdatedAt of polled records.
type POStatusUpdated struct {
	PONumber string
	Status   string
	At       time.Time
}

// POsLoaded replaces a purchase order list of a project. Today selects the
// list of today's orders; otherwise Date names the selected date.
type POsLoaded struct {
	ProjectID string
	Today     bool
	Date      string
	POs       []models.PurchaseOrder
	Summary   models.POSummary
}

// EmbeddingStatusUpdated reports embedding progress of a project.
type EmbeddingStatusUpdated struct {
	ProjectID  string
	Status     models.EmbeddingStatus
	Processing bool
}

// ProjectsLoaded replaces the project list.
type ProjectsLoaded struct {
	Projects []models.Project
}

// ProjectSelected switches to another project. An empty ID clears the
// selection.
type ProjectSelected struct {
	ID string
}

// ProjectDeleted removes a project.
type ProjectDeleted struct {
	ID string
}

// DocumentCountsUpdated refreshes the documents of a project.
type DocumentCountsUpdated struct {
	ProjectID string
	Counts    models.DocumentCounts
	Documents []models.Document
}

// ConnectionChanged reports a WebSocket state transition.
type ConnectionChanged struct {
	State channel.State
}

// WorkflowNotice records a workflow notification.
type WorkflowNotice struct {
	Notice Notice
}

func (UserSubmitted) isEvent()          {}
func (InputChanged) isEvent()           {}
func (QueryCompleted) isEvent()         {}
func (QueryFailed) isEvent()            {}
func (ConversationSelected) isEvent()   {}
func (ConversationLoaded) isEvent()     {}
func (ConversationLoadFailed) isEvent() {}
func (ConversationsLoaded) isEvent()    {}
func (ConversationDeleted) isEvent()    {}
func (MessageAnnotated) isEvent()       {}
func (POStatusUpdated) isEvent()        {}
func (POsLoaded) isEvent()              {}
func (EmbeddingStatusUpdated) isEvent() {}
func (ProjectsLoaded) isEvent()         {}
func (ProjectSelected) isEvent()        {}
func (ProjectDeleted) isEvent()         {}
func (DocumentCountsUpdated) isEvent()  {}
func (ConnectionChanged) isEvent()      {}
func (WorkflowNotice) isEvent()         {}

// noticeAt is a convenience for building notices with a timestamp.
func noticeAt(at time.Time, kind models.EventType, workflowID, text string, isErr bool) Notice {
	return Notice{WorkflowID: workflowID, Kind: kind, Text: text, IsError: isErr, At: at}
}
