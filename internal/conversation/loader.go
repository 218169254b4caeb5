// Package conversation hydrates chat history from the backend.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/sqlchat-go/internal/client"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// WelcomeID is the ID of the synthesized message shown for an empty history.
const WelcomeID = "welcome"

// WelcomeText greets the user in a conversation without history.
const WelcomeText = "Hello! Ask me anything about your data and I'll write the SQL for you."

// Source is the subset of the API client the loader needs.
type Source interface {
	ConversationMessages(ctx context.Context, conversationID string) ([]client.MessageRecord, error)
	ListConversations(ctx context.Context, projectID string) ([]models.Conversation, error)
}

// metadata is the stored annotation blob of an assistant message.
type metadata struct {
	Chart               map[string]any  `json:"chart"`
	ChartSuggestions    json.RawMessage `json:"chart_suggestions"`
	FollowupSuggestions []string        `json:"followup_suggestions"`
	Suggestions         []string        `json:"suggestion"`
}

// Loader turns stored message records into Messages.
type Loader struct {
	src    Source
	logger *slog.Logger
	now    func() time.Time
}

// NewLoader creates a loader. A nil logger uses slog.Default().
func NewLoader(src Source, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{src: src, logger: logger.With("component", "conversation"), now: time.Now}
}

// LoadConversations lists the conversations of a project.
func (l *Loader) LoadConversations(ctx context.Context, projectID string) ([]models.Conversation, error) {
	convs, err := l.src.ListConversations(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// LoadMessages returns the messages of a conversation in stored order. An
// empty history yields a single welcome message.
func (l *Loader) LoadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	records, err := l.src.ConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return l.Normalize(conversationID, records), nil
}

// Normalize converts records to Messages. Fields that fail to decode are
// logged and left empty; a bad field never drops the message.
func (l *Loader) Normalize(conversationID string, records []client.MessageRecord) []models.Message {
	if len(records) == 0 {
		return []models.Message{Welcome(l.now())}
	}

	msgs := make([]models.Message, 0, len(records))
	for i, rec := range records {
		msgs = append(msgs, l.normalize(conversationID, i, rec))
	}
	return msgs
}

func (l *Loader) normalize(conversationID string, i int, rec client.MessageRecord) models.Message {
	msg := models.Message{
		ID:         rec.ID.String(),
		Sender:     senderFor(rec.Role),
		Content:    rec.Content,
		Timestamp:  rec.CreatedAt.Time,
		Confidence: rec.Confidence,
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s-%d", conversationID, i)
	}
	if rec.SQLQuery != nil {
		msg.SQLQuery = *rec.SQLQuery
	}
	if rec.Intent != nil {
		msg.Intent = *rec.Intent
	}

	if qr := DecodeJSONField[map[string]any](rec.QueryResult); qr.OK() {
		msg.QueryResult = qr.Value
	} else {
		l.fieldError(conversationID, msg.ID, "query_result", qr.Err)
	}

	md := DecodeJSONField[metadata](rec.Metadata)
	if !md.OK() {
		l.fieldError(conversationID, msg.ID, "metadata", md.Err)
		return msg
	}
	msg.Chart = md.Value.Chart
	msg.FollowupSuggestions = md.Value.FollowupSuggestions
	msg.Suggestions = md.Value.Suggestions

	if cs := DecodeJSONField[[]map[string]any](md.Value.ChartSuggestions); cs.OK() {
		msg.ChartSuggestions = cs.Value
	} else {
		l.fieldError(conversationID, msg.ID, "metadata.chart_suggestions", cs.Err)
	}
	return msg
}

func (l *Loader) fieldError(conversationID, messageID, field string, err error) {
	l.logger.Warn("ignoring undecodable message field",
		"conversation_id", conversationID, "message_id", messageID, "field", field, "error", err)
}

func senderFor(role string) models.Sender {
	if role == string(models.SenderUser) {
		return models.SenderUser
	}
	return models.SenderAI
}

// Welcome returns the greeting shown in place of an empty history.
func Welcome(now time.Time) models.Message {
	return models.Message{
		ID:        WelcomeID,
		Sender:    models.SenderAI,
		Content:   WelcomeText,
		Timestamp: now,
	}
}
