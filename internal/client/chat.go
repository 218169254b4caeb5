package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// ChatRequest is the body of a chat query. A nil ConversationID starts a new
// conversation; the server assigns its ID.
type ChatRequest struct {
	Message        string  `json:"message"`
	ProjectID      string  `json:"project_id"`
	ConversationID *string `json:"conversation_id"`
}

// ChatResponse is the assistant's answer to a chat query.
type ChatResponse struct {
	ConversationID       string           `json:"conversation_id"`
	Intent               string           `json:"intent"`
	SQLQuery             *string          `json:"sql_query,omitempty"`
	Explanation          string           `json:"explanation"`
	TablesUsed           []string         `json:"tables_used,omitempty"`
	BusinessRulesApplied []string         `json:"business_rules_applied,omitempty"`
	ReferenceContext     []string         `json:"reference_context,omitempty"`
	QueryResult          map[string]any   `json:"query_result,omitempty"`
	FinalAnswer          string           `json:"final_answer"`
	Confidence           float64          `json:"confidence"`
	SampleData           []map[string]any `json:"sample_data,omitempty"`
	TotalRows            int              `json:"total_rows,omitempty"`
	POWorkflow           map[string]any   `json:"po_workflow,omitempty"`
	POSuggestion         map[string]any   `json:"po_suggestion,omitempty"`
	Chart                map[string]any   `json:"chart,omitempty"`
	ChartSuggestions     []map[string]any `json:"chart_suggestions,omitempty"`
	FollowupSuggestions  []string         `json:"followup_suggestions,omitempty"`
	Suggestions          []string         `json:"suggestion,omitempty"`
}

// Answer returns the text to show for the response.
func (r ChatResponse) Answer() string {
	if r.FinalAnswer != "" {
		return r.FinalAnswer
	}
	return r.Explanation
}

// ChatQuery sends a natural-language message to the SQL assistant.
func (c *Client) ChatQuery(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: no project selected", ErrValidation)
	}

	var result ChatResponse
	if err := c.Do(ctx, http.MethodPost, "/chat/query", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListConversations returns the conversations of a project.
func (c *Client) ListConversations(ctx context.Context, projectID string) ([]models.Conversation, error) {
	var result struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	path := "/chat/conversations/" + url.PathEscape(projectID)
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Conversations, nil
}

// MessageRecord is a stored chat message as returned by the server. Several
// fields may hold either a JSON object or a JSON-encoded string of one, so
// they are kept raw for the conversation loader to normalize.
type MessageRecord struct {
	ID          FlexID           `json:"id"`
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	SQLQuery    *string          `json:"sql_query,omitempty"`
	QueryResult json.RawMessage  `json:"query_result,omitempty"`
	Metadata    json.RawMessage  `json:"metadata,omitempty"`
	Intent      *string          `json:"intent,omitempty"`
	Confidence  *float64         `json:"confidence,omitempty"`
	TablesUsed  json.RawMessage  `json:"tables_used,omitempty"`
	CreatedAt   models.Timestamp `json:"created_at"`
}

// ConversationMessages returns the stored messages of a conversation, oldest first.
func (c *Client) ConversationMessages(ctx context.Context, conversationID string) ([]MessageRecord, error) {
	var result struct {
		Messages []MessageRecord `json:"messages"`
	}
	path := "/chat/conversation/" + url.PathEscape(conversationID) + "/messages"
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// DeleteConversation deletes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.Do(ctx, http.MethodDelete, "/chat/conversation/"+url.PathEscape(conversationID), nil, nil)
}

// FlexID is an identifier the server may encode as a string or a number.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *FlexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*id = FlexID(n.String())
		return nil
	}
	*id = ""
	return nil
}

// String returns the identifier as a string.
func (id FlexID) String() string {
	return string(id)
}
