// Package models defines the data structures shared by the sqlchat client.
package models

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message is a single entry in a conversation's chat history.
// Messages are append-only; only the status-derived fields (Chart,
// ChartSuggestions, FollowupSuggestions) may be attached after arrival.
type Message struct {
	ID                  string           `json:"id"`
	Sender              Sender           `json:"sender"`
	Content             string           `json:"content"`
	Timestamp           time.Time        `json:"timestamp"`
	SQLQuery            string           `json:"sql_query,omitempty"`
	QueryResult         map[string]any   `json:"query_result,omitempty"`
	Chart               map[string]any   `json:"chart,omitempty"`
	ChartSuggestions    []map[string]any `json:"chart_suggestions,omitempty"`
	FollowupSuggestions []string         `json:"followup_suggestions,omitempty"`
	Intent              string           `json:"intent,omitempty"`
	Confidence          *float64         `json:"confidence,omitempty"`
	Suggestions         []string         `json:"suggestion,omitempty"`
	IsError             bool             `json:"is_error,omitempty"`
}

// Annotation carries the fields that may be attached to a message after it
// was rendered. Nil fields leave the existing value untouched.
type Annotation struct {
	Chart               map[string]any
	ChartSuggestions    []map[string]any
	FollowupSuggestions []string
}

// Annotate returns a copy of m with the non-nil annotation fields applied.
func (m Message) Annotate(a Annotation) Message {
	if a.Chart != nil {
		m.Chart = a.Chart
	}
	if a.ChartSuggestions != nil {
		m.ChartSuggestions = a.ChartSuggestions
	}
	if a.FollowupSuggestions != nil {
		m.FollowupSuggestions = a.FollowupSuggestions
	}
	return m
}

// RowCount returns the number of rows reported by the query result, or -1 if
// the message carries no usable result.
func (m Message) RowCount() int {
	if m.QueryResult == nil {
		return -1
	}
	switch n := m.QueryResult["row_count"].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	if rows, ok := m.QueryResult["data"].([]any); ok {
		return len(rows)
	}
	return -1
}
