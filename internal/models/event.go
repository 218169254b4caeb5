package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType discriminates push notifications received over the project
// WebSocket.
type EventType string

const (
	EventWorkflowProgress      EventType = "workflow_progress"
	EventWorkflowComplete      EventType = "workflow_complete"
	EventWorkflowError         EventType = "workflow_error"
	EventPOStatusUpdate        EventType = "po_status_update"
	EventConnectionEstablished EventType = "connection_established"
)

// ErrMalformedEvent is returned by DecodeEvent for payloads that are not a
// JSON object with a string "type" field.
var ErrMalformedEvent = errors.New("malformed event")

// Event is a push notification. Consumers switch on the concrete type.
type Event interface {
	Type() EventType
	Project() string
}

// WorkflowProgress reports a step of a running PO workflow.
type WorkflowProgress struct {
	ProjectID  string    `json:"project_id"`
	WorkflowID string    `json:"workflow_id"`
	Step       string    `json:"step"`
	Message    string    `json:"message"`
	Timestamp  Timestamp `json:"timestamp"`
}

// WorkflowComplete reports that a PO workflow finished.
type WorkflowComplete struct {
	ProjectID  string    `json:"project_id"`
	WorkflowID string    `json:"workflow_id"`
	Message    string    `json:"message"`
	Timestamp  Timestamp `json:"timestamp"`
}

// WorkflowError reports that a PO workflow failed.
type WorkflowError struct {
	ProjectID  string    `json:"project_id"`
	WorkflowID string    `json:"workflow_id"`
	Error      string    `json:"error"`
	Timestamp  Timestamp `json:"timestamp"`
}

// POStatusUpdate reports a status transition of a single purchase order.
type POStatusUpdate struct {
	ProjectID string    `json:"project_id"`
	PONumber  string    `json:"po_number"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

// ConnectionEstablished is the first message sent after a successful
// WebSocket handshake.
type ConnectionEstablished struct {
	ProjectID string `json:"project_id"`
	Message   string `json:"message"`
	UserID    int    `json:"user_id"`
}

// UnknownEvent holds a well-formed event whose type this client does not
// understand. Consumers ignore it.
type UnknownEvent struct {
	Kind      EventType
	ProjectID string
	Raw       json.RawMessage
}

func (WorkflowProgress) Type() EventType      { return EventWorkflowProgress }
func (WorkflowComplete) Type() EventType      { return EventWorkflowComplete }
func (WorkflowError) Type() EventType         { return EventWorkflowError }
func (POStatusUpdate) Type() EventType        { return EventPOStatusUpdate }
func (ConnectionEstablished) Type() EventType { return EventConnectionEstablished }
func (e UnknownEvent) Type() EventType        { return e.Kind }

func (e WorkflowProgress) Project() string      { return e.ProjectID }
func (e WorkflowComplete) Project() string      { return e.ProjectID }
func (e WorkflowError) Project() string         { return e.ProjectID }
func (e POStatusUpdate) Project() string        { return e.ProjectID }
func (e ConnectionEstablished) Project() string { return e.ProjectID }
func (e UnknownEvent) Project() string          { return e.ProjectID }

// DecodeEvent parses a raw WebSocket payload. The "type" field is inspected
// first and the payload is then decoded into the matching variant.
func DecodeEvent(data []byte) (Event, error) {
	var envelope struct {
		Type      *string `json:"type"`
		ProjectID string  `json:"project_id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if envelope.Type == nil || *envelope.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	var (
		ev  Event
		err error
	)
	switch kind := EventType(*envelope.Type); kind {
	case EventWorkflowProgress:
		ev, err = decodeAs[WorkflowProgress](data)
	case EventWorkflowComplete:
		ev, err = decodeAs[WorkflowComplete](data)
	case EventWorkflowError:
		ev, err = decodeAs[WorkflowError](data)
	case EventPOStatusUpdate:
		var u POStatusUpdate
		u, err = decodeAs[POStatusUpdate](data)
		if err == nil && u.PONumber == "" {
			err = errors.New("po_status_update without po_number")
		}
		ev = u
	case EventConnectionEstablished:
		ev, err = decodeAs[ConnectionEstablished](data)
	default:
		ev = UnknownEvent{Kind: kind, ProjectID: envelope.ProjectID, Raw: append(json.RawMessage(nil), data...)}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, *envelope.Type, err)
	}
	return ev, nil
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
