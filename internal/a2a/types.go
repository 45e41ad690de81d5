// Package a2a holds the wire types for the agent task protocol: agent card,
// message parts, tasks and the JSON-RPC envelope the transport speaks.
package a2a

import (
	"time"

	"github.com/google/uuid"
)

// TaskState enumerates the mutually-exclusive lifecycle states of a task.
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateCanceled  TaskState = "canceled"
	TaskStateFailed    TaskState = "failed"
	TaskStateUnknown   TaskState = "unknown"
)

// Terminal reports whether the state permits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	}
	return false
}

// Part kinds recognized on the wire. Anything else is dropped with a warning
// during normalization.
const (
	PartKindText = "text"
	PartKindFile = "file"
	PartKindData = "data"
)

// Part is one typed fragment of a message. Exactly one of Text, File or Data
// is populated depending on Kind.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	File *FileContent   `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// FileContent carries a file either by reference (URI) or inline (base64 bytes).
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// Message is a single conversational turn between a user and the agent.
type Message struct {
	Kind      string `json:"kind"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

// NewAgentTextMessage builds an agent-role message carrying a single text part.
func NewAgentTextMessage(text, contextID, taskID string) *Message {
	return &Message{
		Kind:      "message",
		MessageID: uuid.NewString(),
		Role:      "agent",
		Parts:     []Part{TextPart(text)},
		TaskID:    taskID,
		ContextID: contextID,
	}
}

// TaskStatus is the current state of a task plus the message that accompanied
// the transition into it.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Task is one unit of tracked work, corresponding to one inbound message.
// Metadata carries out-of-band detail such as the context's conversation log.
type Task struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewTask creates a task in the unknown state; the executor drives it from there.
func NewTask(id, contextID string) *Task {
	return &Task{
		Kind:      "task",
		ID:        id,
		ContextID: contextID,
		Status:    TaskStatus{State: TaskStateUnknown},
	}
}

// StatusUpdateEvent is streamed to the caller on every state transition.
// Final marks the last event of the stream.
type StatusUpdateEvent struct {
	Kind      string     `json:"kind"`
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

// NewStatusUpdateEvent builds a status-update event for the given task.
func NewStatusUpdateEvent(t *Task, final bool) StatusUpdateEvent {
	return StatusUpdateEvent{
		Kind:      "status-update",
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Status:    t.Status,
		Final:     final,
	}
}

// Timestamp formats t the way the protocol expects (RFC 3339, UTC).
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// MessageSendParams are the parameters of message/send and message/stream.
type MessageSendParams struct {
	Message Message `json:"message"`
}

// TaskIDParams identify a task for tasks/cancel.
type TaskIDParams struct {
	ID string `json:"id"`
}

// TaskQueryParams identify a task for tasks/get, optionally bounding the
// returned history length.
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength int    `json:"historyLength,omitempty"`
}
