// Package envelope implements the versioned wire format shared by every
// broadcast message. Encoding is the crawler's job; decoding belongs to the
// downstream consumers, so only the payload shapes are exported for them.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the envelope schema version stamped on every message.
const Version = "1.0"

// MessageType discriminates the payload shape of an Envelope.
type MessageType string

// Supported message types.
const (
	TypeStatus   MessageType = "status"
	TypeProgress MessageType = "progress"
	TypeResult   MessageType = "result"
)

// Task status values carried in a status payload. Exactly one "started" and
// one terminal status (done, stopped or error) are broadcast per task.
const (
	StatusStarted = "started"
	StatusDone    = "done"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// Envelope wraps a single broadcast message.
//
// DateTime is local wall-clock time formatted as RFC 3339, which carries the
// UTC offset the stream consumers expect. Timestamp is unix seconds.
type Envelope struct {
	Version     string          `json:"version"`
	MessageType MessageType     `json:"messageType"`
	TaskID      string          `json:"taskId"`
	Timestamp   int64           `json:"timestamp"`
	DateTime    string          `json:"dateTime"`
	Payload     json.RawMessage `json:"payload"`
}

// StatusPayload reports a task lifecycle transition.
type StatusPayload struct {
	Status string  `json:"status"`
	Error  *string `json:"error"`
}

// ProgressPayload is a current/total snapshot, not a monotonic counter: pages
// run concurrently, so consumers must tolerate out-of-order page numbers.
type ProgressPayload struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
}

// ResultPayload carries one extracted link.
type ResultPayload struct {
	TaskID   string   `json:"taskId"`
	Keywords []string `json:"keywords"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Source   string   `json:"source"`
	DateTime string   `json:"dateTime"`
}

// Wrap builds an Envelope around payload. The time-derived fields are
// computed at wrap time; everything else is deterministic given identical
// inputs.
func Wrap(messageType MessageType, taskID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", messageType, err)
	}
	now := time.Now()
	return Envelope{
		Version:     Version,
		MessageType: messageType,
		TaskID:      taskID,
		Timestamp:   now.Unix(),
		DateTime:    now.Format(time.RFC3339),
		Payload:     raw,
	}, nil
}

// Marshal returns the envelope's canonical JSON form.
func (e Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return body, nil
}

// Encode wraps payload and returns the canonical JSON bytes in one step.
func Encode(messageType MessageType, taskID string, payload any) ([]byte, error) {
	env, err := Wrap(messageType, taskID, payload)
	if err != nil {
		return nil, err
	}
	return env.Marshal()
}

// NewStatus builds a status payload; errText is optional.
func NewStatus(status string, errText string) StatusPayload {
	p := StatusPayload{Status: status}
	if errText != "" {
		p.Error = &errText
	}
	return p
}

// NewResult builds a result payload. keywords accepts the list form or
// either legacy string form (see NormalizeKeywords); dateTime defaults to
// now when empty.
func NewResult(taskID string, keywords any, url, title, source, dateTime string) ResultPayload {
	if dateTime == "" {
		dateTime = time.Now().Format(time.RFC3339)
	}
	return ResultPayload{
		TaskID:   taskID,
		Keywords: NormalizeKeywords(keywords),
		URL:      url,
		Title:    title,
		Source:   source,
		DateTime: dateTime,
	}
}
