package sentry_client

import (
	"time"
)

// EventKind tells message events from exception events
type EventKind int

const (
	EventMessage EventKind = iota
	EventException
)

func (k EventKind) String() string {
	if k == EventException {
		return "exception"
	}
	return "message"
}

// Extra keys used by the builder
const (
	ExtraRawStackTrace  = "Raw StackTrace"
	ExtraAdditionalData = "Additional Data"
	ExtraSession        = "Session"
)

// Event is the envelope sent to the store endpoint. Message and exception
// events share it; fields only set for one kind are omitted for the other.
type Event struct {
	Kind EventKind `json:"-"`

	EventID     string    `json:"event_id"`
	Timestamp   Timestamp `json:"timestamp"`
	Level       Severity  `json:"level"`
	Logger      string    `json:"logger"`
	Project     string    `json:"project"`
	ServerName  string    `json:"server_name"`
	Platform    string    `json:"platform"`
	Release     string    `json:"release"`
	Environment string    `json:"environment"`
	Transaction string    `json:"transaction"`
	Culprit     string    `json:"culprit,omitempty"`
	Message     string    `json:"message"`

	LogEntry  *LogEntry       `json:"logentry,omitempty"`
	Exception *ExceptionValue `json:"exception,omitempty"`
	Request   *HTTPRequest    `json:"request,omitempty"`
	User      map[string]any  `json:"user,omitempty"`
	Extra     map[string]any  `json:"extra,omitempty"`
	SDK       *SDKInfo        `json:"sdk,omitempty"`
}

// LogEntry carries a parameterized message
type LogEntry struct {
	Message string `json:"message"`
	Params  []any  `json:"params,omitempty"`
}

// ExceptionValue is the exception interface of an event
type ExceptionValue struct {
	Type       string      `json:"type"`
	Value      string      `json:"value"`
	Stacktrace *Stacktrace `json:"stacktrace,omitempty"`
}

// Stacktrace wraps the frame list
type Stacktrace struct {
	Frames []FrameDescriptor `json:"frames"`
}

// HTTPRequest is the request interface of an event
type HTTPRequest struct {
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	QueryString string            `json:"query_string,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// SDKInfo identifies this client to the server
type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Timestamp marshals as ISO-8601 in UTC, the format the store API expects
type Timestamp time.Time

const timestampLayout = "2006-01-02T15:04:05Z"

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(timestampLayout) + `"`), nil
}
