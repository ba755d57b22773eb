package sentry_client

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxMessageLength = 1000
	truncatedLength  = 997
	ellipsis         = "..."
)

// CapturedException is the exception information handed to CaptureException
type CapturedException struct {
	Message       string       `json:"message"`
	Detail        string       `json:"detail"`
	Type          string       `json:"type"`
	StackFrames   []StackFrame `json:"stack_frames"`
	RawStackTrace string       `json:"raw_stack_trace,omitempty"`
}

// ExceptionOptions controls how an exception event is built
type ExceptionOptions struct {
	OneLineStackTrace        bool
	ShowRawStackTrace        bool
	StripTabsInRawStackTrace bool
	AdditionalData           map[string]any
}

// Envelope holds the configuration fields stamped on every event
type Envelope struct {
	Logger      string
	Project     string
	ServerName  string
	Platform    string
	Release     string
	Environment string
	SDKName     string
	SDKVersion  string
}

// DecorateOptions are the per-call envelope inputs
type DecorateOptions struct {
	EventID  string
	Path     string
	Request  RequestContext
	UserInfo map[string]any
}

// EventBuilder assembles message and exception events
type EventBuilder struct {
	envelope Envelope
	stack    *StacktraceExtractor
	now      func() time.Time
	newID    func() string
}

// NewEventBuilder creates a builder stamping envelope on every event
func NewEventBuilder(envelope Envelope, stack *StacktraceExtractor, now func() time.Time) *EventBuilder {
	if stack == nil {
		stack = NewStacktraceExtractor(nil, nil)
	}
	if now == nil {
		now = time.Now
	}
	return &EventBuilder{
		envelope: envelope,
		stack:    stack,
		now:      now,
		newID:    NewEventID,
	}
}

// NewEventID returns a lowercase UUID without separators
func NewEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TruncateMessage cuts messages over 1000 characters down to 997 plus "..."
func TruncateMessage(message string) string {
	if utf8.RuneCountInString(message) <= maxMessageLength {
		return message
	}
	runes := []rune(message)
	return string(runes[:truncatedLength]) + ellipsis
}

// BuildMessage builds an undecorated message event
func (b *EventBuilder) BuildMessage(message string, level Severity, params []any) *Event {
	message = TruncateMessage(message)

	ev := &Event{
		Kind:    EventMessage,
		Message: message,
		Level:   level,
	}
	if len(params) > 0 {
		ev.LogEntry = &LogEntry{Message: message, Params: params}
	}
	return ev
}

// BuildException builds an undecorated exception event
func (b *EventBuilder) BuildException(ex CapturedException, level Severity, opts ExceptionOptions) *Event {
	value := ex.Message + " " + ex.Detail

	ev := &Event{
		Kind:    EventException,
		Message: value,
		Level:   level,
		Culprit: ex.Message,
		Exception: &ExceptionValue{
			Type:  ex.Type + " Error",
			Value: value,
		},
	}

	if frames := b.stack.Extract(ex.StackFrames, opts.OneLineStackTrace); len(frames) > 0 {
		ev.Exception.Stacktrace = &Stacktrace{Frames: frames}
	}

	extra := map[string]any{}
	if opts.ShowRawStackTrace {
		extra[ExtraRawStackTrace] = rawTraceLines(ex.RawStackTrace, opts.StripTabsInRawStackTrace)
	}
	if len(opts.AdditionalData) > 0 {
		extra[ExtraAdditionalData] = opts.AdditionalData
	}
	if len(extra) > 0 {
		ev.Extra = extra
	}

	return ev
}

func rawTraceLines(trace string, stripTabs bool) []string {
	trace = strings.ReplaceAll(trace, "\r", "")
	if stripTabs {
		trace = strings.ReplaceAll(trace, "\t", "")
	}
	return strings.Split(trace, "\n")
}

// Decorate stamps the common envelope fields on ev
func (b *EventBuilder) Decorate(ev *Event, opts DecorateOptions) *Event {
	ev.EventID = opts.EventID
	if ev.EventID == "" {
		ev.EventID = b.newID()
	}
	ev.Timestamp = Timestamp(b.now().UTC())
	ev.Logger = b.envelope.Logger
	ev.Project = b.envelope.Project
	ev.ServerName = b.envelope.ServerName
	ev.Platform = b.envelope.Platform
	ev.Release = b.envelope.Release
	ev.Environment = b.envelope.Environment
	if b.envelope.SDKName != "" {
		ev.SDK = &SDKInfo{Name: b.envelope.SDKName, Version: b.envelope.SDKVersion}
	}

	ev.Transaction = opts.Path
	if ev.Transaction == "" {
		ev.Transaction = opts.Request.URL()
	}

	rc := opts.Request
	ev.Request = &HTTPRequest{
		URL:         ev.Transaction,
		Method:      rc.Method,
		Data:        rc.Form,
		QueryString: rc.QueryString,
		Cookies:     rc.Cookies,
		Headers:     rc.Headers,
		Env:         rc.Env,
	}

	if len(rc.Session) > 0 {
		if ev.Extra == nil {
			ev.Extra = map[string]any{}
		}
		ev.Extra[ExtraSession] = rc.Session
	}

	if len(opts.UserInfo) > 0 {
		ev.User = opts.UserInfo
	}

	return ev
}
