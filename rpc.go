package sentry_client

import (
	"context"

	"go.uber.org/zap"
)

// MessageRequest is the RPC payload of CaptureMessage
type MessageRequest struct {
	Message  string         `json:"message"`
	Level    string         `json:"level"`
	Path     string         `json:"path"`
	Params   []any          `json:"params,omitempty"`
	UserInfo map[string]any `json:"user_info,omitempty"`
	Detached bool           `json:"detached"`
}

// ExceptionRequest is the RPC payload of CaptureException
type ExceptionRequest struct {
	Exception                CapturedException `json:"exception"`
	Level                    string            `json:"level"`
	Path                     string            `json:"path"`
	OneLineStackTrace        bool              `json:"one_line_stack_trace"`
	ShowRawStackTrace        bool              `json:"show_raw_stack_trace"`
	StripTabsInRawStackTrace bool              `json:"strip_tabs"`
	AdditionalData           map[string]any    `json:"additional_data,omitempty"`
	UserInfo                 map[string]any    `json:"user_info,omitempty"`
	Detached                 bool              `json:"detached"`
}

// CaptureResponse is returned for both RPC methods
type CaptureResponse struct {
	EventID string           `json:"event_id"`
	Outcome *DeliveryOutcome `json:"outcome,omitempty"`
}

// RPC provides RPC methods for worker communication
type RPC struct {
	reporter Reporter
	logger   *zap.Logger
}

// NewRPC creates a new RPC instance
func NewRPC(reporter Reporter, logger *zap.Logger) *RPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPC{
		reporter: reporter,
		logger:   logger,
	}
}

// CaptureMessage reports a message received over RPC
func (r *RPC) CaptureMessage(req *MessageRequest, resp *CaptureResponse) error {
	level, err := rpcLevel(req.Level, SeverityInfo)
	if err != nil {
		return err
	}

	r.logger.Debug("Received message via RPC",
		zap.String("level", string(level)),
		zap.Bool("detached", req.Detached))

	result, err := r.reporter.CaptureMessage(context.Background(), req.Message, MessageOptions{
		Level:    level,
		Path:     req.Path,
		Params:   req.Params,
		UserInfo: req.UserInfo,
		Detached: req.Detached,
	})
	if err != nil {
		return err
	}

	*resp = CaptureResponse{EventID: result.EventID, Outcome: result.Outcome}
	return nil
}

// CaptureException reports an exception received over RPC
func (r *RPC) CaptureException(req *ExceptionRequest, resp *CaptureResponse) error {
	level, err := rpcLevel(req.Level, SeverityError)
	if err != nil {
		return err
	}

	r.logger.Debug("Received exception via RPC",
		zap.String("level", string(level)),
		zap.String("type", req.Exception.Type),
		zap.Int("frames", len(req.Exception.StackFrames)))

	result, err := r.reporter.CaptureException(context.Background(), req.Exception, ExceptionCaptureOptions{
		Level:                    level,
		Path:                     req.Path,
		OneLineStackTrace:        req.OneLineStackTrace,
		ShowRawStackTrace:        req.ShowRawStackTrace,
		StripTabsInRawStackTrace: req.StripTabsInRawStackTrace,
		AdditionalData:           req.AdditionalData,
		UserInfo:                 req.UserInfo,
		Detached:                 req.Detached,
	})
	if err != nil {
		return err
	}

	*resp = CaptureResponse{EventID: result.EventID, Outcome: result.Outcome}
	return nil
}

func rpcLevel(level string, fallback Severity) (Severity, error) {
	if level == "" {
		return fallback, nil
	}
	return ParseSeverity(level)
}
