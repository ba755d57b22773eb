package sentry_client

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// contextLines is how many source lines are shown on each side of a frame
const contextLines = 2

// StackFrame is one entry of a captured stack, index 0 being the innermost frame
type StackFrame struct {
	TemplatePath string `json:"template_path"`
	Line         int    `json:"line"`
	Column       int    `json:"column"`
	FrameID      string `json:"frame_id"`
}

// FrameDescriptor is a frame as sent to Sentry
type FrameDescriptor struct {
	AbsPath     string   `json:"abs_path"`
	Filename    string   `json:"filename"`
	Line        int      `json:"lineno"`
	Function    string   `json:"function"`
	PreContext  []string `json:"pre_context,omitempty"`
	ContextLine *string  `json:"context_line,omitempty"`
	PostContext []string `json:"post_context,omitempty"`
}

// SourceReader loads the lines of a source file
type SourceReader interface {
	ReadLines(path string) ([]string, error)
}

// FileSourceReader reads sources from the local filesystem
type FileSourceReader struct{}

// ReadLines implements SourceReader
func (FileSourceReader) ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// StacktraceExtractor turns stack frames into frame descriptors with source context
type StacktraceExtractor struct {
	reader SourceReader
	logger *zap.Logger
}

// NewStacktraceExtractor creates an extractor; a nil reader reads from disk
func NewStacktraceExtractor(reader SourceReader, logger *zap.Logger) *StacktraceExtractor {
	if reader == nil {
		reader = FileSourceReader{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StacktraceExtractor{reader: reader, logger: logger}
}

// Extract builds descriptors in input order. With oneLineOnly only the
// innermost frame is kept. Unreadable sources produce frames without context.
func (se *StacktraceExtractor) Extract(frames []StackFrame, oneLineOnly bool) []FrameDescriptor {
	if len(frames) == 0 {
		return nil
	}
	if oneLineOnly {
		frames = frames[:1]
	}

	out := make([]FrameDescriptor, 0, len(frames))
	var (
		loadedPath string
		lines      []string
	)

	for i, frame := range frames {
		if i == 0 || frame.TemplatePath != loadedPath {
			loadedPath = frame.TemplatePath
			var err error
			lines, err = se.reader.ReadLines(frame.TemplatePath)
			if err != nil {
				se.logger.Debug("Source not readable, frame sent without context",
					zap.String("path", frame.TemplatePath),
					zap.Error(err))
				lines = nil
			}
		}

		desc := FrameDescriptor{
			AbsPath:  frame.TemplatePath,
			Filename: filepath.Base(frame.TemplatePath),
			Line:     frame.Line,
			Function: frame.FrameID,
		}
		if i == 0 {
			desc.Function = "column " + strconv.Itoa(frame.Column)
		}

		desc.PreContext, desc.ContextLine, desc.PostContext = sourceWindow(lines, frame.Line)
		out = append(out, desc)
	}

	return out
}

// sourceWindow returns the lines around a 1-indexed line, skipping anything out of bounds
func sourceWindow(lines []string, line int) (pre []string, current *string, post []string) {
	if len(lines) == 0 {
		return nil, nil, nil
	}

	for n := line - contextLines; n < line; n++ {
		if n >= 1 && n <= len(lines) {
			pre = append(pre, lines[n-1])
		}
	}
	if line >= 1 && line <= len(lines) {
		l := lines[line-1]
		current = &l
	}
	for n := line + 1; n <= line+contextLines; n++ {
		if n >= 1 && n <= len(lines) {
			post = append(post, lines[n-1])
		}
	}
	return pre, current, post
}
