package sentry_client

import (
	"strings"
)

// Severity is the level of a captured event
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityDebug   Severity = "debug"
)

// AllSeverities returns every level the ingestion API accepts, most severe first
func AllSeverities() []Severity {
	return []Severity{SeverityFatal, SeverityError, SeverityWarning, SeverityInfo, SeverityDebug}
}

// Valid reports whether s is one of the five known levels
func (s Severity) Valid() bool {
	switch s {
	case SeverityFatal, SeverityError, SeverityWarning, SeverityInfo, SeverityDebug:
		return true
	default:
		return false
	}
}

// ParseSeverity converts a string to a Severity. Matching is case-insensitive,
// unknown values are rejected rather than coerced.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", validationError("severity_parse", "unknown severity level %q", s)
	}
	return sev, nil
}

// LevelSet is an ordered set of allowed severities
type LevelSet struct {
	order   []Severity
	members map[Severity]struct{}
}

// NewLevelSet builds a set keeping first-seen order
func NewLevelSet(levels []Severity) LevelSet {
	ls := LevelSet{members: make(map[Severity]struct{}, len(levels))}
	for _, l := range levels {
		if _, ok := ls.members[l]; ok {
			continue
		}
		ls.members[l] = struct{}{}
		ls.order = append(ls.order, l)
	}
	return ls
}

// Contains reports whether level is allowed
func (ls LevelSet) Contains(level Severity) bool {
	_, ok := ls.members[level]
	return ok
}

// Levels returns a copy of the ordered members
func (ls LevelSet) Levels() []Severity {
	out := make([]Severity, len(ls.order))
	copy(out, ls.order)
	return out
}
