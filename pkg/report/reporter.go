// Package report collects errors and warnings produced while resolving and
// building projects. Messages are appended, never thrown; callers query the
// lists after an operation completes.
package report

import (
	"fmt"
	"strings"
	"sync"
)

// Level is the severity of a message
type Level int

const (
	// LevelWarning is a recoverable problem
	LevelWarning Level = iota
	// LevelError blocks a build
	LevelError
)

func (l Level) String() string {
	return [...]string{"warning", "error"}[l]
}

// Location points at the source of a message
type Location struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Header string `json:"header,omitempty"`
}

func (l Location) String() string {
	var b strings.Builder
	b.WriteString(l.File)
	if l.Line > 0 {
		fmt.Fprintf(&b, ":%d", l.Line)
	}
	if l.Header != "" {
		fmt.Fprintf(&b, " (%s)", l.Header)
	}
	return b.String()
}

// Message is a single formatted report entry
type Message struct {
	Level    Level     `json:"level"`
	Text     string    `json:"text"`
	Location *Location `json:"location,omitempty"`
}

func (m Message) String() string {
	if m.Location != nil && m.Location.File != "" {
		return fmt.Sprintf("%s: %s: %s", m.Location, m.Level, m.Text)
	}
	return fmt.Sprintf("%s: %s", m.Level, m.Text)
}

// Reporter is an append-only message channel
type Reporter struct {
	mu       sync.Mutex
	messages []Message
}

// New creates an empty reporter
func New() *Reporter {
	return &Reporter{}
}

func (r *Reporter) add(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

// Errorf records an error
func (r *Reporter) Errorf(format string, args ...interface{}) {
	r.add(Message{Level: LevelError, Text: fmt.Sprintf(format, args...)})
}

// Warnf records a warning
func (r *Reporter) Warnf(format string, args ...interface{}) {
	r.add(Message{Level: LevelWarning, Text: fmt.Sprintf(format, args...)})
}

// ErrorAt records an error with a source location
func (r *Reporter) ErrorAt(loc Location, format string, args ...interface{}) {
	r.add(Message{Level: LevelError, Text: fmt.Sprintf(format, args...), Location: &loc})
}

// WarnAt records a warning with a source location
func (r *Reporter) WarnAt(loc Location, format string, args ...interface{}) {
	r.add(Message{Level: LevelWarning, Text: fmt.Sprintf(format, args...), Location: &loc})
}

// Errors returns a snapshot of the recorded errors
func (r *Reporter) Errors() []Message {
	return r.filter(LevelError)
}

// Warnings returns a snapshot of the recorded warnings
func (r *Reporter) Warnings() []Message {
	return r.filter(LevelWarning)
}

// Messages returns every message in the order it was recorded
func (r *Reporter) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reporter) filter(level Level) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}

// IsOK reports whether no error was recorded
func (r *Reporter) IsOK() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.Level == LevelError {
			return false
		}
	}
	return true
}

// Clear drops every message
func (r *Reporter) Clear() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}

// Merge appends the messages of other, prefixing their text
func (r *Reporter) Merge(prefix string, other *Reporter) {
	if other == nil || other == r {
		return
	}
	for _, m := range other.Messages() {
		if prefix != "" {
			m.Text = prefix + ": " + m.Text
		}
		r.add(m)
	}
}
