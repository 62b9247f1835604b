// Package console owns the mutable state of one interactive code session:
// the code buffer, cursor, output log, last extracted error, and the
// single-slot channel for structured edit actions proposed by an assistant.
package console

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joescharf/pyconsole/internal/traceback"
)

// DefaultGreeting is the buffer a fresh session starts with.
const DefaultGreeting = `# Interactive console. Edit this script and run it on the connected session.
# The device handle is available as 'd'.
print("hello from the console")
`

// Cursor is a zero-based caret position in the code buffer.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Session holds the state of one interactive console. All methods are safe
// for concurrent use; the pending-action slot in particular may be written
// by an HTTP handler while an MCP handler consumes it.
type Session struct {
	mu sync.Mutex

	code        string
	cursor      Cursor
	outputLines []string
	fullOutput  strings.Builder
	lastError   *traceback.StructuredError
	lastRaw     string
	running     bool
	panelOpen   bool

	pending       *EditAction
	lastAppliedID string
}

// NewSession creates a session seeded with the default greeting buffer.
func NewSession() *Session {
	return &Session{code: DefaultGreeting}
}

// Code returns the current buffer content.
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// SetCode unconditionally replaces the buffer content.
func (s *Session) SetCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
}

// Cursor returns the last reported caret position.
func (s *Session) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// SetCursor records the caret position.
func (s *Session) SetCursor(c Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = c
}

// OutputLines returns a copy of the accumulated output lines.
func (s *Session) OutputLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.outputLines))
	copy(out, s.outputLines)
	return out
}

// FullOutputText returns the concatenation of all raw output ever appended.
func (s *Session) FullOutputText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullOutput.String()
}

// AppendOutput appends a chunk of execution output. The chunk is split into
// lines (empty fragments dropped) for the line log, recorded verbatim in the
// full-output text, and scanned for a traceback. A successful extraction
// replaces the previous structured error; a miss leaves prior error state
// untouched, since output without a traceback does not mean the earlier
// error was resolved.
func (s *Session) AppendOutput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if line != "" {
			s.outputLines = append(s.outputLines, line)
		}
	}

	if text != "" {
		if s.fullOutput.Len() > 0 {
			s.fullOutput.WriteString("\n")
		}
		s.fullOutput.WriteString(text)
	}

	if extracted := traceback.Extract(text); extracted != nil {
		s.lastError = extracted
		s.lastRaw = extracted.RawText
	}
}

// ClearOutput empties the output log and forgets any recorded error.
func (s *Session) ClearOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputLines = nil
	s.fullOutput.Reset()
	s.lastError = nil
	s.lastRaw = ""
}

// LastStructuredError returns the most recent extracted error, or nil.
func (s *Session) LastStructuredError() *traceback.StructuredError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// LastRawError returns the most recent raw error text, parsed or not.
func (s *Session) LastRawError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRaw
}

// SetLastError records error text delivered out-of-band (for example the
// execution_error field of a run response) and attempts extraction on it.
func (s *Session) SetLastError(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRaw = text
	if extracted := traceback.Extract(text); extracted != nil {
		s.lastError = extracted
	}
}

// IsRunning reports whether an execution is in flight.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetRunning sets the in-flight execution flag.
func (s *Session) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// IsPanelOpen reports the UI-facing panel visibility flag.
func (s *Session) IsPanelOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panelOpen
}

// Open marks the console panel visible.
func (s *Session) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelOpen = true
}

// Close marks the console panel hidden.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelOpen = false
}

// TogglePanel flips the panel visibility flag.
func (s *Session) TogglePanel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelOpen = !s.panelOpen
}

// DispatchEdit stamps a fresh dispatch id on the action and stores it as the
// pending action, unconditionally overwriting any prior pending action. The
// slot is single-entry and last-writer-wins: producers must assume at most
// one proposal in flight.
func (s *Session) DispatchEdit(action EditAction) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	action.DispatchID = newDispatchID()
	s.pending = &action
	return action.DispatchID
}

// PendingAction returns the pending edit action without consuming it, or nil.
func (s *Session) PendingAction() *EditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	a := *s.pending
	return &a
}

// ConsumePendingAction returns the pending action and clears the slot. Only
// the consumer clears the slot; producers never do.
func (s *Session) ConsumePendingAction() *EditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.pending
	s.pending = nil
	return a
}

// ApplyEdit validates and applies an edit action to the code buffer.
// Application is idempotent per dispatch id: re-applying the most recently
// applied action is a no-op. An invalid action is rejected with a
// descriptive error and leaves the buffer unmodified.
func (s *Session) ApplyEdit(action EditAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if action.DispatchID != "" && action.DispatchID == s.lastAppliedID {
		return nil
	}

	updated, err := applyAction(s.code, action)
	if err != nil {
		return fmt.Errorf("apply %s: %w", action.Type, err)
	}

	s.code = updated
	if action.DispatchID != "" {
		s.lastAppliedID = action.DispatchID
	}
	return nil
}

// Reset restores the session to its initial state: greeting buffer, empty
// output, no recorded error, no pending action.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = DefaultGreeting
	s.cursor = Cursor{}
	s.outputLines = nil
	s.fullOutput.Reset()
	s.lastError = nil
	s.lastRaw = ""
	s.running = false
	s.panelOpen = false
	s.pending = nil
	s.lastAppliedID = ""
}

// Snapshot is a read-only view of session state for serialization.
type Snapshot struct {
	Code            string                     `json:"code"`
	Cursor          Cursor                     `json:"cursor"`
	OutputLines     []string                   `json:"output_lines"`
	FullOutputText  string                     `json:"full_output_text"`
	StructuredError *traceback.StructuredError `json:"structured_error,omitempty"`
	LastRawError    string                     `json:"last_raw_error,omitempty"`
	IsRunning       bool                       `json:"is_running"`
	IsPanelOpen     bool                       `json:"is_panel_open"`
	PendingAction   *EditAction                `json:"pending_action,omitempty"`
}

// Snapshot captures the current session state in one locked read.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, len(s.outputLines))
	copy(lines, s.outputLines)

	var pending *EditAction
	if s.pending != nil {
		a := *s.pending
		pending = &a
	}

	return Snapshot{
		Code:            s.code,
		Cursor:          s.cursor,
		OutputLines:     lines,
		FullOutputText:  s.fullOutput.String(),
		StructuredError: s.lastError,
		LastRawError:    s.lastRaw,
		IsRunning:       s.running,
		IsPanelOpen:     s.panelOpen,
		PendingAction:   pending,
	}
}
