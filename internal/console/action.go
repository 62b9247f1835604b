package console

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// EditType discriminates the kinds of structured edit actions.
type EditType string

const (
	EditReplaceBlock        EditType = "REPLACE_BLOCK"
	EditReplaceEntireScript EditType = "REPLACE_ENTIRE_SCRIPT"
)

// EditAction is a structured command describing a code-buffer mutation.
// StartLine and EndLine are 1-based and inclusive, used only for
// EditReplaceBlock. DispatchID is stamped by DispatchEdit and lets a
// consumer distinguish re-delivery of an action from a new dispatch.
type EditAction struct {
	DispatchID string   `json:"dispatch_id"`
	Type       EditType `json:"edit_type"`
	StartLine  int      `json:"start_line,omitempty"`
	EndLine    int      `json:"end_line,omitempty"`
	Code       string   `json:"code"`
}

// newDispatchID generates a unique ULID for an edit dispatch.
func newDispatchID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// applyAction returns the buffer produced by applying action to code.
// Lines outside a replaced block are preserved byte for byte.
func applyAction(code string, action EditAction) (string, error) {
	switch action.Type {
	case EditReplaceEntireScript:
		return action.Code, nil
	case EditReplaceBlock:
		return replaceBlock(code, action)
	default:
		return "", fmt.Errorf("unknown edit type %q", action.Type)
	}
}

// replaceBlock replaces lines [StartLine, EndLine] of code with the action's
// payload. EndLine may equal lineCount+1 to append after the last line.
func replaceBlock(code string, action EditAction) (string, error) {
	lines := strings.Split(code, "\n")
	count := len(lines)

	if action.StartLine < 1 || action.EndLine < 1 {
		return "", fmt.Errorf("invalid line range %d-%d: lines are 1-based", action.StartLine, action.EndLine)
	}
	if action.StartLine > action.EndLine {
		return "", fmt.Errorf("invalid line range %d-%d: start after end", action.StartLine, action.EndLine)
	}
	if action.StartLine > count+1 || action.EndLine > count+1 {
		return "", fmt.Errorf("line range %d-%d out of bounds for a %d-line buffer", action.StartLine, action.EndLine, count)
	}

	var replacement []string
	if action.Code != "" {
		replacement = strings.Split(action.Code, "\n")
	}

	head := lines[:action.StartLine-1]
	var tail []string
	if action.EndLine < count {
		tail = lines[action.EndLine:]
	}

	out := make([]string, 0, len(head)+len(replacement)+len(tail))
	out = append(out, head...)
	out = append(out, replacement...)
	out = append(out, tail...)
	return strings.Join(out, "\n"), nil
}
