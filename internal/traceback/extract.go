// Package traceback turns raw console output into structured error data.
//
// Remote execution returns stderr as free-form text. A traceback may be
// interleaved with ordinary program output, truncated mid-stream, or stale
// from a previous run. Extract scans for the last traceback introducer and
// walks forward line by line until it finds a terminal "Type: message" line
// or runs into output that no longer looks like part of the traceback.
package traceback

import (
	"regexp"
	"strconv"
	"strings"
)

// StackFrame is one call-site record within a traceback.
type StackFrame struct {
	File          string `json:"file"`
	Line          int    `json:"line"`
	Function      string `json:"function,omitempty"`
	SourceSnippet string `json:"source_snippet,omitempty"`
}

// StructuredError is the parsed form of a traceback found in console output.
// Frames are ordered as they appear in the source text, outermost call first.
type StructuredError struct {
	RawText      string       `json:"raw_text"`
	ErrorType    string       `json:"error_type,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Frames       []StackFrame `json:"frames"`
	// IsComplete is true when a terminal type/message line was found.
	// False means the scan ran out of plausible traceback lines first.
	IsComplete bool `json:"is_complete"`
}

// introducers mark the start of a traceback block. Extraction anchors on the
// last occurrence of any of these so that stale errors from earlier runs in
// the same output stream are never matched.
var introducers = []string{
	"Traceback (most recent call last):",
	"Exception in thread",
	"ERROR:",
	"CRITICAL:",
}

var (
	frameRe = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+)(?:, in (.+))?\s*$`)
	// A terminal line is an unindented dotted identifier, optionally followed
	// by a colon and message, e.g. "ZeroDivisionError: division by zero" or a
	// bare "KeyboardInterrupt".
	terminalRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)(?::\s?(.*))?$`)
)

// Extract scans text for a traceback and returns its structured form, or nil
// when no plausible traceback is present. A bare introducer keyword with no
// frame lines after it is not treated as a traceback.
func Extract(text string) *StructuredError {
	start := lastIntroducer(text)
	if start < 0 {
		return nil
	}

	lines := strings.Split(text[start:], "\n")
	result := &StructuredError{}
	consumed := 1 // the introducer line

	i := 1
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			i++
			continue
		}

		if m := frameRe.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			frame := StackFrame{
				File:     m[1],
				Line:     lineNo,
				Function: strings.TrimSpace(m[3]),
			}
			consumed = i + 1
			// A following line indented by 4+ spaces that is not itself a
			// frame or terminal line is this frame's source snippet.
			if i+1 < len(lines) && isSnippet(lines[i+1]) {
				frame.SourceSnippet = strings.TrimSpace(lines[i+1])
				i++
				consumed = i + 1
			}
			result.Frames = append(result.Frames, frame)
			i++
			continue
		}

		indented := line != trimmed

		if !indented {
			if m := terminalRe.FindStringSubmatch(trimmed); m != nil {
				result.ErrorType = m[1]
				result.ErrorMessage = strings.TrimSpace(m[2])
				result.IsComplete = true
				consumed = i + 1
				break
			}
			// An unindented line with a colon followed by another unindented
			// non-blank line means unrelated program output has resumed.
			if strings.Contains(trimmed, ":") && followedByUnindented(lines, i) {
				break
			}
		}

		// Continuation text (chained-exception notices, indented detail
		// lines). Keep it as part of the traceback body.
		consumed = i + 1
		i++
	}

	if len(result.Frames) == 0 {
		return nil
	}

	result.RawText = strings.TrimSpace(strings.Join(lines[:consumed], "\n"))
	return result
}

// lastIntroducer returns the byte offset of the last introducer marker in
// text, or -1 when none is present.
func lastIntroducer(text string) int {
	best := -1
	for _, marker := range introducers {
		if idx := strings.LastIndex(text, marker); idx > best {
			best = idx
		}
	}
	return best
}

// isSnippet reports whether line is a frame's source-snippet line: indented
// by 4+ spaces, non-blank, and not itself a frame record. Terminal lines are
// never indented, so an indented bare identifier is still snippet text.
func isSnippet(line string) bool {
	if !strings.HasPrefix(line, "    ") {
		return false
	}
	if strings.TrimSpace(line) == "" {
		return false
	}
	return !frameRe.MatchString(line)
}

func followedByUnindented(lines []string, i int) bool {
	for j := i + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" {
			continue
		}
		return lines[j] == strings.TrimLeft(lines[j], " \t")
	}
	return false
}
