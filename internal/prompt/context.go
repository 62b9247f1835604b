// Package prompt assembles bounded, formatted console context for an
// assistant: current code, cursor, recent output, and traceback analysis.
package prompt

import (
	"fmt"
	"strings"

	"github.com/joescharf/pyconsole/internal/console"
	"github.com/joescharf/pyconsole/internal/traceback"
)

// userBufferFiles are the file names under which the user's submitted buffer
// appears in traceback frames. Frames from any other file are library or
// runtime internals and are excluded from error analysis.
var userBufferFiles = map[string]bool{
	"inspector_code.py": true,
	"<string>":          true,
}

// Options bounds what goes into a built context.
type Options struct {
	// IncludeFullOutput adds the complete output text when it differs
	// materially from the recent-output window.
	IncludeFullOutput bool
	// MaxRecentOutputLines limits the recent-output window. Zero or
	// negative means all lines.
	MaxRecentOutputLines int
	IncludeTracebackAnalysis bool
	IncludeCodeContext       bool
}

// DefaultOptions returns the standard context bounds.
func DefaultOptions() Options {
	return Options{
		MaxRecentOutputLines:     20,
		IncludeTracebackAnalysis: true,
		IncludeCodeContext:       true,
	}
}

// ConsoleContext is the aggregated view of a session handed to an assistant.
type ConsoleContext struct {
	Code            string                     `json:"code,omitempty"`
	Cursor          console.Cursor             `json:"cursor"`
	IsRunning       bool                       `json:"is_running"`
	StructuredError *traceback.StructuredError `json:"structured_error,omitempty"`
	LastRawError    string                     `json:"last_raw_error,omitempty"`
	RecentOutput    []string                   `json:"recent_output"`
	FullOutput      string                     `json:"full_output,omitempty"`
}

// BuildContext aggregates session state into a ConsoleContext per opts.
func BuildContext(s *console.Session, opts Options) ConsoleContext {
	snap := s.Snapshot()

	recent := snap.OutputLines
	if n := opts.MaxRecentOutputLines; n > 0 && len(recent) > n {
		recent = recent[len(recent)-n:]
	}

	ctx := ConsoleContext{
		Cursor:       snap.Cursor,
		IsRunning:    snap.IsRunning,
		LastRawError: snap.LastRawError,
		RecentOutput: recent,
	}
	if opts.IncludeCodeContext {
		ctx.Code = snap.Code
	}
	if opts.IncludeTracebackAnalysis {
		ctx.StructuredError = snap.StructuredError
	}
	if opts.IncludeFullOutput {
		ctx.FullOutput = snap.FullOutputText
	}
	return ctx
}

// FormatForAssistant renders the context as labeled sections in a fixed
// order. Sections with no underlying data are omitted entirely.
func FormatForAssistant(ctx ConsoleContext, opts Options) string {
	var sections []string

	if opts.IncludeCodeContext {
		if ctx.Code != "" {
			sections = append(sections, fmt.Sprintf("## Current Code\n```python\n%s\n```", strings.TrimRight(ctx.Code, "\n")))
		}
		sections = append(sections, fmt.Sprintf("## Cursor Position\nline %d, column %d (zero-based)", ctx.Cursor.Line, ctx.Cursor.Column))
	}

	if ctx.IsRunning {
		sections = append(sections, "## Execution Status\nA script is currently running.")
	}

	if opts.IncludeTracebackAnalysis && ctx.StructuredError != nil {
		sections = append(sections, "## Traceback Analysis\n"+FormatErrorAnalysis(ctx.StructuredError))
	} else if ctx.LastRawError != "" {
		sections = append(sections, fmt.Sprintf("## Last Error (unparsed)\n```text\n%s\n```", ctx.LastRawError))
	}

	if len(ctx.RecentOutput) > 0 {
		sections = append(sections, fmt.Sprintf("## Recent Output\n```\n%s\n```", strings.Join(ctx.RecentOutput, "\n")))
	}

	if opts.IncludeFullOutput && ctx.FullOutput != "" && ctx.FullOutput != strings.Join(ctx.RecentOutput, "\n") {
		sections = append(sections, fmt.Sprintf("## Full Output\n```\n%s\n```", ctx.FullOutput))
	}

	return strings.Join(sections, "\n\n")
}

// FormatErrorAnalysis renders a structured error with the frames that refer
// to the user's own buffer, annotated with line numbers and snippets. User
// frames are listed first so an assistant reasons about fixable lines before
// library internals.
func FormatErrorAnalysis(err *traceback.StructuredError) string {
	var b strings.Builder

	if err.ErrorType != "" {
		b.WriteString(err.ErrorType)
		if err.ErrorMessage != "" {
			b.WriteString(": ")
			b.WriteString(err.ErrorMessage)
		}
		b.WriteString("\n")
	}
	if !err.IsComplete {
		b.WriteString("(traceback appears truncated)\n")
	}

	user := UserFrames(err)
	if len(user) == 0 {
		b.WriteString("No frames reference the submitted script; the error likely originates in library code.\n")
	} else {
		b.WriteString("Frames in the submitted script:\n")
		for _, f := range user {
			fmt.Fprintf(&b, "- line %d", f.Line)
			if f.Function != "" {
				fmt.Fprintf(&b, " in %s", f.Function)
			}
			if f.SourceSnippet != "" {
				fmt.Fprintf(&b, ": `%s`", f.SourceSnippet)
			}
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// UserFrames returns the frames of err whose file refers to the user's
// submitted buffer, in source order.
func UserFrames(err *traceback.StructuredError) []traceback.StackFrame {
	var out []traceback.StackFrame
	for _, f := range err.Frames {
		if userBufferFiles[f.File] {
			out = append(out, f)
		}
	}
	return out
}

// CompletionContext surfaces the source line at the given cursor row plus
// the last few output lines, without traceback content. It supports
// "what should I write next" style assistance.
type CompletionContext struct {
	CurrentLine  string         `json:"current_line"`
	Cursor       console.Cursor `json:"cursor"`
	RecentOutput []string       `json:"recent_output"`
}

// BuildCompletionContext builds a CompletionContext for the session's
// current cursor row.
func BuildCompletionContext(s *console.Session) CompletionContext {
	snap := s.Snapshot()

	lines := strings.Split(snap.Code, "\n")
	var current string
	if snap.Cursor.Line >= 0 && snap.Cursor.Line < len(lines) {
		current = lines[snap.Cursor.Line]
	}

	recent := snap.OutputLines
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	return CompletionContext{
		CurrentLine:  current,
		Cursor:       snap.Cursor,
		RecentOutput: recent,
	}
}
