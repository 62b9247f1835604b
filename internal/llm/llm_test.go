package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/pyconsole/internal/console"
	"github.com/joescharf/pyconsole/internal/models"
)

func TestBuildMessages(t *testing.T) {
	t.Run("prompt only", func(t *testing.T) {
		messages := buildMessages(ChatRequest{Prompt: "why does this crash?"})

		require.Len(t, messages, 1)
		assert.Equal(t, "why does this crash?", messages[0].Content[0].OfText.Text)
	})

	t.Run("context appended after user request", func(t *testing.T) {
		messages := buildMessages(ChatRequest{
			Prompt:  "fix the error",
			Context: "## Current Code\n```python\nprint(1)\n```",
		})

		require.Len(t, messages, 1)
		text := messages[0].Content[0].OfText.Text
		assert.Contains(t, text, "## User Request\nfix the error")
		assert.Contains(t, text, "## Current Code")
	})

	t.Run("history precedes final prompt", func(t *testing.T) {
		history := []*models.ChatMessage{
			{Role: models.ChatRoleUser, Content: "hello"},
			{Role: models.ChatRoleAssistant, Content: "hi there"},
		}
		messages := buildMessages(ChatRequest{Prompt: "now fix it", History: history})

		require.Len(t, messages, 3)
		assert.Equal(t, "hello", messages[0].Content[0].OfText.Text)
		assert.Equal(t, "hi there", messages[1].Content[0].OfText.Text)
		assert.Equal(t, "now fix it", messages[2].Content[0].OfText.Text)
	})
}

func TestSystemPromptContract(t *testing.T) {
	assert.Contains(t, systemPrompt, "propose_edit")
	assert.Contains(t, systemPrompt, "REPLACE_BLOCK")
	assert.Contains(t, systemPrompt, "REPLACE_ENTIRE_SCRIPT")
	assert.Contains(t, systemPrompt, "1-based")
}

func TestParseProposal(t *testing.T) {
	t.Run("valid block replacement", func(t *testing.T) {
		text := `{"tool_name": "propose_edit", "explanation": "guard against zero", "edit_type": "REPLACE_BLOCK", "start_line": 3, "end_line": 4, "code": "if b != 0:\n    print(a / b)"}`

		proposal, ok := ParseProposal(text)
		require.True(t, ok)
		assert.Equal(t, "propose_edit", proposal.ToolName)
		assert.Equal(t, "guard against zero", proposal.Explanation)
		assert.Equal(t, "REPLACE_BLOCK", proposal.EditType)
		assert.Equal(t, 3, proposal.StartLine)
		assert.Equal(t, 4, proposal.EndLine)
	})

	t.Run("fenced JSON accepted", func(t *testing.T) {
		text := "```json\n{\"tool_name\": \"propose_edit\", \"edit_type\": \"REPLACE_ENTIRE_SCRIPT\", \"code\": \"print(1)\"}\n```"

		proposal, ok := ParseProposal(text)
		require.True(t, ok)
		assert.Equal(t, "REPLACE_ENTIRE_SCRIPT", proposal.EditType)
		assert.Equal(t, "print(1)", proposal.Code)
	})

	t.Run("prose mentioning the tool is not a proposal", func(t *testing.T) {
		_, ok := ParseProposal(`I could call propose_edit here, but first let me explain the bug.`)
		assert.False(t, ok)
	})

	t.Run("JSON with wrong tool_name rejected", func(t *testing.T) {
		_, ok := ParseProposal(`{"tool_name": "run_code", "code": "print(1)"}`)
		assert.False(t, ok)
	})

	t.Run("malformed JSON rejected", func(t *testing.T) {
		_, ok := ParseProposal(`{"tool_name": "propose_edit", "edit_type":`)
		assert.False(t, ok)
	})

	t.Run("empty reply rejected", func(t *testing.T) {
		_, ok := ParseProposal("")
		assert.False(t, ok)
	})
}

func TestProposalToAction(t *testing.T) {
	t.Run("block edit", func(t *testing.T) {
		p := &EditProposal{EditType: "REPLACE_BLOCK", StartLine: 2, EndLine: 5, Code: "pass"}

		action, err := p.ToAction()
		require.NoError(t, err)
		assert.Equal(t, console.EditReplaceBlock, action.Type)
		assert.Equal(t, 2, action.StartLine)
		assert.Equal(t, 5, action.EndLine)
		assert.Equal(t, "pass", action.Code)
		assert.Empty(t, action.DispatchID, "dispatch ID is assigned at dispatch time")
	})

	t.Run("entire script edit ignores line range", func(t *testing.T) {
		p := &EditProposal{EditType: "REPLACE_ENTIRE_SCRIPT", Code: "print('new')"}

		action, err := p.ToAction()
		require.NoError(t, err)
		assert.Equal(t, console.EditReplaceEntireScript, action.Type)
		assert.Zero(t, action.StartLine)
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		p := &EditProposal{EditType: "REPLACE_BLOCK", StartLine: 5, EndLine: 2, Code: "pass"}

		_, err := p.ToAction()
		assert.Error(t, err)
	})

	t.Run("zero start line rejected", func(t *testing.T) {
		p := &EditProposal{EditType: "REPLACE_BLOCK", StartLine: 0, EndLine: 2}

		_, err := p.ToAction()
		assert.Error(t, err)
	})

	t.Run("unknown edit type rejected", func(t *testing.T) {
		p := &EditProposal{EditType: "INSERT_LINE", Code: "pass"}

		_, err := p.ToAction()
		assert.Error(t, err)
	})
}
