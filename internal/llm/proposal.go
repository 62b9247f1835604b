package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/pyconsole/internal/console"
)

// EditProposal is the structured propose_edit tool call an assistant reply
// may carry instead of prose.
type EditProposal struct {
	ToolName    string `json:"tool_name"`
	Explanation string `json:"explanation"`
	EditType    string `json:"edit_type"`
	StartLine   int    `json:"start_line,omitempty"`
	EndLine     int    `json:"end_line,omitempty"`
	Code        string `json:"code"`
}

// ParseProposal checks whether an assistant reply is a propose_edit tool
// call. Detection requires the whole reply to be a single JSON object whose
// tool_name is "propose_edit"; prose replies that merely mention editing
// never match. Markdown fencing around the object is tolerated.
func ParseProposal(text string) (*EditProposal, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}

	var proposal EditProposal
	if err := json.Unmarshal([]byte(text), &proposal); err != nil {
		return nil, false
	}
	if proposal.ToolName != "propose_edit" {
		return nil, false
	}
	return &proposal, true
}

// ToAction converts a proposal into a dispatchable edit action, validating
// the edit type and line range shape. The dispatch ID is assigned by the
// session at dispatch time, not here.
func (p *EditProposal) ToAction() (console.EditAction, error) {
	switch console.EditType(p.EditType) {
	case console.EditReplaceBlock:
		if p.StartLine < 1 || p.EndLine < p.StartLine {
			return console.EditAction{}, fmt.Errorf("invalid line range %d-%d for REPLACE_BLOCK", p.StartLine, p.EndLine)
		}
		return console.EditAction{
			Type:      console.EditReplaceBlock,
			StartLine: p.StartLine,
			EndLine:   p.EndLine,
			Code:      p.Code,
		}, nil
	case console.EditReplaceEntireScript:
		return console.EditAction{
			Type: console.EditReplaceEntireScript,
			Code: p.Code,
		}, nil
	default:
		return console.EditAction{}, fmt.Errorf("unknown edit_type %q", p.EditType)
	}
}
