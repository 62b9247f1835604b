package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/pyconsole/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client drive the console natively: run code, read
output and context, propose buffer edits, and browse run history.
Configure in Claude Code with:

  {
    "mcpServers": {
      "pyconsole": { "command": "pyconsole", "args": ["mcp"] }
    }
  }

Available tools: console_run_code, console_get_context,
console_read_output, console_propose_edit, console_reset, console_history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			ui.Warning("history disabled: %v", err)
			s = nil
		}
		srv := mcp.NewServer(session, getExecutor(), s)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
