package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/pyconsole/internal/models"
	"github.com/joescharf/pyconsole/internal/output"
	"github.com/joescharf/pyconsole/internal/prompt"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a Python script on the connected execution session",
	Long: `Run a Python script on the remote execution session and print the result.

Reads the script from the given file, or from stdin when the file is "-"
or omitted. The run is recorded in history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd.Context(), args)
	},
}

var interruptCmd = &cobra.Command{
	Use:   "interrupt",
	Short: "Interrupt the execution currently running on the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getExecutor().Interrupt(cmd.Context()); err != nil {
			return err
		}
		ui.Success("Interrupt sent")
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("trace", false, "Enable line-level tracing on the execution service")
	_ = viper.BindPFlag("executor.enable_tracing", runCmd.Flags().Lookup("trace"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(interruptCmd)
}

func runRun(ctx context.Context, args []string) error {
	code, err := readScript(args)
	if err != nil {
		return err
	}
	session.SetCode(code)

	exec := getExecutor()
	ui.VerboseLog("executing against %s", viper.GetString("executor.base_url"))

	start := time.Now()
	resp, err := exec.Execute(ctx, session)
	duration := time.Since(start).Milliseconds()

	run := &models.Run{Code: code, DurationMs: duration}
	if err != nil {
		run.Status = models.RunStatusFailed
		recordRunBestEffort(ctx, run)
		return fmt.Errorf("execution service: %w", err)
	}

	run.Stdout = resp.Stdout
	run.Stderr = resp.Stderr
	run.ExecutionError = resp.ExecutionError
	run.Status = models.RunStatusOK
	if resp.Result != nil {
		run.Result = fmt.Sprintf("%v", resp.Result)
	}

	if resp.Stdout != "" {
		fmt.Fprint(ui.Out, resp.Stdout)
	}
	if resp.Stderr != "" {
		fmt.Fprint(ui.ErrOut, output.Yellow(resp.Stderr))
	}
	if run.Result != "" {
		fmt.Fprintln(ui.Out, output.Cyan(run.Result))
	}

	if resp.ExecutionError != "" {
		run.Status = models.RunStatusError
		fmt.Fprint(ui.ErrOut, output.Red(resp.ExecutionError))

		if structured := session.LastStructuredError(); structured != nil {
			run.ErrorType = structured.ErrorType
			run.ErrorMessage = structured.ErrorMessage
			if structured.ErrorType == "KeyboardInterrupt" {
				run.Status = models.RunStatusInterrupted
			}
			if frames := prompt.UserFrames(structured); len(frames) > 0 {
				fmt.Fprintln(ui.Out)
				ui.Info("%s: %s", output.Red(structured.ErrorType), structured.ErrorMessage)
				table := ui.Table([]string{"File", "Line", "Function"})
				for _, f := range frames {
					table.Append([]string{f.File, fmt.Sprintf("%d", f.Line), f.Function})
				}
				if err := table.Render(); err != nil {
					return err
				}
			}
		}
	}

	recordRunBestEffort(ctx, run)

	if run.Status == models.RunStatusOK {
		ui.Success("Run completed in %s", output.DurationColor(duration))
	} else {
		ui.Error("Run finished with status %s after %s",
			output.RunStatusColor(string(run.Status)), output.DurationColor(duration))
	}
	return nil
}

func readScript(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

func recordRunBestEffort(ctx context.Context, run *models.Run) {
	s, err := getStore()
	if err != nil {
		ui.VerboseLog("history unavailable: %v", err)
		return
	}
	if err := s.CreateRun(ctx, run); err != nil {
		ui.VerboseLog("failed to record run: %v", err)
	}
}
