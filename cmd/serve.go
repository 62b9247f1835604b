package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/pyconsole/internal/api"
	"github.com/joescharf/pyconsole/internal/daemon"
)

var serveForeground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console HTTP API server",
	Long: `Start the HTTP API server exposing the console: session state,
execution, edit actions, run history, and assistant chat (SSE).

Without a subcommand the server is started as a background daemon.
Use --foreground to run it in the current terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveForeground {
			return serveForegroundRun(cmd.Context())
		}
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveForeground, "foreground", false, "Run in the foreground instead of daemonizing")
	serveCmd.Flags().IntP("port", "p", 8090, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the PID file manager for the background server.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "pyconsole-serve.pid"))
}

// serveLogPath returns the log file path for the background server.
func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "pyconsole-serve.log")
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "serve", "--foreground",
		"--port", fmt.Sprintf("%d", viper.GetInt("port")))
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	ui.Success("Server started (pid %d) on port %d", child.Process.Pid, viper.GetInt("port"))
	ui.Info("Logs: %s", serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	if _, err := pf.Read(); err != nil {
		return errors.New("server is not running")
	}
	pid, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return errors.New("server is not running (stale PID file removed)")
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	// Give the server a moment to shut down gracefully before escalating.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, running := pf.IsRunning(); !running {
			_ = pf.Remove()
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = pf.Signal(sigKILL())
	_ = pf.Remove()
	ui.Warning("Server killed after timeout (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if _, err := pf.Read(); err != nil {
		ui.Info("Server is not running")
		return nil
	}
	pid, running := pf.IsRunning()
	if !running {
		ui.Warning("Server is not running (stale PID file: %s)", pf.Path)
		return nil
	}
	ui.Success("Server is running (pid %d) on port %d", pid, viper.GetInt("port"))
	return nil
}

func serveForegroundRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		ui.Warning("history disabled: %v", err)
		s = nil
	}

	srv := api.NewServer(session, getExecutor(), getLLM(), s)

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(ui.Out, "Serving console API at http://localhost%s\n", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
