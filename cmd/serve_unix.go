//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs puts the server child into its own session so it survives
// the parent terminal closing.
func setDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// shutdownSignals lists the signals that trigger graceful server shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// sigTERM is the platform's graceful-stop signal.
func sigTERM() syscall.Signal { return syscall.SIGTERM }

// sigKILL is the platform's forced-stop signal.
func sigKILL() syscall.Signal { return syscall.SIGKILL }
