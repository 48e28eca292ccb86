package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// LaunchSpec describes one agent process spawn.
type LaunchSpec struct {
	Command []string // argv; Command[0] is the resolved executable
	Dir     string   // working directory for the child
	Env     []string // full environment for the child
	LogFile string   // file receiving the child's combined output
}

// Launcher is the spawn-and-signal primitive the supervisor drives. The
// production implementation talks to the OS; tests substitute a fake.
type Launcher interface {
	// Start spawns the process and returns its PID.
	Start(ctx context.Context, spec LaunchSpec) (int, error)

	// Terminate asks the process to exit gracefully.
	Terminate(pid int) error

	// Kill forces the process down.
	Kill(pid int) error

	// Alive reports whether the process still accepts signals.
	Alive(pid int) bool
}

// OSLauncher spawns real detached processes and signals them with
// SIGTERM, SIGKILL, and the signal-0 liveness probe.
type OSLauncher struct{}

// Start spawns spec as a child process. The child keeps running after the
// supervisor's own process exits.
func (OSLauncher) Start(ctx context.Context, spec LaunchSpec) (int, error) {
	if len(spec.Command) == 0 {
		return 0, errors.New("empty launch command")
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	if spec.LogFile != "" {
		out, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to open agent log: %w", err)
		}
		// The child holds its own descriptor; ours closes after Start.
		defer out.Close()
		cmd.Stdout = out
		cmd.Stderr = out
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", spec.Command[0], err)
	}

	// Reap the child when it exits so a stopped agent does not linger
	// as a zombie while this process is still alive.
	go func() { _ = cmd.Wait() }()

	return cmd.Process.Pid, nil
}

// Terminate sends SIGTERM.
func (OSLauncher) Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

// Kill sends SIGKILL.
func (OSLauncher) Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// Alive probes the process with signal 0.
func (OSLauncher) Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
