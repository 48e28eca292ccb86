package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleepCommand(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available on this system")
	}
	return path
}

func TestOSLauncher_TerminateStopsProcess(t *testing.T) {
	launcher := OSLauncher{}
	logFile := filepath.Join(t.TempDir(), "agent.log")

	pid, err := launcher.Start(context.Background(), LaunchSpec{
		Command: []string{sleepCommand(t), "60"},
		Dir:     t.TempDir(),
		Env:     os.Environ(),
		LogFile: logFile,
	})
	require.NoError(t, err)
	require.Greater(t, pid, 0)
	assert.True(t, launcher.Alive(pid))

	require.NoError(t, launcher.Terminate(pid))
	require.Eventually(t, func() bool { return !launcher.Alive(pid) },
		2*time.Second, 20*time.Millisecond,
		"terminated process should stop answering signals")

	_, err = os.Stat(logFile)
	assert.NoError(t, err, "log file is created at spawn")
}

func TestOSLauncher_KillStopsProcess(t *testing.T) {
	launcher := OSLauncher{}

	pid, err := launcher.Start(context.Background(), LaunchSpec{
		Command: []string{sleepCommand(t), "60"},
		Env:     os.Environ(),
	})
	require.NoError(t, err)

	require.NoError(t, launcher.Kill(pid))
	require.Eventually(t, func() bool { return !launcher.Alive(pid) },
		2*time.Second, 20*time.Millisecond)
}

func TestOSLauncher_EmptyCommand(t *testing.T) {
	_, err := OSLauncher{}.Start(context.Background(), LaunchSpec{})
	require.Error(t, err)
}

func TestOSLauncher_MissingExecutable(t *testing.T) {
	_, err := OSLauncher{}.Start(context.Background(), LaunchSpec{
		Command: []string{filepath.Join(t.TempDir(), "absent-binary")},
	})
	require.Error(t, err)
}
