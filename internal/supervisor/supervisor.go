// Package supervisor launches and stops the five role agents as plain OS
// processes. While agents run, their PIDs live in the workspace registry
// (.guild/pids.json); status reporting reads that registry verbatim and
// never probes the processes themselves.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/workspace"
	"github.com/guildtool/guild/pkg/bus"
)

// AgentBinary is the executable launched once per role.
const AgentBinary = "guild-agent"

// DefaultStopGrace is the pause between asking agents to stop and forcing
// the stragglers down.
const DefaultStopGrace = 2 * time.Second

// Status tracks one agent process through its lifecycle.
type Status string

const (
	// StatusPending means the role has not been spawned. Roles whose
	// executable cannot be resolved stay pending.
	StatusPending Status = "PENDING"

	// StatusRunning means the spawn succeeded and the PID is recorded.
	StatusRunning Status = "RUNNING"

	// StatusStopped means StopAll brought the agent down.
	StatusStopped Status = "STOPPED"

	// StatusFailed means the spawn itself failed.
	StatusFailed Status = "FAILED"
)

// AgentProcess is the launch record for one role.
type AgentProcess struct {
	Role    bus.Role  // role identity
	Title   string    // display title
	Command []string  // resolved argv, empty when the binary was not found
	PID     int       // recorded process id, zero unless running
	Status  Status    // lifecycle state
	Started time.Time // spawn time, zero unless running
}

// Supervisor drives the agent fleet of one project workspace.
type Supervisor struct {
	ws       workspace.Workspace
	launcher Launcher
	log      *zap.Logger
	grace    time.Duration

	// seams for tests
	resolve func(role bus.Role) ([]string, error)
	now     func() time.Time
}

// New builds a supervisor over the given workspace. A nil launcher gets
// the OS implementation; a nil logger is silenced.
func New(ws workspace.Workspace, launcher Launcher, logger *zap.Logger) *Supervisor {
	if launcher == nil {
		launcher = OSLauncher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		ws:       ws,
		launcher: launcher,
		log:      logger.Named("supervisor"),
		grace:    DefaultStopGrace,
		resolve:  agentCommand,
		now:      time.Now,
	}
}

// SetStopGrace overrides the pause between the graceful and forceful stop
// phases. Non-positive durations are ignored.
func (s *Supervisor) SetStopGrace(d time.Duration) {
	if d > 0 {
		s.grace = d
	}
}

// agentCommand resolves the agent binary for a role: next to the running
// executable first, then on PATH.
func agentCommand(role bus.Role) ([]string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), AgentBinary)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return []string{sibling, "--role", string(role)}, nil
		}
	}
	path, err := exec.LookPath(AgentBinary)
	if err != nil {
		return nil, fmt.Errorf("%s not found beside %s or on PATH: %w", AgentBinary, os.Args[0], err)
	}
	return []string{path, "--role", string(role)}, nil
}

// LaunchAll spawns one agent per role. Roles whose executable cannot be
// resolved are skipped with a warning; spawn failures are recorded without
// aborting the remaining roles. The PID registry is persisted with the
// successful spawns.
func (s *Supervisor) LaunchAll(ctx context.Context) ([]AgentProcess, error) {
	env := append(os.Environ(), "GUILD_PROJECT="+s.ws.Root)
	if self, err := os.Executable(); err == nil {
		// Later duplicates win in os/exec, so this PATH shadows the
		// inherited one and lets agents find their sibling binaries.
		env = append(env, "PATH="+filepath.Dir(self)+string(os.PathListSeparator)+os.Getenv("PATH"))
	}

	roles := bus.AllRoles()
	procs := make([]AgentProcess, 0, len(roles))
	registry := map[bus.Role]int{}

	for _, role := range roles {
		proc := AgentProcess{Role: role, Title: role.Title(), Status: StatusPending}

		command, err := s.resolve(role)
		if err != nil {
			s.log.Warn("agent binary not found, role skipped",
				zap.String("role", string(role)), zap.Error(err))
			procs = append(procs, proc)
			continue
		}
		proc.Command = command

		pid, err := s.launcher.Start(ctx, LaunchSpec{
			Command: command,
			Dir:     s.ws.Root,
			Env:     env,
			LogFile: filepath.Join(s.ws.LogDir(), fmt.Sprintf("agent_%s.log", role)),
		})
		if err != nil {
			proc.Status = StatusFailed
			s.log.Error("failed to launch agent",
				zap.String("role", string(role)), zap.Error(err))
			procs = append(procs, proc)
			continue
		}

		proc.PID = pid
		proc.Status = StatusRunning
		proc.Started = s.now()
		registry[role] = pid
		procs = append(procs, proc)
		s.log.Info("agent launched",
			zap.String("role", string(role)),
			zap.String("title", proc.Title),
			zap.Int("pid", pid))
	}

	if err := writeRegistry(s.ws.RegistryFile(), registry); err != nil {
		return procs, err
	}
	s.log.Info("launch pass complete",
		zap.Int("running", len(registry)), zap.Int("roles", len(roles)))
	return procs, nil
}

// Status reads the persisted registry and reports it verbatim. A missing
// registry yields a nil map: the fleet is not running. No process is
// probed, so a crashed agent still appears until StopAll clears it.
func (s *Supervisor) Status() (map[bus.Role]int, error) {
	return readRegistry(s.ws.RegistryFile())
}

// StopAll brings the fleet down in two phases: a graceful terminate to
// every recorded PID, then after the grace delay a forceful kill to any
// process still answering signals. The registry file is removed no matter
// how the signalling went. Calling StopAll when nothing runs is a no-op.
func (s *Supervisor) StopAll(ctx context.Context) error {
	registry, err := readRegistry(s.ws.RegistryFile())
	if err != nil {
		return err
	}
	if registry == nil {
		s.log.Warn("no pid registry found, agents are not running")
		return nil
	}
	if len(registry) == 0 {
		s.log.Warn("pid registry is empty, nothing to stop")
		return deleteRegistry(s.ws.RegistryFile())
	}

	roles := make([]string, 0, len(registry))
	for role := range registry {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)

	for _, role := range roles {
		pid := registry[bus.Role(role)]
		if err := s.launcher.Terminate(pid); err != nil {
			s.log.Warn("graceful stop failed",
				zap.String("role", role), zap.Int("pid", pid), zap.Error(err))
			continue
		}
		s.log.Info("asked agent to stop", zap.String("role", role), zap.Int("pid", pid))
	}

	select {
	case <-time.After(s.grace):
	case <-ctx.Done():
	}

	for _, role := range roles {
		pid := registry[bus.Role(role)]
		if !s.launcher.Alive(pid) {
			continue
		}
		if err := s.launcher.Kill(pid); err != nil {
			s.log.Warn("forceful stop failed, process may already be gone",
				zap.String("role", role), zap.Int("pid", pid), zap.Error(err))
			continue
		}
		s.log.Info("agent killed after grace period", zap.String("role", role), zap.Int("pid", pid))
	}

	if err := deleteRegistry(s.ws.RegistryFile()); err != nil {
		return fmt.Errorf("failed to remove pid registry: %w", err)
	}
	s.log.Info("all agents stopped", zap.Int("count", len(registry)))
	return nil
}
