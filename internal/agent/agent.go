// Package agent implements the five guild role processes. Each role shares
// the same runtime skeleton: resolve the workspace, build the
// connect-or-offline messenger, load the goal and rule documents, announce
// itself, run its loop until cancelled, and say goodbye.
//
// Only the master holds the foreground for a human; every other role's
// process lifetime is its blocking consumption loop.
package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/goal"
	"github.com/guildtool/guild/internal/protocol"
	"github.com/guildtool/guild/internal/router"
	"github.com/guildtool/guild/internal/workspace"
	"github.com/guildtool/guild/pkg/bus"
)

// publisher is the slice of the messenger the role handlers drive. Tests
// substitute a recorder.
type publisher interface {
	SendActivity(ctx context.Context, activityType string, payload any) bool
	SendCodeChange(ctx context.Context, changeType string, payload any) bool
	SendProtocolUpdate(ctx context.Context, updateType string, payload any) bool
	SendGovernanceReview(ctx context.Context, reviewType string, payload any) bool
	SendFeatureInsight(ctx context.Context, insightType string, payload any) bool
}

var _ publisher = (*router.Messenger)(nil)

// Runtime carries what every role loop shares.
type Runtime struct {
	Role      bus.Role
	Workspace workspace.Workspace
	Messenger *router.Messenger
	Goal      *goal.Goal
	Rules     protocol.RuleSet
	Log       *zap.Logger
}

// NewRuntime assembles a role's runtime. Unreadable goal or rule documents
// degrade to empty defaults with a warning; only the role itself is
// non-negotiable.
func NewRuntime(ctx context.Context, role bus.Role, projectRoot string, logger *zap.Logger) (*Runtime, error) {
	if !bus.ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ws := workspace.New(projectRoot)
	cfg := bus.LoadConfig(ws.BusConfigFile(), logger)
	messenger := router.Connect(ctx, role, cfg, logger)

	g, err := goal.Load(ws.GoalFile())
	if err != nil {
		logger.Warn("goal unavailable, alignment stays neutral", zap.Error(err))
		g = &goal.Goal{}
	}

	rules, err := protocol.Load(ws.RulesFile())
	if err != nil {
		logger.Warn("rules unavailable, using founding defaults", zap.Error(err))
		rules = protocol.Default(g.Primary, time.Now())
	}

	return &Runtime{
		Role:      role,
		Workspace: ws,
		Messenger: messenger,
		Goal:      g,
		Rules:     rules,
		Log:       logger.Named(string(role)),
	}, nil
}

// Announce publishes the startup activity.
func (rt *Runtime) Announce(ctx context.Context) {
	rt.Messenger.SendActivity(ctx, "startup", StartupNote{
		Title:     rt.Role.Title(),
		PID:       os.Getpid(),
		Root:      rt.Workspace.Root,
		Connected: rt.Messenger.Connected(),
	})
}

// Shutdown publishes the shutdown activity and closes the messenger. It
// takes a fresh context because the run context is usually cancelled by
// the time a role says goodbye.
func (rt *Runtime) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt.Messenger.SendActivity(ctx, "shutdown", StartupNote{
		Title: rt.Role.Title(),
		PID:   os.Getpid(),
	})
	if err := rt.Messenger.Close(); err != nil {
		rt.Log.Warn("messenger close failed", zap.Error(err))
	}
}

// Run executes the role's loop until ctx is cancelled or, for the master,
// until the human leaves.
func Run(ctx context.Context, rt *Runtime) error {
	rt.Announce(ctx)
	defer rt.Shutdown()

	switch rt.Role {
	case bus.RoleMaster:
		return NewMaster(rt, os.Stdin, os.Stdout).Run(ctx)
	case bus.RoleJourneyman:
		return NewJourneyman(rt).Run(ctx)
	case bus.RoleWarden:
		return NewWarden(rt).Run(ctx)
	case bus.RoleReeve:
		return NewReeve(rt).Run(ctx)
	case bus.RoleChronicler:
		return NewChronicler(rt).Run(ctx)
	default:
		return fmt.Errorf("unknown role %q", rt.Role)
	}
}

// truncate shortens s for display and log payloads.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
