package commands

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/printer"
	"github.com/guildtool/guild/internal/scaffold"
	"github.com/guildtool/guild/internal/supervisor"
	"github.com/guildtool/guild/pkg/bus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch the five guild agents",
	Long: `Launch one agent process per guild role.

Missing workspace files are scaffolded first, so start works in a fresh
project without a separate init. Roles whose agent binary cannot be found
are skipped; the remaining agents still come up. The fleet keeps running
after this command returns; stop it with: guild stop.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ws, err := resolveWorkspace()
	if err != nil {
		return printer.Error(
			"project root not usable",
			err.Error(),
			[]string{"Point at an existing directory: guild start --project <path>"},
		)
	}

	log := runLogger(ws)
	defer log.Sync()
	log.Info("guild start", zap.String("root", ws.Root))

	// Phase 1: backfill workspace files so a bare project still starts.
	created, err := scaffold.Ensure(ws, time.Now())
	if err != nil {
		log.Error("workspace scaffolding failed", zap.Error(err))
		printer.Failure("guild not started: %v\n", err)
		return err
	}
	for _, file := range created {
		rel, rerr := filepath.Rel(ws.Root, file.Path)
		if rerr != nil {
			rel = file.Path
		}
		printer.Step("created %s\n", rel)
	}

	// Phase 2: refuse to double-start; a stale registry would orphan the
	// previous fleet's PIDs.
	sup := supervisor.New(ws, nil, log)
	if registry, rerr := sup.Status(); rerr == nil && len(registry) > 0 {
		return printer.Error(
			"guild already running",
			"The PID registry records a running fleet for this project.",
			[]string{
				"Check it: guild status",
				"Stop it first: guild stop",
			},
		)
	}

	// Phase 3: launch the fleet.
	procs, err := sup.LaunchAll(ctx)
	if err != nil {
		log.Error("launch failed", zap.Error(err))
		printer.Failure("guild not started: %v\n", err)
		return err
	}

	running := 0
	for _, proc := range procs {
		switch proc.Status {
		case supervisor.StatusRunning:
			running++
			printer.Step("%s up (pid %d)\n", proc.Title, proc.PID)
		case supervisor.StatusFailed:
			printer.Warning("%s failed to launch, see the run log\n", proc.Title)
		default:
			printer.Warning("%s skipped, %s not found\n", proc.Title, supervisor.AgentBinary)
		}
	}

	if running == 0 {
		printer.Failure("guild not started, no agents launched\n")
		return errors.New("no agents launched")
	}

	printer.Success("guild running with %d/%d agents\n", running, len(bus.AllRoles()))
	printer.Info("Agent diagnostics land in %s\n", ws.LogDir())
	return nil
}
