package commands

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/printer"
	"github.com/guildtool/guild/internal/supervisor"
	"github.com/guildtool/guild/pkg/bus"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the recorded agent fleet",
	Long: `Report the agent fleet from the PID registry.

The registry is read verbatim: a recorded PID may belong to a process
that has already exited, and it stays listed until guild stop clears it.
Broker reachability is probed separately as a courtesy line.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return printer.Error(
			"project root not usable",
			err.Error(),
			[]string{"Point at an existing directory: guild status --project <path>"},
		)
	}

	log := runLogger(ws)
	defer log.Sync()

	sup := supervisor.New(ws, nil, log)
	registry, err := sup.Status()
	if err != nil {
		log.Error("pid registry unreadable", zap.Error(err))
		printer.Failure("guild status unavailable: %v\n", err)
		return err
	}

	if len(registry) == 0 {
		printer.Success("guild is not running\n")
		printer.Info("Launch the agents with: guild start\n")
		return nil
	}

	printer.Printf("%-12s %-8s %s\n", "ROLE", "PID", "TITLE")
	for _, role := range bus.AllRoles() {
		pid, ok := registry[role]
		if !ok {
			continue
		}
		printer.Printf("%-12s %-8d %s\n", role, pid, role.Title())
	}

	cfg := bus.LoadConfig(ws.BusConfigFile(), log)
	if perr := bus.Probe(cfg, 2*time.Second); perr != nil {
		printer.Warning("broker unreachable at %s, agents are in offline mode\n", cfg.Broker.Addr())
	} else {
		printer.Info("Broker reachable at %s\n", cfg.Broker.Addr())
	}

	printer.Success("guild running with %d agents\n", len(registry))
	return nil
}
