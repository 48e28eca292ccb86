package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/printer"
	"github.com/guildtool/guild/internal/scaffold"
	"github.com/guildtool/guild/pkg/bus"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a guild workspace",
	Long: `Initialize a guild workspace in the project root.

Creates:
  • .guild/goal.yaml - the repository goal requests are checked against
  • .guild/protocols/rules.json - the founding protocol rules
  • .guild/bus.json - broker connection settings

A broker is optional: when RabbitMQ is unreachable the agents run offline
and log their traffic locally instead.

Use --force to rebuild an existing workspace (WARNING: resets the goal
and the rule book).`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false,
		"Rebuild an existing workspace (resets goal and rules)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return printer.Error(
			"project root not usable",
			err.Error(),
			[]string{"Point at an existing directory: guild init --project <path>"},
		)
	}

	log := runLogger(ws)
	defer log.Sync()
	log.Info("guild init", zap.String("root", ws.Root), zap.Bool("force", initForce))

	files, err := scaffold.Initialize(ws, initForce, time.Now())
	if err != nil {
		if errors.Is(err, scaffold.ErrAlreadyInitialized) {
			return printer.Error(
				"workspace already initialized",
				fmt.Sprintf("Found an existing workspace at %s.", ws.Dir()),
				[]string{
					"Keep it and start the agents: guild start",
					"Rebuild from scratch: guild init --force",
				},
			)
		}
		log.Error("initialization failed", zap.Error(err))
		printer.Failure("guild workspace not created: %v\n", err)
		return err
	}

	for _, file := range files {
		rel, rerr := filepath.Rel(ws.Root, file.Path)
		if rerr != nil {
			rel = file.Path
		}
		printer.Step("created %s\n", rel)
		log.Info("workspace file written", zap.String("path", file.Path))
	}

	// Reachability is a courtesy check only; offline is a supported mode.
	cfg := bus.LoadConfig(ws.BusConfigFile(), log)
	if perr := bus.Probe(cfg, 2*time.Second); perr != nil {
		printer.Warning("broker unreachable at %s, agents will run offline until it comes up\n",
			cfg.Broker.Addr())
		log.Warn("broker probe failed", zap.Error(perr))
	} else {
		printer.Step("broker reachable at %s\n", cfg.Broker.Addr())
	}

	printer.Success("guild workspace ready at %s\n", ws.Dir())
	printer.Info("Edit %s to set your repository goal, then run: guild start\n", ws.GoalFile())
	return nil
}
