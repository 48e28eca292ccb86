package commands

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/printer"
	"github.com/guildtool/guild/internal/supervisor"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the guild agents",
	Long: `Stop every recorded agent process.

Each PID gets a graceful terminate first; whatever still answers signals
after the grace period is killed. The PID registry is removed either way,
so running stop twice is harmless.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ws, err := resolveWorkspace()
	if err != nil {
		return printer.Error(
			"project root not usable",
			err.Error(),
			[]string{"Point at an existing directory: guild stop --project <path>"},
		)
	}

	log := runLogger(ws)
	defer log.Sync()
	log.Info("guild stop", zap.String("root", ws.Root))

	sup := supervisor.New(ws, nil, log)
	registry, err := sup.Status()
	if err != nil {
		log.Error("pid registry unreadable", zap.Error(err))
		printer.Failure("guild not stopped: %v\n", err)
		return err
	}
	if registry == nil {
		printer.Success("guild is not running, nothing to stop\n")
		return nil
	}

	// StopAll also clears an empty registry left by a launch pass where
	// every role was skipped.
	if err := sup.StopAll(ctx); err != nil {
		log.Error("stop failed", zap.Error(err))
		printer.Failure("guild not stopped: %v\n", err)
		return err
	}

	if len(registry) == 0 {
		printer.Success("guild is not running, stale registry cleared\n")
		return nil
	}
	printer.Success("guild stopped, %d agents signalled\n", len(registry))
	return nil
}
