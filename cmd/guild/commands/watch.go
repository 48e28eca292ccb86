package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/printer"
	"github.com/guildtool/guild/internal/watch"
	"github.com/guildtool/guild/pkg/bus"
)

var watchExchange string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream guild traffic to the terminal",
	Long: `Stream guild envelopes to the terminal as they are published.

Without --exchange the shared integration queue is drained, which sees
traffic from every exchange. Naming an exchange binds a dedicated queue
to just that one. Watch needs a live broker; there is nothing to stream
in offline mode.

Examples:
  # Everything the guild publishes
  guild watch

  # Only protocol rule changes
  guild watch --exchange protocol.updates`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchExchange, "exchange", "e", "",
		"Exchange to follow (default: the shared integration queue)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	// Validate the exchange before touching the broker.
	if watchExchange != "" {
		if _, ok := bus.Exchanges()[watchExchange]; !ok {
			names := make([]string, 0, len(bus.Exchanges()))
			for name := range bus.Exchanges() {
				names = append(names, name)
			}
			sort.Strings(names)
			return printer.Error(
				"unknown exchange",
				fmt.Sprintf("%q is not a guild exchange.", watchExchange),
				[]string{"Valid exchanges: " + strings.Join(names, ", ")},
			)
		}
	}

	ws, err := resolveWorkspace()
	if err != nil {
		return printer.Error(
			"project root not usable",
			err.Error(),
			[]string{"Point at an existing directory: guild watch --project <path>"},
		)
	}

	log := runLogger(ws)
	defer log.Sync()

	cfg := bus.LoadConfig(ws.BusConfigFile(), log)
	b := bus.Connect(context.Background(), cfg, log)
	defer b.Close()

	if b.State() != bus.StateConnected {
		return printer.Error(
			"broker unreachable",
			fmt.Sprintf("Could not reach RabbitMQ at %s.", cfg.Broker.Addr()),
			[]string{
				fmt.Sprintf("Check the broker settings in %s", ws.BusConfigFile()),
				"Start one locally: docker run -d -p 5672:5672 rabbitmq:3-alpine",
			},
		)
	}
	if err := b.DeclareTopology(context.Background()); err != nil {
		log.Error("topology declaration failed", zap.Error(err))
		printer.Failure("watch failed: %v\n", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	printer.Info("Watching guild traffic on %s, interrupt to stop.\n\n", cfg.Broker.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- watch.Tail(ctx, b, watchExchange, watch.NewFormatter(os.Stdout), log)
	}()

	select {
	case <-sigChan:
		cancel()
		<-errCh
	case err = <-errCh:
		if err != nil {
			log.Error("watch failed", zap.Error(err))
			printer.Failure("watch failed: %v\n", err)
			return err
		}
	}

	printer.Success("watch stopped\n")
	return nil
}
