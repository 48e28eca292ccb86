// guild-agent runs one guild role process. The supervisor launches five of
// these; running one by hand (notably the master) works the same way.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/agent"
	"github.com/guildtool/guild/internal/logging"
	"github.com/guildtool/guild/internal/workspace"
	"github.com/guildtool/guild/pkg/bus"
)

func main() {
	os.Exit(run())
}

// run holds the logic behind an exit code so deferred cleanup still fires.
func run() int {
	roleID := flag.String("role", "", "guild role to run (master, journeyman, warden, reeve, chronicler)")
	project := flag.String("project", "", "target project directory (defaults to $GUILD_PROJECT, then the working directory)")
	flag.Parse()

	role := bus.Role(*roleID)
	if !bus.ValidRole(role) {
		fmt.Fprintf(os.Stderr, "guild-agent: unknown role %q\n", *roleID)
		return 1
	}

	root := *project
	if root == "" {
		root = os.Getenv("GUILD_PROJECT")
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "guild-agent: %v\n", err)
			return 1
		}
		root = cwd
	}

	ws := workspace.New(root)
	logPath := filepath.Join(ws.LogDir(), fmt.Sprintf("agent_%s.log", role))
	logger := logging.ForRun(logPath, os.Getenv("GUILD_DEBUG") != "")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := agent.NewRuntime(ctx, role, root, logger)
	if err != nil {
		logger.Error("agent startup failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "guild-agent: %v\n", err)
		return 1
	}

	logger.Info("agent starting",
		zap.String("role", string(role)),
		zap.String("title", role.Title()),
		zap.String("root", ws.Root),
		zap.Int("pid", os.Getpid()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- agent.Run(ctx, rt)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
		err = <-done
	case err = <-done:
	}

	if err != nil {
		logger.Error("agent stopped with error", zap.Error(err))
		return 1
	}
	logger.Info("agent stopped")
	return 0
}
