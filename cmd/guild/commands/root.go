package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/logging"
	"github.com/guildtool/guild/internal/workspace"
)

var (
	version string
	commit  string
	date    string
)

// Flags shared by every subcommand.
var (
	projectDir string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "guild",
	Short: "Guild - a five-role agent fleet for your repository",
	Long: `Guild runs five specialized agent processes over your repository:
a master taking requests at an interactive prompt, a journeyman watching
the working tree, a warden promoting recurring patterns into protocol
rules, a reeve auditing those rules, and a chronicler keeping trend notes.

The agents coordinate through durable RabbitMQ topic exchanges and keep
working offline (local logging only) when no broker is reachable.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	// e.g., "guild --force" instead of "guild init --force"
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "",
		"Project root (defaults to the enclosing Git repository, then the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Write debug-level detail to the run log")
}

// resolveWorkspace picks the project root for this invocation from the
// --project flag or the surrounding directory.
func resolveWorkspace() (workspace.Workspace, error) {
	return workspace.Resolve(projectDir)
}

// runLogger opens the per-run diagnostic log under .guild/logs. Console
// output stays with the printer; everything else lands here.
func runLogger(ws workspace.Workspace) *zap.Logger {
	return logging.ForRun(ws.LogFile(time.Now()), verbose)
}
