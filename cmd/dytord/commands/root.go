// Package commands implements the dytord CLI: running a configured actor
// system, validating configurations, and inspecting the registry.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/scaredginger/dytor/internal/build"
)

var (
	// logDir is the directory for rotated log files; empty disables
	// file logging.
	logDir string

	// logLevel is the subsystem log level (trace, debug, info, warn,
	// error, critical, off).
	logLevel string

	// maxLogFiles caps the number of rotated log files kept.
	maxLogFiles int

	// maxLogFileSize is the rotation threshold in megabytes.
	maxLogFileSize int
)

// rootCmd is the base command for the daemon.
var rootCmd = &cobra.Command{
	Use:   "dytord",
	Short: "Static actor runtime daemon",
	Long: `dytord runs a statically configured actor system: a YAML config
enumerates typed actors partitioned across single-threaded contexts, and
the runtime drives them from construction through message passing to
quiescence-based shutdown.

Actor types come from the packages compiled into this binary; each package
registers its types at process init.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&logDir, "log-dir", "",
		"Directory for log files (empty to disable file logging)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info",
		"Log level: trace, debug, info, warn, error, critical, off",
	)
	rootCmd.PersistentFlags().IntVar(
		&maxLogFiles, "max-log-files", build.DefaultMaxLogFiles,
		"Maximum number of rotated log files to keep",
	)
	rootCmd.PersistentFlags().IntVar(
		&maxLogFileSize, "max-log-file-size", build.DefaultMaxLogFileMB,
		"Maximum log file size in MB before rotation",
	)
}
