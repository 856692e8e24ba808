package commands

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	btclogv1 "github.com/btcsuite/btclog"
	btclog "github.com/btcsuite/btclog/v2"
	"github.com/spf13/cobra"

	"github.com/scaredginger/dytor"
	"github.com/scaredginger/dytor/config"
	"github.com/scaredginger/dytor/internal/build"
	"github.com/scaredginger/dytor/internal/metrics"
)

var (
	// metricsAddr serves prometheus metrics when non-empty.
	metricsAddr string

	// cleanupTimeout bounds each actor's OnStop during shutdown.
	cleanupTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Run the configured actor system until quiescence",
	Long: `Run loads the YAML configuration, constructs every actor in its
context, and drives the system until it quiesces: no messages in flight
and no live accessors. The process exits non-zero on any fatal startup
condition.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(args[0])
	},
}

func runDaemon(configPath string) error {
	// Collect the log sinks: always the console, plus the rotating file
	// when a log directory is configured. One handler over their
	// composition keeps every destination byte-identical.
	sinks := []io.Writer{os.Stderr}
	if logDir != "" {
		logFile, err := build.OpenLogFile(
			logDir, "", build.RotationLimits{
				MaxFiles:  maxLogFiles,
				MaxFileMB: maxLogFileSize,
			},
		)
		if err != nil {
			log.Printf("Failed to open log file: %v "+
				"(continuing without file logging)", err)
		} else {
			defer logFile.Close()
			sinks = append(sinks, logFile)
		}
	}

	log.Printf("dytord version %s commit=%s go=%s",
		build.Version(), build.CommitInfo(), build.GoVersion)

	level, ok := btclogv1.LevelFromString(logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevel)
	}

	handler := btclog.NewDefaultHandler(io.MultiWriter(sinks...))
	handler.SetLevel(level)

	logger := btclog.NewSLogger(handler)
	dytor.UseLogger(logger.WithPrefix(dytor.Subsystem))

	// Serve prometheus metrics while the system runs.
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			log.Printf("Metrics listening on %s", metricsAddr)
			err := srv.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		defer srv.Close()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Shutdown is cooperative: the runtime stops when the system
	// quiesces, not on demand. Surface what a signal can and cannot do.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v: shutdown follows quiescence; "+
			"waiting for in-flight work and live accessors "+
			"(send again to force exit)", sig)

		sig = <-sigCh
		log.Printf("Received %v again, forcing immediate exit", sig)
		os.Exit(1)
	}()

	if err := dytor.Run(
		cfg, dytor.WithCleanupTimeout(cleanupTimeout),
	); err != nil {
		return err
	}

	log.Printf("System quiesced, exiting")

	return nil
}

func init() {
	runCmd.Flags().StringVar(
		&metricsAddr, "metrics-addr", "",
		"Address to serve prometheus metrics on (empty to disable)",
	)
	runCmd.Flags().DurationVar(
		&cleanupTimeout, "cleanup-timeout", 5*time.Second,
		"Per-actor OnStop timeout during shutdown",
	)

	rootCmd.AddCommand(runCmd)
}
