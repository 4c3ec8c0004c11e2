// Package cli implements the imgdedup command-line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Nrfhsa/Image-To-URL/internal/blobstore"
	"github.com/Nrfhsa/Image-To-URL/internal/config"
	"github.com/Nrfhsa/Image-To-URL/internal/index"
	"github.com/Nrfhsa/Image-To-URL/internal/logging"
)

var (
	configPath      string
	logLevel        string
	logFormat       string
	logFile         string
	blobDir         string
	snapshotPath    string
	snapshotBackend string
	reconcileJobs   int
)

var rootCmd = &cobra.Command{
	Use:   "imgdedup",
	Short: "Content-addressed image upload service",
	Long: `imgdedup accepts image uploads over HTTP and stores each distinct
byte sequence exactly once. Re-uploading identical content returns the
filename of the first copy.

Configuration is read from imgdedup.toml (or --config), then IMGDEDUP_*
environment variables, then command-line flags.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: ./"+config.DefaultFile+" if present)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (json|text)")
	pf.StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated")
	pf.StringVar(&blobDir, "blob-dir", "", "Directory holding stored images")
	pf.StringVar(&snapshotPath, "snapshot-path", "", "Index snapshot location")
	pf.StringVar(&snapshotBackend, "snapshot-backend", "", "Index snapshot backend (json|bolt)")
	pf.IntVar(&reconcileJobs, "reconcile-workers", 0, "Concurrent file hashing at startup")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(deleteCmd)
}

// loadConfig layers flags over file and environment settings and validates the result.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}

	flags := cmd.Flags()
	setString := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	setString("log-level", &cfg.Log.Level, logLevel)
	setString("log-format", &cfg.Log.Format, logFormat)
	setString("log-file", &cfg.Log.File, logFile)
	setString("blob-dir", &cfg.Storage.BlobDir, blobDir)
	setString("snapshot-path", &cfg.Storage.SnapshotPath, snapshotPath)
	setString("snapshot-backend", &cfg.Storage.SnapshotBackend, snapshotBackend)
	if flags.Changed("reconcile-workers") {
		cfg.Storage.ReconcileWorkers = reconcileJobs
	}
	applyServeFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		exitError("invalid configuration: %v", err)
	}
	return cfg
}

// newLogger builds the logger for cfg writing to console.
func newLogger(cfg *config.Config, console io.Writer) (*slog.Logger, io.Closer) {
	logger, closer, err := logging.NewWithWriter(console, logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		exitError("%v", err)
	}
	return logger, closer
}

// openSnapshots opens the configured snapshot backend.
func openSnapshots(cfg *config.Config) (index.SnapshotStore, error) {
	switch cfg.Storage.SnapshotBackend {
	case config.BackendBolt:
		return index.NewBoltSnapshots(cfg.Storage.SnapshotPath)
	default:
		return index.NewJSONFile(cfg.Storage.SnapshotPath), nil
	}
}

// store bundles what every command opens: blobs, snapshots, and the ready index.
type store struct {
	blobs     *blobstore.FSStore
	snapshots index.SnapshotStore
	index     *index.Index
	opened    *index.OpenResult
}

func (s *store) Close() {
	if s.snapshots != nil {
		s.snapshots.Close()
	}
}

// openStore creates the blob directory, opens snapshots, and builds the index.
func openStore(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (*store, error) {
	blobs, err := blobstore.NewFSStore(cfg.Storage.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob directory %s: %w", cfg.Storage.BlobDir, err)
	}

	snapshots, err := openSnapshots(cfg)
	if err != nil {
		return nil, err
	}

	ix, opened, err := index.Open(cmd.Context(), index.OpenOptions{
		Blobs:     blobs,
		Snapshots: snapshots,
		Workers:   cfg.Storage.ReconcileWorkers,
		Logger:    logger,
	})
	if err != nil {
		snapshots.Close()
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	return &store{blobs: blobs, snapshots: snapshots, index: ix, opened: opened}, nil
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
