package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild the index from the blob directory and save it",
	Long: `Fingerprint every file in the blob directory, apply the saved snapshot,
drop entries whose file is gone, and write the snapshot back.

Run it while the server is stopped, for example after copying images into
the blob directory by hand.`,
	Args: cobra.NoArgs,
	Run:  runReconcile,
}

func runReconcile(cmd *cobra.Command, _ []string) {
	cfg := loadConfig(cmd)
	logger, closer := newLogger(cfg, os.Stderr)
	defer closer.Close()

	st, err := openStore(cmd, cfg, logger)
	if err != nil {
		exitError("%v", err)
	}
	defer st.Close()

	entries, _ := st.index.Snapshot()
	if err := st.snapshots.Save(cmd.Context(), entries); err != nil {
		exitError("failed to save snapshot: %v", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	rec := st.opened.Reconcile
	green.Printf("Index saved: %d entries\n", len(entries))
	fmt.Printf("  files scanned:     %d\n", rec.Scanned)
	if rec.Skipped > 0 {
		yellow.Printf("  files unreadable:  %d\n", rec.Skipped)
	}
	fmt.Printf("  snapshot entries:  %d\n", st.opened.Restored)
	if st.opened.Pruned > 0 {
		yellow.Printf("  entries pruned:    %d\n", st.opened.Pruned)
	}
	fmt.Printf("  snapshot:          %s (%s)\n", cfg.Storage.SnapshotPath, cfg.Storage.SnapshotBackend)
}
