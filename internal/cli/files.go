package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Nrfhsa/Image-To-URL/internal/dedup"
	"github.com/Nrfhsa/Image-To-URL/internal/index"
)

var filesJSON bool

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List stored images, newest first",
	Args:  cobra.NoArgs,
	Run:   runFiles,
}

func init() {
	filesCmd.Flags().BoolVar(&filesJSON, "json", false, "Print the listing as JSON")
}

// offlineService opens the store and wraps it in a service whose changes are
// saved straight to the snapshot.
func offlineService(cmd *cobra.Command) (*dedup.Service, func()) {
	cfg := loadConfig(cmd)
	logger, closer := newLogger(cfg, os.Stderr)

	st, err := openStore(cmd, cfg, logger)
	if err != nil {
		closer.Close()
		exitError("%v", err)
	}

	svc, err := dedup.NewService(dedup.Options{
		Blobs:         st.blobs,
		Index:         st.index,
		Persister:     index.NewFlusher(st.index, st.snapshots, 0, logger),
		MaxUploadSize: cfg.Upload.MaxSize,
		AllowedTypes:  cfg.Upload.AllowedTypes,
		Logger:        logger,
	})
	if err != nil {
		st.Close()
		closer.Close()
		exitError("%v", err)
	}

	return svc, func() {
		st.Close()
		closer.Close()
	}
}

func runFiles(cmd *cobra.Command, _ []string) {
	svc, cleanup := offlineService(cmd)
	defer cleanup()

	files, err := svc.List(cmd.Context())
	if err != nil {
		exitError("failed to list files: %v", err)
	}

	if filesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(files); err != nil {
			exitError("%v", err)
		}
		return
	}

	if len(files) == 0 {
		fmt.Println("No files stored")
		return
	}

	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	for _, f := range files {
		yellow.Printf("%s", f.Filename)
		fmt.Printf("  %9s  ", humanize.IBytes(uint64(f.Size)))
		cyan.Printf("%-10s", f.MimeType)
		fmt.Printf("  %s\n", f.UploadedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("\n%d file(s)\n", len(files))
}
