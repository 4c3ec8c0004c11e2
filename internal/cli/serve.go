package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nrfhsa/Image-To-URL/internal/config"
	"github.com/Nrfhsa/Image-To-URL/internal/dedup"
	"github.com/Nrfhsa/Image-To-URL/internal/index"
	"github.com/Nrfhsa/Image-To-URL/internal/server"
)

var (
	serveListen         string
	servePublicURL      string
	servePublicDir      string
	serveAPIKey         string
	serveProtectListing bool
	serveCORSOrigins    []string
	serveRPM            int
	serveWebhookURLs    []string
	serveTLSCert        string
	serveTLSKey         string
	serveFlushInterval  time.Duration
	serveMaxSize        int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the image upload server",
	Long: `Run the image upload server.

On startup every file in the blob directory is fingerprinted and the saved
index snapshot is applied on top. The index is saved periodically and once
more on SIGINT or SIGTERM before the process exits.

The API key (server.api_key, IMGDEDUP_API_KEY) enables /delete, and /files
when listing is protected. Without a key those endpoints answer 503.

Examples:
  imgdedup serve
  imgdedup serve --listen 127.0.0.1:8080 --blob-dir /srv/images
  imgdedup serve --snapshot-backend bolt --snapshot-path /srv/index.db`,
	Run: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveListen, "listen", "", "Listen address (host:port)")
	f.StringVar(&servePublicURL, "public-url", "", "Base URL for returned image links")
	f.StringVar(&servePublicDir, "public-dir", "", "Static files served at /")
	f.StringVar(&serveAPIKey, "api-key", "", "API key for delete and protected listing")
	f.BoolVar(&serveProtectListing, "protect-listing", false, "Require the API key for /files")
	f.StringSliceVar(&serveCORSOrigins, "cors-origin", nil, "Allowed CORS origin, repeat for multiple")
	f.IntVar(&serveRPM, "requests-per-minute", 0, "Per-client rate limit, 0 disables")
	f.StringSliceVar(&serveWebhookURLs, "webhook-url", nil, "URL notified on upload and delete, repeat for multiple")
	f.StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	f.StringVar(&serveTLSKey, "tls-key", "", "TLS key file")
	f.DurationVar(&serveFlushInterval, "flush-interval", 0, "Index snapshot interval")
	f.Int64Var(&serveMaxSize, "max-size", 0, "Maximum upload size in bytes")
}

// applyServeFlags copies explicitly set serve flags into cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Lookup("listen") == nil {
		return
	}
	if flags.Changed("listen") {
		cfg.Server.Listen = serveListen
	}
	if flags.Changed("public-url") {
		cfg.Server.PublicURL = servePublicURL
	}
	if flags.Changed("public-dir") {
		cfg.Server.PublicDir = servePublicDir
	}
	if flags.Changed("api-key") {
		cfg.Server.APIKey = serveAPIKey
	}
	if flags.Changed("protect-listing") {
		cfg.Server.ProtectListing = serveProtectListing
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigins = serveCORSOrigins
	}
	if flags.Changed("requests-per-minute") {
		cfg.Server.RequestsPerMinute = serveRPM
	}
	if flags.Changed("webhook-url") {
		cfg.Server.WebhookURLs = serveWebhookURLs
	}
	if flags.Changed("tls-cert") {
		cfg.Server.TLSCert = serveTLSCert
	}
	if flags.Changed("tls-key") {
		cfg.Server.TLSKey = serveTLSKey
	}
	if flags.Changed("flush-interval") {
		cfg.Storage.FlushInterval = config.Duration{Duration: serveFlushInterval}
	}
	if flags.Changed("max-size") {
		cfg.Upload.MaxSize = serveMaxSize
	}
}

func runServe(cmd *cobra.Command, _ []string) {
	cfg := loadConfig(cmd)
	logger, logCloser := newLogger(cfg, os.Stdout)
	defer logCloser.Close()

	st, err := openStore(cmd, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	flusher := index.NewFlusher(st.index, st.snapshots, cfg.Storage.FlushInterval.Duration, logger)

	svc, err := dedup.NewService(dedup.Options{
		Blobs:         st.blobs,
		Index:         st.index,
		Persister:     flusher,
		MaxUploadSize: cfg.Upload.MaxSize,
		AllowedTypes:  cfg.Upload.AllowedTypes,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	hcfg := server.DefaultConfig()
	hcfg.PublicURL = cfg.Server.PublicURL
	hcfg.PublicDir = cfg.Server.PublicDir
	hcfg.APIKey = cfg.Server.APIKey
	hcfg.ProtectListing = cfg.Server.ProtectListing
	hcfg.CORSOrigins = cfg.Server.CORSOrigins
	hcfg.RequestsPerMinute = cfg.Server.RequestsPerMinute
	hcfg.Notifier = server.NewNotifier(&server.NotifierConfig{URLs: cfg.Server.WebhookURLs}, logger)
	if hcfg.Notifier != nil {
		logger.Info("notifications configured", "count", len(cfg.Server.WebhookURLs))
	}
	if hcfg.APIKey == "" {
		logger.Warn("no API key configured; delete endpoints are disabled")
	}

	h, handlerCleanup := server.Handler(svc, hcfg, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	flushCtx, stopFlusher := context.WithCancel(context.Background())
	flushDone := make(chan error, 1)
	go func() { flushDone <- flusher.Run(flushCtx) }()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting imgdedup", "listen", cfg.Server.Listen, "blob_dir", cfg.Storage.BlobDir, "entries", st.index.Len())
		var err error
		if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	exitCode := 0
	select {
	case <-done:
		logger.Info("shutting down...")
	case err := <-serveErr:
		logger.Error("server error", "error", err)
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	handlerCleanup()

	// Uploads have drained; the final snapshot captures all of them.
	stopFlusher()
	if err := <-flushDone; err != nil {
		exitCode = 1
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		st.Close()
		logCloser.Close()
		os.Exit(exitCode)
	}
}
