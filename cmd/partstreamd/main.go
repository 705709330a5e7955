// Command partstreamd runs the chunked-upload coordinator: it opens
// multipart sessions against an S3-compatible store, hands out
// presigned part URLs or relays part bytes, and finalizes uploads.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/datalift/partstream/internal/config"
	"github.com/datalift/partstream/internal/coordinator"
	"github.com/datalift/partstream/internal/httpapi"
	"github.com/datalift/partstream/internal/logger"
	"github.com/datalift/partstream/internal/objectstore"
	"github.com/datalift/partstream/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "partstreamd",
	Short: "Resumable chunked-upload coordinator for S3-compatible stores",
	Run:   runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.ConfigDir, "config_dir", ".", "directory searched for config files")
	rootCmd.PersistentFlags().String("log_level", "info", "log level (debug, info, warn, error)")

	f := rootCmd.Flags()
	f.String("listen.addr", ":4000", "HTTP listen address")
	f.String("mode", "presigned", "part transport: presigned or proxied")
	f.String("bucket", "", "target bucket")
	f.String("public.base_url", "", "base URL reported for finished objects")
	f.String("proxy.base_url", "", "external base URL of this daemon (proxied mode)")
	f.Int64("part.size", 16*1024*1024, "part size hint handed to clients")
	f.Int("part.concurrency", 8, "concurrency hint handed to clients")
	f.Duration("presign.expiry", time.Hour, "lifetime of presigned part URLs")
	f.Duration("session.ttl", 24*time.Hour, "idle time before a session is reclaimed")
	f.Duration("sweep.interval", 15*time.Minute, "how often expired sessions are reclaimed")
	f.String("s3.endpoint", "", "S3-compatible endpoint URL")
	f.String("s3.region", "us-west-2", "store region")
	f.Bool("s3.path_style", true, "use path-style addressing")
}

func runServer(cmd *cobra.Command, args []string) {
	level, _ := cmd.Flags().GetString("log_level")
	logger.Setup(level)

	config.ServerDefaults()
	config.Load("partstreamd", false)

	fl := config.NewFlagLoader(cmd)
	cfg := config.ServerFromViper()
	cfg.ListenAddr = fl.String("listen.addr")
	cfg.Mode = fl.String("mode")
	cfg.Bucket = fl.String("bucket")
	cfg.PublicBaseURL = fl.String("public.base_url")
	cfg.ProxyBaseURL = fl.String("proxy.base_url")
	cfg.PartSizeHint = fl.Int64("part.size")
	cfg.ConcurrencyHint = fl.Int("part.concurrency")
	cfg.PresignExpiry = fl.Duration("presign.expiry")
	cfg.SessionTTL = fl.Duration("session.ttl")
	cfg.SweepInterval = fl.Duration("sweep.interval")
	cfg.S3.Endpoint = fl.String("s3.endpoint")
	cfg.S3.Region = fl.String("s3.region")
	cfg.S3.PathStyle = fl.Bool("s3.path_style")

	if cfg.Bucket == "" {
		logger.Fatal().Msg("bucket is required (set --bucket or BUCKET)")
	}
	if cfg.Mode == "proxied" && cfg.ProxyBaseURL == "" {
		logger.Fatal().Msg("proxied mode requires --proxy.base_url")
	}

	store, err := objectstore.NewS3(cfg.S3)
	if err != nil {
		logger.Fatal().Err(err).Msg("object store init failed")
	}

	sessions := session.NewStore()
	ccfg := coordinator.Config{
		Bucket:          cfg.Bucket,
		PublicBaseURL:   cfg.PublicBaseURL,
		ProxyBaseURL:    cfg.ProxyBaseURL,
		PartSizeHint:    cfg.PartSizeHint,
		ConcurrencyHint: cfg.ConcurrencyHint,
		PresignExpiry:   cfg.PresignExpiry,
	}

	var coord coordinator.Coordinator
	switch cfg.Mode {
	case "proxied":
		coord = coordinator.NewProxied(ccfg, sessions, store)
	case "presigned":
		coord = coordinator.NewPresigned(ccfg, sessions, store)
	default:
		logger.Fatal().Str("mode", cfg.Mode).Msg("unknown mode")
	}

	api := httpapi.NewServer(coord, sessions)

	sweeper := session.NewSweeper(sessions, store, cfg.SessionTTL)
	sweeper.OnSwept = func(n int) {
		api.Metrics().SessionsSwept.Add(float64(n))
	}
	if err := sweeper.Start(cfg.SweepInterval); err != nil {
		logger.Fatal().Err(err).Msg("sweeper start failed")
	}

	// No read/write deadlines: proxied part uploads can stream for a
	// long time on slow links.
	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     api.Handler(),
		IdleTimeout: 2 * time.Minute,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("mode", cfg.Mode).
			Str("bucket", cfg.Bucket).Msg("partstreamd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
	sweeper.Stop()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
