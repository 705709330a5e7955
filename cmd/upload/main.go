// Command upload pushes a file through a partstream coordinator in
// parallel chunks, resuming a prior session when one is given.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/datalift/partstream/internal/config"
	"github.com/datalift/partstream/internal/logger"
	"github.com/datalift/partstream/internal/retry"
	"github.com/datalift/partstream/internal/uploader"
)

var rootCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file in resumable parallel chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.ConfigDir, "config_dir", ".", "directory searched for config files")
	rootCmd.PersistentFlags().String("log_level", "info", "log level (debug, info, warn, error)")

	f := rootCmd.Flags()
	f.String("server", "http://localhost:4000", "coordinator base URL")
	f.String("identity", "", "caller identity sent to the coordinator")
	f.String("transport", "presigned", "part transport: presigned or proxied")
	f.String("prefix", "", "key prefix for the uploaded object")
	f.String("session", "", "session id of an interrupted upload to resume")
	f.Int64("part-size", 16*1024*1024, "bytes per part")
	f.Int("concurrency", 8, "parts uploaded in parallel")
	f.Bool("md5", false, "attach Content-MD5 to presigned part uploads")
	f.Int("retries", retry.DefaultPolicy.Attempts, "attempts per operation")
	f.Duration("timeout", 10*time.Minute, "per-part HTTP timeout")
}

func runUpload(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log_level")
	logger.Setup(level)
	config.Load("upload", false)
	fl := config.NewFlagLoader(cmd)

	identity := fl.String("identity")
	if identity == "" {
		identity = os.Getenv("USER")
	}
	if identity == "" {
		return fmt.Errorf("identity is required (set --identity)")
	}

	u := uploader.New(uploader.Config{
		BaseURL:      fl.String("server"),
		Identity:     identity,
		ObjectPrefix: fl.String("prefix"),
		PartSize:     fl.Int64("part-size"),
		Concurrency:  fl.Int("concurrency"),
		Transport:    uploader.Transport(fl.String("transport")),
		SendMD5:      fl.Bool("md5"),
		Retry: retry.Policy{
			Attempts:  fl.Int("retries"),
			BaseDelay: retry.DefaultPolicy.BaseDelay,
		},
		PartTimeout: fl.Duration("timeout"),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := args[0]
	sessionID := fl.String("session")

	var url string
	var err error
	if sessionID != "" {
		url, err = u.Resume(ctx, path, sessionID)
	} else {
		url, err = u.Upload(ctx, path)
	}
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("upload failed")
		os.Exit(1)
	}
}
