// Package config loads runtime configuration for the partstream
// binaries from config files and the environment via viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/datalift/partstream/internal/logger"
	"github.com/datalift/partstream/internal/objectstore"
)

// ConfigDir is an extra search directory, settable from the CLI.
var ConfigDir string

// Load merges the named config file (without extension) into viper's
// state. Environment variables override file values; dots in keys map
// to underscores, so "s3.endpoint" reads S3_ENDPOINT.
func Load(name string, required bool) bool {
	viper.SetConfigName(name)
	if ConfigDir != "" {
		viper.AddConfigPath(ConfigDir)
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.partstream")
	viper.AddConfigPath("/etc/partstream/")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if required {
				logger.Fatal().Msgf("config file not found: %s", name)
			}
			logger.Debug().Msgf("config file not found: %s", name)
			return false
		}
		if required {
			logger.Fatal().Err(err).Msgf("failed to load config file: %s", name)
		}
		logger.Warn().Err(err).Msgf("failed to load config file: %s", name)
		return false
	}
	logger.Info().Msgf("loaded config file: %s", viper.ConfigFileUsed())
	return true
}

// Server holds the coordinator daemon's settings.
type Server struct {
	ListenAddr    string
	Mode          string
	Bucket        string
	PublicBaseURL string
	ProxyBaseURL  string

	PartSizeHint    int64
	ConcurrencyHint int
	PresignExpiry   time.Duration
	SessionTTL      time.Duration
	SweepInterval   time.Duration

	S3 objectstore.S3Config
}

// ServerDefaults seeds viper with the daemon's fallback values.
func ServerDefaults() {
	viper.SetDefault("listen.addr", ":4000")
	viper.SetDefault("mode", "presigned")
	viper.SetDefault("part.size", int64(16*1024*1024))
	viper.SetDefault("part.concurrency", 8)
	viper.SetDefault("presign.expiry", time.Hour)
	viper.SetDefault("session.ttl", 24*time.Hour)
	viper.SetDefault("sweep.interval", 15*time.Minute)
	viper.SetDefault("s3.region", "us-west-2")
	viper.SetDefault("s3.path_style", true)
}

// ServerFromViper assembles the daemon config from viper's merged
// state. AWS-standard credential variables are honored as fallbacks.
func ServerFromViper() Server {
	access := viper.GetString("s3.access_key_id")
	if access == "" {
		access = viper.GetString("AWS_ACCESS_KEY_ID")
	}
	secret := viper.GetString("s3.secret_access_key")
	if secret == "" {
		secret = viper.GetString("AWS_SECRET_ACCESS_KEY")
	}
	return Server{
		ListenAddr:      viper.GetString("listen.addr"),
		Mode:            viper.GetString("mode"),
		Bucket:          viper.GetString("bucket"),
		PublicBaseURL:   viper.GetString("public.base_url"),
		ProxyBaseURL:    viper.GetString("proxy.base_url"),
		PartSizeHint:    viper.GetInt64("part.size"),
		ConcurrencyHint: viper.GetInt("part.concurrency"),
		PresignExpiry:   viper.GetDuration("presign.expiry"),
		SessionTTL:      viper.GetDuration("session.ttl"),
		SweepInterval:   viper.GetDuration("sweep.interval"),
		S3: objectstore.S3Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			AccessKeyID:     access,
			SecretAccessKey: secret,
			PathStyle:       viper.GetBool("s3.path_style"),
		},
	}
}
