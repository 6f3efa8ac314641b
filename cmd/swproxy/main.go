// Command swproxy serves a site through the caching controller.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Sternrassler/swcache/internal/config"
	"github.com/Sternrassler/swcache/pkg/logging"
	"github.com/Sternrassler/swcache/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	policyFile string
	logLevel   string
	logPretty  bool
)

var rootCmd = &cobra.Command{
	Use:   "swproxy",
	Short: "Offline-capable caching proxy",
	Long: `swproxy sits in front of a site and answers requests the way an
offline-first controller would: HTML documents network-first, everything
else cache-first, development traffic untouched.

Configuration comes from SWCACHE_* environment variables; flags override
them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy", "", "YAML policy file (or set SWCACHE_POLICY_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (or set SWCACHE_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "Human-readable logs (or set SWCACHE_LOG_PRETTY)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storesCmd)
	rootCmd.AddCommand(purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("policy") {
		cfg.PolicyFile = policyFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-pretty") {
		cfg.LogPretty = logPretty
	}
	if flags.Changed("port") {
		cfg.Port = servePort
	}
	if flags.Changed("upstream") {
		cfg.Upstream = serveUpstream
	}
	if flags.Changed("origin") {
		cfg.Origin = serveOrigin
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	logging.Setup(cfg.Logging())
	return cfg, nil
}

// openStorage returns Redis storage when a Redis URL is configured and
// in-memory storage otherwise. The close function releases the client.
func openStorage(ctx context.Context, cfg config.Config) (store.Storage, func() error, error) {
	if cfg.RedisURL == "" {
		return store.NewMemoryStorage(), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	storage := store.NewRedisStorage(client, cfg.RedisPrefix)
	if err := storage.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return storage, client.Close, nil
}
