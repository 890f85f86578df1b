// Package commands implements the imgcache command line tool.
package commands

import (
	"strings"

	"github.com/hupe1980/imgcache/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	cacheDir string
	logLevel string
	noDisk   bool
)

var rootCmd = &cobra.Command{
	Use:   "imgcache",
	Short: "imgcache - two-tier image cache",
	Long: `imgcache fetches images over http, https, file, s3 and minio URIs,
keeps the encoded bytes in a bounded on-disk cache and decodes them
downsampled to a target size.

Use "imgcache [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "disk cache directory (overrides cache.dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides logging.level)")
	rootCmd.PersistentFlags().BoolVar(&noDisk, "no-disk", false, "run without the disk cache")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)
}

// loadConfig reads the configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cacheDir != "" {
		cfg.Cache.Dir = cacheDir
	}
	if logLevel != "" {
		cfg.Logging.Level = strings.ToLower(logLevel)
	}
	if noDisk {
		cfg.Cache.DisableDisk = true
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
