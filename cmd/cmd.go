package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "donation-gateway",
	Short: "Donation Gateway",
	Long:  `Checkout, webhook intake and reconciliation of donations across payment gateways.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads config.yml from path, or the environment alone when the
// process runs in production or a container. Either way defaults are applied
// before validation and the logger is configured from the result.
func loadConfig(path string) (*internal.Config, error) {
	var (
		cfg *internal.Config
		err error
	)
	if os.Getenv("APP_ENV") == "production" || os.Getenv("DOCKER_ENV") == "true" {
		cfg = internal.LoadConfigFromEnv()
	} else if cfg, err = readConfigFile(path); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Env, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// readConfigFile lets ENV_-prefixed variables override file values, e.g.
// ENV_DATABASE_SOURCE for database.source.
func readConfigFile(path string) (*internal.Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory containing config.yml")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
}
