package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/axisgate/axis/internal/config"
)

var (
	configPath string
	pgDSN      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "axis",
		Short: "Axis - API gateway with RBAC authorization",
		Long:  "An API gateway running requests through rate limiting, RBAC authorization, response caching and upstream forwarding",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg", "", "Postgres DSN (overrides config)")

	rootCmd.AddCommand(
		serveCmd(),
		routeCmd(),
		permissionCmd(),
		roleCmd(),
		userCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration: defaults, then the
// config file, then environment, then flags.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if pgDSN != "" {
		cfg.Postgres.DSN = pgDSN
	}
	return cfg, nil
}
