// Package main implements the aethernet CLI: an autonomous
// wallet-native agent runtime driven by a think-decide-act loop.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aethernet/internal/config"
	"aethernet/internal/logging"
	"aethernet/internal/runtime"
)

var (
	homeDir string

	rootCmd = &cobra.Command{
		Use:   "aethernet",
		Short: "Autonomous wallet-native agent runtime",
		Long: `aethernet runs an autonomous agent: a think-decide-act loop backed
by a local state store, a wallet session for mutating actions, and
survival-tier gating. Use "aethernet init" to create a home directory,
then "aethernet run" to start the daemon.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", defaultHome(),
		"agent home directory")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(emergencyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(incidentsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(injectCmd)
}

func defaultHome() string {
	if env := os.Getenv("AETHERNET_HOME"); env != "" {
		return env
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".aethernet"
	}
	return filepath.Join(userHome, ".aethernet")
}

// loadConfig reads <home>/config.json and applies defaults.
func loadConfig() (*config.Config, error) {
	path := filepath.Join(homeDir, "config.json")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir = homeDir
	}
	cfg.ConfigPath = path
	cfg.ApplyDefaults()
	return cfg, nil
}

// openRuntime builds and initializes the runtime for one command.
// The caller must Close it.
func openRuntime() (*runtime.Runtime, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	r := runtime.New(cfg, logger)
	if err := r.Initialize(); err != nil {
		_ = r.Close()
		return nil, nil, err
	}
	return r, logger, nil
}
