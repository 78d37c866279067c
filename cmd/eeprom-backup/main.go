package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/marlin-tools/eeprom-backup/internal/backup"
	"github.com/marlin-tools/eeprom-backup/internal/config"
	"github.com/marlin-tools/eeprom-backup/internal/storage"
	"github.com/spf13/cobra"

	// Import storage backends for self-registration
	_ "github.com/marlin-tools/eeprom-backup/internal/storages"
)

var (
	cfg        = config.New()
	configPath string

	// flagConfig holds cfg as set by command line flags alone
	flagConfig config.Config

	rootCmd = &cobra.Command{
		Use:   "eeprom-backup",
		Short: "Printer EEPROM backup store",
		Long: `Keeps named snapshots of printer EEPROM settings as JSON files together with
a metadata index, and mirrors them to local or S3 storage pools.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding the backup index and backup files")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&cfg.DefaultStorage, "default-storage", "", "Default storage pool name")
	rootCmd.PersistentFlags().StringArrayVar(&cfg.StorageArgs, "storage-opt", []string{}, "Storage pool configuration (format: pool.option=value)")

	// Add commands
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(rescanCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(daemonCmd)
}

// loadConfig layers the config file and environment under the command line
// flags, then configures logging
func loadConfig(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	flagConfig = *cfg

	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	if flags.Changed("data-dir") {
		cfg.DataDir = flagConfig.DataDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagConfig.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = flagConfig.LogFormat
	}
	if flags.Changed("default-storage") {
		cfg.DefaultStorage = flagConfig.DefaultStorage
	}

	return setupLogging(cfg.LogLevel, cfg.LogFormat)
}

// openHandler opens the backup store in the configured data directory
func openHandler() (*backup.Handler, error) {
	h, err := backup.New(cfg.DataDir, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to open backup store in %s: %w", cfg.DataDir, err)
	}
	return h, nil
}

// openPools builds the storage pools from config, env and --storage-opt flags
func openPools() (*storage.PoolManager, error) {
	if err := cfg.ParseStoragePools(); err != nil {
		return nil, err
	}

	if len(cfg.StoragePools) == 0 {
		return nil, fmt.Errorf("no storage pools configured, use --storage-opt to configure at least one")
	}

	for name, pool := range cfg.StoragePools {
		slog.Debug("storage pool", "name", name, "type", pool.Type)
	}

	return storage.NewPoolManager(cfg.StoragePools, cfg.DefaultStorage)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
