package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for all environment variables
	EnvPrefix = "EEPROM_BACKUP_"
	// EnvStoragePrefix is the prefix for storage pool environment variables
	EnvStoragePrefix = EnvPrefix + "STORAGE_"
	// EnvNotifyPrefix is the prefix for notification provider environment variables
	EnvNotifyPrefix = EnvPrefix + "NOTIFY_"
)

// Config holds the global application configuration
type Config struct {
	// Directory holding backup_metadata.json and backups/
	DataDir string

	// Storage settings
	DefaultStorage string
	StorageArgs    []string
	StoragePools   map[string]*StoragePool

	// Notification settings
	NotifyArgs    []string
	NotifyConfigs map[string]*NotifyConfig

	// Daemon settings
	MirrorSchedule    string
	RetentionSchedule string
	Keep              int // local backups to keep, 0 keeps all
	RemoteKeep        int // mirrored objects to keep per pool, 0 keeps all

	// Logging
	LogLevel  string
	LogFormat string
}

// StoragePool represents a named storage pool configuration
type StoragePool struct {
	Name    string
	Type    string
	Options map[string]string
}

// NotifyConfig represents a named notification provider configuration
type NotifyConfig struct {
	Name    string
	Type    string
	Options map[string]string
}

// fileConfig is the YAML representation of Config
type fileConfig struct {
	DataDir           string                       `yaml:"data_dir"`
	DefaultStorage    string                       `yaml:"default_storage"`
	Storage           map[string]map[string]string `yaml:"storage"`
	Notify            map[string]map[string]string `yaml:"notify"`
	MirrorSchedule    string                       `yaml:"mirror_schedule"`
	RetentionSchedule string                       `yaml:"retention_schedule"`
	Keep              *int                         `yaml:"keep"`
	RemoteKeep        *int                         `yaml:"remote_keep"`
	LogLevel          string                       `yaml:"log_level"`
	LogFormat         string                       `yaml:"log_format"`
}

// New creates a new Config with default values
func New() *Config {
	return &Config{
		DataDir:           DefaultDataDir(),
		MirrorSchedule:    "0 * * * *",
		RetentionSchedule: "30 3 * * *",
		LogLevel:          "info",
		LogFormat:         "text",
		StoragePools:      make(map[string]*StoragePool),
		NotifyConfigs:     make(map[string]*NotifyConfig),
	}
}

// DefaultDataDir returns the per-user data directory
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".eeprom-backup"
	}
	return filepath.Join(dir, "eeprom-backup")
}

// LoadFile merges a YAML configuration file into c. Only keys present in
// the file are applied.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.DataDir, fc.DataDir)
	setString(&c.DefaultStorage, fc.DefaultStorage)
	setString(&c.MirrorSchedule, fc.MirrorSchedule)
	setString(&c.RetentionSchedule, fc.RetentionSchedule)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	if fc.Keep != nil {
		c.Keep = *fc.Keep
	}
	if fc.RemoteKeep != nil {
		c.RemoteKeep = *fc.RemoteKeep
	}

	for poolName, options := range fc.Storage {
		for option, value := range options {
			c.setStoragePoolOption(strings.ToLower(poolName), strings.ToLower(option), value)
		}
	}

	for providerName, options := range fc.Notify {
		for option, value := range options {
			c.setNotifyConfigOption(strings.ToLower(providerName), strings.ToLower(option), value)
		}
	}

	return nil
}

// ApplyEnv reads the EEPROM_BACKUP_* variables that map to plain settings.
// Storage pool variables are handled by ParseStoragePools.
func (c *Config) ApplyEnv() error {
	setString(&c.DataDir, os.Getenv(EnvPrefix+"DATA_DIR"))
	setString(&c.DefaultStorage, os.Getenv(EnvPrefix+"DEFAULT_STORAGE"))
	setString(&c.MirrorSchedule, os.Getenv(EnvPrefix+"MIRROR_SCHEDULE"))
	setString(&c.RetentionSchedule, os.Getenv(EnvPrefix+"RETENTION_SCHEDULE"))
	setString(&c.LogLevel, os.Getenv(EnvPrefix+"LOG_LEVEL"))
	setString(&c.LogFormat, os.Getenv(EnvPrefix+"LOG_FORMAT"))

	if err := setInt(&c.Keep, EnvPrefix+"KEEP"); err != nil {
		return err
	}
	return setInt(&c.RemoteKeep, EnvPrefix+"REMOTE_KEEP")
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, envName string) error {
	value := os.Getenv(envName)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", envName, err)
	}
	*dst = n
	return nil
}

// ParseStoragePools merges storage pool environment variables and CLI
// arguments into StoragePools and validates the result
func (c *Config) ParseStoragePools() error {
	// First, parse environment variables
	c.parseStorageEnvVars()

	// Then parse CLI arguments (these override env vars)
	for _, arg := range c.StorageArgs {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid storage argument format: %s (expected pool.option=value)", arg)
		}

		keyParts := strings.SplitN(parts[0], ".", 2)
		if len(keyParts) != 2 {
			return fmt.Errorf("invalid storage key format: %s (expected pool.option)", parts[0])
		}

		c.setStoragePoolOption(keyParts[0], keyParts[1], parts[1])
	}

	for name, pool := range c.StoragePools {
		if pool.Type == "" {
			return fmt.Errorf("storage pool %q is missing required 'type' option", name)
		}
	}

	// A single pool is the default
	if c.DefaultStorage == "" && len(c.StoragePools) == 1 {
		for name := range c.StoragePools {
			c.DefaultStorage = name
		}
	}

	if c.DefaultStorage != "" {
		if _, exists := c.StoragePools[c.DefaultStorage]; !exists {
			return fmt.Errorf("default storage pool %q does not exist", c.DefaultStorage)
		}
	}

	return nil
}

func (c *Config) parseStorageEnvVars() {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, EnvStoragePrefix) {
			continue
		}

		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}

		// EEPROM_BACKUP_STORAGE_MIRROR_ACCESS_KEY -> MIRROR_ACCESS_KEY
		remainder := strings.TrimPrefix(parts[0], EnvStoragePrefix)

		underscoreIdx := strings.Index(remainder, "_")
		if underscoreIdx == -1 {
			continue
		}

		poolName := strings.ToLower(remainder[:underscoreIdx])
		option := strings.ToLower(remainder[underscoreIdx+1:])

		// ACCESS_KEY -> access-key
		option = strings.ReplaceAll(option, "_", "-")

		c.setStoragePoolOption(poolName, option, parts[1])
	}
}

func (c *Config) setStoragePoolOption(poolName, option, value string) {
	pool, exists := c.StoragePools[poolName]
	if !exists {
		pool = &StoragePool{
			Name:    poolName,
			Options: make(map[string]string),
		}
		c.StoragePools[poolName] = pool
	}

	if option == "type" {
		pool.Type = value
	} else {
		pool.Options[option] = value
	}
}

// ParseNotifyConfigs merges notification environment variables and CLI
// arguments into NotifyConfigs and validates the result
func (c *Config) ParseNotifyConfigs() error {
	// First, parse environment variables
	c.parseNotifyEnvVars()

	// Then parse CLI arguments (these override env vars)
	for _, arg := range c.NotifyArgs {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid notify argument format: %s (expected provider.option=value)", arg)
		}

		keyParts := strings.SplitN(parts[0], ".", 2)
		if len(keyParts) != 2 {
			return fmt.Errorf("invalid notify key format: %s (expected provider.option)", parts[0])
		}

		c.setNotifyConfigOption(keyParts[0], keyParts[1], parts[1])
	}

	for name, notifyCfg := range c.NotifyConfigs {
		if notifyCfg.Type == "" {
			return fmt.Errorf("notification provider %q is missing required 'type' option", name)
		}
	}

	return nil
}

func (c *Config) parseNotifyEnvVars() {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, EnvNotifyPrefix) {
			continue
		}

		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}

		// EEPROM_BACKUP_NOTIFY_TELEGRAM_CHAT_ID -> TELEGRAM_CHAT_ID
		remainder := strings.TrimPrefix(parts[0], EnvNotifyPrefix)

		underscoreIdx := strings.Index(remainder, "_")
		if underscoreIdx == -1 {
			continue
		}

		providerName := strings.ToLower(remainder[:underscoreIdx])
		option := strings.ReplaceAll(strings.ToLower(remainder[underscoreIdx+1:]), "_", "-")

		c.setNotifyConfigOption(providerName, option, parts[1])
	}
}

func (c *Config) setNotifyConfigOption(providerName, option, value string) {
	notifyCfg, exists := c.NotifyConfigs[providerName]
	if !exists {
		notifyCfg = &NotifyConfig{
			Name:    providerName,
			Options: make(map[string]string),
		}
		c.NotifyConfigs[providerName] = notifyCfg
	}

	if option == "type" {
		notifyCfg.Type = value
	} else {
		notifyCfg.Options[option] = value
	}
}
