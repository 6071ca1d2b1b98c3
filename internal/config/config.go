package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	defaultConfigFile            = "config.json"
	defaultListenAddr            = "127.0.0.1:7463"
	defaultRefreshInterval       = 5 * time.Second
	defaultSourceRefreshInterval = 5 * time.Second
	defaultAutoSaveInterval      = 30 * time.Second
)

// Overrides carries command-line values. Zero values mean "not set" and
// leave the environment or default in place.
type Overrides struct {
	ConfigFile    string
	ListenAddr    string
	EnvFile       string
	AutoConnect   bool
	AlwaysPublish bool
}

// RegisterFlags binds the overrides to a flag set
func (o *Overrides) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFile, "config", "c", "", "path to the presence form JSON file")
	fs.StringVar(&o.ListenAddr, "listen", "", "control API listen address")
	fs.StringVar(&o.EnvFile, "env-file", "", "load environment variables from this file (default .env)")
	fs.BoolVar(&o.AutoConnect, "connect", false, "connect to the chat client at start-up")
	fs.BoolVar(&o.AlwaysPublish, "always-publish", false, "re-send the presence every tick even when unchanged")
}

// AppConfig holds application configuration
type AppConfig struct {
	logger                *zap.Logger
	configFile            string
	listenAddr            string
	refreshInterval       time.Duration
	sourceRefreshInterval time.Duration
	autoSaveInterval      time.Duration
	alwaysPublish         bool
	autoConnect           bool
}

// NewAppConfig creates a new application configuration instance
func NewAppConfig(logger *zap.Logger, o Overrides) *AppConfig {
	envFile := o.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// a missing .env is normal
	if err := godotenv.Load(envFile); err != nil && o.EnvFile != "" {
		logger.Warn("Failed to load env file", zap.String("path", envFile), zap.Error(err))
	}

	cfg := &AppConfig{
		logger:                logger,
		configFile:            getEnv("PRESENCED_CONFIG_FILE", defaultConfigFile),
		listenAddr:            getEnv("PRESENCED_LISTEN_ADDR", defaultListenAddr),
		refreshInterval:       getEnvDuration(logger, "PRESENCED_REFRESH_INTERVAL", defaultRefreshInterval),
		sourceRefreshInterval: getEnvDuration(logger, "PRESENCED_SOURCE_REFRESH_INTERVAL", defaultSourceRefreshInterval),
		autoSaveInterval:      getEnvDuration(logger, "PRESENCED_AUTOSAVE_INTERVAL", defaultAutoSaveInterval),
		alwaysPublish:         getEnvBool("PRESENCED_ALWAYS_PUBLISH"),
		autoConnect:           getEnvBool("PRESENCED_AUTO_CONNECT"),
	}

	if o.ConfigFile != "" {
		cfg.configFile = o.ConfigFile
	}
	if o.ListenAddr != "" {
		cfg.listenAddr = o.ListenAddr
	}
	cfg.alwaysPublish = cfg.alwaysPublish || o.AlwaysPublish
	cfg.autoConnect = cfg.autoConnect || o.AutoConnect

	cfg.configFile = expandPath(cfg.configFile)

	logger.Info("Configuration loaded",
		zap.String("configFile", cfg.configFile),
		zap.String("listenAddr", cfg.listenAddr),
		zap.Duration("refreshInterval", cfg.refreshInterval),
		zap.Duration("sourceRefreshInterval", cfg.sourceRefreshInterval),
		zap.Bool("alwaysPublish", cfg.alwaysPublish))

	return cfg
}

// GetConfigFile returns the path of the persisted presence form
func (c *AppConfig) GetConfigFile() string {
	return c.configFile
}

// GetListenAddr returns the control API address
func (c *AppConfig) GetListenAddr() string {
	return c.listenAddr
}

// GetRefreshInterval returns the presence refresh period
func (c *AppConfig) GetRefreshInterval() time.Duration {
	return c.refreshInterval
}

// GetSourceRefreshInterval returns the media player list refresh period
func (c *AppConfig) GetSourceRefreshInterval() time.Duration {
	return c.sourceRefreshInterval
}

// GetAutoSaveInterval returns the form auto-save period
func (c *AppConfig) GetAutoSaveInterval() time.Duration {
	return c.autoSaveInterval
}

// GetAlwaysPublish reports whether unchanged presences are re-sent every tick
func (c *AppConfig) GetAlwaysPublish() bool {
	return c.alwaysPublish
}

// GetAutoConnect reports whether the daemon connects at start-up
func (c *AppConfig) GetAutoConnect() bool {
	return c.autoConnect
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// getEnvDuration accepts Go durations ("5s") or plain seconds ("5")
func getEnvDuration(logger *zap.Logger, key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	logger.Warn("Invalid duration, using default",
		zap.String("key", key),
		zap.String("value", s),
		zap.Duration("default", fallback))
	return fallback
}

func getEnvBool(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && b
}
