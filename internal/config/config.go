// Package config loads and watches the application configuration.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gerpgo    GerpgoConfig    `mapstructure:"gerpgo"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// GerpgoConfig holds the upstream API credentials and retry tunables.
type GerpgoConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	AppID         string        `mapstructure:"app_id"`
	AppKey        string        `mapstructure:"app_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	RateLimitWait time.Duration `mapstructure:"rate_limit_wait"`
	PageSize      int           `mapstructure:"page_size"`
}

type SchedulerConfig struct {
	Workers       int    `mapstructure:"workers"`
	OverlapPolicy string `mapstructure:"overlap_policy"`
	Timezone      string `mapstructure:"timezone"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "datapilot")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("gerpgo.timeout", "60s")
	v.SetDefault("gerpgo.max_retries", 3)
	v.SetDefault("gerpgo.retry_interval", "5s")
	v.SetDefault("gerpgo.rate_limit_wait", "1s")
	v.SetDefault("gerpgo.page_size", 100)
	v.SetDefault("scheduler.workers", 10)
	v.SetDefault("scheduler.overlap_policy", "skip")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads config.yaml from configPath, applies environment overrides,
// and watches the file for changes. Safe to call more than once; only the
// first call does the work.
func Load(configPath string) error {
	var err error
	once.Do(func() {
		v := viper.New()
		v.SetConfigType("yaml")
		v.SetConfigName("config")
		v.AddConfigPath(configPath)
		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config: %w", err)
				return
			}
			// Missing file is fine: defaults plus env cover everything.
			err = nil
		}

		v.SetEnvPrefix("DATAPILOT")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}

		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			newCfg := &Config{}
			if reloadErr := v.Unmarshal(newCfg); reloadErr != nil {
				fmt.Printf("Failed to reload config: %v\n", reloadErr)
				return
			}
			mu.Lock()
			cfg = newCfg
			mu.Unlock()
			fmt.Printf("Configuration reloaded from %s\n", e.Name)
		})
	})
	return err
}

// LoadFromFile reads an explicit config file, replacing the active config.
// Used by tests and one-shot tools.
func LoadFromFile(configFile string) error {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	newCfg := &Config{}
	if err := v.Unmarshal(newCfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	cfg = newCfg
	return nil
}

// MustLoad panics on configuration errors. For main() only.
func MustLoad(configPath string) {
	if err := Load(configPath); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// Get returns the active configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Validate checks the settings main() cannot run without.
func (c *Config) Validate() error {
	if c.Gerpgo.BaseURL == "" {
		return fmt.Errorf("gerpgo.base_url is required")
	}
	if c.Gerpgo.AppID == "" || c.Gerpgo.AppKey == "" {
		return fmt.Errorf("gerpgo.app_id and gerpgo.app_key are required")
	}
	if c.Database.Name == "" || c.Database.User == "" {
		return fmt.Errorf("database.name and database.user are required")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}
