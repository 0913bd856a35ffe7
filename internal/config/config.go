package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/alert-escalation/internal/escalation"
)

const envPrefix = "ALERTSVC"

// Config holds the service configuration
type Config struct {
	AppName        string
	LogDevelopment bool

	Server struct {
		Addr         string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
	}

	Auth struct {
		Secret   string
		TokenTTL time.Duration
		Username string
		Password string
	}

	Storage struct {
		Driver string
		DSN    string
	}

	RulesPath string

	Escalation struct {
		Interval     time.Duration
		SweepTimeout time.Duration
		Mode         escalation.Mode
		Thresholds   escalation.Thresholds
	}

	Burst struct {
		Window    time.Duration
		Threshold int
	}

	NATS struct {
		URL            string
		Stream         string
		MaxReconnects  int
		ReconnectWait  time.Duration
		ConnectTimeout time.Duration
	}

	MonitorInterval time.Duration
}

func setDefaults(v *viper.Viper) {
	th := escalation.DefaultThresholds()

	v.SetDefault("app.name", "alert-escalation")
	v.SetDefault("log.development", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "alerts.db")
	v.SetDefault("rules.path", "config/rules.json")
	v.SetDefault("escalation.interval", 10*time.Second)
	v.SetDefault("escalation.sweep_timeout", 30*time.Second)
	v.SetDefault("escalation.mode", string(escalation.ModeRules))
	v.SetDefault("escalation.thresholds.critical_level1", th.Critical.Level1)
	v.SetDefault("escalation.thresholds.critical_level2", th.Critical.Level2)
	v.SetDefault("escalation.thresholds.critical_close", th.Critical.Close)
	v.SetDefault("escalation.thresholds.warning_level1", th.Warning.Level1)
	v.SetDefault("escalation.thresholds.warning_close", th.Warning.Close)
	v.SetDefault("escalation.thresholds.info_close", th.Info.Close)
	v.SetDefault("burst.window", 60*time.Minute)
	v.SetDefault("burst.threshold", 2)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "ALERTS")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("monitor.interval", 30*time.Second)
}

// Load reads the configuration. An explicit path must exist; otherwise config.yaml is
// searched in ./config and the working directory and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	cfg.AppName = v.GetString("app.name")
	cfg.LogDevelopment = v.GetBool("log.development")

	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")

	cfg.Auth.Secret = v.GetString("auth.secret")
	cfg.Auth.TokenTTL = v.GetDuration("auth.token_ttl")
	cfg.Auth.Username = v.GetString("auth.username")
	cfg.Auth.Password = v.GetString("auth.password")

	cfg.Storage.Driver = strings.ToLower(v.GetString("storage.driver"))
	cfg.Storage.DSN = v.GetString("storage.dsn")

	cfg.RulesPath = v.GetString("rules.path")

	mode, err := escalation.ParseMode(strings.ToLower(v.GetString("escalation.mode")))
	if err != nil {
		return nil, err
	}
	cfg.Escalation.Mode = mode
	cfg.Escalation.Interval = v.GetDuration("escalation.interval")
	cfg.Escalation.SweepTimeout = v.GetDuration("escalation.sweep_timeout")
	cfg.Escalation.Thresholds = escalation.Thresholds{
		Critical: escalation.CriticalThresholds{
			Level1: v.GetDuration("escalation.thresholds.critical_level1"),
			Level2: v.GetDuration("escalation.thresholds.critical_level2"),
			Close:  v.GetDuration("escalation.thresholds.critical_close"),
		},
		Warning: escalation.WarningThresholds{
			Level1: v.GetDuration("escalation.thresholds.warning_level1"),
			Close:  v.GetDuration("escalation.thresholds.warning_close"),
		},
		Info: escalation.InfoThresholds{
			Close: v.GetDuration("escalation.thresholds.info_close"),
		},
	}

	cfg.Burst.Window = v.GetDuration("burst.window")
	cfg.Burst.Threshold = v.GetInt("burst.threshold")

	cfg.NATS.URL = v.GetString("nats.url")
	cfg.NATS.Stream = v.GetString("nats.stream")
	cfg.NATS.MaxReconnects = v.GetInt("nats.max_reconnects")
	cfg.NATS.ReconnectWait = v.GetDuration("nats.reconnect_wait")
	cfg.NATS.ConnectTimeout = v.GetDuration("nats.connect_timeout")

	cfg.MonitorInterval = v.GetDuration("monitor.interval")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return errors.New("storage.dsn is required")
	}
	if c.Escalation.Interval <= 0 {
		return errors.New("escalation.interval must be positive")
	}
	if err := c.Escalation.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Burst.Window <= 0 || c.Burst.Threshold <= 0 {
		return errors.New("burst.window and burst.threshold must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	return nil
}
