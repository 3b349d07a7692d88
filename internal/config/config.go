package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port int
	}
	Database struct {
		Path string
	}
	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	}
	Scheduler struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
		RunTimeout   time.Duration `mapstructure:"run_timeout"`
		Workers      int
		Timezone     string
		RetryBase    time.Duration `mapstructure:"retry_base"`
		RetryMax     time.Duration `mapstructure:"retry_max"`
	}
	Mail struct {
		SMTP struct {
			Enabled    bool
			Host       string
			Port       int
			Username   string
			Password   string
			Encryption string
		}
		Fallback     bool
		SendmailPath string `mapstructure:"sendmail_path"`
		From         string
		FromName     string `mapstructure:"from_name"`
		ReplyTo      string `mapstructure:"reply_to"`
	}
	Export struct {
		Dir string
	}
	Alerts struct {
		Slack struct {
			Token   string
			Channel string
		}
	}
	Log struct {
		Level  string
		Pretty bool
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "data/reportcast.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("scheduler.poll_interval", time.Minute)
	v.SetDefault("scheduler.run_timeout", 5*time.Minute)
	v.SetDefault("scheduler.workers", 1)
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("scheduler.retry_base", time.Minute)
	v.SetDefault("scheduler.retry_max", time.Hour)
	v.SetDefault("mail.smtp.enabled", true)
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.username", "")
	v.SetDefault("mail.smtp.password", "")
	v.SetDefault("mail.smtp.encryption", "starttls")
	v.SetDefault("mail.fallback", true)
	v.SetDefault("mail.sendmail_path", "/usr/sbin/sendmail")
	v.SetDefault("mail.from", "reports@localhost")
	v.SetDefault("mail.from_name", "Scheduled Reports")
	v.SetDefault("mail.reply_to", "")
	v.SetDefault("export.dir", filepath.Join(os.TempDir(), "reportcast"))
	v.SetDefault("alerts.slack.token", "")
	v.SetDefault("alerts.slack.channel", "#reports")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// LoadConfig reads config.yaml from the working directory or
// /etc/reportcast, with REPORTCAST_* environment overrides. When no file
// exists a default one is written next to the binary's working directory.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REPORTCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reportcast")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := v.SafeWriteConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to write default config: %v\n", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks what the scheduler daemon needs to start.
func (c *Config) Validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	if c.Scheduler.RunTimeout <= 0 {
		return fmt.Errorf("scheduler.run_timeout must be positive")
	}
	if c.Mail.SMTP.Enabled && c.Mail.SMTP.Host == "" {
		return fmt.Errorf("mail.smtp.host is required when mail.smtp.enabled is true")
	}
	if !c.Mail.SMTP.Enabled && c.Mail.SendmailPath == "" {
		return fmt.Errorf("mail.sendmail_path is required when smtp is disabled")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Mail.From == "" {
		return fmt.Errorf("mail.from is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves scheduler.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" || c.Scheduler.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}
