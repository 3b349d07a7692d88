package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: from-file
scheduler:
  poll_interval: 30s
  timezone: Europe/Berlin
mail:
  smtp:
    host: smtp.example.com
    port: 465
    encryption: ssl
  from: reports@example.com
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RunTimeout)
	assert.Equal(t, 1, cfg.Scheduler.Workers)
	assert.Equal(t, "smtp.example.com", cfg.Mail.SMTP.Host)
	assert.Equal(t, 465, cfg.Mail.SMTP.Port)
	assert.True(t, cfg.Mail.Fallback)
	assert.Equal(t, 8080, cfg.Server.Port)
	require.NoError(t, cfg.Validate())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "mail:\n  from: reports@example.com\n")
	t.Setenv("REPORTCAST_AUTH_JWT_SECRET", "from-env")
	t.Setenv("REPORTCAST_MAIL_SMTP_HOST", "relay.example.com")
	t.Setenv("REPORTCAST_SCHEDULER_WORKERS", "4")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "relay.example.com", cfg.Mail.SMTP.Host)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Auth.JWTSecret = "secret"
		cfg.Scheduler.PollInterval = time.Minute
		cfg.Scheduler.RunTimeout = time.Minute
		cfg.Mail.SMTP.Enabled = true
		cfg.Mail.SMTP.Host = "smtp.example.com"
		cfg.Mail.From = "reports@example.com"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"no secret":        func(c *Config) { c.Auth.JWTSecret = "" },
		"no poll interval": func(c *Config) { c.Scheduler.PollInterval = 0 },
		"no run timeout":   func(c *Config) { c.Scheduler.RunTimeout = 0 },
		"smtp without host": func(c *Config) {
			c.Mail.SMTP.Host = ""
		},
		"no channel at all": func(c *Config) {
			c.Mail.SMTP.Enabled = false
			c.Mail.SendmailPath = ""
		},
		"no sender":    func(c *Config) { c.Mail.From = "" },
		"bad timezone": func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
