package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `yaml:"app"`
	Gateways  map[string]GatewayConfig  `yaml:"gateways"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Storage   StorageConfig             `yaml:"storage"`
	Session   SessionConfig             `yaml:"session"`
	RateLimit RateLimitConfig           `yaml:"rate_limit"`
	Flows     FlowsConfig               `yaml:"flows"`
	Reminders []ReminderConfig          `yaml:"reminders"`
	AdminIDs  []string                  `yaml:"admin_ids"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	FlowsDir string `yaml:"flows_dir"`
}

type GatewayConfig struct {
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type SessionConfig struct {
	TimeoutSeconds  int  `yaml:"timeout_seconds"`
	SweepSeconds    int  `yaml:"sweep_seconds"`
	FlushOnShutdown bool `yaml:"flush_on_shutdown"`
}

type RateLimitConfig struct {
	Limit         int  `yaml:"limit"`
	PeriodSeconds int  `yaml:"period_seconds"`
	Notify        bool `yaml:"notify"`
}

// FlowsConfig controls what happens when a user starts one flow while
// another is active: "reject" refuses the new flow, "replace" abandons
// the old session and starts the new one.
type FlowsConfig struct {
	OnConflict string `yaml:"on_conflict"`
}

type ReminderConfig struct {
	Job  string `yaml:"job"`
	Cron string `yaml:"cron"`
}

// Load reads the YAML config file, then applies .env / environment
// overrides for secrets so tokens never have to live in the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.Gateways == nil {
		c.Gateways = map[string]GatewayConfig{}
	}
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		g := c.Gateways["telegram"]
		g.Token = tok
		g.Enabled = true
		c.Gateways["telegram"] = g
	}
	if tok := os.Getenv("DISCORD_BOT_TOKEN"); tok != "" {
		g := c.Gateways["discord"]
		g.Token = tok
		g.Enabled = true
		c.Gateways["discord"] = g
	}
	if key := os.Getenv("ADVICE_API_KEY"); key != "" {
		name, p := c.DefaultProvider()
		if name != "" {
			p.APIKey = key
			c.Providers[name] = p
		}
	}
	if ids := os.Getenv("ADMIN_IDS"); ids != "" {
		c.AdminIDs = c.AdminIDs[:0]
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.AdminIDs = append(c.AdminIDs, id)
			}
		}
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		c.Storage.Path = path
	}
	if v := os.Getenv("SESSION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.TimeoutSeconds = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "mindwell"
	}
	if c.App.FlowsDir == "" {
		c.App.FlowsDir = "./flows"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./mindwell.db"
	}
	if c.Session.TimeoutSeconds <= 0 {
		c.Session.TimeoutSeconds = 3600
	}
	if c.Session.SweepSeconds <= 0 {
		c.Session.SweepSeconds = 60
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 30
	}
	if c.RateLimit.PeriodSeconds <= 0 {
		c.RateLimit.PeriodSeconds = 60
	}
	if c.Flows.OnConflict == "" {
		c.Flows.OnConflict = "reject"
	}
}

func (c *Config) validate() error {
	if c.Flows.OnConflict != "reject" && c.Flows.OnConflict != "replace" {
		return fmt.Errorf("flows.on_conflict must be \"reject\" or \"replace\", got %q", c.Flows.OnConflict)
	}
	for _, r := range c.Reminders {
		if r.Job == "" || r.Cron == "" {
			return fmt.Errorf("reminder entries need both job and cron, got job=%q cron=%q", r.Job, r.Cron)
		}
	}
	return nil
}

func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Session.SweepSeconds) * time.Second
}

func (c *Config) RatePeriod() time.Duration {
	return time.Duration(c.RateLimit.PeriodSeconds) * time.Second
}

// DefaultProvider returns the first enabled advice provider.
func (c *Config) DefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// TelegramConfig returns telegram gateway config if enabled.
func (c *Config) TelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}

// DiscordConfig returns discord gateway config if enabled.
func (c *Config) DiscordConfig() (GatewayConfig, bool) {
	d, ok := c.Gateways["discord"]
	if ok && d.Enabled && d.Token != "" {
		return d, true
	}
	return GatewayConfig{}, false
}
