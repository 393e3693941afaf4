package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kyzlolabs/weatherbot/internal/risk"
)

// City is one tradable location: its Kalshi daily-high series and the
// coordinates the weather feeds use.
type City struct {
	Name         string  `yaml:"name"`
	SeriesTicker string  `yaml:"series_ticker"`
	Lat          float64 `yaml:"lat"`
	Lon          float64 `yaml:"lon"`
	Timezone     string  `yaml:"timezone"`
}

func defaultCities() []City {
	return []City{
		{Name: "New York", SeriesTicker: "KXHIGHNY", Lat: 40.7128, Lon: -74.0060, Timezone: "America/New_York"},
		{Name: "Chicago", SeriesTicker: "KXHIGHCHI", Lat: 41.8781, Lon: -87.6298, Timezone: "America/Chicago"},
		{Name: "Miami", SeriesTicker: "KXHIGHMI", Lat: 25.7617, Lon: -80.1918, Timezone: "America/New_York"},
		{Name: "Austin", SeriesTicker: "KXHIGHAT", Lat: 30.2672, Lon: -97.7431, Timezone: "America/Chicago"},
	}
}

type Paths struct {
	Ledger   string `yaml:"ledger"`
	Stats    string `yaml:"stats"`
	Prompt   string `yaml:"prompt"`
	Lockfile string `yaml:"lockfile"`
}

type EngineConfig struct {
	MinMinutesToExpiry  float64 `yaml:"min_minutes_to_expiry"`
	MaxShares           int     `yaml:"max_shares"`
	PendingStaleMinutes int     `yaml:"pending_stale_minutes"`
	RecentTrades        int     `yaml:"recent_trades"`
}

type RulesConfig struct {
	MinNetEdge    float64 `yaml:"min_net_edge"`
	TakerFeeRate  float64 `yaml:"taker_fee_rate"`
	PriceCapCents int     `yaml:"price_cap_cents"`
	MinVolume24h  int64   `yaml:"min_volume_24h"`
	MinOpenInt    int64   `yaml:"min_open_interest"`
	BaseShares    int     `yaml:"base_shares"`
	StepShares    int     `yaml:"step_shares"`
	StepEdge      float64 `yaml:"step_edge"`
}

type KalshiConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	MaxRetries     int    `yaml:"max_retries"`
	BackoffBaseMs  int    `yaml:"backoff_base_ms"`

	// From env, never from the config file.
	KeyID         string `yaml:"-"`
	PrivateKeyPEM string `yaml:"-"`
}

type OpenRouterConfig struct {
	Model          string  `yaml:"model"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`

	APIKey string `yaml:"-"`
}

type WeatherConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Root is the full bot configuration: a yaml file for tunables, environment
// for secrets and mode switches.
type Root struct {
	LogLevel    string           `yaml:"log_level"`
	Brain       string           `yaml:"brain"` // "rules" | "openrouter"
	PaperTrade  bool             `yaml:"paper_trade"`
	ConfirmLive bool             `yaml:"-"` // env only, deliberate friction
	Paths       Paths            `yaml:"paths"`
	Risk        risk.Limits      `yaml:"risk"`
	Engine      EngineConfig     `yaml:"engine"`
	Rules       RulesConfig      `yaml:"rules"`
	Kalshi      KalshiConfig     `yaml:"kalshi"`
	OpenRouter  OpenRouterConfig `yaml:"openrouter"`
	Weather     WeatherConfig    `yaml:"weather"`
	Cities      []City           `yaml:"cities"`
}

// Load reads the optional yaml file, applies defaults, then environment
// overrides. An empty path runs on defaults alone.
func Load(path string) (Root, error) {
	c := Root{PaperTrade: true}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, err
		}
	}
	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Brain == "" {
		c.Brain = "rules"
	}
	if c.Paths.Ledger == "" {
		c.Paths.Ledger = "data/ledger.jsonl"
	}
	if c.Paths.Stats == "" {
		c.Paths.Stats = "data/stats.json"
	}
	if c.Paths.Prompt == "" {
		c.Paths.Prompt = "data/prompt.md"
	}
	if c.Paths.Lockfile == "" {
		c.Paths.Lockfile = "/tmp/weatherbot.lock"
	}
	if c.Risk.MaxDailyLossCents == 0 {
		c.Risk.MaxDailyLossCents = 1000
	}
	if c.Risk.MaxConsecutiveLosses == 0 {
		c.Risk.MaxConsecutiveLosses = 7
	}
	if c.Risk.MinBalanceCents == 0 {
		c.Risk.MinBalanceCents = 500
	}
	if c.Engine.MinMinutesToExpiry == 0 {
		c.Engine.MinMinutesToExpiry = 2.0
	}
	if c.Engine.MaxShares == 0 {
		c.Engine.MaxShares = 25
	}
	if c.Engine.PendingStaleMinutes == 0 {
		c.Engine.PendingStaleMinutes = 30
	}
	if c.Engine.RecentTrades == 0 {
		c.Engine.RecentTrades = 20
	}
	if len(c.Cities) == 0 {
		c.Cities = defaultCities()
	}
}

func (c *Root) applyEnv() error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BRAIN"); v != "" {
		c.Brain = v
	}
	if v := os.Getenv("PAPER_TRADE"); v != "" {
		c.PaperTrade = v != "false"
	}
	c.ConfirmLive = os.Getenv("CONFIRM_LIVE") == "true"

	c.Kalshi.KeyID = os.Getenv("KALSHI_API_KEY_ID")
	pemPath := os.Getenv("KALSHI_PRIVATE_KEY_PATH")
	if pemPath == "" {
		pemPath = "./kalshi_private_key.pem"
	}
	if pem, err := os.ReadFile(pemPath); err == nil {
		c.Kalshi.PrivateKeyPEM = string(pem)
	}
	c.OpenRouter.APIKey = os.Getenv("OPENROUTER_API_KEY")

	if filter := os.Getenv("CITIES"); filter != "" {
		allowed := map[string]bool{}
		for _, s := range strings.Split(filter, ",") {
			allowed[strings.TrimSpace(s)] = true
		}
		var cities []City
		for _, city := range c.Cities {
			if allowed[city.SeriesTicker] {
				cities = append(cities, city)
			}
		}
		if len(cities) == 0 {
			return fmt.Errorf("CITIES=%q matches no configured city", filter)
		}
		c.Cities = cities
	}
	return nil
}
