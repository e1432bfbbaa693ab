package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"vadash/internal/dashboard"
	"vadash/internal/domain"
	"vadash/internal/filter"
	"vadash/internal/records"
	"vadash/internal/scale"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const defaultLLMModel = "claude-sonnet-4-5-20250929"

type Config struct {
	FeedURL     string `yaml:"feed_url" env:"FEED_URL"`
	FeedToken   string `yaml:"feed_token" env:"FEED_TOKEN"`
	FeedPath    string `yaml:"feed_path" env:"FEED_PATH"`
	GeoJSONPath string `yaml:"geojson_path" env:"GEOJSON_PATH"`

	CODGroupingsPath string `yaml:"cod_groupings_path" env:"COD_GROUPINGS_PATH"`

	DBPath                     string `yaml:"db_path" env:"DB_PATH"`
	HTTPAddr                   string `yaml:"http_addr" env:"HTTP_ADDR"`
	RefreshSchedule            string `yaml:"refresh_schedule" env:"REFRESH_SCHEDULE"`
	Timezone                   string `yaml:"timezone" env:"TIMEZONE"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds" env:"EXTERNAL_HTTP_TIMEOUT_SECONDS"`
	LogLevel                   string `yaml:"log_level" env:"LOG_LEVEL"`

	SlackBotToken  string `yaml:"slack_bot_token" env:"SLACK_BOT_TOKEN"`
	SlackAppToken  string `yaml:"slack_app_token" env:"SLACK_APP_TOKEN"`
	SlackChannelID string `yaml:"slack_channel_id" env:"SLACK_CHANNEL_ID"`

	AnthropicAPIKey string `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	LLMModel        string `yaml:"llm_model" env:"LLM_MODEL"`

	CombineMode          string   `yaml:"combine_mode" env:"COMBINE_MODE"`
	GeoLabelMode         string   `yaml:"geo_label_mode" env:"GEO_LABEL_MODE"`
	LabelWidth           int      `yaml:"label_width" env:"LABEL_WIDTH"`
	ScaleBuckets         int      `yaml:"scale_buckets" env:"SCALE_BUCKETS"`
	ScaleFloor           *float64 `yaml:"scale_floor" env:"SCALE_FLOOR"`
	ScaleMargin          *float64 `yaml:"scale_margin" env:"SCALE_MARGIN"`
	SmallSampleThreshold *int     `yaml:"small_sample_threshold" env:"SMALL_SAMPLE_THRESHOLD"`
	DefaultLevel         string   `yaml:"default_level" env:"DEFAULT_LEVEL"`

	Location *time.Location `yaml:"-" env:"-"` // computed from Timezone
}

// Load reads config.yaml (or CONFIG_PATH), applies environment overrides,
// fills defaults and validates.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading %s: %w", configPath, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./vadash.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.ExternalHTTPTimeoutSeconds == 0 {
		c.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LLMModel == "" {
		c.LLMModel = defaultLLMModel
	}
	if c.CombineMode == "" {
		c.CombineMode = string(filter.MatchAll)
	}
	if c.GeoLabelMode == "" {
		c.GeoLabelMode = string(records.FirstToken)
	}
	if c.LabelWidth == 0 {
		c.LabelWidth = 15
	}
	if c.ScaleBuckets == 0 {
		c.ScaleBuckets = len(scale.DefaultPalette)
	}
	if c.ScaleFloor == nil {
		v := float64(scale.DefaultFloor)
		c.ScaleFloor = &v
	}
	if c.ScaleMargin == nil {
		v := float64(scale.DefaultMargin)
		c.ScaleMargin = &v
	}
	if c.SmallSampleThreshold == nil {
		v := dashboard.DefaultSmallSampleThreshold
		c.SmallSampleThreshold = &v
	}
	if c.DefaultLevel == "" {
		c.DefaultLevel = string(domain.ProvinceLevel)
	}
}

func (c *Config) validate() error {
	if c.FeedURL == "" && c.FeedPath == "" {
		return fmt.Errorf("one of feed_url or feed_path must be set (via config.yaml or env var)")
	}
	if (c.SlackBotToken == "") != (c.SlackAppToken == "") {
		return fmt.Errorf("slack_bot_token and slack_app_token must be set together")
	}
	if c.SlackChannelID != "" && c.SlackBotToken == "" {
		return fmt.Errorf("slack_channel_id is set but slack_bot_token is not")
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}

	if c.RefreshSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid refresh_schedule '%s': %w", c.RefreshSchedule, err)
		}
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err)
	}
	if _, err := filter.ParseMode(c.CombineMode); err != nil {
		return fmt.Errorf("invalid combine_mode: %w", err)
	}
	if _, ok := records.ParseGeoLabelMode(c.GeoLabelMode); !ok {
		return fmt.Errorf("invalid geo_label_mode '%s': must be first_token or strip_level", c.GeoLabelMode)
	}
	if _, ok := domain.ParseLevel(c.DefaultLevel); !ok {
		return fmt.Errorf("invalid default_level '%s': must be province or district", c.DefaultLevel)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.LabelWidth < 1 {
		return fmt.Errorf("invalid label_width '%d': must be >= 1", c.LabelWidth)
	}
	if c.ScaleBuckets < 2 || c.ScaleBuckets > len(scale.DefaultPalette) {
		return fmt.Errorf("invalid scale_buckets '%d': must be between 2 and %d", c.ScaleBuckets, len(scale.DefaultPalette))
	}
	if *c.ScaleMargin < 0 {
		return fmt.Errorf("invalid scale_margin '%g': must be >= 0", *c.ScaleMargin)
	}
	if *c.SmallSampleThreshold < 0 {
		return fmt.Errorf("invalid small_sample_threshold '%d': must be >= 0", *c.SmallSampleThreshold)
	}
	return nil
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func (c Config) LLMConfigured() bool {
	return c.AnthropicAPIKey != ""
}

// DashboardOptions converts the engine settings. Call only on a validated
// Config.
func (c Config) DashboardOptions() dashboard.Options {
	mode, _ := filter.ParseMode(c.CombineMode)
	geoMode, _ := records.ParseGeoLabelMode(c.GeoLabelMode)
	level, _ := domain.ParseLevel(c.DefaultLevel)
	return dashboard.Options{
		CombineMode:  mode,
		GeoLabelMode: geoMode,
		LabelWidth:   c.LabelWidth,
		Scale: scale.Options{
			Buckets: c.ScaleBuckets,
			Floor:   *c.ScaleFloor,
			Margin:  *c.ScaleMargin,
		},
		SmallSampleThreshold: *c.SmallSampleThreshold,
		DefaultLevel:         level,
	}
}
