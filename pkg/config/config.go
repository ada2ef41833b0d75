// Package config provides configuration management for the indexer.
// It loads environment variables (and a .env file when present) and makes
// them available throughout the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// Config holds all configuration values
type Config struct {
	// Discord
	BotToken   string
	DevGuildID string

	// Watched channels, raw comma-separated snowflakes
	GameLogChannels    string
	DiscordLogChannels string

	// Index
	DBPath          string
	ScanConcurrency int64
	QueueSize       int
	RescanSchedule  string
	ResumeBackfill  bool

	// MongoDB mirror, disabled when MongoDBURL is empty
	MongoDBURL string
	DBName     string

	// MQTT, disabled when MQTTHost is empty
	MQTTHost     string
	MQTTPort     string
	MQTTUser     string
	MQTTPassword string

	// Web Server
	Port     string
	APIToken string

	// Environment
	Environment string
	LogLevel    string

	// Webhooks
	ErrorWebhook string
	LogsWebhook  string

	// errors found while parsing numeric and boolean keys
	parseErrs []error
}

var (
	Version   = "Dev-Local"
	BuildTime = "Hoy"
)

var (
	cfg     *Config
	cfgOnce sync.Once
)

// resetForTesting resets the configuration for testing purposes.
// This function should only be called from test code.
func resetForTesting() {
	cfg = nil
	cfgOnce = sync.Once{}
}

func loadConfig() {
	_ = godotenv.Load()

	c := &Config{
		BotToken:   getEnv("botToken", ""),
		DevGuildID: getEnv("devGuildId", ""),

		GameLogChannels:    getEnv("GAME_LOG_CHANNELS", ""),
		DiscordLogChannels: getEnv("DISCORD_LOG_CHANNELS", ""),

		DBPath:         getEnv("MODLOG_DB_PATH", "./dbs/logging_db"),
		RescanSchedule: getEnv("RESCAN_SCHEDULE", "@hourly"),

		MongoDBURL: getEnv("mongodbUrl", ""),
		DBName:     getEnv("dbName", "PancyModLogs"),

		MQTTHost:     getEnv("MQTT_Host", ""),
		MQTTPort:     getEnv("MQTT_Port", "1883"),
		MQTTUser:     getEnv("MQTT_User", ""),
		MQTTPassword: getEnv("MQTT_Password", ""),

		Port:     getEnv("PORT", "3000"),
		APIToken: getEnv("API_TOKEN", ""),

		Environment: getEnv("enviroment", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		ErrorWebhook: getEnv("errorWebhook", ""),
		LogsWebhook:  getEnv("logsWebhook", ""),
	}

	var err error
	if c.ScanConcurrency, err = strconv.ParseInt(getEnv("SCAN_CONCURRENCY", "100"), 10, 64); err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("SCAN_CONCURRENCY: %w", err))
	}
	if c.QueueSize, err = strconv.Atoi(getEnv("QUEUE_SIZE", "256")); err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("QUEUE_SIZE: %w", err))
	}
	if c.ResumeBackfill, err = strconv.ParseBool(getEnv("RESUME_BACKFILL", "false")); err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("RESUME_BACKFILL: %w", err))
	}

	cfg = c
}

// Load initializes the configuration from environment variables and
// validates it.
func Load() (*Config, error) {
	cfgOnce.Do(loadConfig)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Get returns the current configuration
func Get() *Config {
	cfgOnce.Do(loadConfig)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsProd returns true if the environment is production
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}

// ParseChannelList parses a comma-separated list of channel snowflakes.
// Blank entries are ignored.
func ParseChannelList(raw string) ([]uint64, error) {
	var ids []uint64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := models.ParseSnowflake(part)
		if err != nil {
			return nil, fmt.Errorf("canal inválido %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Channels returns every watched channel with the log type it produces.
func (c *Config) Channels() (map[uint64]models.LogType, error) {
	game, err := ParseChannelList(c.GameLogChannels)
	if err != nil {
		return nil, fmt.Errorf("GAME_LOG_CHANNELS: %w", err)
	}
	discord, err := ParseChannelList(c.DiscordLogChannels)
	if err != nil {
		return nil, fmt.Errorf("DISCORD_LOG_CHANNELS: %w", err)
	}

	out := make(map[uint64]models.LogType, len(game)+len(discord))
	for _, id := range game {
		out[id] = models.LogTypeGame
	}
	for _, id := range discord {
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("el canal %d está en GAME_LOG_CHANNELS y DISCORD_LOG_CHANNELS", id)
		}
		out[id] = models.LogTypeDiscord
	}
	return out, nil
}

// Validate checks the values the indexer can't start without.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)

	if _, err := c.Channels(); err != nil {
		errs = append(errs, err)
	}
	if c.ScanConcurrency < 1 {
		errs = append(errs, fmt.Errorf("SCAN_CONCURRENCY debe ser mayor que 0, es %d", c.ScanConcurrency))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_SIZE debe ser mayor que 0, es %d", c.QueueSize))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("MODLOG_DB_PATH no puede estar vacío"))
	}
	return errors.Join(errs...)
}
