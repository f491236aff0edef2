package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"optiondesk/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Upstox   UpstoxConfig   `json:"upstox"`
	Market   MarketConfig   `json:"market"`
	Auth     AuthConfig     `json:"auth"`
}

type ServerConfig struct {
	Port         string `json:"port"`
	AllowOrigin  string `json:"allow_origin"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type PostgresConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	User            string `json:"user"`
	Password        string `json:"password"`
	DBName          string `json:"db_name"`
	MaxConnections  int    `json:"max_connections"`
	MinConnections  int    `json:"min_connections"`
	MaxConnLifetime string `json:"max_conn_lifetime"`
	MaxConnIdleTime string `json:"max_conn_idle_time"`

	maxConnLifetimeDuration time.Duration
	maxConnIdleTimeDuration time.Duration
}

type RedisConfig struct {
	Host           string `json:"host"`
	Port           string `json:"port"`
	Password       string `json:"password"`
	MaxConnections int    `json:"max_connections"`
	MinConnections int    `json:"min_connections"`
	ConnectTimeout string `json:"connect_timeout"`

	connectTimeoutDuration time.Duration
}

type UpstoxConfig struct {
	BaseURL        string `json:"base_url"`
	AuthURL        string `json:"auth_url"`
	RedirectURI    string `json:"redirect_uri"`
	InstrumentsURL string `json:"instruments_url"`
}

type MarketConfig struct {
	PollInterval string   `json:"poll_interval"`
	Indices      []string `json:"indices"`

	pollIntervalDuration time.Duration
}

type AuthConfig struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	JWTSecret string `json:"jwt_secret"`
	TokenTTL  string `json:"token_ttl"`
}

// GetConfig loads configuration and exits on failure; the process cannot
// run without it.
func GetConfig() *Config {
	log := logger.GetLogger()

	// .env values take precedence for secrets so the JSON file can stay
	// checked in without credentials.
	_ = godotenv.Load()

	workDir, err := os.Getwd()
	if err != nil {
		log.Error("Failed to get working directory", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	configPath := filepath.Join(workDir, "config", "config.json")
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		log.Error("Failed to read config file", map[string]interface{}{
			"error": err.Error(),
			"path":  configPath,
		})
		os.Exit(1)
	}

	var config Config
	if err := json.Unmarshal(configFile, &config); err != nil {
		log.Error("Failed to parse config file", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	config.applyEnvOverrides()
	config.applyDefaults()

	if err := config.parseDurations(); err != nil {
		log.Error("Invalid configuration", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	log.Info("Successfully loaded config", map[string]interface{}{
		"path": configPath,
	})

	return &config
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("APP_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("APP_PASSWORD"); v != "" {
		c.Auth.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Upstox.BaseURL == "" {
		c.Upstox.BaseURL = "https://api.upstox.com/v2"
	}
	if c.Upstox.AuthURL == "" {
		c.Upstox.AuthURL = "https://api.upstox.com/v2/login/authorization/dialog"
	}
	if c.Market.PollInterval == "" {
		c.Market.PollInterval = "2s"
	}
	if len(c.Market.Indices) == 0 {
		c.Market.Indices = []string{"NSE_INDEX|Nifty 50"}
	}
	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = "24h"
	}
}

func (c *Config) parseDurations() error {
	if err := c.Postgres.ToDuration(); err != nil {
		return err
	}
	if err := c.Redis.ToDuration(); err != nil {
		return err
	}
	return c.Market.ToDuration()
}

func (p *PostgresConfig) ToDuration() error {
	var err error
	if p.MaxConnLifetime == "" {
		p.MaxConnLifetime = "1h"
	}
	if p.MaxConnIdleTime == "" {
		p.MaxConnIdleTime = "30m"
	}
	p.maxConnLifetimeDuration, err = time.ParseDuration(p.MaxConnLifetime)
	if err != nil {
		return fmt.Errorf("invalid max_conn_lifetime duration: %w", err)
	}
	p.maxConnIdleTimeDuration, err = time.ParseDuration(p.MaxConnIdleTime)
	if err != nil {
		return fmt.Errorf("invalid max_conn_idle_time duration: %w", err)
	}
	return nil
}

func (p *PostgresConfig) GetMaxConnLifetime() time.Duration {
	return p.maxConnLifetimeDuration
}

func (p *PostgresConfig) GetMaxConnIdleTime() time.Duration {
	return p.maxConnIdleTimeDuration
}

func (r *RedisConfig) ToDuration() error {
	var err error
	if r.ConnectTimeout == "" {
		r.ConnectTimeout = "5s"
	}
	r.connectTimeoutDuration, err = time.ParseDuration(r.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("invalid connect_timeout duration: %w", err)
	}
	return nil
}

func (r *RedisConfig) GetConnectTimeout() time.Duration {
	return r.connectTimeoutDuration
}

func (m *MarketConfig) ToDuration() error {
	var err error
	m.pollIntervalDuration, err = time.ParseDuration(m.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll_interval duration: %w", err)
	}
	return nil
}

func (m *MarketConfig) GetPollInterval() time.Duration {
	return m.pollIntervalDuration
}
