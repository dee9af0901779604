// Package config loads runtime settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Postgres holds shared durable store connection settings.
type Postgres struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// Config holds everything the binaries need to run a session or gateway.
type Config struct {
	RoomID   string `yaml:"room_id"`
	GameType string `yaml:"game_type"`

	Participant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		Role string `yaml:"role"`
	} `yaml:"participant"`

	NATSURL          string        `yaml:"nats_url"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	GracePeriod      time.Duration `yaml:"grace_period"`

	Postgres       Postgres `yaml:"postgres"`
	LocalStorePath string   `yaml:"local_store_path"`

	GatewayAddr string `yaml:"gateway_addr"`
}

// Load reads the YAML file at path (skipped when empty or missing) and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{
		NATSURL:          "nats://localhost:4222",
		AutosaveInterval: 30 * time.Second,
		GracePeriod:      5 * time.Second,
		LocalStorePath:   "career-creator.db",
		GatewayAddr:      ":8090",
		Postgres: Postgres{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "career_creator",
			SSLMode:  "disable",
		},
	}
	cfg.Participant.Role = "visitor"
	return cfg
}

func (c *Config) applyEnv() {
	c.RoomID = getEnv("ROOM_ID", c.RoomID)
	c.GameType = getEnv("GAME_TYPE", c.GameType)
	c.Participant.ID = getEnv("PARTICIPANT_ID", c.Participant.ID)
	c.Participant.Name = getEnv("PARTICIPANT_NAME", c.Participant.Name)
	c.Participant.Role = getEnv("PARTICIPANT_ROLE", c.Participant.Role)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.LocalStorePath = getEnv("LOCAL_STORE_PATH", c.LocalStorePath)
	c.GatewayAddr = getEnv("GATEWAY_ADDR", c.GatewayAddr)

	c.Postgres.Host = getEnv("DB_HOST", c.Postgres.Host)
	c.Postgres.Port = getEnvAsInt("DB_PORT", c.Postgres.Port)
	c.Postgres.User = getEnv("DB_USER", c.Postgres.User)
	c.Postgres.Password = getEnv("DB_PASSWORD", c.Postgres.Password)
	c.Postgres.Database = getEnv("DB_NAME", c.Postgres.Database)
	c.Postgres.SSLMode = getEnv("DB_SSLMODE", c.Postgres.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
