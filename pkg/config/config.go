package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds everything one engine process needs: where the bookkeeping
// database lives, outbound mail, cloud credentials, and runtime knobs.
type Config struct {
	Database   DatabaseConfig  `koanf:"database"`
	SMTP       SMTPConfig      `koanf:"smtp"`
	AWS        AWSConfig       `koanf:"aws"`
	Datastore  DatastoreConfig `koanf:"datastore"`
	Log        LogConfig       `koanf:"log"`
	Extensions []string        `koanf:"extensions" env:"CATO_EXTENSIONS"`

	// PollInterval is the status poll cadence for run_task/wait_for_tasks.
	PollInterval time.Duration `koanf:"poll_interval" env:"CATO_POLL_INTERVAL"`
}

type DatabaseConfig struct {
	ConnString string `koanf:"conn_string" env:"CATO_DATABASE_CONN_STRING"`
	Host       string `koanf:"host" env:"CATO_DATABASE_HOST"`
	Port       string `koanf:"port" env:"CATO_DATABASE_PORT"`
	User       string `koanf:"user" env:"CATO_DATABASE_USER"`
	Password   string `koanf:"password" env:"CATO_DATABASE_PASSWORD"`
	Name       string `koanf:"name" env:"CATO_DATABASE_NAME"`
	SSLMode    string `koanf:"ssl_mode" env:"CATO_DATABASE_SSL_MODE"`
}

type SMTPConfig struct {
	Host     string `koanf:"host" env:"CATO_SMTP_HOST"`
	Port     int    `koanf:"port" env:"CATO_SMTP_PORT"`
	User     string `koanf:"user" env:"CATO_SMTP_USER"`
	Password string `koanf:"password" env:"CATO_SMTP_PASSWORD"`
	From     string `koanf:"from" env:"CATO_SMTP_FROM"`
	AdminTo  string `koanf:"admin_to" env:"CATO_SMTP_ADMIN_TO"`
}

type AWSConfig struct {
	AccessKeyID     string `koanf:"access_key_id" env:"CATO_AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `koanf:"secret_access_key" env:"CATO_AWS_SECRET_ACCESS_KEY"`
	Region          string `koanf:"region" env:"CATO_AWS_REGION"`
	Endpoint        string `koanf:"endpoint" env:"CATO_AWS_ENDPOINT"`
}

type DatastoreConfig struct {
	URI      string `koanf:"uri" env:"CATO_DATASTORE_URI"`
	Database string `koanf:"database" env:"CATO_DATASTORE_DATABASE"`
}

type LogConfig struct {
	Level string `koanf:"level" env:"CATO_LOG_LEVEL"`
	JSON  bool   `koanf:"json" env:"CATO_LOG_JSON"`
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "cato",
			Name:    "cato",
			SSLMode: "disable",
		},
		SMTP:         SMTPConfig{Port: 25},
		AWS:          AWSConfig{Region: "us-east-1"},
		Datastore:    DatastoreConfig{Database: "cato"},
		Log:          LogConfig{Level: "info"},
		PollInterval: 5 * time.Second,
	}
}

// Load reads configuration from an optional YAML file and CATO_-prefixed
// environment variables; environment wins over file, file wins over defaults.
// Each environment variable maps to its config key through the `env` struct
// tags, so multi-word keys like CATO_DATABASE_CONN_STRING land on
// database.conn_string rather than being split on every underscore.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: "CATO_",
		TransformFunc: func(key, value string) (string, any) {
			if path, ok := envMappings()[key]; ok {
				return path, value
			}
			// An unmapped CATO_ variable is dropped rather than guessed at.
			return "", value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return cfg, nil
}
