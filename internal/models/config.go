package models

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	StorageDriverLocal = "local"
	StorageDriverMinio = "minio"
)

type Config struct {
	ServerAddr  string         `yaml:"server_addr"`
	PublicURL   string         `yaml:"public_url"`
	DatabaseURL string         `yaml:"database_url"`
	LogLevel    string         `yaml:"log_level"`
	JWTSecret   string         `yaml:"jwt_secret"`
	Storage     StorageConfig  `yaml:"storage"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Source      SourceConfig   `yaml:"source"`
	Workflow    WorkflowConfig `yaml:"workflow"`
}

type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Root   string      `yaml:"root"`
	Minio  MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// KafkaConfig enables asynchronous file cleanup when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type SourceConfig struct {
	// LocalRoot is the only directory local source paths may be read from.
	// Empty disables local sources.
	LocalRoot    string        `yaml:"local_root"`
	MaxBytes     int64         `yaml:"max_bytes"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// DefaultMaxPixels bounds the pixel count of sources and resize targets.
const DefaultMaxPixels = 100_000_000

type WorkflowConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent"`
	// MaxPixels caps width*height of a decoded source and of a resize target.
	MaxPixels     int64 `yaml:"max_pixels"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		ServerAddr: ":8080",
		LogLevel:   "info",
		Storage: StorageConfig{
			Driver: StorageDriverLocal,
			Root:   "./public",
			Minio:  MinioConfig{Bucket: "images"},
		},
		Kafka: KafkaConfig{
			Topic:   "image-cleanup",
			GroupID: "image-cleanup-group",
		},
		Source: SourceConfig{
			MaxBytes:     20 << 20,
			FetchTimeout: 15 * time.Second,
		},
		Workflow: WorkflowConfig{MaxConcurrent: 4, MaxPixels: DefaultMaxPixels},
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	switch c.Storage.Driver {
	case StorageDriverLocal:
		if c.Storage.Root == "" {
			errs = append(errs, errors.New("storage.root is required for the local driver"))
		}
	case StorageDriverMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			errs = append(errs, errors.New("storage.minio.endpoint and storage.minio.bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Source.MaxBytes <= 0 {
		errs = append(errs, errors.New("source.max_bytes must be positive"))
	}
	if c.Workflow.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("workflow.max_concurrent must be positive"))
	}
	if c.Workflow.MaxPixels <= 0 {
		errs = append(errs, errors.New("workflow.max_pixels must be positive"))
	}
	return errors.Join(errs...)
}
