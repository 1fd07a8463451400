package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	MaxUploadMB int    `yaml:"max_upload_mb"`

	// MaxImageMegapixels caps the decoded size of an upload.
	MaxImageMegapixels int `yaml:"max_image_megapixels"`
}

// MaxUploadBytes is the upload size limit in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// MaxImagePixels is the decoded pixel limit for an upload.
func (s ServerConfig) MaxImagePixels() int64 {
	return int64(s.MaxImageMegapixels) * 1_000_000
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
	BackendNone   = "none"
)

type VisionConfig struct {
	// Backend selects where inference runs: onnx, remote or none.
	Backend   string `yaml:"backend"`
	ModelsDir string `yaml:"models_dir"`
	ONNXLib   string `yaml:"onnx_lib"`

	ObjectModel  string `yaml:"object_model"`
	DiseaseModel string `yaml:"disease_model"`
	ColorModel   string `yaml:"color_model"`

	ObjectClasses  []string `yaml:"object_classes"`
	DiseaseClasses []string `yaml:"disease_classes"`

	DetectionThreshold float64 `yaml:"detection_threshold"`
	IOUThreshold       float64 `yaml:"iou_threshold"`

	InferenceURL     string        `yaml:"inference_url"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`

	WorkerCount   int `yaml:"worker_count"`
	ThumbnailSize int `yaml:"thumbnail_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings that would fail later in a less obvious place.
func (c *Config) Validate() error {
	switch c.Vision.Backend {
	case BackendONNX, BackendRemote, BackendNone:
	default:
		return fmt.Errorf("vision.backend %q: must be onnx, remote or none", c.Vision.Backend)
	}
	if c.Vision.Backend == BackendRemote && c.Vision.InferenceURL == "" {
		return fmt.Errorf("vision.inference_url is required for the remote backend")
	}
	if c.Vision.DetectionThreshold < 0 || c.Vision.DetectionThreshold > 1 {
		return fmt.Errorf("vision.detection_threshold %v outside [0,1]", c.Vision.DetectionThreshold)
	}
	if c.Vision.IOUThreshold < 0 || c.Vision.IOUThreshold > 1 {
		return fmt.Errorf("vision.iou_threshold %v outside [0,1]", c.Vision.IOUThreshold)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 10
	}
	if cfg.Server.MaxImageMegapixels == 0 {
		cfg.Server.MaxImageMegapixels = 40
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "durian-scans"
	}
	if cfg.Vision.Backend == "" {
		cfg.Vision.Backend = BackendONNX
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.ObjectModel == "" {
		cfg.Vision.ObjectModel = "durian_detector.onnx"
	}
	if cfg.Vision.DiseaseModel == "" {
		cfg.Vision.DiseaseModel = "durian_disease.onnx"
	}
	if cfg.Vision.ColorModel == "" {
		cfg.Vision.ColorModel = "durian_color.onnx"
	}
	if len(cfg.Vision.ObjectClasses) == 0 {
		cfg.Vision.ObjectClasses = []string{"durian"}
	}
	if len(cfg.Vision.DiseaseClasses) == 0 {
		cfg.Vision.DiseaseClasses = []string{"mold", "rot"}
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.25
	}
	if cfg.Vision.IOUThreshold == 0 {
		cfg.Vision.IOUThreshold = 0.45
	}
	if cfg.Vision.InferenceTimeout == 0 {
		cfg.Vision.InferenceTimeout = 30 * time.Second
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.ThumbnailSize == 0 {
		cfg.Vision.ThumbnailSize = 150
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DURIAN_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DURIAN_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("DURIAN_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxUploadMB = n
		}
	}
	if v := os.Getenv("DURIAN_MAX_IMAGE_MEGAPIXELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxImageMegapixels = n
		}
	}
	if v := os.Getenv("DURIAN_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DURIAN_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DURIAN_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DURIAN_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DURIAN_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DURIAN_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("DURIAN_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("DURIAN_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("DURIAN_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("DURIAN_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("DURIAN_VISION_BACKEND"); v != "" {
		cfg.Vision.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DURIAN_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("DURIAN_ONNX_LIB"); v != "" {
		cfg.Vision.ONNXLib = v
	}
	if v := os.Getenv("DURIAN_INFERENCE_URL"); v != "" {
		cfg.Vision.InferenceURL = v
	}
	if v := os.Getenv("DURIAN_DETECTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.DetectionThreshold = f
		}
	}
	if v := os.Getenv("DURIAN_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("DURIAN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
