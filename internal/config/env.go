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

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Pretty     bool   `yaml:"pretty"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool          `yaml:"send"`
	APIKey        string        `yaml:"api_key"`
	OrgID         string        `yaml:"org_id"`
	Dataset       string        `yaml:"dataset"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ServerConfig configures the request server. MaxInflight bounds concurrent
// operations per backend; extra callers wait. Zero means unlimited.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MaxInflight int    `yaml:"max_inflight"`
	MaxBodyMB   int    `yaml:"max_body_mb"`
}

// WorkConfig defines where working documents are staged.
type WorkConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// OfficeConfig configures the supervised office process and the UNO helper.
type OfficeConfig struct {
	SofficeBinary    string        `yaml:"soffice_binary"`
	PythonBinary     string        `yaml:"python_binary"`
	HelperPath       string        `yaml:"helper_path"`
	UnoPath          string        `yaml:"uno_path"`
	OfficeBinaryPath string        `yaml:"office_binary_path"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ProfileDir       string        `yaml:"profile_dir"`
	StartTimeout     time.Duration `yaml:"start_timeout"`
	Timeout          time.Duration `yaml:"timeout"`
	Zip              bool          `yaml:"zip"`
}

// DisplayConfig configures the virtual display the office process renders on.
type DisplayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`
	Number  int    `yaml:"number"`
}

// X2TConfig configures the OnlyOffice binary converter.
type X2TConfig struct {
	Binary string            `yaml:"binary"`
	Env    map[string]string `yaml:"env"`
}

// ImageMagickConfig configures the raster image backend.
type ImageMagickConfig struct {
	ConvertBinary  string        `yaml:"convert_binary"`
	IdentifyBinary string        `yaml:"identify_binary"`
	Timeout        time.Duration `yaml:"timeout"`
}

// CacheConfig configures the conversion result cache. Empty RedisURL disables it.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// StorageConfig configures object storage for s3:// references.
type StorageConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Config is the top-level configuration.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Axiom       AxiomConfig       `yaml:"axiom"`
	Server      ServerConfig      `yaml:"server"`
	Work        WorkConfig        `yaml:"work"`
	Office      OfficeConfig      `yaml:"office"`
	Display     DisplayConfig     `yaml:"display"`
	X2T         X2TConfig         `yaml:"x2t"`
	ImageMagick ImageMagickConfig `yaml:"imagemagick"`
	Cache       CacheConfig       `yaml:"cache"`
	Storage     StorageConfig     `yaml:"storage"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     parseBool(devDefaultPretty()),
			File:       "logs/docbroker.log",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Axiom: AxiomConfig{
			Dataset:       "dev_docbroker",
			FlushInterval: 10 * time.Second,
		},
		Server: ServerConfig{Host: "0.0.0.0", Port: 8011, MaxBodyMB: 256},
		Work:   WorkConfig{BaseDir: "/tmp/docbroker"},
		Office: OfficeConfig{
			SofficeBinary:    "soffice",
			PythonBinary:     "python3",
			HelperPath:       "/usr/lib/docbroker/unoconverter.py",
			UnoPath:          "/usr/lib/libreoffice/program",
			OfficeBinaryPath: "/usr/lib/libreoffice/program",
			Host:             "127.0.0.1",
			Port:             4062,
			ProfileDir:       "/tmp/docbroker/office-profile",
			StartTimeout:     30 * time.Second,
			Timeout:          600 * time.Second,
		},
		Display: DisplayConfig{Binary: "Xvfb", Number: 4062},
		X2T:     X2TConfig{Binary: "x2t", Env: map[string]string{}},
		ImageMagick: ImageMagickConfig{
			ConvertBinary:  "convert",
			IdentifyBinary: "identify",
			Timeout:        180 * time.Second,
		},
		Cache: CacheConfig{TTL: time.Hour},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order. A .env file in the working directory is loaded
// first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path == "" {
		path = os.Getenv("DOCBROKER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.X2T.Env == nil {
		cfg.X2T.Env = map[string]string{}
	}
	return cfg, nil
}

// FromEnv loads configuration from the environment only.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	l := &cfg.Logging
	l.Level = getEnv("LOG_LEVEL", l.Level)
	l.Pretty = parseBoolDef(os.Getenv("LOG_PRETTY"), l.Pretty)
	l.File = getEnv("LOG_FILE", l.File)
	l.MaxSizeMB = parseInt(os.Getenv("LOG_MAX_SIZE_MB"), l.MaxSizeMB)
	l.MaxBackups = parseInt(os.Getenv("LOG_MAX_BACKUPS"), l.MaxBackups)
	l.MaxAgeDays = parseInt(os.Getenv("LOG_MAX_AGE_DAYS"), l.MaxAgeDays)
	l.Compress = parseBoolDef(os.Getenv("LOG_COMPRESS"), l.Compress)

	a := &cfg.Axiom
	a.Send = parseBoolDef(os.Getenv("SEND_LOGS_TO_AXIOM"), a.Send)
	a.APIKey = getEnv("AXIOM_API_KEY", a.APIKey)
	a.OrgID = getEnv("AXIOM_ORG_ID", a.OrgID)
	if ds := os.Getenv("AXIOM_DATASET"); ds != "" {
		a.Dataset = ds + "_docbroker"
	}
	a.FlushInterval = parseDuration(os.Getenv("AXIOM_FLUSH_INTERVAL"), a.FlushInterval)

	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = parseInt(os.Getenv("PORT"), cfg.Server.Port)
	cfg.Server.MaxInflight = parseInt(os.Getenv("SERVER_MAX_INFLIGHT"), cfg.Server.MaxInflight)
	cfg.Server.MaxBodyMB = parseInt(os.Getenv("SERVER_MAX_BODY_MB"), cfg.Server.MaxBodyMB)

	cfg.Work.BaseDir = getEnv("WORK_DIR", cfg.Work.BaseDir)

	o := &cfg.Office
	o.SofficeBinary = getEnv("OFFICE_SOFFICE_BINARY", o.SofficeBinary)
	o.PythonBinary = getEnv("OFFICE_PYTHON_BINARY", o.PythonBinary)
	o.HelperPath = getEnv("OFFICE_HELPER_PATH", o.HelperPath)
	o.UnoPath = getEnv("UNO_PATH", o.UnoPath)
	o.OfficeBinaryPath = getEnv("OFFICE_BINARY_PATH", o.OfficeBinaryPath)
	o.Host = getEnv("OFFICE_HOST", o.Host)
	o.Port = parseInt(os.Getenv("OFFICE_PORT"), o.Port)
	o.ProfileDir = getEnv("OFFICE_PROFILE_DIR", o.ProfileDir)
	o.StartTimeout = parseDuration(os.Getenv("OFFICE_START_TIMEOUT"), o.StartTimeout)
	o.Timeout = parseDuration(os.Getenv("OFFICE_TIMEOUT"), o.Timeout)
	o.Zip = parseBoolDef(os.Getenv("OFFICE_ZIP"), o.Zip)

	d := &cfg.Display
	d.Enabled = parseBoolDef(os.Getenv("DISPLAY_ENABLED"), d.Enabled)
	d.Binary = getEnv("DISPLAY_BINARY", d.Binary)
	d.Number = parseInt(os.Getenv("DISPLAY_NUMBER"), d.Number)

	cfg.X2T.Binary = getEnv("X2T_BINARY", cfg.X2T.Binary)

	im := &cfg.ImageMagick
	im.ConvertBinary = getEnv("IMAGEMAGICK_CONVERT_BINARY", im.ConvertBinary)
	im.IdentifyBinary = getEnv("IMAGEMAGICK_IDENTIFY_BINARY", im.IdentifyBinary)
	im.Timeout = parseDuration(os.Getenv("IMAGEMAGICK_TIMEOUT"), im.Timeout)

	cfg.Cache.RedisURL = getEnv("REDIS_URL", cfg.Cache.RedisURL)
	cfg.Cache.TTL = parseDuration(os.Getenv("CACHE_TTL"), cfg.Cache.TTL)

	s := &cfg.Storage
	s.Region = getEnv("AWS_REGION", s.Region)
	s.Endpoint = getEnv("S3_ENDPOINT", s.Endpoint)
	s.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", s.AccessKeyID)
	s.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", s.SecretAccessKey)
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolDef(s string, def bool) bool {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return parseBool(s)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
