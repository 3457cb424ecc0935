package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file picked up when no --config flag is given.
const DefaultPath = "rollcall.yaml"

type Config struct {
	Encodings  EncodingsConfig  `yaml:"encodings"`
	Match      MatchConfig      `yaml:"match"`
	Frame      FrameConfig      `yaml:"frame"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Worker     WorkerConfig     `yaml:"worker"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
}

type EncodingsConfig struct {
	File      string `yaml:"file"`       // persisted store (defaults to encodings.json)
	ImagesDir string `yaml:"images_dir"` // labeled reference images (defaults to images)
}

type MatchConfig struct {
	Threshold    float64 `yaml:"threshold"`      // inclusive acceptance distance (defaults to 0.6)
	IndexMinSize int     `yaml:"index_min_size"` // store size from which the HNSW index is used (defaults to 512)
	Candidates   int     `yaml:"candidates"`     // HNSW candidates re-ranked exactly (defaults to 16)
}

type FrameConfig struct {
	Scale float64 `yaml:"scale"` // live frame downscale factor (defaults to 0.25)
}

type LivenessConfig struct {
	EARThreshold         float64 `yaml:"ear_threshold"`          // defaults to 0.25
	ConsecutiveFrames    int     `yaml:"consecutive_frames"`     // defaults to 3
	MotionThreshold      float64 `yaml:"motion_threshold"`       // defaults to 0.5
	RequireForAttendance bool    `yaml:"require_for_attendance"` // only record live subjects on live frames
}

type AttendanceConfig struct {
	File string `yaml:"file"` // CSV ledger used when no database is configured (defaults to attendance.csv)
}

type WorkerConfig struct {
	Python  string `yaml:"python"`  // interpreter (defaults to python3)
	Script  string `yaml:"script"`  // detector script (defaults to python/worker.py)
	Timeout string `yaml:"timeout"` // per-frame read timeout (defaults to 30s)
}

type ServerConfig struct {
	Host           string `yaml:"host"`             // defaults to 0.0.0.0
	Port           int    `yaml:"port"`             // defaults to 3000
	MaxUploadBytes int64  `yaml:"max_upload_bytes"` // defaults to 5MB
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // PostgreSQL connection URL; empty disables the database backend
}

// Default returns a config populated with the tuned defaults.
func Default() *Config {
	return &Config{
		Encodings: EncodingsConfig{File: "encodings.json", ImagesDir: "images"},
		Match:     MatchConfig{Threshold: 0.6, IndexMinSize: 512, Candidates: 16},
		Frame:     FrameConfig{Scale: 0.25},
		Liveness: LivenessConfig{
			EARThreshold:      0.25,
			ConsecutiveFrames: 3,
			MotionThreshold:   0.5,
		},
		Attendance: AttendanceConfig{File: "attendance.csv"},
		Worker:     WorkerConfig{Python: "python3", Script: "python/worker.py", Timeout: "30s"},
		Server:     ServerConfig{Host: "0.0.0.0", Port: 3000, MaxUploadBytes: 5_000_000},
	}
}

// Load reads the YAML file at path on top of the defaults and then applies
// environment overrides. A missing file is not an error when path is the default.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Encodings.File = envString("ROLLCALL_ENCODINGS_FILE", cfg.Encodings.File)
	cfg.Encodings.ImagesDir = envString("ROLLCALL_IMAGES_DIR", cfg.Encodings.ImagesDir)
	cfg.Match.Threshold = envFloat("ROLLCALL_MATCH_THRESHOLD", cfg.Match.Threshold)
	cfg.Match.IndexMinSize = envInt("ROLLCALL_INDEX_MIN_SIZE", cfg.Match.IndexMinSize)
	cfg.Frame.Scale = envFloat("ROLLCALL_FRAME_SCALE", cfg.Frame.Scale)
	cfg.Liveness.EARThreshold = envFloat("ROLLCALL_EAR_THRESHOLD", cfg.Liveness.EARThreshold)
	cfg.Liveness.ConsecutiveFrames = envInt("ROLLCALL_BLINK_FRAMES", cfg.Liveness.ConsecutiveFrames)
	cfg.Liveness.MotionThreshold = envFloat("ROLLCALL_MOTION_THRESHOLD", cfg.Liveness.MotionThreshold)
	cfg.Attendance.File = envString("ROLLCALL_ATTENDANCE_FILE", cfg.Attendance.File)
	cfg.Worker.Python = envString("ROLLCALL_PYTHON", cfg.Worker.Python)
	cfg.Worker.Script = envString("ROLLCALL_WORKER_SCRIPT", cfg.Worker.Script)
	cfg.Server.Port = envInt("ROLLCALL_PORT", cfg.Server.Port)
	cfg.Server.Host = envString("ROLLCALL_HOST", cfg.Server.Host)

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	} else if host := os.Getenv("POSTGRES_HOST"); host != "" && cfg.Database.URL == "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := envString("POSTGRES_PORT", "5432")
		cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
}

// Validate rejects values the matcher and liveness checks cannot work with.
func (c *Config) Validate() error {
	if c.Match.Threshold <= 0 {
		return fmt.Errorf("match threshold must be > 0, got %f", c.Match.Threshold)
	}
	if c.Frame.Scale <= 0 || c.Frame.Scale > 1 {
		return fmt.Errorf("frame scale must be in (0, 1], got %f", c.Frame.Scale)
	}
	if c.Liveness.EARThreshold <= 0 {
		return fmt.Errorf("EAR threshold must be > 0, got %f", c.Liveness.EARThreshold)
	}
	if c.Liveness.ConsecutiveFrames < 1 {
		return fmt.Errorf("consecutive blink frames must be >= 1, got %d", c.Liveness.ConsecutiveFrames)
	}
	if c.Liveness.MotionThreshold <= 0 {
		return fmt.Errorf("motion threshold must be > 0, got %f", c.Liveness.MotionThreshold)
	}
	if _, err := time.ParseDuration(c.Worker.Timeout); err != nil {
		return fmt.Errorf("invalid worker timeout %q: %w", c.Worker.Timeout, err)
	}
	return nil
}

// WorkerTimeout returns the parsed per-frame worker timeout.
func (c *Config) WorkerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Worker.Timeout)
	return d
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat is envInt for positive floats.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}
