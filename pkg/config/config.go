// Package config provides configuration management for faceattend.
// It loads configuration from YAML files with sensible defaults and lets
// FACEATTEND_* environment variables (optionally from a .env file) override them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FACEATTEND_"

// Config holds all faceattend configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Display     DisplayConfig     `yaml:"display"`
	Storage     StorageConfig     `yaml:"storage"`
	Notify      NotifyConfig      `yaml:"notify"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	// Device is a capture index ("0") or a device path / stream URL.
	Device          string        `yaml:"device"`
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	FPS             int           `yaml:"fps"`
	MaxReadFailures int           `yaml:"max_read_failures"`
	ReadRetryDelay  time.Duration `yaml:"read_retry_delay"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	Tolerance float64 `yaml:"tolerance"`
	ModelPath string  `yaml:"model_path"`
	UseCNN    bool    `yaml:"use_cnn"`
}

// EnrollmentConfig holds settings for the reference image directory.
type EnrollmentConfig struct {
	Dir string `yaml:"dir"`
}

// AttendanceConfig holds attendance log settings.
type AttendanceConfig struct {
	File string `yaml:"file"`
	// Cooldown suppresses repeated rows for the same name. Zero logs every frame.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DisplayConfig holds preview window settings.
type DisplayConfig struct {
	Enabled     bool   `yaml:"enabled"`
	WindowTitle string `yaml:"window_title"`
	StopKey     string `yaml:"stop_key"`
}

// StorageConfig holds embedding cache settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	CacheEnabled      bool   `yaml:"cache_enabled"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// NotifyConfig holds outbound event settings.
type NotifyConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig holds MQTT publisher settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retained bool   `yaml:"retained"`
	// PublishTimeout bounds how long one event may wait for the broker.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Camera: CameraConfig{
			Device:          "0",
			Width:           640,
			Height:          480,
			FPS:             30,
			MaxReadFailures: 100,
			ReadRetryDelay:  20 * time.Millisecond,
		},
		Recognition: RecognitionConfig{
			Tolerance: 0.6,
			ModelPath: filepath.Join(homeDir, ".local/share/faceattend/models"),
		},
		Enrollment: EnrollmentConfig{
			Dir: "known_faces",
		},
		Attendance: AttendanceConfig{
			File: "attendance.csv",
		},
		Display: DisplayConfig{
			Enabled:     true,
			WindowTitle: "Face Recognition",
			StopKey:     "q",
		},
		Storage: StorageConfig{
			DataDir:           filepath.Join(homeDir, ".local/share/faceattend"),
			CacheEnabled:      true,
			EncryptionEnabled: true,
		},
		Notify: NotifyConfig{
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "faceattend",
				Topic:    "faceattend/attendance",
				QoS:      1,

				PublishTimeout: 2 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// SearchPaths lists the configuration files LoadDefault tries, in order.
func SearchPaths() []string {
	paths := []string{"/etc/faceattend/faceattend.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config/faceattend/faceattend.yaml"))
	}
	return append(paths, "faceattend.yaml")
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return DefaultConfig(), nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values from FACEATTEND_* variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"CAMERA_DEVICE":   &c.Camera.Device,
		"MODEL_PATH":      &c.Recognition.ModelPath,
		"KNOWN_FACES_DIR": &c.Enrollment.Dir,
		"ATTENDANCE_FILE": &c.Attendance.File,
		"DATA_DIR":        &c.Storage.DataDir,
		"MQTT_BROKER":     &c.Notify.MQTT.Broker,
		"MQTT_USERNAME":   &c.Notify.MQTT.Username,
		"MQTT_PASSWORD":   &c.Notify.MQTT.Password,
		"MQTT_TOPIC":      &c.Notify.MQTT.Topic,
		"LOG_LEVEL":       &c.Logging.Level,
		"LOG_FILE":        &c.Logging.File,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "TOLERANCE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sTOLERANCE %q: %w", EnvPrefix, v, err)
		}
		c.Recognition.Tolerance = f
	}

	bools := map[string]*bool{
		"DISPLAY":      &c.Display.Enabled,
		"USE_CNN":      &c.Recognition.UseCNN,
		"CACHE":        &c.Storage.CacheEnabled,
		"MQTT_ENABLED": &c.Notify.MQTT.Enabled,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
		}
		*dst = b
	}

	if v, ok := os.LookupEnv(EnvPrefix + "ATTENDANCE_COOLDOWN"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sATTENDANCE_COOLDOWN %q: %w", EnvPrefix, v, err)
		}
		c.Attendance.Cooldown = d
	}

	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Device == "" {
		return errors.New("camera device must be set")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}
	if c.Camera.MaxReadFailures < 0 {
		return fmt.Errorf("max_read_failures must not be negative, got %d", c.Camera.MaxReadFailures)
	}
	if c.Camera.ReadRetryDelay < 0 {
		return fmt.Errorf("read_retry_delay must not be negative, got %s", c.Camera.ReadRetryDelay)
	}

	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be in (0, 1], got %f", c.Recognition.Tolerance)
	}

	if c.Enrollment.Dir == "" {
		return errors.New("enrollment dir must be set")
	}
	if c.Attendance.File == "" {
		return errors.New("attendance file must be set")
	}
	if c.Attendance.Cooldown < 0 {
		return fmt.Errorf("attendance cooldown must not be negative, got %s", c.Attendance.Cooldown)
	}

	if c.Display.Enabled && len(c.Display.StopKey) != 1 {
		return fmt.Errorf("stop_key must be a single character, got %q", c.Display.StopKey)
	}

	if c.Notify.MQTT.Enabled {
		if c.Notify.MQTT.Broker == "" || c.Notify.MQTT.Topic == "" {
			return errors.New("mqtt broker and topic must be set when mqtt is enabled")
		}
		if c.Notify.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.Notify.MQTT.QoS)
		}
		if c.Notify.MQTT.PublishTimeout <= 0 {
			return fmt.Errorf("mqtt publish_timeout must be positive, got %s", c.Notify.MQTT.PublishTimeout)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Enrollment.Dir = ExpandPath(c.Enrollment.Dir)
	c.Attendance.File = ExpandPath(c.Attendance.File)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the data and model directories.
// The enrollment directory is created by the enrollment loader itself.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if dir := filepath.Dir(c.Attendance.File); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create attendance directory: %w", err)
		}
	}

	return nil
}

// CachePath returns the path of the embedding cache file.
func (c *Config) CachePath() string {
	name := "roster-cache.json"
	if c.Storage.EncryptionEnabled {
		name = "roster-cache.enc"
	}
	return filepath.Join(c.Storage.DataDir, name)
}
