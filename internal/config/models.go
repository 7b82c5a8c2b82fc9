package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Camera drivers.
const (
	DriverDummy  = "dummy"
	DriverWebcam = "webcam"
	DriverHMD    = "hmd"
	DriverAuto   = "auto"
)

// Drivers lists the accepted camera.driver values in auto fallback order.
var Drivers = []string{DriverAuto, DriverHMD, DriverWebcam, DriverDummy}

// Config represents the application configuration
type Config struct {
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
	Debug      bool   `json:"debug" yaml:"debug" toml:"debug"`
	Validation bool   `json:"validation" yaml:"validation" toml:"validation"` // Vulkan validation layers
	GPUID      int    `json:"gpu_id" yaml:"gpu_id" toml:"gpu_id"`             // Fallback physical device index
	ServerPort int    `json:"server_port" yaml:"server_port" toml:"server_port"`
	// Render loop cap, 0 means unlimited
	WindowMaxFPS int `json:"window_max_fps" yaml:"window_max_fps" toml:"window_max_fps"`

	Camera CameraConfig `json:"camera" yaml:"camera" toml:"camera"`
	NoVR   NoVRConfig   `json:"novr" yaml:"novr" toml:"novr"`
	Mirror MirrorConfig `json:"mirror" yaml:"mirror" toml:"mirror"`
}

// CameraConfig selects and tunes the capture source
type CameraConfig struct {
	Driver        string             `json:"driver" yaml:"driver" toml:"driver"`
	DeviceIndex   int                `json:"device_index" yaml:"device_index" toml:"device_index"` // OpenCV camera index
	HMDDevice     int                `json:"hmd_device" yaml:"hmd_device" toml:"hmd_device"`       // OpenVR tracked device, 0 is the headset
	WebcamBackend string             `json:"webcam_backend" yaml:"webcam_backend" toml:"webcam_backend"` // opencv or gstreamer
	GstDevice     string             `json:"gst_device" yaml:"gst_device" toml:"gst_device"`
	FrameType     string             `json:"frame_type" yaml:"frame_type" toml:"frame_type"` // HMD camera processing
	Calibration   *CameraCalibration `json:"calibration,omitempty" yaml:"calibration,omitempty" toml:"calibration,omitempty"`
}

// NoVRConfig runs without connecting to OpenVR
type NoVRConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// MirrorConfig configures the desktop mirrors of the camera feed
type MirrorConfig struct {
	Overlay bool        `json:"overlay" yaml:"overlay" toml:"overlay"` // status panel on mirror frames
	MJPEG   MJPEGConfig `json:"mjpeg" yaml:"mjpeg" toml:"mjpeg"`
	X11     X11Config   `json:"x11" yaml:"x11" toml:"x11"`
}

// MJPEGConfig configures the HTTP MJPEG mirror
type MJPEGConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	Width   int  `json:"width" yaml:"width" toml:"width"`
	Height  int  `json:"height" yaml:"height" toml:"height"`
	FPS     int  `json:"fps" yaml:"fps" toml:"fps"`
	Quality int  `json:"quality" yaml:"quality" toml:"quality"`
}

// X11Config configures the X11 mirror window
type X11Config struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	Width   int  `json:"width" yaml:"width" toml:"width"`
	Height  int  `json:"height" yaml:"height" toml:"height"`
	FPS     int  `json:"fps" yaml:"fps" toml:"fps"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		LogLevel:     "info",
		ServerPort:   8080,
		WindowMaxFPS: 0,
		Camera: CameraConfig{
			Driver:        DriverAuto,
			WebcamBackend: "opencv",
			GstDevice:     "/dev/video0",
			FrameType:     "distorted",
		},
		Mirror: MirrorConfig{
			Overlay: true,
			MJPEG: MJPEGConfig{
				Enabled: true,
				Width:   960,
				Height:  480,
				FPS:     15,
				Quality: 80,
			},
			X11: X11Config{
				Width:  960,
				Height: 480,
				FPS:    30,
			},
		},
	}
}

// Validate checks values that would otherwise fail late at startup
func (c *Config) Validate() error {
	if !validDriver(c.Camera.Driver) {
		return fmt.Errorf("invalid camera driver: %s (use: %s)", c.Camera.Driver, strings.Join(Drivers, ", "))
	}
	if c.Camera.Driver == DriverHMD && c.NoVR.Enabled {
		return fmt.Errorf("the hmd camera needs OpenVR and cannot be used with novr.enabled")
	}
	if c.Camera.DeviceIndex < 0 || c.Camera.HMDDevice < 0 {
		return fmt.Errorf("camera device indexes must not be negative")
	}
	switch c.Camera.WebcamBackend {
	case "opencv", "gstreamer":
	default:
		return fmt.Errorf("invalid webcam backend: %s (use: opencv, gstreamer)", c.Camera.WebcamBackend)
	}
	switch c.Camera.FrameType {
	case "distorted", "undistorted", "maximum_undistorted":
	default:
		return fmt.Errorf("invalid frame type: %s (use: distorted, undistorted, maximum_undistorted)", c.Camera.FrameType)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", c.LogLevel)
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid port number: %d", c.ServerPort)
	}
	if c.WindowMaxFPS < 0 {
		return fmt.Errorf("window_max_fps must not be negative")
	}
	if q := c.Mirror.MJPEG.Quality; q < 1 || q > 100 {
		return fmt.Errorf("mirror.mjpeg.quality must be within 1..100, got %d", q)
	}
	return nil
}

func validDriver(driver string) bool {
	for _, d := range Drivers {
		if d == driver {
			return true
		}
	}
	return false
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath is $HOME/.config/mixedview/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "mixedview", "config.yaml"), nil
}

// NewManager creates a new configuration manager. A missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")

			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Str("camera_driver", m.config.Camera.Driver).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk on top of the defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	if m.config.Camera.Calibration != nil {
		cal := *m.config.Camera.Calibration
		cfg.Camera.Calibration = &cal
	}
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and stores the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// GetViper returns a viper instance holding the current configuration, keyed by the
// yaml field paths (camera.driver, mirror.mjpeg.fps, ...)
func (m *Manager) GetViper() (*viper.Viper, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load config into viper: %w", err)
	}
	return v, nil
}

// Set parses value according to the current type of key, validates and saves
func (m *Manager) Set(key, value string) error {
	v, err := m.GetViper()
	if err != nil {
		return err
	}
	key = strings.ToLower(key)
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	parsed, err := parseLike(v.Get(key), value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	v.Set(key, parsed)

	return m.updateFromViper(v)
}

// ApplyOverrides copies the given keys from src into the configuration when src has them
// set, e.g. command-line flags bound to the global viper. Nothing is saved.
func (m *Manager) ApplyOverrides(src *viper.Viper, keys ...string) error {
	v, err := m.GetViper()
	if err != nil {
		return err
	}
	changed := false
	for _, key := range keys {
		if src.IsSet(key) {
			v.Set(key, src.Get(key))
			changed = true
		}
	}
	if !changed {
		return nil
	}

	cfg, err := decodeSettings(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func (m *Manager) updateFromViper(v *viper.Viper) error {
	cfg, err := decodeSettings(v)
	if err != nil {
		return err
	}
	return m.Update(cfg)
}

func decodeSettings(v *viper.Viper) (*Config, error) {
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLike(current any, value string) (any, error) {
	switch current.(type) {
	case int, int64:
		return strconv.Atoi(value)
	case bool:
		return strconv.ParseBool(value)
	case float64:
		return strconv.ParseFloat(value, 64)
	case string:
		return value, nil
	}
	return nil, fmt.Errorf("key holds a %T and cannot be set from the command line", current)
}

// SetCalibration stores an imported camera calibration
func (m *Manager) SetCalibration(cal *CameraCalibration) error {
	cfg := m.Get()
	cfg.Camera.Calibration = cal
	return m.Update(cfg)
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
