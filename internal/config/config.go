package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"iot-panel-server/internal/logger"
)

const (
	DeviceModeSim    = "sim"
	DeviceModeSerial = "serial"

	defaultNetworkPort     = 80
	defaultListenAddress   = "0.0.0.0"
	defaultMonitorAddress  = "127.0.0.1:8081"
	defaultLogLevel        = "INFO"
	defaultBaudRate        = 115200
	defaultReadTimeoutMs   = 2000
	defaultScrollDelayMs   = 220
	defaultScrollMaxSecs   = 8
	defaultTickMs          = 20
	defaultRetentionDays   = 7
	defaultDiscoveryPort   = 32228
	defaultDatabaseName    = "panel.db"
	defaultAppConfigFolder = "IoTPanel"
)

// PanelConfig is the persisted configuration of the panel server.
type PanelConfig struct {
	ListenAddress        string `json:"listenAddress"`
	NetworkPort          int    `json:"networkPort"`
	PortRetries          int    `json:"portRetries"`   // Extra ports tried above networkPort
	ReadTimeoutMs        int    `json:"readTimeoutMs"` // Per-connection request read deadline
	MonitorAddress       string `json:"monitorAddress"`
	LogLevel             string `json:"logLevel"`
	LogFile              string `json:"logFile"`
	DeviceMode           string `json:"deviceMode"` // "sim" or "serial"
	SerialPortName       string `json:"serialPortName"`
	AutoDetectPort       bool   `json:"autoDetectPort"`
	BaudRate             int    `json:"baudRate"`
	ScrollFrameDelayMs   int    `json:"scrollFrameDelayMs"`
	ScrollMaxSeconds     int    `json:"scrollMaxSeconds"`
	BlockingScroll       bool   `json:"blockingScroll"`
	TickMs               int    `json:"tickMs"`
	TelemetryInterval    int    `json:"telemetryInterval"` // Seconds, 0 disables
	HistoryRetentionDays int    `json:"historyRetentionDays"`
	DatabasePath         string `json:"databasePath"`
	DiscoveryPort        int    `json:"discoveryPort"` // 0 disables
}

var (
	mu         sync.RWMutex
	current    *PanelConfig // Singleton instance
	configFile string       // Full path to the config file
)

// Default returns a configuration with every field at its default value.
func Default() *PanelConfig {
	return &PanelConfig{
		ListenAddress:        defaultListenAddress,
		NetworkPort:          defaultNetworkPort,
		ReadTimeoutMs:        defaultReadTimeoutMs,
		MonitorAddress:       defaultMonitorAddress,
		LogLevel:             defaultLogLevel,
		DeviceMode:           DeviceModeSim,
		AutoDetectPort:       true,
		BaudRate:             defaultBaudRate,
		ScrollFrameDelayMs:   defaultScrollDelayMs,
		ScrollMaxSeconds:     defaultScrollMaxSecs,
		TickMs:               defaultTickMs,
		HistoryRetentionDays: defaultRetentionDays,
		DiscoveryPort:        defaultDiscoveryPort,
	}
}

// DefaultPath returns panel_config.json inside the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(dir, defaultAppConfigFolder, "panel_config.json"), nil
}

// Load reads the configuration from path into the singleton instance.
// If the file doesn't exist, the defaults are used and written to path.
func Load(path string) error {
	mu.Lock()
	configFile = path
	mu.Unlock()

	file, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("Panel config file '%s' not found. Using default settings.", path)
			set(Default())
			return Save()
		}
		return fmt.Errorf("failed to read panel config file: %w", err)
	}

	// Keys missing from older files keep their default values.
	conf := Default()
	if err := json.Unmarshal(file, conf); err != nil {
		// Don't overwrite the current config if unmarshalling fails.
		return fmt.Errorf("failed to unmarshal panel config: %w", err)
	}
	fillDefaults(conf)
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid panel config '%s': %w", path, err)
	}
	set(conf)

	logger.SetLevelFromString(conf.LogLevel)
	logger.Info("Loaded panel config from '%s'", path)
	return nil
}

// fillDefaults replaces zero values that have no meaning with their defaults.
// Fields where zero is meaningful (portRetries, telemetryInterval, discoveryPort,
// an empty monitorAddress) are left alone.
func fillDefaults(c *PanelConfig) {
	if c.NetworkPort == 0 {
		logger.Warn("Configuration key 'networkPort' not set, using default %d.", defaultNetworkPort)
		c.NetworkPort = defaultNetworkPort
	}
	if c.ListenAddress == "" {
		logger.Warn("Configuration key 'listenAddress' not found, using default '%s'.", defaultListenAddress)
		c.ListenAddress = defaultListenAddress
	}
	if c.LogLevel == "" {
		logger.Warn("Configuration key 'logLevel' not found, using default '%s'.", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	}
	if c.DeviceMode == "" {
		logger.Warn("Configuration key 'deviceMode' not found, using default '%s'.", DeviceModeSim)
		c.DeviceMode = DeviceModeSim
	}
	if c.ReadTimeoutMs == 0 {
		c.ReadTimeoutMs = defaultReadTimeoutMs
	}
	if c.BaudRate == 0 {
		c.BaudRate = defaultBaudRate
	}
	if c.ScrollFrameDelayMs == 0 {
		c.ScrollFrameDelayMs = defaultScrollDelayMs
	}
	if c.ScrollMaxSeconds == 0 {
		c.ScrollMaxSeconds = defaultScrollMaxSecs
	}
	if c.TickMs == 0 {
		c.TickMs = defaultTickMs
	}
	if c.HistoryRetentionDays == 0 {
		c.HistoryRetentionDays = defaultRetentionDays
	}
	// Without a fixed port there is nothing to connect to but a scan.
	if !c.AutoDetectPort && c.SerialPortName == "" {
		c.AutoDetectPort = true
	}
}

// Validate rejects values the server cannot start with.
func (c PanelConfig) Validate() error {
	if c.NetworkPort <= 0 || c.NetworkPort > 65535 {
		return fmt.Errorf("invalid network port %d", c.NetworkPort)
	}
	if c.PortRetries < 0 || c.NetworkPort+c.PortRetries > 65535 {
		return fmt.Errorf("invalid port retries %d", c.PortRetries)
	}
	if net.ParseIP(c.ListenAddress) == nil {
		return fmt.Errorf("invalid listen address '%s'", c.ListenAddress)
	}
	if c.MonitorAddress != "" {
		if _, _, err := net.SplitHostPort(c.MonitorAddress); err != nil {
			return fmt.Errorf("invalid monitor address '%s': %w", c.MonitorAddress, err)
		}
	}
	switch c.DeviceMode {
	case DeviceModeSim, DeviceModeSerial:
	default:
		return fmt.Errorf("invalid device mode '%s'", c.DeviceMode)
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log level '%s'", c.LogLevel)
	}
	if c.DiscoveryPort < 0 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("invalid discovery port %d", c.DiscoveryPort)
	}
	if c.ReadTimeoutMs < 0 || c.ScrollFrameDelayMs < 0 || c.ScrollMaxSeconds < 0 || c.TickMs < 0 {
		return errors.New("timings must not be negative")
	}
	if c.TelemetryInterval < 0 || c.HistoryRetentionDays < 0 {
		return errors.New("telemetry settings must not be negative")
	}
	return nil
}

// Save writes the current configuration to the config file.
func Save() error {
	mu.RLock()
	conf, path := current, configFile
	mu.RUnlock()
	if conf == nil {
		return fmt.Errorf("cannot save nil config")
	}
	if path == "" {
		return fmt.Errorf("no config file loaded")
	}

	logger.Debug("Attempting to save panel config to file: %s", path)
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal panel config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.Error("Failed to write panel config file '%s': %v", path, err)
		return fmt.Errorf("failed to write panel config file: %w", err)
	}
	logger.Info("Successfully saved panel config to file '%s'", path)
	return nil
}

// Update validates c, makes it the current configuration and saves it.
func Update(c PanelConfig) error {
	fillDefaults(&c)
	if err := c.Validate(); err != nil {
		return err
	}
	set(&c)
	return Save()
}

// Get returns a copy of the current configuration, or the defaults when
// nothing has been loaded.
func Get() PanelConfig {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return *Default()
	}
	return *current
}

// Path returns the file the configuration was loaded from.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configFile
}

func set(c *PanelConfig) {
	mu.Lock()
	current = c
	mu.Unlock()
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c PanelConfig) ReadTimeout() time.Duration      { return ms(c.ReadTimeoutMs) }
func (c PanelConfig) ScrollFrameDelay() time.Duration { return ms(c.ScrollFrameDelayMs) }
func (c PanelConfig) TickInterval() time.Duration     { return ms(c.TickMs) }

func (c PanelConfig) ScrollMax() time.Duration {
	return time.Duration(c.ScrollMaxSeconds) * time.Second
}

func (c PanelConfig) Telemetry() time.Duration {
	return time.Duration(c.TelemetryInterval) * time.Second
}

// DatabaseFile returns databasePath, or panel.db next to the config file.
func (c PanelConfig) DatabaseFile() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	if p := Path(); p != "" {
		return filepath.Join(filepath.Dir(p), defaultDatabaseName)
	}
	return defaultDatabaseName
}
