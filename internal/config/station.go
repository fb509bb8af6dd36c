// Package config holds the sorting station configuration. All fields are
// pointers so a partial JSON file only overrides what it names; the Get*
// methods resolve unset fields to the production defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/refuseworks/binsort/internal/decision"
	"github.com/refuseworks/binsort/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical station defaults file.
// This is the single source of truth for all default configuration values.
const DefaultConfigPath = "config/station.defaults.json"

// StationConfig represents the root configuration for the sorting station.
// The same JSON schema serves the -config flag and the defaults file.
type StationConfig struct {
	// Classifier bridge
	PythonExec      *string `json:"python_exec,omitempty"`
	ScriptPath      *string `json:"script_path,omitempty"`
	ModelPath       *string `json:"model_path,omitempty"`
	ClassifyTimeout *string `json:"classify_timeout,omitempty"` // duration string like "30s"

	// Capture spool
	SpoolDir     *string `json:"spool_dir,omitempty"`
	ProcessedDir *string `json:"processed_dir,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "500ms"

	// Persistence
	StatsPath *string `json:"stats_path,omitempty"`
	DBPath    *string `json:"db_path,omitempty"`

	// Sorter controller link
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
	DataBits   *int    `json:"data_bits,omitempty"`
	StopBits   *int    `json:"stop_bits,omitempty"`
	Parity     *string `json:"parity,omitempty"`

	// Decision aggregator
	WindowSize           *int `json:"window_size,omitempty"`
	ConsecutiveThreshold *int `json:"consecutive_threshold,omitempty"`
	MajorityThreshold    *int `json:"majority_threshold,omitempty"`

	// HTTP server
	Listen *string `json:"listen,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyStationConfig returns a StationConfig with all fields set to nil.
// Every getter then resolves to its default.
func EmptyStationConfig() *StationConfig {
	return &StationConfig{}
}

// DefaultStationConfig returns a StationConfig with every field explicitly
// set to its default value. Mirrors config/station.defaults.json.
func DefaultStationConfig() *StationConfig {
	return &StationConfig{
		PythonExec:           ptrString("python3"),
		ScriptPath:           ptrString("scripts/waste_classifier.py"),
		ModelPath:            ptrString("models/waste_model.h5"),
		ClassifyTimeout:      ptrString("30s"),
		SpoolDir:             ptrString("spool"),
		ProcessedDir:         ptrString("spool/processed"),
		PollInterval:         ptrString("500ms"),
		StatsPath:            ptrString("waste_classification_stats.csv"),
		DBPath:               ptrString("binsort.db"),
		SerialPort:           ptrString("/dev/ttyACM0"),
		BaudRate:             ptrInt(9600),
		DataBits:             ptrInt(8),
		StopBits:             ptrInt(1),
		Parity:               ptrString("N"),
		WindowSize:           ptrInt(decision.DefaultWindowSize),
		ConsecutiveThreshold: ptrInt(decision.DefaultConsecutiveThreshold),
		MajorityThreshold:    ptrInt((decision.DefaultWindowSize + 1) / 2),
		Listen:               ptrString(":8080"),
	}
}

// LoadStationConfig loads a StationConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file keep their defaults, so
// partial configs are safe.
func LoadStationConfig(path string) (*StationConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyStationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical station defaults from
// DefaultConfigPath. It searches for the file in the current directory and
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *StationConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadStationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// ApplyEnvOverrides layers BINSORT_* environment variables over the file
// values. Called by main after godotenv has loaded any .env file, so a
// station can be repointed without editing its config.
func (c *StationConfig) ApplyEnvOverrides() {
	if v := os.Getenv("BINSORT_PYTHON"); v != "" {
		c.PythonExec = &v
	}
	if v := os.Getenv("BINSORT_SCRIPT"); v != "" {
		c.ScriptPath = &v
	}
	if v := os.Getenv("BINSORT_MODEL"); v != "" {
		c.ModelPath = &v
	}
	if v := os.Getenv("BINSORT_SPOOL"); v != "" {
		c.SpoolDir = &v
	}
	if v := os.Getenv("BINSORT_STATS"); v != "" {
		c.StatsPath = &v
	}
	if v := os.Getenv("BINSORT_DB"); v != "" {
		c.DBPath = &v
	}
	if v := os.Getenv("BINSORT_SERIAL_PORT"); v != "" {
		c.SerialPort = &v
	}
	if v := os.Getenv("BINSORT_BAUD"); v != "" {
		if baud, err := strconv.Atoi(v); err == nil {
			c.BaudRate = &baud
		}
	}
	if v := os.Getenv("BINSORT_LISTEN"); v != "" {
		c.Listen = &v
	}
}

// Validate checks that the configuration values are valid.
func (c *StationConfig) Validate() error {
	// Validate ClassifyTimeout can be parsed if set
	if c.ClassifyTimeout != nil && *c.ClassifyTimeout != "" {
		if _, err := time.ParseDuration(*c.ClassifyTimeout); err != nil {
			return fmt.Errorf("invalid classify_timeout '%s': %w", *c.ClassifyTimeout, err)
		}
	}

	// Validate PollInterval can be parsed if set
	if c.PollInterval != nil && *c.PollInterval != "" {
		if _, err := time.ParseDuration(*c.PollInterval); err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.PollInterval, err)
		}
	}

	// Validate WindowSize if set
	if c.WindowSize != nil {
		if *c.WindowSize < 2 {
			return fmt.Errorf("window_size must be at least 2, got %d", *c.WindowSize)
		}
	}

	// Validate ConsecutiveThreshold if set
	if c.ConsecutiveThreshold != nil {
		if *c.ConsecutiveThreshold < 2 {
			return fmt.Errorf("consecutive_threshold must be at least 2, got %d", *c.ConsecutiveThreshold)
		}
	}

	// Validate MajorityThreshold if set
	if c.MajorityThreshold != nil {
		if *c.MajorityThreshold < 1 {
			return fmt.Errorf("majority_threshold must be positive, got %d", *c.MajorityThreshold)
		}
		if c.WindowSize != nil && *c.MajorityThreshold > *c.WindowSize {
			return fmt.Errorf("majority_threshold %d cannot exceed window_size %d",
				*c.MajorityThreshold, *c.WindowSize)
		}
	}

	// The serial option values share validation with the port layer.
	if _, err := c.GetPortOptions().Normalize(); err != nil {
		return fmt.Errorf("invalid serial options: %w", err)
	}

	return nil
}

// GetPythonExec returns the python interpreter or the default.
func (c *StationConfig) GetPythonExec() string {
	if c.PythonExec == nil || *c.PythonExec == "" {
		return "python3"
	}
	return *c.PythonExec
}

// GetScriptPath returns the classifier script path or the default.
func (c *StationConfig) GetScriptPath() string {
	if c.ScriptPath == nil || *c.ScriptPath == "" {
		return "scripts/waste_classifier.py"
	}
	return *c.ScriptPath
}

// GetModelPath returns the model path or the default.
func (c *StationConfig) GetModelPath() string {
	if c.ModelPath == nil || *c.ModelPath == "" {
		return "models/waste_model.h5"
	}
	return *c.ModelPath
}

// GetClassifyTimeout parses and returns the ClassifyTimeout as a time.Duration.
func (c *StationConfig) GetClassifyTimeout() time.Duration {
	if c.ClassifyTimeout == nil || *c.ClassifyTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.ClassifyTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetSpoolDir returns the capture spool directory or the default.
func (c *StationConfig) GetSpoolDir() string {
	if c.SpoolDir == nil || *c.SpoolDir == "" {
		return "spool"
	}
	return *c.SpoolDir
}

// GetProcessedDir returns the archive directory for classified images.
// Defaults to processed/ under the spool directory.
func (c *StationConfig) GetProcessedDir() string {
	if c.ProcessedDir == nil || *c.ProcessedDir == "" {
		return filepath.Join(c.GetSpoolDir(), "processed")
	}
	return *c.ProcessedDir
}

// GetPollInterval parses and returns the PollInterval as a time.Duration.
func (c *StationConfig) GetPollInterval() time.Duration {
	if c.PollInterval == nil || *c.PollInterval == "" {
		return 500 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.PollInterval)
	if err != nil {
		return 500 * time.Millisecond // default on parse error
	}
	return d
}

// GetStatsPath returns the CSV tally log path or the default.
func (c *StationConfig) GetStatsPath() string {
	if c.StatsPath == nil || *c.StatsPath == "" {
		return "waste_classification_stats.csv"
	}
	return *c.StatsPath
}

// GetDBPath returns the sqlite database path or the default.
func (c *StationConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "binsort.db"
	}
	return *c.DBPath
}

// GetSerialPort returns the controller serial port path or the default.
func (c *StationConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyACM0"
	}
	return *c.SerialPort
}

// GetPortOptions returns the serial port options from the config. Unset
// fields are left zero for serialmux to fill with the port defaults.
func (c *StationConfig) GetPortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// GetDecisionConfig returns the aggregator thresholds from the config.
// Unset fields are left zero for decision.Normalize to fill.
func (c *StationConfig) GetDecisionConfig() decision.Config {
	var cfg decision.Config
	if c.WindowSize != nil {
		cfg.WindowSize = *c.WindowSize
	}
	if c.ConsecutiveThreshold != nil {
		cfg.ConsecutiveThreshold = *c.ConsecutiveThreshold
	}
	if c.MajorityThreshold != nil {
		cfg.MajorityThreshold = *c.MajorityThreshold
	}
	return cfg
}

// GetListen returns the HTTP listen address or the default.
func (c *StationConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}
