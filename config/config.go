// Package config loads the pagecheck run configuration from a YAML file, an
// optional .env file and PAGECHECK_* environment variables, in that order of
// increasing precedence.
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

	"github.com/hazyhaar/pagecheck/horosafe"
)

// Config is the top-level pagecheck configuration.
type Config struct {
	TargetURL  string        `yaml:"target_url"`
	OutputDir  string        `yaml:"output_dir"`
	Database   string        `yaml:"database"`
	RunTimeout time.Duration `yaml:"run_timeout"`
	// DatabaseBusyTimeout is how long a store write waits on a locked
	// database before SQLITE_BUSY.
	DatabaseBusyTimeout time.Duration `yaml:"database_busy_timeout"`

	Browser   BrowserConfig   `yaml:"browser"`
	Paths     Paths           `yaml:"paths"`
	Recording RecordingConfig `yaml:"recording"`
	Extract   ExtractConfig   `yaml:"extract"`
	Expect    ExpectConfig    `yaml:"expect"`
	SelfHeal  SelfHealConfig  `yaml:"self_heal"`
}

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Mode             string        `yaml:"mode"` // headless | headful
	ResourceBlocking []string      `yaml:"resource_blocking"`
	ViewportWidth    int           `yaml:"viewport_width"`
	ViewportHeight   int           `yaml:"viewport_height"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// Paths are the output directories. Unset entries derive from OutputDir.
type Paths struct {
	Screenshots string `yaml:"screenshots"`
	Recordings  string `yaml:"recordings"`
	Baselines   string `yaml:"baselines"`
	Diffs       string `yaml:"diffs"`
	Cache       string `yaml:"cache"`
}

// RecordingConfig controls background frame capture.
type RecordingConfig struct {
	Disabled bool          `yaml:"disabled"`
	Interval time.Duration `yaml:"interval"`
	// Bundle merges the frames into frames.pdf at teardown.
	Bundle bool `yaml:"bundle"`
}

// ExtractConfig tunes structured extraction.
type ExtractConfig struct {
	Selectors  []string `yaml:"selectors"`
	MinTextLen int      `yaml:"min_text_len"`
}

// ExpectConfig holds assertions on the landing page.
type ExpectConfig struct {
	TitleContains string `yaml:"title_contains"`
}

// SelfHealConfig configures the self-healing action step.
type SelfHealConfig struct {
	Name            string        `yaml:"name"`
	Checkpoint      string        `yaml:"checkpoint"`
	Workflow        string        `yaml:"workflow"`
	Instruction     string        `yaml:"instruction"`
	TargetSubstring string        `yaml:"target_substring"`
	Threshold       float64       `yaml:"threshold"`
	NewPageTimeout  time.Duration `yaml:"new_page_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
}

// Load reads path (optional), loads envFile (or ./.env when empty and
// present), applies PAGECHECK_* overrides, fills defaults and validates.
func Load(path, envFile string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML and fills defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// godotenv never overrides variables already set in the process.
func loadEnvFile(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("config: env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: .env: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PAGECHECK_TARGET_URL"); v != "" {
		c.TargetURL = v
	}
	if v := getenv("PAGECHECK_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := getenv("PAGECHECK_REMOTE"); v != "" {
		c.Browser.Remote = v
	}
	if v := getenv("PAGECHECK_DB"); v != "" {
		c.Database = v
	}
	if v := getenv("PAGECHECK_HEADLESS"); v != "" {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: PAGECHECK_HEADLESS: %w", err)
		}
		if headless {
			c.Browser.Mode = "headless"
		} else {
			c.Browser.Mode = "headful"
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.TargetURL == "" {
		c.TargetURL = "https://example.com"
	}
	if c.OutputDir == "" {
		c.OutputDir = "pagecheck-output"
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.OutputDir, "runs.db")
	}
	if c.DatabaseBusyTimeout <= 0 {
		c.DatabaseBusyTimeout = 10 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Minute
	}

	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 800
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}

	if c.Recording.Interval <= 0 {
		c.Recording.Interval = 500 * time.Millisecond
	}
	if c.Extract.MinTextLen <= 0 {
		c.Extract.MinTextLen = 20
	}

	sh := &c.SelfHeal
	if sh.Name == "" {
		sh.Name = "self-heal"
	}
	if sh.Checkpoint == "" {
		sh.Checkpoint = sh.Name
	}
	if sh.Workflow == "" {
		sh.Workflow = "pagecheck"
	}
	if sh.Instruction == "" {
		sh.Instruction = "Click the 'More information' link"
	}
	if sh.TargetSubstring == "" {
		sh.TargetSubstring = "iana.org"
	}
	if sh.Threshold <= 0 {
		sh.Threshold = 0.10
	}
	if sh.NewPageTimeout <= 0 {
		sh.NewPageTimeout = 5 * time.Second
	}
	if sh.PollInterval <= 0 {
		sh.PollInterval = 300 * time.Millisecond
	}
	if sh.SettleDelay <= 0 {
		sh.SettleDelay = time.Second
	}

	p := &c.Paths
	if p.Screenshots == "" {
		p.Screenshots = filepath.Join(c.OutputDir, "screenshots")
	}
	if p.Recordings == "" {
		p.Recordings = filepath.Join(c.OutputDir, "recordings")
	}
	if p.Baselines == "" {
		p.Baselines = filepath.Join(c.OutputDir, "baselines")
	}
	if p.Diffs == "" {
		p.Diffs = filepath.Join(c.OutputDir, "diffs")
	}
	if p.Cache == "" {
		p.Cache = filepath.Join(c.OutputDir, "cache")
	}
}

// WorkflowDir is the action cache directory of the self-heal workflow.
func (c *Config) WorkflowDir() string {
	return filepath.Join(c.Paths.Cache, c.SelfHeal.Workflow)
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if err := horosafe.ValidateTargetURL(c.TargetURL); err != nil {
		return fmt.Errorf("config: target_url: %w", err)
	}
	switch strings.ToLower(c.Browser.Mode) {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode: unknown mode %q", c.Browser.Mode)
	}
	if c.SelfHeal.Threshold > 1 {
		return fmt.Errorf("config: self_heal.threshold: %v is above 1", c.SelfHeal.Threshold)
	}
	for _, name := range []string{c.SelfHeal.Name, c.SelfHeal.Checkpoint, c.SelfHeal.Workflow} {
		if err := horosafe.ValidateName(name); err != nil {
			return fmt.Errorf("config: self_heal: %w", err)
		}
	}
	return nil
}
