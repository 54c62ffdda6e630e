// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
)

// AppName names the config directory, env prefix and default file.
const AppName = "sinkscan"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Scanner() ScannerConfig
	Rules() RulesConfig
	Report() ReportConfig
	Scan() ScanConfig
	SetScanConfig(sc ScanConfig)

	// Setters used by CLI flag overrides.
	SetEngineConcurrency(int)
	SetEngineMinSeverity(string)
	SetRulesDisabled([]string)
	SetReportFormat(string)
	SetReportOutput(string)
	SetReportFailOn(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	ScannerCfg  ScannerConfig  `mapstructure:"scanner" yaml:"scanner"`
	RulesCfg    RulesConfig    `mapstructure:"rules" yaml:"rules"`
	ReportCfg   ReportConfig   `mapstructure:"report" yaml:"report"`
	// ScanCfg gets its marching orders from CLI arguments, not the config file.
	ScanCfg ScanConfig `mapstructure:"-" yaml:"-"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Scanner() ScannerConfig   { return c.ScannerCfg }
func (c *Config) Rules() RulesConfig       { return c.RulesCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }
func (c *Config) Scan() ScanConfig         { return c.ScanCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetScanConfig(sc ScanConfig)       { c.ScanCfg = sc }
func (c *Config) SetEngineConcurrency(n int)        { c.EngineCfg.Concurrency = n }
func (c *Config) SetEngineMinSeverity(s string)     { c.EngineCfg.MinSeverity = s }
func (c *Config) SetRulesDisabled(ids []string)     { c.RulesCfg.Disabled = ids }
func (c *Config) SetReportFormat(f string)          { c.ReportCfg.Format = f }
func (c *Config) SetReportOutput(path string)       { c.ReportCfg.Output = path }
func (c *Config) SetReportFailOn(severity string)   { c.ReportCfg.FailOn = severity }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables
// persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures batch scanning.
type EngineConfig struct {
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
	UnitTimeout  time.Duration `mapstructure:"unit_timeout" yaml:"unit_timeout"`
	MaxUnitBytes int64         `mapstructure:"max_unit_bytes" yaml:"max_unit_bytes"`
	MinSeverity  string        `mapstructure:"min_severity" yaml:"min_severity"`
}

// ScannerConfig configures how units are found and scanned.
type ScannerConfig struct {
	// Sanitizers are the calls that make a URL-derived value safe for markup sinks.
	Sanitizers  []string `mapstructure:"sanitizers" yaml:"sanitizers"`
	Extensions  []string `mapstructure:"extensions" yaml:"extensions"`
	ExcludeDirs []string `mapstructure:"exclude_dirs" yaml:"exclude_dirs"`
}

// RulesConfig switches rules off by id.
type RulesConfig struct {
	Disabled []string `mapstructure:"disabled" yaml:"disabled"`
}

// Enabled returns the on/off map the engine expects.
func (r RulesConfig) Enabled() map[string]bool {
	if len(r.Disabled) == 0 {
		return nil
	}
	m := make(map[string]bool, len(r.Disabled))
	for _, id := range r.Disabled {
		m[strings.TrimSpace(id)] = false
	}
	return m
}

// ReportConfig controls rendering of results.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	// Output is a file path; empty or "-" means stdout.
	Output string `mapstructure:"output" yaml:"output"`
	// FailOn makes the scan command exit non-zero when a finding at or above this
	// severity is reported. Empty disables it.
	FailOn string `mapstructure:"fail_on" yaml:"fail_on"`
}

// ScanConfig holds the per-invocation settings taken from the command line.
type ScanConfig struct {
	Paths   []string
	RunID   string
	Persist bool
}

// DefaultSanitizers are the conventional HTML-escaping and sanitizing calls.
var DefaultSanitizers = []string{
	"DOMPurify.sanitize",
	"sanitizeHtml",
	"sanitizeHTML",
	"escapeHtml",
	"escapeHTML",
	"encodeURIComponent",
	"encodeURI",
	"he.encode",
	"he.escape",
	"_.escape",
	"validator.escape",
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", AppName)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.concurrency", 8)
	v.SetDefault("engine.unit_timeout", "30s")
	v.SetDefault("engine.max_unit_bytes", 2<<20)
	v.SetDefault("engine.min_severity", "low")

	// -- Scanner --
	v.SetDefault("scanner.sanitizers", DefaultSanitizers)
	v.SetDefault("scanner.extensions", []string{".js", ".mjs", ".cjs", ".jsx"})
	v.SetDefault("scanner.exclude_dirs", []string{"node_modules", ".git", "vendor", "dist"})

	// -- Rules --
	v.SetDefault("rules.disabled", []string{})

	// -- Report --
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "")
	v.SetDefault("report.fail_on", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password, so it has its own variable.
	_ = v.BindEnv("database.url", "SINKSCAN_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	var err error
	if cfg.LoggerCfg.LogFile, err = ExpandPath(cfg.LoggerCfg.LogFile); err != nil {
		return nil, fmt.Errorf("logger.log_file: %w", err)
	}
	if cfg.ReportCfg.Output, err = ExpandPath(cfg.ReportCfg.Output); err != nil {
		return nil, fmt.Errorf("report.output: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be a positive integer")
	}
	if c.EngineCfg.UnitTimeout < 0 {
		return fmt.Errorf("engine.unit_timeout must not be negative")
	}
	if c.EngineCfg.MaxUnitBytes <= 0 {
		return fmt.Errorf("engine.max_unit_bytes must be a positive integer")
	}
	if _, err := core.ParseSeverity(c.EngineCfg.MinSeverity); err != nil {
		return fmt.Errorf("engine.min_severity: %w", err)
	}
	if _, err := core.ParseSeverity(c.ReportCfg.FailOn); err != nil {
		return fmt.Errorf("report.fail_on: %w", err)
	}
	if len(c.ScannerCfg.Extensions) == 0 {
		return fmt.Errorf("scanner.extensions must list at least one extension")
	}
	return nil
}

// Severity returns the parsed engine.min_severity.
func (e EngineConfig) Severity() core.Severity {
	sev, _ := core.ParseSeverity(e.MinSeverity)
	return sev
}

// FailOnSeverity returns the parsed report.fail_on, SeverityUnknown when unset.
func (r ReportConfig) FailOnSeverity() core.Severity {
	sev, _ := core.ParseSeverity(r.FailOn)
	return sev
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" || path == "-" {
		return path, nil
	}
	return homedir.Expand(path)
}

// XDGConfigDir returns the XDG config directory for sinkscan.
// On Linux: ~/.config/sinkscan
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// FindConfigFile resolves the config file to load: explicit if set, else
// ./sinkscan.yaml, else the XDG config directory. It returns "" when no file exists,
// which means defaults and environment only.
func FindConfigFile(explicit string) (string, error) {
	if explicit != "" {
		path, err := ExpandPath(explicit)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	for _, candidate := range []string{AppName + ".yaml", filepath.Join(XDGConfigDir(), AppName+".yaml")} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config file %s: %w", candidate, err)
		}
	}
	return "", nil
}

// Load builds the configuration from defaults, the config file (if any) and
// SINKSCAN_* environment variables.
func Load(v *viper.Viper, explicitFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := FindConfigFile(explicitFile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}
	return NewConfigFromViper(v)
}
