// Package config loads pcap-patrol configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (PCAP_PATROL_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. the explicit path passed to Load, or $PCAP_PATROL_CONFIG
//  2. .pcap-patrol.yaml in current directory
//  3. ~/.config/pcap-patrol/config.yaml
//
// Relative paths in the file (allowed_pcap_dirs, output_dir) are resolved
// against the directory holding the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a named bundle of query defaults.
type Profile struct {
	DisplayFilter string   `yaml:"display_filter" json:"display_filter"`
	DecodeAs      []string `yaml:"decode_as" json:"decode_as"`
	Preferences   []string `yaml:"preferences" json:"preferences"`
}

// Column is a named export column backed by a field expression.
type Column struct {
	Name  string `yaml:"name" json:"name"`
	Field string `yaml:"field" json:"field"`
}

// Config holds all pcap-patrol configuration. A loaded Config is treated as
// immutable; reloads produce a new value (see Store).
type Config struct {
	// Capture location
	AllowedPcapDirs  []string `yaml:"allowed_pcap_dirs" json:"allowed_pcap_dirs"`
	AllowAnyPcapPath bool     `yaml:"allow_any_pcap_path" json:"allow_any_pcap_path"`

	// External tools
	TsharkPath   string `yaml:"tshark_path" json:"tshark_path"`
	CapinfosPath string `yaml:"capinfos_path" json:"capinfos_path"`

	// Limits
	DefaultTimeout  string `yaml:"default_timeout" json:"default_timeout"` // Go duration string, e.g. "30s"
	MaxTimelineRows int    `yaml:"max_timeline_rows" json:"max_timeline_rows"`
	MaxDetailBytes  int    `yaml:"max_detail_bytes" json:"max_detail_bytes"`
	ExportTimeout   string `yaml:"export_timeout" json:"export_timeout"`

	// Export
	OutputDir       string `yaml:"output_dir" json:"output_dir"`
	TimeOffsetHours int    `yaml:"time_offset_hours" json:"time_offset_hours"`

	// Dissection defaults applied to every query
	GlobalDecodeAs    []string            `yaml:"global_decode_as" json:"global_decode_as"`
	GlobalPreferences []string            `yaml:"global_preferences" json:"global_preferences"`
	Profiles          map[string]Profile  `yaml:"profiles" json:"profiles"`
	PacketListColumns map[string][]Column `yaml:"packet_list_columns" json:"packet_list_columns"`

	// Logging
	LogLevel string `yaml:"log_level" json:"log_level"`

	// OTEL
	OTELEndpoint       string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELHeaders        string `yaml:"otel_headers" json:"-"` // Comma-separated key=value pairs
	OTELExportInterval string `yaml:"otel_export_interval" json:"otel_export_interval"`

	// LLM settings for the explain command
	LLMProvider  string `yaml:"llm_provider" json:"llm_provider"`
	LLMModel     string `yaml:"llm_model" json:"llm_model"`
	LLMBaseURL   string `yaml:"llm_base_url" json:"llm_base_url"`
	LLMAPIKey    string `yaml:"llm_api_key" json:"-"`
	LLMMaxTokens int64  `yaml:"llm_max_tokens" json:"llm_max_tokens"`

	// Parsed durations (not from YAML, set after loading)
	DefaultTimeoutDuration     time.Duration `yaml:"-" json:"-"`
	ExportTimeoutDuration      time.Duration `yaml:"-" json:"-"`
	OTELExportIntervalDuration time.Duration `yaml:"-" json:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-" json:"config_file"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		AllowedPcapDirs:    []string{"."},
		TsharkPath:         "tshark",
		CapinfosPath:       "capinfos",
		DefaultTimeout:     "30s",
		MaxTimelineRows:    5000,
		MaxDetailBytes:     200000,
		ExportTimeout:      "300s",
		OutputDir:          "./pcap_patrol_outputs",
		LogLevel:           "info",
		OTELExportInterval: "5s",
		LLMProvider:        "anthropic",
		LLMMaxTokens:       2048,
	}
}

// Load reads configuration from file and environment variables.
// An explicit path must exist; without one the default locations are searched.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	baseDir, _ := os.Getwd()

	if path == "" {
		path = os.Getenv("PCAP_PATROL_CONFIG")
	}

	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		path, data, err = findConfigFile()
	}
	if err == nil && path != "" {
		fileCfg, err := parseFile(data)
		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		abs, _ := filepath.Abs(path)
		cfg.ConfigFile = abs
		baseDir = filepath.Dir(abs)
		mergeFile(cfg, fileCfg)
	}

	// Environment variables override everything
	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}

	if err := finalize(cfg, baseDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseFile decodes a YAML document, rejecting unknown keys.
func parseFile(data []byte) (*Config, error) {
	var fileCfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &fileCfg, nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	// 1. Current directory
	if data, err := os.ReadFile(".pcap-patrol.yaml"); err == nil {
		return ".pcap-patrol.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "pcap-patrol", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	if len(file.AllowedPcapDirs) > 0 {
		cfg.AllowedPcapDirs = file.AllowedPcapDirs
	}
	if file.AllowAnyPcapPath {
		cfg.AllowAnyPcapPath = true
	}
	if file.TsharkPath != "" {
		cfg.TsharkPath = file.TsharkPath
	}
	if file.CapinfosPath != "" {
		cfg.CapinfosPath = file.CapinfosPath
	}
	if file.DefaultTimeout != "" {
		cfg.DefaultTimeout = file.DefaultTimeout
	}
	if file.MaxTimelineRows != 0 {
		cfg.MaxTimelineRows = file.MaxTimelineRows
	}
	if file.MaxDetailBytes != 0 {
		cfg.MaxDetailBytes = file.MaxDetailBytes
	}
	if file.ExportTimeout != "" {
		cfg.ExportTimeout = file.ExportTimeout
	}
	if file.OutputDir != "" {
		cfg.OutputDir = file.OutputDir
	}
	if file.TimeOffsetHours != 0 {
		cfg.TimeOffsetHours = file.TimeOffsetHours
	}
	if len(file.GlobalDecodeAs) > 0 {
		cfg.GlobalDecodeAs = file.GlobalDecodeAs
	}
	if len(file.GlobalPreferences) > 0 {
		cfg.GlobalPreferences = file.GlobalPreferences
	}
	if len(file.Profiles) > 0 {
		cfg.Profiles = file.Profiles
	}
	if len(file.PacketListColumns) > 0 {
		cfg.PacketListColumns = file.PacketListColumns
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
	if file.OTELExportInterval != "" {
		cfg.OTELExportInterval = file.OTELExportInterval
	}
	if file.LLMProvider != "" {
		cfg.LLMProvider = file.LLMProvider
	}
	if file.LLMModel != "" {
		cfg.LLMModel = file.LLMModel
	}
	if file.LLMBaseURL != "" {
		cfg.LLMBaseURL = file.LLMBaseURL
	}
	if file.LLMAPIKey != "" {
		cfg.LLMAPIKey = file.LLMAPIKey
	}
	if file.LLMMaxTokens > 0 {
		cfg.LLMMaxTokens = file.LLMMaxTokens
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) error {
	if v := os.Getenv("PCAP_PATROL_ALLOWED_DIRS"); v != "" {
		cfg.AllowedPcapDirs = splitList(v)
	}
	if v := os.Getenv("PCAP_PATROL_ALLOW_ANY_PCAP_PATH"); v != "" {
		cfg.AllowAnyPcapPath = isTrue(v)
	}
	if v := os.Getenv("PCAP_PATROL_TSHARK"); v != "" {
		cfg.TsharkPath = v
	}
	if v := os.Getenv("PCAP_PATROL_CAPINFOS"); v != "" {
		cfg.CapinfosPath = v
	}
	if v := os.Getenv("PCAP_PATROL_TIMEOUT"); v != "" {
		cfg.DefaultTimeout = v
	}
	if v := os.Getenv("PCAP_PATROL_EXPORT_TIMEOUT"); v != "" {
		cfg.ExportTimeout = v
	}
	if v := os.Getenv("PCAP_PATROL_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("PCAP_PATROL_GLOBAL_DECODE_AS"); v != "" {
		cfg.GlobalDecodeAs = splitList(v)
	}
	if v := os.Getenv("PCAP_PATROL_GLOBAL_PREFERENCES"); v != "" {
		cfg.GlobalPreferences = splitList(v)
	}
	if v := os.Getenv("PCAP_PATROL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PCAP_PATROL_MAX_TIMELINE_ROWS", &cfg.MaxTimelineRows},
		{"PCAP_PATROL_MAX_DETAIL_BYTES", &cfg.MaxDetailBytes},
		{"PCAP_PATROL_TIME_OFFSET_HOURS", &cfg.TimeOffsetHours},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.OTELHeaders = v
	}
	if v := os.Getenv("PCAP_PATROL_OTEL_EXPORT_INTERVAL"); v != "" {
		cfg.OTELExportInterval = v
	}

	if v := os.Getenv("PCAP_PATROL_LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv("PCAP_PATROL_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("PCAP_PATROL_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("PCAP_PATROL_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}

	// API key fallbacks
	if cfg.LLMAPIKey == "" {
		switch cfg.LLMProvider {
		case "anthropic":
			cfg.LLMAPIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	return nil
}

// finalize resolves paths, cleans lists and validates limits.
func finalize(cfg *Config, baseDir string) error {
	var err error
	cfg.DefaultTimeoutDuration, err = parseDurationOrDisable(cfg.DefaultTimeout, 30*time.Second)
	if err != nil {
		return fmt.Errorf("invalid default timeout %q: %w", cfg.DefaultTimeout, err)
	}
	cfg.ExportTimeoutDuration, err = parseDurationOrDisable(cfg.ExportTimeout, 300*time.Second)
	if err != nil {
		return fmt.Errorf("invalid export timeout %q: %w", cfg.ExportTimeout, err)
	}
	cfg.OTELExportIntervalDuration, err = time.ParseDuration(cfg.OTELExportInterval)
	if err != nil || cfg.OTELExportIntervalDuration <= 0 {
		return fmt.Errorf("invalid otel export interval %q: must be a positive duration", cfg.OTELExportInterval)
	}
	if cfg.MaxTimelineRows <= 0 {
		return fmt.Errorf("max_timeline_rows must be > 0, got %d", cfg.MaxTimelineRows)
	}
	if cfg.MaxDetailBytes <= 0 {
		return fmt.Errorf("max_detail_bytes must be > 0, got %d", cfg.MaxDetailBytes)
	}

	dirs := make([]string, 0, len(cfg.AllowedPcapDirs))
	for _, d := range cleanList(cfg.AllowedPcapDirs) {
		dirs = append(dirs, resolvePath(baseDir, d))
	}
	cfg.AllowedPcapDirs = dirs
	cfg.OutputDir = resolvePath(baseDir, cfg.OutputDir)

	cfg.GlobalDecodeAs = cleanList(cfg.GlobalDecodeAs)
	cfg.GlobalPreferences = cleanList(cfg.GlobalPreferences)

	profiles := make(map[string]Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		profiles[name] = Profile{
			DisplayFilter: strings.TrimSpace(p.DisplayFilter),
			DecodeAs:      cleanList(p.DecodeAs),
			Preferences:   cleanList(p.Preferences),
		}
	}
	cfg.Profiles = profiles

	columns := make(map[string][]Column, len(cfg.PacketListColumns))
	for name, cols := range cfg.PacketListColumns {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var kept []Column
		for _, c := range cols {
			c.Name = strings.TrimSpace(c.Name)
			c.Field = strings.TrimSpace(c.Field)
			if c.Name == "" || c.Field == "" {
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) > 0 {
			columns[name] = kept
		}
	}
	cfg.PacketListColumns = columns
	return nil
}

// Profile returns the named profile.
func (c *Config) Profile(name string) (Profile, bool) {
	p, ok := c.Profiles[name]
	return p, ok
}

// ProfileNames returns the configured profile names in sorted order.
func (c *Config) ProfileNames() []string {
	return sortedKeys(c.Profiles)
}

// ColumnProfileNames returns the configured packet list column set names.
func (c *Config) ColumnProfileNames() []string {
	return sortedKeys(c.PacketListColumns)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func resolvePath(baseDir, p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	return filepath.Clean(p)
}

func splitList(v string) []string {
	return cleanList(strings.Split(v, ","))
}

// cleanList trims entries and drops blanks.
func cleanList(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
