// Package settings loads and validates the three persisted configuration
// files the scan core reads at startup: general, memory, and scan
// settings, each its own YAML document.
package settings

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scanforge/core/internal/memory"
)

// General holds process-wide, non-domain-specific settings.
type General struct {
	LogLevel string `yaml:"log_level"`
}

// Memory holds defaults for the memory provider.
type Memory struct {
	DefaultAlignment int  `yaml:"default_alignment"`
	SkipInaccessible bool `yaml:"skip_inaccessible"`
}

// Scan holds defaults applied to new scan passes unless overridden.
type Scan struct {
	FloatTolerance string `yaml:"float_tolerance"`
	ResultPageSize int    `yaml:"result_page_size"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	MemoryReadMode string `yaml:"memory_read_mode"`
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validAlignments = map[int]bool{1: true, 2: true, 4: true, 8: true}
var validTolerances = map[string]bool{"exact": true, "1e-1": true, "1e-2": true, "1e-3": true, "1e-4": true, "1e-5": true}
var validReadModes = map[string]bool{"read_before_scan": true, "skip": true, "read_interleaved": true}

// LoadGeneral reads, defaults, and validates a General settings file.
func LoadGeneral(path string) (*General, error) {
	var g General
	if err := loadYAML(path, &g); err != nil {
		return nil, err
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if !validLogLevels[g.LogLevel] {
		return nil, fmt.Errorf("settings: general: log_level %q must be one of: debug, info, warn, error", g.LogLevel)
	}
	return &g, nil
}

// LoadMemory reads, defaults, and validates a Memory settings file.
func LoadMemory(path string) (*Memory, error) {
	var m Memory
	if err := loadYAML(path, &m); err != nil {
		return nil, err
	}
	if m.DefaultAlignment == 0 {
		m.DefaultAlignment = int(memory.Alignment4)
	}
	if !validAlignments[m.DefaultAlignment] {
		return nil, fmt.Errorf("settings: memory: default_alignment %d must be one of: 1, 2, 4, 8", m.DefaultAlignment)
	}
	return &m, nil
}

// LoadScan reads, defaults, and validates a Scan settings file.
func LoadScan(path string) (*Scan, error) {
	var s Scan
	if err := loadYAML(path, &s); err != nil {
		return nil, err
	}
	if s.FloatTolerance == "" {
		s.FloatTolerance = "1e-3"
	}
	if s.ResultPageSize == 0 {
		s.ResultPageSize = 100
	}
	if s.MemoryReadMode == "" {
		s.MemoryReadMode = "read_before_scan"
	}
	if s.MaxConcurrency < 0 {
		return nil, errors.New("settings: scan: max_concurrency must not be negative")
	}
	if !validTolerances[s.FloatTolerance] {
		return nil, fmt.Errorf("settings: scan: float_tolerance %q must be one of: exact, 1e-1, 1e-2, 1e-3, 1e-4, 1e-5", s.FloatTolerance)
	}
	if !validReadModes[s.MemoryReadMode] {
		return nil, fmt.Errorf("settings: scan: memory_read_mode %q must be one of: read_before_scan, skip, read_interleaved", s.MemoryReadMode)
	}
	return &s, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("settings: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("settings: parsing %q: %w", path, err)
	}
	return nil
}

// Save writes v to path as YAML, creating or truncating the file.
func Save(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: encoding %q: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("settings: writing %q: %w", path, err)
	}
	return nil
}
