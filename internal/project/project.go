// Package project persists a scan session's project directory: a
// human-readable manifest plus one file per project item (a saved scan
// result, a frozen address, a named scan parameter set). Layout and loading
// follow internal/config/config.go's read → unmarshal → default → validate
// pipeline, retargeted at a directory of files instead of a single one.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// manifestFileName is the well-known name of a project's manifest file
// within its directory.
const manifestFileName = "manifest.yaml"

// ItemKind classifies one entry recorded in a project's manifest.
type ItemKind string

const (
	// ItemKindScanResult is a saved, named address the user pinned from a
	// scan-result page (independent of the live ScanResultIndex).
	ItemKindScanResult ItemKind = "scan_result"
	// ItemKindScanParameters is a named, reusable ScanParameters preset.
	ItemKindScanParameters ItemKind = "scan_parameters"
	// ItemKindFrozenAddress mirrors one entry of the freeze list at the
	// time the project was saved, so reopening a project can reseed it.
	ItemKindFrozenAddress ItemKind = "frozen_address"
)

// Item is one manifest entry. File is the name of the sibling file under
// the project directory holding Item-kind-specific payload (YAML); it is
// empty for kinds that are fully described by the manifest row itself.
type Item struct {
	Name string   `yaml:"name"`
	Kind ItemKind `yaml:"kind"`
	File string   `yaml:"file,omitempty"`
}

// Manifest is the top-level, human-readable project descriptor.
type Manifest struct {
	ProjectName string    `yaml:"project_name"`
	ProcessName string    `yaml:"process_name,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at"`
	Items       []Item    `yaml:"items"`
}

var validKinds = map[ItemKind]bool{
	ItemKindScanResult:     true,
	ItemKindScanParameters: true,
	ItemKindFrozenAddress:  true,
}

// Create initializes a new project directory at dir with an empty manifest.
// dir must not already contain a manifest file.
func Create(dir, projectName string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, manifestFileName)
	if _, err := os.Stat(manifestPath); err == nil {
		return nil, fmt.Errorf("project: %q already contains a project", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("project: creating %q: %w", dir, err)
	}

	now := time.Now().UTC()
	m := &Manifest{ProjectName: projectName, CreatedAt: now, UpdatedAt: now}
	if err := save(manifestPath, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Open loads the manifest from dir, validating every item's kind and that
// any referenced sibling file exists.
func Open(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, manifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("project: reading %q: %w", manifestPath, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("project: parsing %q: %w", manifestPath, err)
	}

	if err := validateManifest(dir, &m); err != nil {
		return nil, fmt.Errorf("project: validating %q: %w", manifestPath, err)
	}
	return &m, nil
}

func validateManifest(dir string, m *Manifest) error {
	var errs []error
	for i, item := range m.Items {
		if item.Name == "" {
			errs = append(errs, fmt.Errorf("items[%d]: name is required", i))
		}
		if !validKinds[item.Kind] {
			// Unknown kinds are preserved rather than rejected, so a project
			// written by a newer build still opens here. Nothing to validate
			// about a payload shape this build does not know.
			continue
		}
		if item.File != "" {
			if _, err := os.Stat(filepath.Join(dir, item.File)); err != nil {
				errs = append(errs, fmt.Errorf("items[%d]: referenced file %q: %w", i, item.File, err))
			}
		}
	}
	return errors.Join(errs...)
}

// AddItem appends item to the manifest and rewrites it to dir, updating
// UpdatedAt. The item's Kind must be one this package recognizes.
func (m *Manifest) AddItem(dir string, item Item) error {
	if !validKinds[item.Kind] {
		return fmt.Errorf("project: unknown item kind %q", item.Kind)
	}
	m.Items = append(m.Items, item)
	m.UpdatedAt = time.Now().UTC()
	return save(filepath.Join(dir, manifestFileName), m)
}

// RemoveItem deletes the first item named name (and its sibling file, if
// any) from the manifest and rewrites it.
func (m *Manifest) RemoveItem(dir, name string) error {
	for i, item := range m.Items {
		if item.Name != name {
			continue
		}
		if item.File != "" {
			if err := os.Remove(filepath.Join(dir, item.File)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("project: removing %q: %w", item.File, err)
			}
		}
		m.Items = append(m.Items[:i], m.Items[i+1:]...)
		m.UpdatedAt = time.Now().UTC()
		return save(filepath.Join(dir, manifestFileName), m)
	}
	return fmt.Errorf("project: no item named %q", name)
}

// SaveItemPayload writes v as YAML to dir/fileName, the sibling file an
// Item.File entry points at.
func SaveItemPayload(dir, fileName string, v any) error {
	return save(filepath.Join(dir, fileName), v)
}

// LoadItemPayload reads and unmarshals the YAML sibling file fileName under
// dir into v.
func LoadItemPayload(dir, fileName string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return fmt.Errorf("project: reading %q: %w", fileName, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("project: parsing %q: %w", fileName, err)
	}
	return nil
}

func save(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("project: encoding %q: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("project: writing %q: %w", path, err)
	}
	return nil
}
