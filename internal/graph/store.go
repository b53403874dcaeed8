package graph

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SaveCycles writes the cycle list as a JSON array, replacing the file atomically.
func SaveCycles(path string, cycles []Cycle) error {
	if cycles == nil {
		cycles = []Cycle{}
	}
	b, err := json.MarshalIndent(cycles, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cycles: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cycle dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write cycles: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace cycles: %w", err)
	}
	return nil
}

// LoadCycles reads a cycle file written by SaveCycles. Records that break the
// loop invariant are rejected rather than silently skipped.
func LoadCycles(path string) ([]Cycle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cycles: %w", err)
	}
	var cycles []Cycle
	if err := json.Unmarshal(b, &cycles); err != nil {
		return nil, fmt.Errorf("decode cycles %s: %w", path, err)
	}
	for i, c := range cycles {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("cycle #%d: %w", i, err)
		}
	}
	return cycles, nil
}
