package meta

import (
	"bytes"
	"os"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// Settings configures a database instance.
type Settings struct {
	// DataDir is the directory holding relation files, the WAL, and the
	// temp namespace.
	DataDir string `yaml:"data_dir"`

	// PoolCapacity bounds the buffer pool in pages. Zero means
	// unbounded (eviction disabled).
	PoolCapacity int `yaml:"pool_capacity"`

	// FlushInterval, when set (e.g. "5s"), runs a background job that
	// flushes the WAL tail on that period.
	FlushInterval string `yaml:"flush_interval,omitempty"`

	// InMemory keeps every page file on the heap. For tests and
	// throwaway databases; nothing survives the process.
	InMemory bool `yaml:"in_memory,omitempty"`
}

// DefaultSettings returns the stock configuration.
func DefaultSettings() Settings {
	return Settings{DataDir: "./data"}
}

// LoadSettings reads a YAML settings file. Unknown fields are rejected
// to catch typos.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return s, err
	}
	if s.DataDir == "" {
		s.DataDir = "./data"
	}
	return s, nil
}

// SaveSettings writes the settings as YAML, atomically replacing any
// existing file.
func SaveSettings(path string, s Settings) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(raw))
}
