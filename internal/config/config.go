// Package config loads the small set of knobs the scenario harness and CLI
// need to stand up a WAL + buffer pool + heap segment: where the data files
// live, how many frames the buffer pool gets, and the page size.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk YAML shape for a walctl run.
type Config struct {
	DataDir          string `yaml:"data_dir"`
	BufferPoolFrames int    `yaml:"buffer_pool_frames"`
	PageSize         int    `yaml:"page_size"`
	SegmentID        uint64 `yaml:"segment_id"`
}

// Default matches the scenario harness fixture: 128-byte pages, 10 frames,
// heap segment id 123.
func Default() Config {
	return Config{
		DataDir:          "data",
		BufferPoolFrames: 10,
		PageSize:         128,
		SegmentID:        123,
	}
}

// Load reads a YAML config file at path, filling in any field left at its
// zero value with Default's value.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, errors.Wrapf(err, "config: read %q", path)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: parse %q", path)
	}

	if cfg.BufferPoolFrames <= 0 {
		cfg.BufferPoolFrames = Default().BufferPoolFrames
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = Default().PageSize
	}
	if cfg.SegmentID == 0 {
		cfg.SegmentID = Default().SegmentID
	}
	if cfg.DataDir == "" {
		cfg.DataDir = Default().DataDir
	}

	return cfg, nil
}
