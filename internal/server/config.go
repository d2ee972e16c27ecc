package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kvdb/internal/aoflog"
)

// SavePoint is one automatic-RDB-save trigger: save if at least Changes
// mutations have happened since the last save and at least Seconds have
// elapsed, mirroring upstream Redis's "save <seconds> <changes>" config
// directive (grounded on the teacher's RDBSavePoint).
type SavePoint struct {
	Seconds int `yaml:"seconds"`
	Changes int `yaml:"changes"`
}

// Config holds every tunable the server process needs, loaded from a
// YAML file when one is given and overlaid with DefaultConfig otherwise.
type Config struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	NumDBs int    `yaml:"num_databases"`

	LogLevel string `yaml:"log_level"`

	RDBFilepath string      `yaml:"rdb_filepath"`
	SavePoints  []SavePoint `yaml:"save_points"`

	AOF aoflog.Config `yaml:"aof"`

	AOFWorkers int `yaml:"aof_workers"`

	MaintenanceTickMs int64 `yaml:"maintenance_tick_ms"`
}

// DefaultConfig returns the upstream-compatible default configuration:
// port 6379, 16 logical databases, everysec AOF, and the classic
// "900 1 / 300 10 / 60 10000" RDB save-point ladder.
func DefaultConfig() *Config {
	return &Config{
		Host:     "0.0.0.0",
		Port:     6379,
		NumDBs:   16,
		LogLevel: "info",

		RDBFilepath: "dump.rdb",
		SavePoints: []SavePoint{
			{Seconds: 900, Changes: 1},
			{Seconds: 300, Changes: 10},
			{Seconds: 60, Changes: 10000},
		},

		AOF:        aoflog.DefaultConfig(),
		AOFWorkers: 1,

		MaintenanceTickMs: 100,
	}
}

// LoadConfig reads a YAML config file at path, overlaying it onto
// DefaultConfig so an omitted field keeps its default.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server: parse config: %w", err)
	}
	return cfg, nil
}

// ShouldSave reports whether dirty mutations since the last save and
// elapsed seconds satisfy any configured save point.
func (c *Config) ShouldSave(dirtySinceLastSave uint64, secondsSinceLastSave int64) bool {
	for _, sp := range c.SavePoints {
		if int64(sp.Seconds) <= secondsSinceLastSave && uint64(sp.Changes) <= dirtySinceLastSave {
			return true
		}
	}
	return false
}
