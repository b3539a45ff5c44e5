// Package config loads the tapsync configuration file.
//
// The file is YAML and optional; every field has a default and a file
// only needs the fields it changes. Validate checks a loaded config
// against the embedded CUE schema and the routing rules applied to
// runtime updates.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/output"
	"github.com/roach88/tapsync/internal/routing"
)

// Defaults not covered by routing.Default.
const (
	DefaultListen = "0.0.0.0:8000"
	DefaultTickMS = 20
)

// Outputs holds the three output endpoints.
type Outputs struct {
	Console routing.Endpoint `yaml:"ma3" json:"ma3"`
	VJ      routing.Endpoint `yaml:"resolume" json:"resolume"`
	Mapping routing.Endpoint `yaml:"heavym" json:"heavym"`
}

// Config is the full runtime configuration.
type Config struct {
	Listen        string                `yaml:"listen" json:"listen"`
	TickMS        int                   `yaml:"tick_ms" json:"tick_ms"`
	InitialBPM    float64               `yaml:"initial_bpm" json:"initial_bpm"`
	RoundWholeBPM bool                  `yaml:"round_whole_bpm" json:"round_whole_bpm"`
	SendTimeoutMS int                   `yaml:"send_timeout_ms" json:"send_timeout_ms"`
	Outputs       Outputs               `yaml:"outputs" json:"outputs"`
	Console       routing.ConsoleParams `yaml:"ma3_osc" json:"ma3_osc"`
	Mapping       routing.MappingParams `yaml:"heavym_osc" json:"heavym_osc"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	tbl := routing.Default().Clone()
	return &Config{
		Listen:        DefaultListen,
		TickMS:        DefaultTickMS,
		InitialBPM:    engine.DefaultBPM,
		RoundWholeBPM: true,
		SendTimeoutMS: int(output.DefaultSendTimeout / time.Millisecond),
		Outputs: Outputs{
			Console: tbl.Endpoint(routing.TargetConsole),
			VJ:      tbl.Endpoint(routing.TargetVJ),
			Mapping: tbl.Endpoint(routing.TargetMapping),
		},
		Console: tbl.Console,
		Mapping: tbl.Mapping,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown fields are rejected. Load does not validate; call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if c.Console.Extras == nil {
		c.Console.Extras = []routing.ConsoleExtra{}
	}
	return nil
}

// Table returns the routing table described by c.
func (c *Config) Table() routing.Table {
	tbl := routing.Table{
		Endpoints: map[routing.Target]routing.Endpoint{
			routing.TargetConsole: c.Outputs.Console,
			routing.TargetVJ:      c.Outputs.VJ,
			routing.TargetMapping: c.Outputs.Mapping,
		},
		Console: c.Console,
		Mapping: c.Mapping,
	}
	return tbl.Clone()
}

// TickInterval returns the engine tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// SendTimeout returns the per-packet output send timeout.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMS) * time.Millisecond
}
