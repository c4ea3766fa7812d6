package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// StageConfig defines one stage of the sequence.
type StageConfig struct {
	ID          string   `yaml:"id"`
	Ordinal     int      `yaml:"ordinal"`
	Description string   `yaml:"description,omitempty"`
	Command     []string `yaml:"command"`

	// Artifact the stage writes into the output location (verified after exit 0)
	Output string `yaml:"output,omitempty"`

	// Aggregate artifact name for fan-out stages (default: <id>_all_nodes.txt)
	Aggregate string `yaml:"aggregate,omitempty"`

	FanOut    bool   `yaml:"fan_out,omitempty"`
	Mandatory bool   `yaml:"mandatory,omitempty"`
	Timeout   string `yaml:"timeout,omitempty"`
}

// UnitsConfig configures unit enumeration.
type UnitsConfig struct {
	// Stage whose output artifact lists the units
	SourceStage string `yaml:"source_stage"`

	// Structured path: <collection>[].<id_field>/<name_field>
	Collection string `yaml:"collection"`
	IDField    string `yaml:"id_field"`
	NameField  string `yaml:"name_field"`

	// Legacy path: "### <heading_marker> <n>: <name>"
	HeadingMarker string `yaml:"heading_marker"`
}

// AggregateName returns the aggregate artifact name of a fan-out stage.
func (s StageConfig) AggregateName() string {
	if s.Aggregate != "" {
		return s.Aggregate
	}
	return s.ID + "_all_nodes.txt"
}

// GetTimeout returns the stage timeout, falling back to def.
func (s StageConfig) GetTimeout(def time.Duration) time.Duration {
	if s.Timeout == "" {
		return def
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Ordered returns the configured stages sorted by ordinal.
func (c *Config) Ordered() []StageConfig {
	out := make([]StageConfig, len(c.Stages))
	copy(out, c.Stages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// StageByID looks up a stage by id (case-insensitive) or by ordinal.
func (c *Config) StageByID(ref string) (StageConfig, bool) {
	ref = strings.TrimSpace(ref)
	n, numErr := strconv.Atoi(ref)
	for _, s := range c.Stages {
		if strings.EqualFold(s.ID, ref) {
			return s, true
		}
		if numErr == nil && s.Ordinal == n {
			return s, true
		}
	}
	return StageConfig{}, false
}

// SourceStage returns the stage that produces the unit list.
func (c *Config) SourceStage() (StageConfig, bool) {
	return c.StageByID(c.Units.SourceStage)
}

// Select resolves stage references (ids or ordinals) into the ordered subset to run.
// An empty selection means the full sequence. Unknown references, and a subset that
// runs a fan-out stage without the unit source stage, fail fast.
func (c *Config) Select(refs []string) ([]StageConfig, error) {
	if len(refs) == 0 {
		return c.Ordered(), nil
	}

	chosen := make(map[string]bool)
	for _, ref := range refs {
		s, ok := c.StageByID(ref)
		if !ok {
			return nil, &ValidationError{Field: "stages", Reason: fmt.Sprintf("unknown stage %q", ref)}
		}
		chosen[s.ID] = true
	}

	var out []StageConfig
	fanOut := false
	for _, s := range c.Ordered() {
		if chosen[s.ID] {
			out = append(out, s)
			fanOut = fanOut || s.FanOut
		}
	}

	if fanOut {
		src, ok := c.SourceStage()
		if !ok || !chosen[src.ID] {
			return nil, &ValidationError{
				Field:  "stages",
				Reason: fmt.Sprintf("fan-out stages selected without unit source stage %q", c.Units.SourceStage),
			}
		}
	}

	return out, nil
}
