package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError reports an invalid run configuration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Validate validates the configuration. All problems are reported, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.OutputDir) == "" {
		add("output_dir", "must not be empty")
	}
	if c.DefaultTimeout != "" {
		if d, err := time.ParseDuration(c.DefaultTimeout); err != nil || d <= 0 {
			add("default_timeout", "invalid duration %q", c.DefaultTimeout)
		}
	}
	if c.MaxOutputBytes < 0 {
		add("max_output_bytes", "must not be negative")
	}
	if len(c.Stages) == 0 {
		add("stages", "at least one stage is required")
	}

	ids := make(map[string]bool)
	ordinals := make(map[int]string)
	hasFanOut := false
	for i, s := range c.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if s.ID == "" {
			add(field, "id is required")
		} else if ids[strings.ToLower(s.ID)] {
			add(field, "duplicate id %q", s.ID)
		}
		ids[strings.ToLower(s.ID)] = true

		if prev, dup := ordinals[s.Ordinal]; dup {
			add(field, "ordinal %d already used by %q", s.Ordinal, prev)
		}
		ordinals[s.Ordinal] = s.ID

		if len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
			add(field, "command is required")
		}
		if s.Timeout != "" {
			if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
				add(field, "invalid timeout %q", s.Timeout)
			}
		}
		if s.FanOut {
			hasFanOut = true
			if s.Mandatory {
				add(field, "fan-out stage %q cannot be mandatory", s.ID)
			}
		}
	}

	if hasFanOut {
		src, ok := c.SourceStage()
		switch {
		case !ok:
			add("units.source_stage", "stage %q not found", c.Units.SourceStage)
		case src.FanOut:
			add("units.source_stage", "stage %q fans out", src.ID)
		case !src.Mandatory:
			add("units.source_stage", "stage %q must be mandatory", src.ID)
		case src.Output == "":
			add("units.source_stage", "stage %q declares no output artifact", src.ID)
		}
		if c.Units.Collection == "" || c.Units.IDField == "" || c.Units.NameField == "" {
			add("units", "collection, id_field and name_field are required")
		}
		for _, s := range c.Stages {
			if s.FanOut && ok && s.Ordinal <= src.Ordinal {
				add("units.source_stage", "fan-out stage %q runs before %q", s.ID, src.ID)
			}
		}
	}

	return errors.Join(errs...)
}
