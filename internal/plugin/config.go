package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/splax/airlock/internal/schema"
)

var configSchema = schema.MustCompile("plugins", []byte(`{
  "type": "object",
  "properties": {
    "plugins": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["name", "cmd"],
        "properties": {
          "name": {"type": "string", "pattern": "^[A-Za-z0-9][A-Za-z0-9_.-]*$"},
          "cmd":  {"type": "string", "minLength": 1},
          "cwd":  {"type": "string"}
        }
      }
    }
  }
}`))

// Descriptor declares one external check program.
type Descriptor struct {
	Name string `yaml:"name" json:"name"`
	Cmd  string `yaml:"cmd" json:"cmd"`
	Cwd  string `yaml:"cwd" json:"cwd"`
}

type fileConfig struct {
	Plugins []Descriptor `yaml:"plugins"`
}

// ParseConfig decodes a plugins YAML document. Relative cwd entries are
// resolved against baseDir.
func ParseConfig(data []byte, baseDir string) ([]Descriptor, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse plugins config: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	if err := configSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("validate plugins config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse plugins config: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Plugins))
	out := make([]Descriptor, 0, len(cfg.Plugins))
	for _, d := range cfg.Plugins {
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("duplicate plugin name %q", d.Name)
		}
		seen[d.Name] = struct{}{}
		switch {
		case d.Cwd == "":
			d.Cwd = baseDir
		case !filepath.IsAbs(d.Cwd):
			d.Cwd = filepath.Join(baseDir, d.Cwd)
		}
		out = append(out, d)
	}
	return out, nil
}

// LoadConfig reads plugin descriptors from path. An empty path yields no
// plugins; a missing file is reported with an error wrapping os.ErrNotExist.
func LoadConfig(path, baseDir string) ([]Descriptor, error) {
	if path == "" {
		return nil, nil
	}
	// #nosec G304 -- plugin config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("plugins config %s: %w", path, err)
		}
		return nil, fmt.Errorf("read plugins config %s: %w", path, err)
	}
	descriptors, err := ParseConfig(data, baseDir)
	if err != nil {
		return nil, fmt.Errorf("load plugins config %s: %w", path, err)
	}
	return descriptors, nil
}
