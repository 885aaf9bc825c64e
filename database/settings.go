package database

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/FeatheredSystems/TytoDB/tytoerr"
)

// defaultMaxColumns, defaultMinColumns, etc. are settings.yaml's defaults
// (spec §6), applied whenever the file is missing or a field is absent.
const (
	defaultMaxColumns = 125
	defaultMinColumns = 1
	defaultIP         = "127.0.0.1"
	defaultPort       = 4287
	defaultWorkers    = 1
)

// VacuumSpec pairs a container name with its vacuum schedule expression
// (spec §6: "vacuum: list of (container_name, schedule_expression)").
type VacuumSpec struct {
	Container string `yaml:"container"`
	Schedule  string `yaml:"schedule"`
}

// Settings is the engine configuration loaded from settings.yaml (spec
// §6), mirroring the teacher's tiered-defaults-then-override config style
// but sourced from YAML instead of environment variables, since the spec's
// directory layout names an explicit settings file.
type Settings struct {
	MaxColumns uint32       `yaml:"max_columns"`
	MinColumns uint32       `yaml:"min_columns"`
	IP         string       `yaml:"ip"`
	Port       uint32       `yaml:"port"`
	Workers    uint32       `yaml:"workers"`
	Vacuum     []VacuumSpec `yaml:"vacuum"`
}

// applyDefaults fills in zero-valued fields with the documented defaults,
// then clamps MaxColumns to be at least MinColumns+1 (spec §6: "max_columns
// (u32, clamped >= min_columns+1, default 125)").
func (s *Settings) applyDefaults() {
	if s.MinColumns == 0 {
		s.MinColumns = defaultMinColumns
	}
	if s.MaxColumns == 0 {
		s.MaxColumns = defaultMaxColumns
	}
	if s.MaxColumns < s.MinColumns+1 {
		s.MaxColumns = s.MinColumns + 1
	}
	if s.IP == "" {
		s.IP = defaultIP
	}
	if s.Port == 0 {
		s.Port = defaultPort
	}
	if s.Workers == 0 {
		s.Workers = defaultWorkers
	}
}

const settingsFileName = "settings.yaml"

// loadSettings reads settings.yaml from dir, creating it with documented
// defaults if absent (spec §6).
func loadSettings(dir string) (*Settings, error) {
	path := filepath.Join(dir, settingsFileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s := &Settings{}
		s.applyDefaults()
		if werr := saveSettings(dir, s); werr != nil {
			return nil, werr
		}
		return s, nil
	}
	if err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "database.loadSettings", err)
	}
	s := &Settings{}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, tytoerr.Wrap(tytoerr.BadHeader, "database.loadSettings", err)
	}
	s.applyDefaults()
	return s, nil
}

func saveSettings(dir string, s *Settings) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return tytoerr.Wrap(tytoerr.Io, "database.saveSettings", err)
	}
	if err := os.WriteFile(filepath.Join(dir, settingsFileName), raw, 0o644); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "database.saveSettings", err)
	}
	return nil
}

const containersFileName = "containers.yaml"

// loadContainerNames reads the ordered container registry from
// containers.yaml, creating an empty one if absent (spec §6).
func loadContainerNames(dir string) ([]string, error) {
	path := filepath.Join(dir, containersFileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		var empty []string
		if werr := saveContainerNames(dir, empty); werr != nil {
			return nil, werr
		}
		return empty, nil
	}
	if err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "database.loadContainerNames", err)
	}
	var names []string
	if err := yaml.Unmarshal(raw, &names); err != nil {
		return nil, tytoerr.Wrap(tytoerr.BadHeader, "database.loadContainerNames", err)
	}
	return names, nil
}

func saveContainerNames(dir string, names []string) error {
	raw, err := yaml.Marshal(names)
	if err != nil {
		return tytoerr.Wrap(tytoerr.Io, "database.saveContainerNames", err)
	}
	if err := os.WriteFile(filepath.Join(dir, containersFileName), raw, 0o644); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "database.saveContainerNames", err)
	}
	return nil
}
