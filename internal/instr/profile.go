package instr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// ProfileExtension is the extension of instrument profile files.
const ProfileExtension = ".yaml"

type profileFile struct {
	Name     string         `yaml:"name"`
	Driver   string         `yaml:"driver"`
	Settings map[string]any `yaml:"settings"`
}

// LoadProfiles reads every profile file found under dir. A profile without
// a name is named after its file.
func LoadProfiles(dir string) (map[string]*config.Profile, error) {
	files, err := fsutil.FindFilesByExtension(dir, ProfileExtension)
	if err != nil {
		return nil, fmt.Errorf("searching profiles in %s: %w", dir, err)
	}
	profiles := make(map[string]*config.Profile, len(files))
	for _, file := range files {
		p, err := LoadProfile(file)
		if err != nil {
			return nil, err
		}
		if prev, ok := profiles[p.Name]; ok {
			return nil, fmt.Errorf("profile %q defined in both %s and %s", p.Name, prev.Source, file)
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

// LoadProfile reads a single profile file.
func LoadProfile(file string) (*config.Profile, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	var raw profileFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", file, err)
	}
	if raw.Name == "" {
		raw.Name = strings.TrimSuffix(filepath.Base(file), ProfileExtension)
	}
	if raw.Driver == "" {
		return nil, fmt.Errorf("profile %s: missing driver", file)
	}
	p := &config.Profile{
		Name:     raw.Name,
		Driver:   raw.Driver,
		Settings: make(map[string]cty.Value, len(raw.Settings)),
		Source:   file,
	}
	for k, v := range raw.Settings {
		cv, err := config.CtyValue(v)
		if err != nil {
			return nil, fmt.Errorf("profile %s: setting %q: %w", file, k, err)
		}
		p.Settings[k] = cv
	}
	return p, nil
}
