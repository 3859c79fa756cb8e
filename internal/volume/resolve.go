package volume

import (
	"context"
	"fmt"
	"os"

	"github.com/backitup/backitup/internal/config"
	"gopkg.in/yaml.v3"
)

// composeFile is the minimal shape this package parses a
// docker-compose file into. The parse only checks that the file is
// valid YAML; its services and volumes are not consulted.
type composeFile struct {
	Services map[string]struct {
		Volumes []string `yaml:"volumes"`
	} `yaml:"services"`
	Volumes map[string]any `yaml:"volumes"`
}

// ResolveVolumeName determines the concrete volume name for a
// configured volume item. Without a compose file, item.Name is used
// as is. With one, the file must be readable and parse as YAML, and
// item.Name is taken as the volume's short name: "{project}_{name}"
// then the raw name are tried until one exists. A compose service
// name is not mapped to the volumes that service declares.
func ResolveVolumeName(ctx context.Context, rt Runtime, item config.VolumeItemConfig) (string, error) {
	if item.ComposeFile == "" {
		return item.Name, nil
	}

	candidates, err := composeVolumeCandidates(item)
	if err != nil {
		return "", err
	}

	for _, candidate := range candidates {
		ok, err := rt.VolumeExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("volume: check existence of %q: %w", candidate, err)
		}
		if ok {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("volume: none of the candidate names %v exist for %q", candidates, item.Name)
}

// composeVolumeCandidates reads item.ComposeFile and returns the
// ordered candidate volume names to try: "{project}_{name}" first
// (compose's default naming convention), then the raw name.
func composeVolumeCandidates(item config.VolumeItemConfig) ([]string, error) {
	data, err := os.ReadFile(item.ComposeFile)
	if err != nil {
		return nil, fmt.Errorf("volume: read compose file %s: %w", item.ComposeFile, err)
	}

	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("volume: parse compose file %s: %w", item.ComposeFile, err)
	}

	var candidates []string
	if item.Project != "" {
		candidates = append(candidates, item.Project+"_"+item.Name)
	}
	candidates = append(candidates, item.Name)
	return candidates, nil
}
