// Package sourceset resolves configured sources into the concrete set
// of files an archive run should collect.
package sourceset

import (
	"sort"

	"github.com/backitup/backitup/internal/config"
)

// Source is one named filesystem root plus its include/exclude
// patterns, resolved from config.SourceConfig.
type Source struct {
	Name            string
	Path            string
	Patterns        []string
	RemoteSubPrefix string
}

// FromConfig resolves the named sources (or all of them, if names is
// empty) from cfg into Source values.
func FromConfig(cfg *config.Config, names []string) ([]Source, error) {
	if len(names) == 0 {
		for name := range cfg.Sources {
			names = append(names, name)
		}
		// Map order is random; archive names and remote keys derived
		// from the grouping must be stable across runs.
		sort.Strings(names)
	}

	out := make([]Source, 0, len(names))
	for _, name := range names {
		sc, ok := cfg.Sources[name]
		if !ok {
			continue
		}
		out = append(out, Source{
			Name:            name,
			Path:            sc.Path,
			Patterns:        sc.Patterns,
			RemoteSubPrefix: sc.RemoteSubPrefix,
		})
	}
	return out, nil
}

// CollectedFile is one file admitted into an archive run.
type CollectedFile struct {
	AbsolutePath string
	RelativePath string // "<source-basename>/<source-relative-path>"
	Size         int64
}
