package sourceset

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultPattern is used when a source specifies no patterns at all.
const defaultPattern = "**/*"

// Collect walks src.Path and returns every file admitted by its
// include/exclude patterns. A missing source path is logged and
// yields zero files rather than failing the run.
func Collect(ctx context.Context, logger *slog.Logger, src Source) ([]CollectedFile, error) {
	info, err := os.Stat(src.Path)
	if err != nil {
		logger.WarnContext(ctx, "source path missing; yielding zero files", "source", src.Name, "path", src.Path, "error", err)
		return nil, nil
	}
	if !info.IsDir() {
		logger.WarnContext(ctx, "source path is not a directory; yielding zero files", "source", src.Name, "path", src.Path)
		return nil, nil
	}

	includes, excludes := splitPatterns(src.Patterns)
	base := filepath.Base(filepath.Clean(src.Path))

	seen := make(map[string]struct{})
	var out []CollectedFile

	walkErr := filepath.WalkDir(src.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src.Path, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !matchesAny(includes, rel) || matchesAny(excludes, rel) {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if _, dup := seen[abs]; dup {
			return nil
		}
		seen[abs] = struct{}{}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		out = append(out, CollectedFile{
			AbsolutePath: abs,
			RelativePath: base + "/" + rel,
			Size:         fi.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return out, nil
}

// splitPatterns separates "!exclude" patterns from includes. A
// missing include list defaults to "**/*".
func splitPatterns(patterns []string) (includes, excludes []string) {
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			excludes = append(excludes, strings.TrimPrefix(p, "!"))
		} else {
			includes = append(includes, p)
		}
	}
	if len(includes) == 0 {
		includes = []string{defaultPattern}
	}
	return includes, excludes
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}
