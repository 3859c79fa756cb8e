package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/backitup/backitup/internal/sourceset"
)

// ErrEmptyArchive is returned when no files were collected; the
// builder refuses to write an empty artifact.
var ErrEmptyArchive = errors.New("archive: empty source set")

// Result is the outcome of a successful file-kind build.
type Result struct {
	TempPath        string
	Filename        string
	Checksum        string
	SizeBytes       int64
	FilesCount      int
	ContributingSrc []string
}

// Options configures a single build.
type Options struct {
	StagingRoot string // parent directory for this run's temp staging tree; os.TempDir() if empty
	Prefix      string
	Schedule    string
	Sources     []string // names contributing files, for the filename's source-grouping
	Compression int      // 0-9, default 6
	Now         time.Time
}

func (o Options) compression() int {
	if o.Compression < 0 || o.Compression > 9 {
		return gzip.DefaultCompression
	}
	return o.Compression
}

// Build stages the given files under a fresh temporary directory,
// packs them into a gzip-compressed tar, and returns the result. The
// staging directory is always removed before Build returns, whether
// it succeeds or fails.
func Build(ctx context.Context, logger *slog.Logger, files []sourceset.CollectedFile, opts Options) (Result, error) {
	if len(files) == 0 {
		return Result{}, ErrEmptyArchive
	}

	stageDir, err := os.MkdirTemp(opts.StagingRoot, "backitup-stage-*")
	if err != nil {
		return Result{}, fmt.Errorf("archive: create staging dir: %w", err)
	}
	defer cleanupDir(logger, stageDir, opts.StagingRoot)

	for _, f := range files {
		if err := materialize(f, stageDir); err != nil {
			return Result{}, fmt.Errorf("archive: stage %s: %w", f.RelativePath, err)
		}
	}

	shortID, err := ShortID()
	if err != nil {
		return Result{}, err
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	filename := GenerateFileName(defaultString(opts.Prefix, "backitup"), opts.Schedule, opts.Sources, now, shortID)

	outDir, err := os.MkdirTemp(opts.StagingRoot, "backitup-archive-*")
	if err != nil {
		return Result{}, fmt.Errorf("archive: create output dir: %w", err)
	}
	outPath := filepath.Join(outDir, filename)

	size, checksum, count, err := packTarGz(stageDir, outPath, opts.compression())
	if err != nil {
		removeUnderPrefix(logger, outDir, opts.StagingRoot)
		return Result{}, fmt.Errorf("archive: pack: %w", err)
	}

	return Result{
		TempPath:        outPath,
		Filename:        filename,
		Checksum:        checksum,
		SizeBytes:       size,
		FilesCount:      count,
		ContributingSrc: opts.Sources,
	}, nil
}

// CleanupResult removes the temporary archive produced by Build, if
// any, honoring the temp-prefix containment guard.
func CleanupResult(logger *slog.Logger, r Result, tempRoot string) {
	if r.TempPath == "" {
		return
	}
	removeUnderPrefix(logger, filepath.Dir(r.TempPath), tempRoot)
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// materialize places a collected file at its relative path beneath
// stageDir, hard-linking when possible and falling back to a copy;
// the source is never modified.
func materialize(f sourceset.CollectedFile, stageDir string) error {
	dest := filepath.Join(stageDir, filepath.FromSlash(f.RelativePath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	if err := os.Link(f.AbsolutePath, dest); err == nil {
		return nil
	}
	return copyFile(f.AbsolutePath, dest)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// packTarGz walks stageDir and writes a gzip-compressed tar to
// outPath, returning its size, SHA-256 checksum, and entry count.
func packTarGz(stageDir, outPath string, level int) (int64, string, int, error) {
	out, err := os.Create(outPath)
	if err != nil {
		return 0, "", 0, err
	}
	defer out.Close()

	hasher := sha256.New()
	multi := io.MultiWriter(out, hasher)

	gzw, err := gzip.NewWriterLevel(multi, level)
	if err != nil {
		return 0, "", 0, err
	}
	tw := tar.NewWriter(gzw)

	count := 0
	walkErr := filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stageDir, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		count++
		return nil
	})
	if walkErr != nil {
		return 0, "", 0, walkErr
	}

	if err := tw.Close(); err != nil {
		return 0, "", 0, err
	}
	if err := gzw.Close(); err != nil {
		return 0, "", 0, err
	}
	if err := out.Sync(); err != nil {
		return 0, "", 0, err
	}

	info, err := out.Stat()
	if err != nil {
		return 0, "", 0, err
	}

	return info.Size(), hex.EncodeToString(hasher.Sum(nil)), count, nil
}

// removeUnderPrefix removes path only if it lives under tempRoot (or
// tempRoot is unset, meaning the platform default temp directory).
// This is a safety guard against misconfigured callers, not a
// contract.
func removeUnderPrefix(logger *slog.Logger, path, tempRoot string) {
	prefix := tempRoot
	if prefix == "" {
		prefix = os.TempDir()
	}
	absPrefix, err1 := filepath.Abs(prefix)
	absPath, err2 := filepath.Abs(path)
	if err1 != nil || err2 != nil {
		return
	}
	if absPath != absPrefix && !strings.HasPrefix(absPath, absPrefix+string(filepath.Separator)) {
		if logger != nil {
			logger.Warn("refusing to remove path outside temp prefix", "path", absPath, "prefix", absPrefix)
		}
		return
	}
	if err := os.RemoveAll(absPath); err != nil && logger != nil {
		logger.Warn("failed to remove temp directory", "path", absPath, "error", err)
	}
}

func cleanupDir(logger *slog.Logger, dir, tempRoot string) {
	removeUnderPrefix(logger, dir, tempRoot)
}
