// Package archive builds and names the compressed tar archives that
// carry backup content.
package archive

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var fileNamePattern = regexp.MustCompile(`^[a-z]+_[a-z0-9-]+_[a-z]+_\d{4}-\d{2}-\d{2}_\d{6}_[a-z0-9]+\.tar\.gz$`)

var volumeNamePattern = regexp.MustCompile(`^[a-z]+-volume-[A-Za-z0-9_-]+-[a-z]+-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z\.tar\.gz$`)

var volumeNameCapture = regexp.MustCompile(`^([a-z]+)-volume-([A-Za-z0-9_-]+)-([a-z]+)-(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3})Z\.tar\.gz$`)

var volumeNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ShortID returns a short lowercase hex identifier suitable for
// embedding in an archive filename.
func ShortID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("archive: generate short id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// sourceGroup renders the sources segment of a file-kind archive
// name: names joined with "-", or "all" when names is empty.
func sourceGroup(names []string) string {
	if len(names) == 0 {
		return "all"
	}
	return strings.Join(names, "-")
}

// GenerateFileName builds a file-kind archive filename:
// <prefix>_<sources>_<schedule>_YYYY-MM-DD_HHMMSS_<shortId>.tar.gz
func GenerateFileName(prefix, schedule string, sources []string, t time.Time, shortID string) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s_%s.tar.gz",
		prefix,
		sourceGroup(sources),
		schedule,
		t.Format("2006-01-02"),
		t.Format("150405"),
		shortID,
	)
}

// FileNameInfo is the result of parsing a file-kind archive name.
type FileNameInfo struct {
	Prefix   string
	Sources  string
	Schedule string
	ShortID  string
}

// ParseFileName parses a file-kind archive name back into its
// components. It returns an error if name doesn't match the format.
func ParseFileName(name string) (FileNameInfo, error) {
	if !fileNamePattern.MatchString(name) {
		return FileNameInfo{}, fmt.Errorf("archive: %q is not a valid file-kind archive name", name)
	}
	trimmed := strings.TrimSuffix(name, ".tar.gz")
	parts := strings.SplitN(trimmed, "_", 6)
	if len(parts) != 6 {
		return FileNameInfo{}, fmt.Errorf("archive: %q is not a valid file-kind archive name", name)
	}
	return FileNameInfo{
		Prefix:   parts[0],
		Sources:  parts[1],
		Schedule: parts[2],
		ShortID:  parts[5],
	}, nil
}

// SanitizeVolumeName replaces every character outside
// [A-Za-z0-9_-] with "_".
func SanitizeVolumeName(name string) string {
	return volumeNameSanitizer.ReplaceAllString(name, "_")
}

// GenerateVolumeName builds a volume-kind archive filename:
// <prefix>-volume-<sanitizedName>-<schedule>-YYYY-MM-DDTHH-MM-SS-mmmZ.tar.gz
func GenerateVolumeName(prefix, volumeName, schedule string, t time.Time) string {
	utc := t.UTC()
	return fmt.Sprintf("%s-volume-%s-%s-%s-%03dZ.tar.gz",
		prefix,
		SanitizeVolumeName(volumeName),
		schedule,
		utc.Format("2006-01-02T15-04-05"),
		utc.Nanosecond()/1e6,
	)
}

// VolumeNameInfo is the result of parsing a volume-kind archive name.
type VolumeNameInfo struct {
	Prefix        string
	SanitizedName string
	Schedule      string
}

// ParseVolumeName parses a volume-kind archive name back into its
// components. It returns an error if name doesn't match the format.
func ParseVolumeName(name string) (VolumeNameInfo, error) {
	m := volumeNameCapture.FindStringSubmatch(name)
	if m == nil {
		return VolumeNameInfo{}, fmt.Errorf("archive: %q is not a valid volume-kind archive name", name)
	}
	return VolumeNameInfo{
		Prefix:        m[1],
		SanitizedName: m[2],
		Schedule:      m[3],
	}, nil
}

// IsFileName reports whether name matches the file-kind pattern.
func IsFileName(name string) bool { return fileNamePattern.MatchString(name) }

// IsVolumeName reports whether name matches the volume-kind pattern.
func IsVolumeName(name string) bool { return volumeNamePattern.MatchString(name) }
