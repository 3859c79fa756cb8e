package replicator

import "strings"

// ComposeKey builds a remote object key
// "<globalPrefix>/<sourceGrouping>/<archiveName>", each segment
// contributing only if non-empty, with trailing slashes stripped
// before joining.
func ComposeKey(globalPrefix, sourceGrouping, archiveName string) string {
	segments := make([]string, 0, 3)
	for _, s := range []string{globalPrefix, sourceGrouping, archiveName} {
		s = strings.TrimRight(s, "/")
		if s != "" {
			segments = append(segments, s)
		}
	}
	return strings.Join(segments, "/")
}

// VolumeGrouping renders the source-grouping segment used for
// volume-kind artifacts: "volumes/<volumeName>".
func VolumeGrouping(volumeName string) string {
	return "volumes/" + volumeName
}
