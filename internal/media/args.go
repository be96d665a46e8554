package media

import (
	"strings"
)

// AudioBitrate is the AAC bitrate used for both the pairwise mux and the final concat.
const AudioBitrate = "192k"

func loglevel(verbose bool) string {
	if verbose {
		return "info"
	}
	return "error"
}

// MuxArgs builds the ffmpeg arguments that pair one video with one narration
// track. The video stream is copied as-is, audio is encoded to AAC, padded
// with silence and cut at the end of the video.
func MuxArgs(videoPath, audioPath, outPath string, verbose bool) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", loglevel(verbose),
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", AudioBitrate,
		"-af", "apad",
		"-shortest",
		outPath,
	}
}

// ConcatArgs builds the ffmpeg arguments that join the files listed in a
// concat-demuxer manifest. Segments are re-encoded because each came from an
// independent mux and their encodings may differ.
func ConcatArgs(manifestPath, outPath string, verbose bool) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", loglevel(verbose),
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:a", AudioBitrate,
		"-pix_fmt", "yuv420p",
		outPath,
	}
}

// BuildManifest renders a concat-demuxer manifest listing paths in order.
func BuildManifest(paths []string) string {
	var sb strings.Builder
	for _, p := range paths {
		sb.WriteString("file '")
		sb.WriteString(escapeManifestPath(p))
		sb.WriteString("'\n")
	}
	return sb.String()
}

// ParseManifest returns the paths listed in a manifest produced by BuildManifest.
func ParseManifest(manifest string) []string {
	var paths []string
	for _, line := range strings.Split(manifest, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "file '") || !strings.HasSuffix(line, "'") {
			continue
		}
		quoted := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		paths = append(paths, strings.ReplaceAll(quoted, `'\''`, "'"))
	}
	return paths
}

// escapeManifestPath closes the quote, emits an escaped quote, and reopens it.
func escapeManifestPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
