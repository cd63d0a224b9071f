package highlight

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openstream/octane/internal/domain"
)

// ProbeDuration returns the container duration of a video in seconds.
func ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("op=highlight.ProbeDuration: %w", err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("op=highlight.ProbeDuration: parse %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

// PathResolver maps bus payload storage paths onto the shared volume, the
// blob store, or pass-through URLs.
type PathResolver struct {
	VolPath string
	Bucket  string
	Blob    domain.BlobStore
}

// IsURL reports whether the path is an http(s) URL ffmpeg can read directly.
func IsURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// Resolve maps a storage path to a local filesystem path. URLs and absolute
// paths pass through untouched; relative paths land under the shared volume.
func (r PathResolver) Resolve(path string) string {
	if path == "" {
		return ""
	}
	if IsURL(path) || strings.HasPrefix(path, "/") {
		return path
	}
	return filepath.Join(strings.TrimRight(r.VolPath, "/"), path)
}

// Fetch copies a storage object to localPath, preferring the shared volume
// mount over the S3 API. A leading "<bucket>/" prefix on storagePath is
// stripped first.
func (r PathResolver) Fetch(ctx domain.Context, storagePath, localPath string) error {
	storagePath = strings.TrimPrefix(storagePath, r.Bucket+"/")

	if r.VolPath != "" {
		direct := filepath.Join(strings.TrimRight(r.VolPath, "/"), r.Bucket, filepath.FromSlash(storagePath))
		if info, err := os.Stat(direct); err == nil && info.Mode().IsRegular() {
			slog.Info("fetching via volume mount", slog.String("path", direct))
			return copyLocalFile(direct, localPath)
		}
	}

	slog.Info("fetching via blob API",
		slog.String("bucket", r.Bucket), slog.String("key", storagePath))
	if err := r.Blob.Download(ctx, storagePath, localPath); err != nil {
		return fmt.Errorf("op=highlight.Fetch: %w", err)
	}
	return nil
}

// FindVTT locates the English subtitle file the subtitle pipeline may have
// produced for this video. Checks the uploads volume, then the configured
// bucket's volume path, then the blob store. Returns "" when no VTT exists;
// the VTT signal simply skips.
func (r PathResolver) FindVTT(ctx domain.Context, videoID string) string {
	key := "subtitles/" + videoID + "/en.vtt"

	if r.VolPath != "" {
		vol := strings.TrimRight(r.VolPath, "/")
		for _, candidate := range []string{
			filepath.Join(vol, "openstream-uploads", "subtitles", videoID, "en.vtt"),
			filepath.Join(vol, r.Bucket, "subtitles", videoID, "en.vtt"),
		} {
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				slog.Info("found subtitle file on volume", slog.String("path", candidate))
				return candidate
			}
		}
	}

	localPath := filepath.Join("/tmp/highlight_jobs", videoID, "en.vtt")
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return ""
	}
	if err := r.Blob.Download(ctx, key, localPath); err != nil {
		slog.Info("no subtitle file available", slog.String("video_id", videoID))
		return ""
	}
	slog.Info("downloaded subtitle file from blob store", slog.String("key", key))
	return localPath
}

func copyLocalFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
