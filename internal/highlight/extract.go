package highlight

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

// Extractor cuts clips and thumbnails out of the source video with ffmpeg.
type Extractor struct {
	Cfg config.ExtractionConfig
}

// ExtractClip cuts [start,end) from sourcePath into outPath. Stream copy by
// default; re-encode only when configured off (frame-accurate cuts at the
// cost of CPU).
func (e Extractor) ExtractClip(ctx context.Context, sourcePath string, start, end float64, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("op=highlight.ExtractClip: %w", err)
	}

	codecArgs := []string{"-c", "copy"}
	if !e.Cfg.StreamCopy {
		codecArgs = []string{
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-profile:v", "baseline",
			"-tune", "zerolatency",
			"-threads", "1",
		}
	}

	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%g", start),
		"-i", sourcePath,
		"-t", fmt.Sprintf("%g", end-start),
	}
	args = append(args, codecArgs...)
	args = append(args, "-avoid_negative_ts", "make_zero", outPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("op=highlight.ExtractClip: %w: %s", err, truncateTail(string(out), 500))
	}
	slog.Info("extracted clip",
		slog.Float64("start", start), slog.Float64("end", end), slog.String("path", outPath))
	return nil
}

// ExtractThumbnail grabs one frame at timestamp, scaled to half the
// configured thumbnail box while keeping aspect ratio.
func (e Extractor) ExtractThumbnail(ctx context.Context, sourcePath string, timestamp float64, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("op=highlight.ExtractThumbnail: %w", err)
	}
	width := e.Cfg.ThumbnailWidth
	if width <= 0 {
		width = 640
	}
	height := e.Cfg.ThumbnailHeight
	if height <= 0 {
		height = 360
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", fmt.Sprintf("%g", timestamp),
		"-i", sourcePath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width/2, height/2),
		outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("op=highlight.ExtractThumbnail: %w: %s", err, truncateTail(string(out), 500))
	}
	return nil
}

// ExtractAll cuts every clip plus its midpoint thumbnail into outDir. A clip
// whose extraction fails is skipped; a failed thumbnail is not fatal. The
// returned clips carry local paths and their final indexes.
func (e Extractor) ExtractAll(ctx context.Context, sourcePath string, clips []domain.ClipWindow, outDir string) []domain.ClipWindow {
	extracted := make([]domain.ClipWindow, 0, len(clips))
	for i, clip := range clips {
		clipPath := filepath.Join(outDir, fmt.Sprintf("clip_%03d.mp4", i))
		thumbPath := filepath.Join(outDir, fmt.Sprintf("thumb_%03d.jpg", i))

		if err := e.ExtractClip(ctx, sourcePath, clip.Start, clip.End, clipPath); err != nil {
			slog.Warn("skipping clip, extraction failed",
				slog.Int("index", i), slog.Any("error", err))
			continue
		}
		mid := (clip.Start + clip.End) / 2
		if err := e.ExtractThumbnail(ctx, sourcePath, mid, thumbPath); err != nil {
			slog.Warn("thumbnail extraction failed",
				slog.Int("index", i), slog.Any("error", err))
			thumbPath = ""
		}

		clip.Index = i
		clip.ClipPath = clipPath
		clip.ThumbnailPath = thumbPath
		extracted = append(extracted, clip)
	}
	slog.Info("extraction complete",
		slog.Int("extracted", len(extracted)), slog.Int("requested", len(clips)))
	return extracted
}

func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
