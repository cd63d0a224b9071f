// Package minio stores and fetches binary objects (clips, thumbnails,
// manifests, subtitle files) in a MinIO/S3 bucket.
//
// Every write has a shared-volume fallback: when the S3 API is unreachable
// the object is copied under OPENSTREAM_VOL_PATH/<bucket>/<key>, which the
// platform mounts as the same backing volume.
package minio

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/domain"
)

// Store implements domain.BlobStore over one bucket.
type Store struct {
	client  *minio.Client
	bucket  string
	volPath string
}

// New constructs a Store for the given endpoint and bucket. volPath may be
// empty, which disables the filesystem fallback.
func New(endpoint, accessKey, secretKey, bucket, volPath string, secure bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("op=minio.New: %w", err)
	}
	return &Store{client: client, bucket: bucket, volPath: volPath}, nil
}

// Upload stores the file at filePath under objectKey, detecting the content
// type from the file bytes. Returns the bucket-relative object key.
func (s *Store) Upload(ctx domain.Context, objectKey, filePath string) (string, error) {
	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(filePath); err == nil {
		contentType = mt.String()
	}

	_, err := s.client.FPutObject(ctx, s.bucket, objectKey, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err == nil {
		slog.Info("uploaded object",
			slog.String("bucket", s.bucket),
			slog.String("key", objectKey),
			slog.String("content_type", contentType))
		return objectKey, nil
	}

	slog.Error("object upload failed, trying volume fallback",
		slog.String("key", objectKey), slog.Any("error", err))
	observability.UpstreamFailure("minio", "fput_object")

	if fbErr := s.volumeCopy(objectKey, filePath); fbErr != nil {
		return "", fmt.Errorf("op=minio.Upload: key=%s: %w", objectKey, fbErr)
	}
	return objectKey, nil
}

// UploadBytes stores data under objectKey with an explicit content type.
func (s *Store) UploadBytes(ctx domain.Context, objectKey string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err == nil {
		slog.Info("uploaded object",
			slog.String("bucket", s.bucket),
			slog.String("key", objectKey),
			slog.Int("bytes", len(data)))
		return objectKey, nil
	}

	slog.Error("object upload failed, trying volume fallback",
		slog.String("key", objectKey), slog.Any("error", err))
	observability.UpstreamFailure("minio", "put_object")

	if fbErr := s.volumeWrite(objectKey, data); fbErr != nil {
		return "", fmt.Errorf("op=minio.UploadBytes: key=%s: %w", objectKey, fbErr)
	}
	return objectKey, nil
}

// Download fetches objectKey into destPath, falling back to the shared
// volume when the S3 API cannot serve it.
func (s *Store) Download(ctx domain.Context, objectKey, destPath string) error {
	err := s.client.FGetObject(ctx, s.bucket, objectKey, destPath, minio.GetObjectOptions{})
	if err == nil {
		return nil
	}

	if s.volPath != "" {
		src := s.volumeObjectPath(objectKey)
		if copyErr := copyFile(src, destPath); copyErr == nil {
			slog.Info("fetched object from volume fallback", slog.String("key", objectKey))
			return nil
		}
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return fmt.Errorf("op=minio.Download: key=%s: %w", objectKey, domain.ErrNotFound)
	}
	observability.UpstreamFailure("minio", "fget_object")
	return fmt.Errorf("op=minio.Download: key=%s: %w", objectKey, err)
}

func (s *Store) volumeObjectPath(objectKey string) string {
	return filepath.Join(s.volPath, s.bucket, filepath.FromSlash(objectKey))
}

func (s *Store) volumeCopy(objectKey, filePath string) error {
	if s.volPath == "" {
		return fmt.Errorf("no volume fallback configured")
	}
	dest := s.volumeObjectPath(objectKey)
	if err := copyFile(filePath, dest); err != nil {
		slog.Error("all storage methods failed", slog.String("key", objectKey), slog.Any("error", err))
		return err
	}
	slog.Info("volume fallback write", slog.String("dest", dest))
	return nil
}

func (s *Store) volumeWrite(objectKey string, data []byte) error {
	if s.volPath == "" {
		return fmt.Errorf("no volume fallback configured")
	}
	dest := s.volumeObjectPath(objectKey)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		slog.Error("all storage methods failed", slog.String("key", objectKey), slog.Any("error", err))
		return err
	}
	slog.Info("volume fallback write", slog.String("dest", dest))
	return nil
}

func copyFile(src, dest string) error {
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
