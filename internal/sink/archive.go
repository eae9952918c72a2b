package sink

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/database"
)

// MinioArchiver mirrors clips and thumbnails to an S3-compatible bucket so
// events survive local disk rotation.
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinioArchiverFromEnv connects using MINIO_ENDPOINT, MINIO_ACCESS_KEY,
// MINIO_SECRET_KEY, MINIO_BUCKET and MINIO_USE_SSL.
func NewMinioArchiverFromEnv() (*MinioArchiver, error) {
	endpoint := getenv("MINIO_ENDPOINT", "localhost:9000")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	bucket := getenv("MINIO_BUCKET", "cctv-events")
	useSSL := getenv("MINIO_USE_SSL", "false") == "true"

	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY / MINIO_SECRET_KEY not configured")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := client.BucketExists(ctx, bucket)
		if checkErr != nil || !exists {
			return nil, fmt.Errorf("bucket %s unavailable: %w", bucket, err)
		}
	}

	log.Printf("[Archive] connected to %s, bucket=%s", endpoint, bucket)
	return &MinioArchiver{client: client, bucket: bucket}, nil
}

// ArchiveClip uploads the event's clip and thumbnail under
// <camera>/<event-id>/.
func (a *MinioArchiver) ArchiveClip(ctx context.Context, event *database.EventRecord) error {
	uploads := []struct {
		local       string
		contentType string
	}{
		{event.ClipPath, "video/mp4"},
		{event.ThumbnailPath, "image/jpeg"},
	}
	if event.JSONPath != "" {
		uploads = append(uploads, struct {
			local       string
			contentType string
		}{event.JSONPath, "application/json"})
	}

	for _, up := range uploads {
		if up.local == "" {
			continue
		}
		key := path.Join(event.CameraID, event.ID, path.Base(up.local))
		if _, err := a.client.FPutObject(ctx, a.bucket, key, up.local,
			minio.PutObjectOptions{ContentType: up.contentType}); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	return nil
}
