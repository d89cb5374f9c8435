package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/crypto/blake2b"
)

// Archiver keeps a copy of uploaded scan images. Archival is best effort:
// a failing archiver never fails a scan.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ArchiveKey builds a content-addressed object key for one scan image.
// Identical bytes within a session map to the same key.
func ArchiveKey(propertyID, sessionID uuid.UUID, data []byte) string {
	sum := blake2b.Sum256(data)
	return path.Join("scans", propertyID.String(), sessionID.String(), hex.EncodeToString(sum[:16])+".jpg")
}

// MinioArchiver stores scan images in an S3-compatible bucket via minio-go
type MinioArchiver struct {
	client     *minio.Client
	bucketName string
	region     string
}

// NewMinioArchiver creates a new minio-backed archiver
func NewMinioArchiver(endpoint, accessKey, secretKey, bucketName, region string, useSSL bool) (*MinioArchiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &MinioArchiver{
		client:     client,
		bucketName: bucketName,
		region:     region,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{
			Region: s.region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Archive uploads data and returns an s3:// reference to it.
func (s *MinioArchiver) Archive(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", Wrap(ErrArchival, "archive image", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", info.Bucket, info.Key), nil
}

// BucketName returns the bucket name
func (s *MinioArchiver) BucketName() string {
	return s.bucketName
}
