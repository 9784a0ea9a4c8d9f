package content

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig locates the bucket holding uploaded archives.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" validate:"required"`
	AccessKey string `yaml:"access_key" validate:"required"`
	SecretKey string `yaml:"secret_key" validate:"required"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket" validate:"required"`
	Secure    bool   `yaml:"secure"`
}

// MinIOProvider serves files stored as objects named <space>/<fileID>.
type MinIOProvider struct {
	client *minio.Client
	bucket string
}

// NewMinIOProvider creates a provider for an S3 compatible store.
func NewMinIOProvider(cfg MinIOConfig) (*MinIOProvider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinIOProvider{client: client, bucket: cfg.Bucket}, nil
}

// NewMinIOProviderWithClient creates a provider around an existing client.
func NewMinIOProviderWithClient(client *minio.Client, bucket string) *MinIOProvider {
	return &MinIOProvider{client: client, bucket: bucket}
}

// ProcessFileContent implements Provider. The object is read with ranged
// requests, so only the parts the processor touches are transferred.
func (p *MinIOProvider) ProcessFileContent(ctx context.Context, space, fileID string, process FileContentProcessor) error {
	key := space + "/" + fileID
	obj, err := p.client.GetObject(ctx, p.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return retrievalError(space, fileID, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return retrievalError(space, fileID, fmt.Errorf("%w: %s/%s", ErrFileNotFound, p.bucket, key))
		}
		return retrievalError(space, fileID, err)
	}
	if err := process(obj, info.Size); err != nil {
		return retrievalError(space, fileID, err)
	}
	return nil
}

// HealthCheck verifies that the bucket exists.
func (p *MinIOProvider) HealthCheck(ctx context.Context) error {
	ok, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", p.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", p.bucket)
	}
	return nil
}
