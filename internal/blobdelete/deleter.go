package blobdelete

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectDeleter abstracts S3 delete operations for dependency inversion.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Deleter removes orphaned objects from S3.
type S3Deleter struct {
	client ObjectDeleter
}

// NewS3Deleter creates a new S3Deleter.
func NewS3Deleter(client ObjectDeleter) *S3Deleter {
	return &S3Deleter{client: client}
}

// Delete removes one object. Deleting a missing key succeeds, so redelivered
// messages are harmless.
func (d *S3Deleter) Delete(ctx context.Context, bucket, key string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
