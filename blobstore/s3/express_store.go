package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/mmvar/blobstore"
)

// ExpressStore is a Store for S3 Express One Zone directory buckets (names
// ending with --azid--x-s3). It adds conditional writes.
type ExpressStore struct {
	*Store
}

var _ blobstore.ConditionalStore = (*ExpressStore)(nil)

// NewExpressStore creates a new S3 Express One Zone blob store.
//
// Directory buckets reject client-chosen checksum algorithms on multipart
// uploads, so streaming uploads go without one.
func NewExpressStore(client Client, bucket, rootPrefix string, opts ...Option) *ExpressStore {
	cfg := DefaultUploadConfig()
	cfg.EnableChecksum = false
	opts = append([]Option{WithUploadConfig(cfg)}, opts...)
	return &ExpressStore{Store: NewStore(client, bucket, rootPrefix, opts...)}
}

// PutIfNotExists writes a blob only if the key is free. It returns an error
// matching blobstore.ErrExists otherwise.
func (s *ExpressStore) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: s3://%s/%s", blobstore.ErrExists, s.bucket, key)
		}
	}
	return err
}
