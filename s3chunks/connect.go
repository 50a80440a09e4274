// Package s3chunks offloads chunk payloads to an S3-compatible object
// store (AWS S3 or minio). The wrapped storage keeps a zero-length chunk
// row per upload, so the transaction graph's chunk-existence check keeps
// working unchanged; only the bytes move to the bucket.
package s3chunks

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mentatsync/mentatsync"
)

// ObjectStore is the slice of S3 the storage wrapper needs. It is an
// interface so tests can swap in a mock.
type ObjectStore interface {
	// Put stores payload under key, overwriting any existing object.
	Put(ctx context.Context, key string, payload []byte) error
	// Get returns (payload, found, error). A missing key is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

type bucketStore struct {
	client *s3.Client
	bucket string
}

// Connect builds an S3 client for the configured endpoint. Works against
// minio by pointing HostEndpointUrl at it.
func Connect(config mentatsync.S3ChunkConfig) ObjectStore {
	client := s3.NewFromConfig(aws.Config{Region: config.Region}, func(o *s3.Options) {
		if config.HostEndpointUrl != "" {
			o.BaseEndpoint = aws.String(config.HostEndpointUrl)
			o.UsePathStyle = true
		}
		if config.Username != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
		}
	})
	return &bucketStore{client: client, bucket: config.Bucket}
}

func (b *bucketStore) Put(ctx context.Context, key string, payload []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	return err
}

func (b *bucketStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer out.Body.Close()
	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}
