package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Options contains the configuration for the document Bucket
type Options struct {
	Client *s3.Client
	Logger *zap.Logger
	Name   string
}

// Bucket stores contract documents and generated renewal packets as blobs
type Bucket struct {
	Options
	presigner *s3.PresignClient
}

// NewBucket returns a Bucket backed by the given S3 client
func NewBucket(option Options) (*Bucket, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.Name) == 0 {
		return nil, fmt.Errorf("empty bucket Name is invalid")
	}
	return &Bucket{
		Options:   option,
		presigner: s3.NewPresignClient(option.Client),
	}, nil
}

// Put will store the blob under the given key, replacing any existing object
func (b *Bucket) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.Name),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return extErrors.Wrap(err, "Cannot store object")
	}
	return nil
}

// Get will fetch the blob under the given key. Caller closes the reader.
func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot fetch object")
	}
	return out.Body, nil
}

// PresignDownload returns a time-limited download URL for the given key
func (b *Bucket) PresignDownload(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot presign download")
	}
	return req.URL, nil
}
