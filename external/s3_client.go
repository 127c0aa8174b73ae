package external

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	extErrors "github.com/pkg/errors"
)

// S3Options contains the configuration for the object store client
type S3Options struct {
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client returns a client for the contract document object store
func NewS3Client(ctx context.Context, opt S3Options) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opt.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opt.AccessKey, opt.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot load object store configuration")
	}
	return s3.NewFromConfig(cfg), nil
}
