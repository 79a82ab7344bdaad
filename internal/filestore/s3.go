package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds construction parameters for an S3 backend.
type S3Config struct {
	Bucket    string
	Prefix    string // optional key prefix, e.g. "runs/2024-01-01"
	Region    string // default us-east-1
	Endpoint  string // optional; enables a custom endpoint such as MinIO
	PathStyle bool

	// AccessKeyID and SecretAccessKey pin static credentials. Empty means
	// the default credentials chain.
	AccessKeyID     string
	SecretAccessKey string
}

// S3 is a Backend storing each file as an object in one bucket. Writes are
// buffered and uploaded when the writer closes.
type S3 struct {
	client S3API
	bucket string
	prefix string
}

// NewS3 builds an S3 backend using static credentials when given, else the
// default AWS credentials chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client S3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (b *S3) key(name string) string {
	name = strings.TrimPrefix(name, "/")
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func (b *S3) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(name))})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (b *S3) OpenWrite(ctx context.Context, name string, appending bool) (io.WriteCloser, bool, error) {
	w := &s3Object{ctx: ctx, backend: b, key: b.key(name)}
	if !appending {
		return w, false, nil
	}
	existing, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: aws.String(w.key)})
	var missing *types.NoSuchKey
	if errors.As(err, &missing) {
		return w, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer existing.Body.Close()
	if _, err := io.Copy(&w.buf, existing.Body); err != nil {
		return nil, false, err
	}
	return w, w.buf.Len() > 0, nil
}

type s3Object struct {
	ctx     context.Context
	backend *S3
	key     string
	buf     bytes.Buffer
}

func (o *s3Object) Write(p []byte) (int, error) {
	return o.buf.Write(p)
}

func (o *s3Object) Close() error {
	_, err := o.backend.client.PutObject(o.ctx, &s3.PutObjectInput{
		Bucket:      &o.backend.bucket,
		Key:         aws.String(o.key),
		Body:        bytes.NewReader(o.buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", o.key, err)
	}
	return nil
}
