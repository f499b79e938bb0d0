package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options select the S3 endpoint and credentials. Empty fields fall back to
// the default AWS credential chain.
type Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 reads sources from and writes results to s3:// references.
type S3 struct {
	client     *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3 creates a new S3 client
func NewS3(ctx context.Context, opts Options) (*S3, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{
		client:     cli,
		downloader: manager.NewDownloader(cli),
		uploader:   manager.NewUploader(cli),
	}, nil
}

// Ref is a parsed s3://bucket/key reference.
type Ref struct {
	Bucket string
	Key    string
}

func (r Ref) String() string { return "s3://" + r.Bucket + "/" + r.Key }

// IsRef reports whether s looks like an s3:// reference.
func IsRef(s string) bool { return strings.HasPrefix(s, "s3://") }

// ParseRef splits s3://bucket/key.
func ParseRef(s string) (Ref, error) {
	path, ok := strings.CutPrefix(s, "s3://")
	if !ok {
		return Ref{}, fmt.Errorf("invalid s3 url: %s", s)
	}
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return Ref{}, fmt.Errorf("invalid s3 url: %s", s)
	}
	return Ref{Bucket: path[:slash], Key: path[slash+1:]}, nil
}

// Fetch downloads the object behind ref.
func (s *S3) Fetch(ctx context.Context, ref string) ([]byte, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	buf := manager.NewWriteAtBuffer(nil)
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	log.Info().Str("bucket", r.Bucket).Str("key", r.Key).Int64("size", n).Msg("downloaded source from s3")
	return buf.Bytes(), nil
}

// Put uploads data to ref.
func (s *S3) Put(ctx context.Context, ref string, data []byte, contentType string) error {
	r, err := ParseRef(ref)
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("bucket", r.Bucket).Str("key", r.Key).Int("size", len(data)).Msg("uploaded result to s3")
	return nil
}
