package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store keeps committed artifacts. Put returns the location to report in
// the transfer result; Open reads an artifact back by that location.
type Store interface {
	Put(ctx context.Context, info Info) (string, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// LocalStore leaves artifacts where Commit put them.
type LocalStore struct{}

func (LocalStore) Put(_ context.Context, info Info) (string, error) {
	return info.Path, nil
}

func (LocalStore) Open(_ context.Context, location string) (io.ReadCloser, error) {
	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// S3Config selects the bucket artifacts are uploaded to. Endpoint and
// PathStyle make MinIO and other S3-compatible stores work.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
	// KeepLocal keeps the local copy after a successful upload.
	KeepLocal bool `yaml:"keep_local"`
}

// S3Store uploads artifacts with the multipart upload manager.
type S3Store struct {
	cfg      S3Config
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Store loads AWS configuration from the environment, overridden by cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3Store{cfg: cfg, client: client, uploader: manager.NewUploader(client)}, nil
}

// Key is the object key of a local artifact file.
func (s *S3Store) Key(localPath string) string {
	return path.Join(s.cfg.Prefix, path.Base(strings.ReplaceAll(localPath, `\`, "/")))
}

func (s *S3Store) Put(ctx context.Context, info Info) (string, error) {
	f, err := os.Open(info.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := s.Key(info.Path)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(info.Format)),
		Metadata:    map[string]string{"xxh3": info.Checksum},
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	if !s.cfg.KeepLocal {
		f.Close()
		os.Remove(info.Path)
	}
	return "s3://" + s.cfg.Bucket + "/" + key, nil
}

func (s *S3Store) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, ok := ParseS3Location(location)
	if !ok {
		return LocalStore{}.Open(ctx, location)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", location, err)
	}
	return out.Body, nil
}

// ParseS3Location splits "s3://bucket/key".
func ParseS3Location(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, ok = strings.Cut(rest, "/")
	return bucket, key, ok && bucket != "" && key != ""
}

func contentType(f Format) string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}
