// Package export copies a finished document to object storage.
package export

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ErrInvalidS3URL is returned for destinations that are not s3://bucket/key.
var ErrInvalidS3URL = errors.New("export: invalid s3 url")

// Environment variables read by OptionsFromEnv.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
	EnvRegion          = "AWS_REGION"
)

// DefaultRegion is used when neither the caller nor the environment sets one.
const DefaultRegion = "us-east-1"

// Location is an S3 object address.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string { return "s3://" + l.Bucket + "/" + l.Key }

// ParseS3URL parses s3://bucket/key. A key ending in "/" is a prefix; the
// document name is appended to it by Resolve.
func ParseS3URL(raw string) (Location, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidS3URL, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return Location{}, fmt.Errorf("%w: %q", ErrInvalidS3URL, raw)
	}
	return Location{Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
}

// Resolve fills an empty or prefix key with the document name.
func (l Location) Resolve(name string) Location {
	if l.Key == "" || strings.HasSuffix(l.Key, "/") {
		l.Key = path.Join(l.Key, name)
	}
	return l
}

// S3Options configure the S3 client.
type S3Options struct {
	Region          string
	Endpoint        string // custom endpoint, e.g. a MinIO server
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// OptionsFromEnv returns S3Options with credentials and region taken from
// the standard AWS environment variables.
func OptionsFromEnv() S3Options {
	return S3Options{
		Region:          os.Getenv(EnvRegion),
		AccessKeyID:     os.Getenv(EnvAccessKeyID),
		SecretAccessKey: os.Getenv(EnvSecretAccessKey),
		SessionToken:    os.Getenv(EnvSessionToken),
	}
}

// NewS3Client builds an S3 client. Without an access key the client makes
// anonymous requests.
func NewS3Client(opts S3Options) *s3.Client {
	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}
	var creds aws.CredentialsProvider = aws.AnonymousCredentials{}
	if opts.AccessKeyID != "" {
		static := aws.Credentials{
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			SessionToken:    opts.SessionToken,
			Source:          "sourcepack",
		}
		creds = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return static, nil
		}))
	}
	return s3.New(s3.Options{
		Region:       region,
		Credentials:  creds,
		UsePathStyle: opts.PathStyle,
	}, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
}

// PutObjectAPI is the part of the S3 client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader puts documents into a bucket.
type Uploader struct {
	client PutObjectAPI
	logger *zap.Logger
}

// NewUploader returns an Uploader. A nil logger disables logging.
func NewUploader(client PutObjectAPI, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{client: client, logger: logger}
}

// Upload streams the file at localPath to dst.
func (u *Uploader) Upload(ctx context.Context, localPath string, dst Location, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat document: %w", err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(dst.Bucket),
		Key:           aws.String(dst.Key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"original-filename": info.Name(),
			"upload-time":       time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		u.logger.Error("Failed to upload document", zap.String("destination", dst.String()), zap.Error(err))
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	u.logger.Info("Uploaded document",
		zap.String("destination", dst.String()),
		zap.Int64("bytes", info.Size()),
	)
	return nil
}
