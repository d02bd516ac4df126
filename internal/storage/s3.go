package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Connection pool default settings for the S3 store
const (
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 100
	DefaultIdleConnTimeout     = 90 * time.Second
)

// S3Config holds configuration for the S3 store
type S3Config struct {
	Endpoint        string `envconfig:"ENDPOINT"`          // S3-compatible endpoint URL, e.g. http://localhost:9000 for MinIO
	Bucket          string `ignored:"true"`                // Bucket name, taken from the location URI
	Prefix          string `ignored:"true"`                // Key prefix, taken from the location URI
	AccessKeyID     string `envconfig:"ACCESS_KEY_ID"`     // Static access key; empty uses the default chain
	SecretAccessKey string `envconfig:"SECRET_ACCESS_KEY"` // Static secret key
	Region          string `envconfig:"REGION" default:"us-east-1"`
	UsePathStyle    bool   `envconfig:"USE_PATH_STYLE"` // Required for MinIO

	MaxIdleConns        int           `envconfig:"MAX_IDLE_CONNS"`
	MaxIdleConnsPerHost int           `envconfig:"MAX_IDLE_CONNS_PER_HOST"`
	IdleConnTimeout     time.Duration `envconfig:"IDLE_CONN_TIMEOUT"`
}

// Validate checks the configuration for required fields
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("S3 access key and secret must be set together")
	}
	return nil
}

// S3Store implements BlobStore for S3-compatible storage
type S3Store struct {
	client     *s3.Client
	bucket     string
	prefix     string
	httpClient *awshttp.BuildableClient
}

// NewS3Store creates a new S3 store from configuration
func NewS3Store(ctx context.Context, cfg *S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid S3 config: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = DefaultMaxIdleConns
	}
	maxIdleConnsPerHost := cfg.MaxIdleConnsPerHost
	if maxIdleConnsPerHost <= 0 {
		maxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout <= 0 {
		idleConnTimeout = DefaultIdleConnTimeout
	}

	// the SDK only applies AWS_CA_BUNDLE to a buildable client
	httpClient := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		tr.Proxy = http.ProxyFromEnvironment
		tr.MaxIdleConns = maxIdleConns
		tr.MaxIdleConnsPerHost = maxIdleConnsPerHost
		tr.IdleConnTimeout = idleConnTimeout
	})

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if bc, ok := awsCfg.HTTPClient.(*awshttp.BuildableClient); ok {
		httpClient = bc
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		httpClient: httpClient,
	}, nil
}

// Bucket returns the S3 bucket name
func (b *S3Store) Bucket() string { return b.bucket }

// Prefix returns the S3 key prefix
func (b *S3Store) Prefix() string { return b.prefix }

// HTTPTransport returns the transport settings the client is built with
func (b *S3Store) HTTPTransport() *http.Transport { return b.httpClient.GetTransport() }

func (b *S3Store) String() string {
	if b.prefix == "" {
		return "s3://" + b.bucket
	}
	return "s3://" + b.bucket + "/" + b.prefix
}

// buildKey joins the store prefix and a relative key
func buildKey(prefix, key string) string {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if prefix != "" {
		key = path.Join(strings.Trim(prefix, "/"), key)
	}
	return key
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	// Some S3-compatible services only surface the code in the message
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound")
}

// Open downloads the object at key
func (b *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(buildKey(b.prefix, key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, &NotFoundError{Key: key}
		}
		return nil, NewS3Error("get", b.bucket, key, err)
	}
	return out.Body, nil
}

// Stat issues a HEAD request for key
func (b *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if key == "" {
		return ObjectInfo{}, ErrInvalidKey
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(buildKey(b.prefix, key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ObjectInfo{}, &NotFoundError{Key: key}
		}
		return ObjectInfo{}, NewS3Error("head", b.bucket, key, err)
	}
	info := ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	return info, nil
}

// List pages through ListObjectsV2 and returns keys relative to the prefix
func (b *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := b.prefix
	if full != "" {
		full += "/"
	}
	full += prefix

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, NewS3Error("list", b.bucket, full, err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if b.prefix != "" {
				k = strings.TrimPrefix(k, b.prefix+"/")
			}
			if k == "" || strings.HasSuffix(k, "/") {
				continue
			}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Put uploads r to key. size may be -1 when unknown.
func (b *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if key == "" {
		return ErrInvalidKey
	}
	// The SDK needs a seekable body to sign over plain HTTP
	if _, ok := r.(io.ReadSeeker); !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return NewS3Error("put", b.bucket, key, err)
		}
		r = bytes.NewReader(data)
		size = int64(len(data))
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(buildKey(b.prefix, key)),
		Body:        r,
		ContentType: aws.String(ContentType(key)),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		return NewS3Error("put", b.bucket, key, err)
	}
	return nil
}

// ContentType maps a key's extension to a MIME type.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".arrow":
		return "application/vnd.apache.arrow.file"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
