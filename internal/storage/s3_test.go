package storage

import (
	"context"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3ConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     S3Config
		wantErr bool
	}{
		{"bucket only uses default chain", S3Config{Bucket: "b"}, false},
		{"static credentials", S3Config{Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"}, false},
		{"missing bucket", S3Config{}, true},
		{"key without secret", S3Config{Bucket: "b", AccessKeyID: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildKey(t *testing.T) {
	assert.Equal(t, "a.jpg", buildKey("", "a.jpg"))
	assert.Equal(t, "corpus/a.jpg", buildKey("corpus", "a.jpg"))
	assert.Equal(t, "corpus/a.jpg", buildKey("/corpus/", "a.jpg"))
	assert.Equal(t, "corpus/a.jpg", buildKey("corpus", "../a.jpg"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType("x/a.JPG"))
	assert.Equal(t, "application/vnd.apache.parquet", ContentType("e.parquet"))
	assert.Equal(t, "application/octet-stream", ContentType("e.npy"))
	assert.Equal(t, "image/webp", ContentType("shoes/1.webp"))
}

func TestS3Error(t *testing.T) {
	cause := errors.New("boom")
	err := NewS3Error("get", "bucket", "a.jpg", cause)
	assert.Contains(t, err.Error(), "s3://bucket/a.jpg")
	assert.ErrorIs(t, err, cause)
}

func TestNewS3StoreConnectionPool(t *testing.T) {
	store, err := NewS3Store(context.Background(), &S3Config{
		Endpoint:        "http://localhost:9000",
		Bucket:          "test-bucket",
		Prefix:          "/corpus/",
		AccessKeyID:     "testkey",
		SecretAccessKey: "testsecret",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", store.Bucket())
	assert.Equal(t, "corpus", store.Prefix())
	assert.Equal(t, "s3://test-bucket/corpus", store.String())

	tr := store.HTTPTransport()
	require.NotNil(t, tr)
	assert.Equal(t, DefaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, DefaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, DefaultIdleConnTimeout, tr.IdleConnTimeout)

	custom, err := NewS3Store(context.Background(), &S3Config{
		Bucket:              "b",
		AccessKeyID:         "k",
		SecretAccessKey:     "s",
		MaxIdleConns:        7,
		MaxIdleConnsPerHost: 3,
		IdleConnTimeout:     time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, custom.HTTPTransport().MaxIdleConns)
	assert.Equal(t, 3, custom.HTTPTransport().MaxIdleConnsPerHost)
	assert.Equal(t, time.Second, custom.HTTPTransport().IdleConnTimeout)

	_, err = NewS3Store(context.Background(), &S3Config{})
	assert.Error(t, err)
}

func TestNewS3StoreHonorsCABundle(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(bundle, certPEM, 0o600))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	store, err := NewS3Store(context.Background(), &S3Config{
		Endpoint:        srv.URL,
		Bucket:          "b",
		AccessKeyID:     "k",
		SecretAccessKey: "s",
		UsePathStyle:    true,
		MaxIdleConns:    9,
	})
	require.NoError(t, err)

	tr := store.HTTPTransport()
	require.NotNil(t, tr.TLSClientConfig)
	require.NotNil(t, tr.TLSClientConfig.RootCAs)
	assert.Equal(t, 9, tr.MaxIdleConns)
	assert.Equal(t, DefaultIdleConnTimeout, tr.IdleConnTimeout)
}

// TestS3StoreIntegration runs against a live S3-compatible endpoint such as MinIO.
func TestS3StoreIntegration(t *testing.T) {
	endpoint := os.Getenv("S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_TEST_ENDPOINT not set")
	}

	ctx := context.Background()
	store, err := NewS3Store(ctx, &S3Config{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("S3_TEST_BUCKET"),
		Prefix:          "fashionrec-test",
		AccessKeyID:     os.Getenv("S3_TEST_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("S3_TEST_SECRET_KEY"),
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "images/a.jpg", strings.NewReader("jpeg"), 4))

	rc, err := store.Open(ctx, "images/a.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	_ = rc.Close()
	assert.Equal(t, "jpeg", string(data))

	info, err := store.Stat(ctx, "images/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)

	keys, err := store.List(ctx, "images/")
	require.NoError(t, err)
	assert.Contains(t, keys, "images/a.jpg")

	_, err = store.Open(ctx, "images/missing.jpg")
	assert.True(t, IsNotFoundError(err))
}
