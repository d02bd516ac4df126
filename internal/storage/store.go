package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// BlobStore is a read-mostly keyed object store. Keys are slash separated
// and relative to the store root.
type BlobStore interface {
	// Open returns a reader for the object at key
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat returns object metadata, or a NotFoundError
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns all keys under prefix, sorted lexically
	List(ctx context.Context, prefix string) ([]string, error)
	// Put stores data at key, replacing any existing object
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// String describes the store location for logs
	String() string
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// NotFoundError indicates an object was not found
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object not found: %s", e.Key)
}

// IsNotFoundError checks if an error is a NotFoundError
func IsNotFoundError(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// ErrInvalidKey is returned for keys that are empty or escape the store root
var ErrInvalidKey = errors.New("storage: invalid key")

// Location is a parsed store URI: a local directory, or an S3 bucket and prefix.
type Location struct {
	Scheme string // "file" or "s3"
	Bucket string // s3 only
	Path   string // directory for file, key prefix for s3
}

// ParseLocation parses "s3://bucket/prefix", "file:///dir" or a bare path.
func ParseLocation(uri string) (Location, error) {
	if uri == "" {
		return Location{}, errors.New("storage: empty location")
	}
	if !strings.Contains(uri, "://") {
		return Location{Scheme: "file", Path: uri}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("storage: parse %q: %w", uri, err)
	}

	switch u.Scheme {
	case "file":
		return Location{Scheme: "file", Path: u.Host + u.Path}, nil
	case "s3":
		if u.Host == "" {
			return Location{}, fmt.Errorf("storage: missing bucket in %q", uri)
		}
		return Location{Scheme: "s3", Bucket: u.Host, Path: strings.Trim(u.Path, "/")}, nil
	default:
		return Location{}, fmt.Errorf("storage: unsupported scheme %q", u.Scheme)
	}
}

// Split separates a location that names a single object into the location
// of its parent and the object key.
func (l Location) Split() (Location, string) {
	p := strings.TrimSuffix(l.Path, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		parent := l
		if l.Scheme == "file" {
			parent.Path = "."
		} else {
			parent.Path = ""
		}
		return parent, p
	}
	parent := l
	parent.Path = p[:idx]
	if parent.Path == "" && l.Scheme == "file" {
		parent.Path = "/"
	}
	return parent, p[idx+1:]
}

// Open builds the BlobStore for a location. S3 locations use s3cfg for
// credentials and endpoint; its Bucket and Prefix are taken from loc.
func Open(ctx context.Context, loc Location, s3cfg S3Config) (BlobStore, error) {
	switch loc.Scheme {
	case "file":
		return NewLocalStore(loc.Path)
	case "s3":
		s3cfg.Bucket = loc.Bucket
		s3cfg.Prefix = loc.Path
		return NewS3Store(ctx, &s3cfg)
	default:
		return nil, fmt.Errorf("storage: unsupported scheme %q", loc.Scheme)
	}
}
