package corpus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/brittybidari/FashionRecSys/internal/core"
	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
	"github.com/brittybidari/FashionRecSys/internal/metrics"
	"github.com/brittybidari/FashionRecSys/internal/storage"
)

// Format identifies a serialized feature matrix layout.
type Format string

const (
	FormatAuto    Format = ""
	FormatNPY     Format = "npy"
	FormatArrow   Format = "arrow"
	FormatParquet Format = "parquet"
)

// DefaultCatalogPattern matches the catalog images enumerated for .npy
// matrices that ship without a manifest.
const DefaultCatalogPattern = "*.jpg"

// ParseFormat parses a configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatNPY, FormatArrow, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("unknown corpus format %q", s)
	}
}

// FormatFromKey infers the format from an object key's extension.
func FormatFromKey(key string) (Format, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".npy":
		return FormatNPY, nil
	case ".arrow", ".arrows", ".ipc":
		return FormatArrow, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("cannot infer corpus format from %q", key)
	}
}

// LoadOptions selects the matrix object and how filenames are aligned to it.
type LoadOptions struct {
	Key    string // object key of the feature matrix
	Format Format // FormatAuto infers from Key

	// Manifest is the key of a newline separated filename list, used for
	// .npy matrices. When empty, filenames are enumerated from Catalog.
	Manifest       string
	Catalog        storage.BlobStore
	CatalogPattern string

	AllowEmpty bool
}

// Load reads a feature matrix from store and builds the Corpus.
func Load(ctx context.Context, store storage.BlobStore, opts LoadOptions) (*Corpus, error) {
	start := time.Now()

	format := opts.Format
	if format == FormatAuto {
		f, err := FormatFromKey(opts.Key)
		if err != nil {
			return nil, fserrors.WrapConfigurationError(err, "corpus.Load", "unknown format")
		}
		format = f
	}

	rc, err := store.Open(ctx, opts.Key)
	if err != nil {
		return nil, fserrors.WrapStorageError(err, "corpus.Load", "open feature matrix").
			WithContext("key", opts.Key).
			WithContext("store", store.String())
	}
	defer func() { _ = rc.Close() }()

	var (
		vectors   []core.Embedding
		filenames []string
	)
	switch format {
	case FormatNPY:
		vectors, err = readNPY(rc)
		if err != nil {
			return nil, fserrors.WrapCorpusIntegrityError(err, "corpus.Load", "read .npy matrix")
		}
		filenames, err = loadFilenames(ctx, store, opts)
		if err != nil {
			return nil, err
		}
	case FormatArrow:
		vectors, filenames, err = readArrow(rc)
		if err != nil {
			return nil, fserrors.WrapCorpusIntegrityError(err, "corpus.Load", "read arrow stream")
		}
	case FormatParquet:
		vectors, filenames, err = readParquet(rc)
		if err != nil {
			return nil, fserrors.WrapCorpusIntegrityError(err, "corpus.Load", "read parquet file")
		}
	default:
		return nil, fserrors.NewConfigurationError("corpus.Load", fmt.Sprintf("unsupported format %q", format))
	}

	c, err := New(vectors, filenames)
	if err != nil {
		return nil, err
	}
	if c.Len() == 0 && !opts.AllowEmpty {
		return nil, fserrors.NewCorpusIntegrityError("corpus.Load", "corpus is empty").
			WithContext("key", opts.Key)
	}

	metrics.CorpusSize.Set(float64(c.Len()))
	metrics.CorpusDimension.Set(float64(c.Dim()))
	metrics.CorpusZeroNormVectors.Set(float64(c.ZeroNorms()))
	metrics.CorpusLoadDurationSeconds.Observe(time.Since(start).Seconds())
	return c, nil
}

func loadFilenames(ctx context.Context, store storage.BlobStore, opts LoadOptions) ([]string, error) {
	if opts.Manifest != "" {
		rc, err := store.Open(ctx, opts.Manifest)
		if err != nil {
			return nil, fserrors.WrapStorageError(err, "corpus.Load", "open manifest").
				WithContext("key", opts.Manifest)
		}
		defer func() { _ = rc.Close() }()
		names, err := ReadManifest(rc)
		if err != nil {
			return nil, fserrors.WrapCorpusIntegrityError(err, "corpus.Load", "read manifest")
		}
		return names, nil
	}

	if opts.Catalog == nil {
		return nil, fserrors.NewConfigurationError("corpus.Load", ".npy corpus needs a manifest or a catalog to enumerate")
	}
	names, err := EnumerateCatalog(ctx, opts.Catalog, opts.CatalogPattern)
	if err != nil {
		return nil, fserrors.WrapStorageError(err, "corpus.Load", "enumerate catalog").
			WithContext("catalog", opts.Catalog.String())
	}
	return names, nil
}

// EnumerateCatalog lists catalog keys matching pattern in lexical order.
// An empty pattern means DefaultCatalogPattern.
func EnumerateCatalog(ctx context.Context, catalog storage.BlobStore, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultCatalogPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid catalog pattern %q", pattern)
	}

	keys, err := catalog.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		ok, err := doublestar.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// ReadManifest reads one filename per line, ignoring blank lines.
func ReadManifest(r io.Reader) ([]string, error) {
	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// WriteManifest writes filenames one per line.
func WriteManifest(w io.Writer, filenames []string) error {
	bw := bufio.NewWriter(w)
	for _, name := range filenames {
		if strings.ContainsAny(name, "\r\n") {
			return fmt.Errorf("filename %q contains a line break", name)
		}
		if _, err := bw.WriteString(name + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
