package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brittybidari/FashionRecSys/internal/core"
	"github.com/brittybidari/FashionRecSys/internal/corpus"
	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
	"github.com/brittybidari/FashionRecSys/internal/recommend"
	"github.com/brittybidari/FashionRecSys/internal/storage"
)

type buildOptions struct {
	Catalog     string
	Pattern     string
	Out         string
	Format      string
	Manifest    string
	Workers     int
	SkipInvalid bool
}

func newBuildCmd(a *cli) *cobra.Command {
	var opts buildOptions
	cmd := &cobra.Command{
		Use:   "build-corpus",
		Short: "Embed every catalog image into a feature matrix",
		Long: `Enumerate catalog images, embed each with the configured preprocessing
and model, and write the feature matrix with its filenames.

The output is an Arrow IPC stream or a Parquet file, chosen by --format or
the --out extension, plus an optional newline separated manifest next to it.
Both --catalog and --out accept local paths and s3:// URIs.

Examples:
  fashionrec build-corpus --out ./features.parquet
  fashionrec build-corpus --catalog s3://shop/images --out s3://shop/features.arrow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Catalog == "" {
				opts.Catalog = a.cfg.CatalogURI
			}
			if opts.Pattern == "" {
				opts.Pattern = a.cfg.CatalogPattern
			}
			c, err := a.buildCorpus(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d embeddings of dimension %d to %s\n", c.Len(), c.Dim(), opts.Out)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "catalog image directory or s3:// prefix (default FASHIONREC_CATALOG_URI)")
	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "glob selecting catalog images (default FASHIONREC_CATALOG_PATTERN)")
	cmd.Flags().StringVar(&opts.Out, "out", "", "output object, local path or s3:// URI")
	cmd.Flags().StringVar(&opts.Format, "format", "", "arrow or parquet (default from --out extension)")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "filenames.txt", "manifest key written next to the output; empty to skip")
	cmd.Flags().IntVar(&opts.Workers, "workers", runtime.NumCPU(), "concurrent extractions")
	cmd.Flags().BoolVar(&opts.SkipInvalid, "skip-invalid", true, "skip images that fail to decode instead of aborting")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *cli) buildCorpus(ctx context.Context, opts buildOptions, progress io.Writer) (*corpus.Corpus, error) {
	outStore, outKey, err := a.openObject(ctx, opts.Out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	format, err := corpus.ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	if format == corpus.FormatAuto {
		if format, err = corpus.FormatFromKey(outKey); err != nil {
			return nil, err
		}
	}
	if format == corpus.FormatNPY {
		return nil, fmt.Errorf("build-corpus writes arrow or parquet, not %s", format)
	}

	catalog, err := a.openDir(ctx, opts.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	names, err := corpus.EnumerateCatalog(ctx, catalog, opts.Pattern)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no catalog images match %q in %s", opts.Pattern, catalog)
	}

	ex, err := a.buildExtractor(ctx, 0)
	if err != nil {
		return nil, err
	}

	a.logger.Info().Str("catalog", catalog.String()).Int("images", len(names)).Int("workers", opts.Workers).Msg("Embedding catalog")
	start := time.Now()

	bar := progressbar.NewOptions(len(names),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Embedding"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(progress)
		}),
	)
	vectors, kept, err := embedCatalog(ctx, catalog, names, ex, opts.Workers, opts.SkipInvalid, func() { _ = bar.Add(1) })
	if err != nil {
		return nil, err
	}
	if skipped := len(names) - len(kept); skipped > 0 {
		a.logger.Warn().Int("skipped", skipped).Msg("Skipped catalog images that could not be embedded")
	}

	c, err := corpus.New(vectors, kept)
	if err != nil {
		return nil, err
	}
	if c.Len() == 0 {
		return nil, fmt.Errorf("no catalog image could be embedded")
	}

	var buf bytes.Buffer
	switch format {
	case corpus.FormatArrow:
		err = corpus.WriteArrow(&buf, c)
	default:
		err = corpus.WriteParquet(&buf, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode corpus: %w", err)
	}
	if err := outStore.Put(ctx, outKey, &buf, int64(buf.Len())); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", opts.Out, err)
	}

	if opts.Manifest != "" {
		var mbuf bytes.Buffer
		if err := corpus.WriteManifest(&mbuf, c.Filenames()); err != nil {
			return nil, err
		}
		if err := outStore.Put(ctx, opts.Manifest, &mbuf, int64(mbuf.Len())); err != nil {
			return nil, fmt.Errorf("failed to write manifest: %w", err)
		}
	}

	a.logger.Info().
		Str("out", opts.Out).
		Str("format", string(format)).
		Int("size", c.Len()).
		Int("dimension", c.Dim()).
		Dur("elapsed", time.Since(start)).
		Msg("Corpus written")
	return c, nil
}

// embedCatalog extracts every named image. Results keep catalog order; with
// skipInvalid, images that fail to decode are dropped together with their
// name so vectors and filenames stay aligned.
func embedCatalog(ctx context.Context, catalog storage.BlobStore, names []string, emb recommend.Embedder,
	workers int, skipInvalid bool, done func()) ([]core.Embedding, []string, error) {
	if workers <= 0 {
		workers = 1
	}
	vectors := make([]core.Embedding, len(names))
	failed := make([]bool, len(names)) // each index is written by one goroutine

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			defer done()
			v, err := embedOne(gctx, catalog, name, emb)
			if err != nil {
				if skipInvalid && fserrors.IsImageDecode(err) {
					failed[i] = true
					return nil
				}
				return fmt.Errorf("%s: %w", name, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	outVectors := make([]core.Embedding, 0, len(names))
	outNames := make([]string, 0, len(names))
	for i, name := range names {
		if failed[i] {
			continue
		}
		outVectors = append(outVectors, vectors[i])
		outNames = append(outNames, name)
	}
	return outVectors, outNames, nil
}

func embedOne(ctx context.Context, catalog storage.BlobStore, name string, emb recommend.Embedder) (core.Embedding, error) {
	rc, err := catalog.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return emb.Extract(ctx, rc)
}
