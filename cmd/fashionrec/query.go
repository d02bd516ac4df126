package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/brittybidari/FashionRecSys/internal/recommend"
)

// queryMatch is one line of `query --json` output.
type queryMatch struct {
	Filename string  `json:"filename"`
	Index    int     `json:"index"`
	Score    float64 `json:"score"`
}

type queryOutput struct {
	RecommendedImages []string     `json:"recommended_images"`
	Matches           []queryMatch `json:"matches"`
}

func newQueryCmd(a *cli) *cobra.Command {
	var (
		topN   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "query <image>",
		Short: "Recommend catalog images for a local image file",
		Long: `Run one recommendation against the configured corpus without starting
the HTTP server, printing each match with its cosine similarity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.query(cmd.Context(), args[0], topN)
			if err != nil {
				return err
			}
			return writeQueryResult(cmd.OutOrStdout(), res, asJSON)
		},
	}
	cmd.Flags().IntVarP(&topN, "top-n", "n", 0, "number of recommendations (default FASHIONREC_TOP_N)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (a *cli) query(ctx context.Context, path string, n int) (*recommend.Result, error) {
	c, _, err := a.loadCorpus(ctx)
	if err != nil {
		return nil, err
	}
	svc, _, err := a.buildService(ctx, c)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	res, err := svc.Recommend(ctx, f, n)
	if err != nil {
		return nil, fmt.Errorf("recommendation failed: %w", err)
	}
	return res, nil
}

func writeQueryResult(w io.Writer, res *recommend.Result, asJSON bool) error {
	if asJSON {
		out := queryOutput{
			RecommendedImages: make([]string, 0, len(res.Matches)),
			Matches:           make([]queryMatch, 0, len(res.Matches)),
		}
		for _, m := range res.Matches {
			out.RecommendedImages = append(out.RecommendedImages, m.Filename)
			out.Matches = append(out.Matches, queryMatch{Filename: m.Filename, Index: m.Index, Score: m.Score})
		}
		enc := gojson.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tFILENAME\tSCORE")
	for i, m := range res.Matches {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\n", i+1, m.Filename, m.Score)
	}
	return tw.Flush()
}
