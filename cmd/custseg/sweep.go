package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hed1ad/custsegml/pkg/cluster"
	"github.com/hed1ad/custsegml/pkg/config"
	"github.com/hed1ad/custsegml/pkg/features"
	"github.com/hed1ad/custsegml/pkg/pipeline"
	"github.com/hed1ad/custsegml/pkg/records"
	"github.com/hed1ad/custsegml/pkg/segment"
)

func newSweepCmd(g *globalOptions) *cobra.Command {
	var inputDir string
	var minK, maxK int
	var noProgress bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Print k-means inertia and silhouette over a range of segment counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cmd.Flags().Changed("input-dir") {
				cfg.Input.Source = config.SourceCSV
				cfg.Input.Dir = inputDir
			}
			if cmd.Flags().Changed("min") {
				cfg.Segment.SweepMin = minK
			}
			if cmd.Flags().Changed("max") {
				cfg.Segment.SweepMax = maxK
			}
			cfg.Segment.SkipSweep = false
			if err := cfg.Validate(); err != nil {
				return err
			}

			src, err := pipeline.OpenSource(cfg)
			if err != nil {
				return err
			}
			defer src.Close()
			tables, err := src.ReadTables(cmd.Context())
			if err != nil {
				return err
			}
			txns, _ := records.Join(tables)
			table, err := features.Aggregate(txns)
			if err != nil {
				return err
			}

			segOpts := []segment.Option{segment.WithLogger(log)}
			if bar := sweepBar(cfg, noProgress); bar != nil {
				segOpts = append(segOpts, segment.WithSweepProgress(func(cluster.SweepPoint) { _ = bar.Add(1) }))
				defer bar.Finish()
			}
			res, err := segment.New(cfg.SegmentConfig(), segOpts...).Segment(table)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "k\tinertia\tsilhouette\t")
			for _, p := range res.Sweep {
				marker := ""
				if p.K == res.K {
					marker = "configured"
				}
				fmt.Fprintf(tw, "%d\t%.2f\t%.4f\t%s\n", p.K, p.Inertia, p.Silhouette, marker)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&inputDir, "input-dir", "", "directory holding the raw CSV tables")
	f.IntVar(&minK, "min", 2, "smallest segment count")
	f.IntVar(&maxK, "max", 10, "largest segment count")
	f.BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	return cmd
}
