package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hed1ad/custsegml/pkg/cluster"
	"github.com/hed1ad/custsegml/pkg/config"
	"github.com/hed1ad/custsegml/pkg/pipeline"
)

type runOptions struct {
	inputDir   string
	outputDir  string
	artifact   string
	anomaly    string
	segments   int
	noProgress bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline on a raw table snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			src, err := pipeline.OpenSource(cfg)
			if err != nil {
				return err
			}
			defer src.Close()

			pipeOpts := []pipeline.Option{pipeline.WithLogger(log)}
			sink, err := pipeline.OpenSink(cfg)
			if err != nil {
				return err
			}
			if sink != nil {
				defer sink.Close()
				pipeOpts = append(pipeOpts, pipeline.WithWriter(sink))
			}
			if bar := sweepBar(cfg, opts.noProgress); bar != nil {
				pipeOpts = append(pipeOpts, pipeline.WithSweepProgress(func(cluster.SweepPoint) { _ = bar.Add(1) }))
				defer bar.Finish()
			}

			res, err := pipeline.New(cfg, pipeOpts...).Run(cmd.Context(), src)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res, cfg.Anomaly.TopN)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.inputDir, "input-dir", "", "directory holding customers.csv, orders.csv and payments.csv")
	f.StringVar(&opts.outputDir, "output-dir", "", "directory for exported tables")
	f.StringVar(&opts.artifact, "artifact", "", "path of the classifier artifact to write")
	f.StringVar(&opts.anomaly, "anomaly-model", "", "path of the fitted anomaly model to write")
	f.IntVar(&opts.segments, "segments", 0, "number of segments")
	f.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	return cmd
}

// apply overrides cfg with the flags the user set explicitly.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("input-dir") {
		cfg.Input.Source = config.SourceCSV
		cfg.Input.Dir = o.inputDir
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Dir = o.outputDir
	}
	if cmd.Flags().Changed("artifact") {
		cfg.Output.Artifact = o.artifact
	}
	if cmd.Flags().Changed("anomaly-model") {
		cfg.Output.AnomalyModel = o.anomaly
	}
	if cmd.Flags().Changed("segments") {
		cfg.Segment.K = o.segments
	}
}

func sweepBar(cfg *config.Config, disabled bool) *progressbar.ProgressBar {
	if disabled || cfg.Segment.SkipSweep || cfg.Segment.SweepMax < cfg.Segment.SweepMin {
		return nil
	}
	return progressbar.Default(int64(cfg.Segment.SweepMax-cfg.Segment.SweepMin+1), "k sweep")
}

func printSummary(out io.Writer, res *pipeline.Result, topN int) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "payments resolved\t%d of %d\n", res.Join.Resolved, res.Join.Payments)
	fmt.Fprintf(tw, "customers\t%d\n", res.Features.Len())
	fmt.Fprintf(tw, "segments\t%d (silhouette %.3f)\n", res.Segments.K, res.Segments.Silhouette)
	for s, n := range res.Segments.Sizes {
		fmt.Fprintf(tw, "  segment %d\t%d customers\n", s, n)
	}

	a := res.Training.Artifact
	fmt.Fprintf(tw, "classifier\t%s (test accuracy %.3f, weighted F1 %.3f)\n", a.ModelName, a.TestAccuracy, a.TestF1)
	for _, c := range res.Training.Candidates {
		if c.Err != nil {
			fmt.Fprintf(tw, "  %s\texcluded: %v\n", c.Name(), c.Err)
			continue
		}
		fmt.Fprintf(tw, "  %s\ttest %.3f  cv %.3f ± %.3f\n", c.Name(), c.TestAccuracy, c.CVMean, c.CVStd)
	}

	writeAnomalies(tw, res.Customers, res.Transactions, topN)
	if res.ArtifactPath != "" {
		fmt.Fprintf(tw, "artifact\t%s\n", res.ArtifactPath)
	}
	if res.AnomalyModelPath != "" {
		fmt.Fprintf(tw, "anomaly model\t%s\n", res.AnomalyModelPath)
	}
	if len(res.Exported) > 0 {
		fmt.Fprintf(tw, "tables exported\t%d\n", len(res.Exported))
	}
}
