package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hed1ad/custsegml/pkg/anomaly"
	"github.com/hed1ad/custsegml/pkg/config"
	"github.com/hed1ad/custsegml/pkg/detectors/iforest"
	"github.com/hed1ad/custsegml/pkg/features"
	"github.com/hed1ad/custsegml/pkg/pipeline"
	"github.com/hed1ad/custsegml/pkg/records"
)

func newScoreCmd(g *globalOptions) *cobra.Command {
	var inputDir, modelPath string
	var top int
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a raw table snapshot with a saved anomaly model",
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
			if cmd.Flags().Changed("model") {
				cfg.Output.AnomalyModel = modelPath
			}
			if cmd.Flags().Changed("top") {
				cfg.Anomaly.TopN = top
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			model, err := anomaly.LoadModelFile(cfg.Output.AnomalyModel)
			if err != nil {
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
			txns, stats := records.Join(tables)
			log.Info("snapshot joined", "resolved", stats.Resolved, "dropped", stats.Dropped())

			var customers *anomaly.CustomerReport
			var scored *anomaly.TransactionReport
			if model.Customers != nil && len(txns) > 0 {
				table, err := features.Aggregate(txns)
				if err != nil {
					return err
				}
				if customers, err = model.Customers.Score(table); err != nil {
					return err
				}
			}
			if model.Transactions != nil && len(txns) > 0 {
				if scored, err = model.Transactions.Score(txns); err != nil {
					return err
				}
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			writeAnomalies(tw, customers, scored, cfg.Anomaly.TopN)
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&inputDir, "input-dir", "", "directory holding the raw CSV tables")
	f.StringVar(&modelPath, "model", "", "path of the saved anomaly model")
	f.IntVar(&top, "top", 0, "number of customers and transactions to list")
	return cmd
}

// writeAnomalies lists the n lowest scoring customers and the n riskiest
// transactions. A nil report prints as "no data".
func writeAnomalies(tw *tabwriter.Writer, customers *anomaly.CustomerReport, txns *anomaly.TransactionReport, n int) {
	if customers == nil {
		fmt.Fprintf(tw, "anomalous customers\tno data\n")
	} else {
		fmt.Fprintf(tw, "anomalous customers\t%d of %d\n", customers.AnomalyCount(), len(customers.Records))
		for _, rec := range customers.Top(iforest.Name, n) {
			fmt.Fprintf(tw, "  customer %s\tvotes %d/%d  score %.4f\n",
				rec.CustomerID, rec.Consensus, len(customers.Methods), rec.Scores[0])
		}
	}
	if txns == nil {
		fmt.Fprintf(tw, "high-risk transactions\tno data\n")
	} else {
		fmt.Fprintf(tw, "high-risk transactions\t%d of %d\n", txns.HighRiskCount(), len(txns.Records))
		for _, rec := range txns.TopRisk(n) {
			fmt.Fprintf(tw, "  payment %s\trisk %.1f  amount %.2f  delay %d days\n",
				rec.PaymentID, rec.RiskScore, rec.Amount, rec.DelayDays)
		}
	}
}
