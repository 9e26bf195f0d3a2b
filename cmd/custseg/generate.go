package main

import (
	"fmt"

	"github.com/spf13/cobra"

	csvio "github.com/hed1ad/custsegml/pkg/io/csv"
	"github.com/hed1ad/custsegml/pkg/synth"
)

func newGenerateCmd() *cobra.Command {
	cfg := synth.DefaultConfig()
	var dir string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic raw table snapshot as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := csvio.NewWriter(dir)
			if err != nil {
				return err
			}
			defer w.Close()

			tables := synth.Generate(cfg)
			for _, t := range csvio.RawTables(tables) {
				if err := w.WriteTable(t); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d customers, %d orders, %d payments to %s\n",
				len(tables.Customers), len(tables.Orders), len(tables.Payments), dir)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dir, "dir", "data", "output directory")
	f.IntVar(&cfg.Customers, "customers", cfg.Customers, "regular customers")
	f.IntVar(&cfg.Outliers, "outliers", cfg.Outliers, "customers with one extreme late payment")
	f.IntVar(&cfg.Orphans, "orphans", cfg.Orphans, "payments without an order")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	return cmd
}
