package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hed1ad/custsegml/pkg/predict"
)

func newPredictCmd(g *globalOptions) *cobra.Command {
	var artifactPath, input string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Assign segments to customers given as JSON feature mappings",
		Long: `Reads a JSON object mapping feature names to values, or an array of
such objects, from --input (or stdin) and prints one prediction per customer.
Missing features count as 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			if !cmd.Flags().Changed("artifact") {
				artifactPath = cfg.Output.Artifact
			}

			svc, err := predict.Load(artifactPath)
			if err != nil {
				return err
			}

			var data []byte
			if input == "" || input == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(input)
			}
			if err != nil {
				return err
			}
			batch, single, err := decodeRequests(data)
			if err != nil {
				return err
			}

			resp, err := svc.PredictBatch(batch)
			if err != nil {
				return err
			}
			log.Debug("predictions served", "count", len(resp), "artifact_id", svc.Artifact().ID)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if single {
				return enc.Encode(resp[0])
			}
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVar(&artifactPath, "artifact", "", "classifier artifact (defaults to output.artifact)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON input file, - for stdin")
	return cmd
}

// decodeRequests accepts one object or an array of objects.
func decodeRequests(data []byte) ([]map[string]float64, bool, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false, fmt.Errorf("empty prediction request")
	}
	if data[0] == '[' {
		var batch []map[string]float64
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, false, fmt.Errorf("decode request: %w", err)
		}
		return batch, false, nil
	}
	var one map[string]float64
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, false, fmt.Errorf("decode request: %w", err)
	}
	return []map[string]float64{one}, true, nil
}
