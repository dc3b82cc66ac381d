package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"rbfnet/db"
	"rbfnet/training"
)

func (c *cli) predictCmd() *cobra.Command {
	var (
		id     int64
		model  string
		inputs []string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict with a stored or exported model",
		Long: `Predict runs a model on numeric rows given in the encoded input layout of
the training (one-hot columns included), before scaling; the stored scaler
is applied automatically. The model is either a catalogue entry (--id) or a
file written by "models export" (--model), which needs no database.`,
		Example: `  rbfctl predict --id 3 --input "5.1,3.5,1.4,0.2"
  rbfctl predict --id 3 --file rows.csv -o json
  rbfctl predict --model training_3.json --input "5.1,3.5,1.4,0.2"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readRows(inputs, file)
			if err != nil {
				return err
			}
			var pred *training.Prediction
			if model != "" {
				doc, err := db.ReadExport(model)
				if err != nil {
					return err
				}
				if pred, err = training.PredictExported(doc, rows); err != nil {
					return err
				}
			} else {
				store, err := c.openStore()
				if err != nil {
					return err
				}
				svc, err := training.NewPredictionService(store, 1, nil, c.logger.Named("predict"))
				if err != nil {
					return err
				}
				if pred, err = svc.Predict(cmd.Context(), id, rows); err != nil {
					return err
				}
			}
			if c.jsonOutput() {
				return c.printJSON(pred)
			}
			return c.printPrediction(rows, pred)
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "training id")
	cmd.Flags().StringVar(&model, "model", "", "export file written by models export")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "comma-separated input row (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "CSV file of input rows; a non-numeric first line is treated as a header")
	cmd.MarkFlagsOneRequired("id", "model")
	cmd.MarkFlagsMutuallyExclusive("id", "model")
	cmd.MarkFlagsOneRequired("input", "file")
	cmd.MarkFlagsMutuallyExclusive("input", "file")
	return cmd
}

func readRows(inputs []string, file string) ([][]float64, error) {
	if file == "" {
		rows := make([][]float64, 0, len(inputs))
		for i, in := range inputs {
			row, err := parseRow(strings.Split(in, ","))
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i+1, err)
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCSVRows(f)
}

func readCSVRows(r io.Reader) ([][]float64, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	var rows [][]float64
	for i, rec := range records {
		row, err := parseRow(rec)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("no input rows")
	}
	return rows, nil
}

func parseRow(cells []string) ([]float64, error) {
	row := make([]float64, len(cells))
	for i, cell := range cells {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a number", cell)
		}
		row[i] = v
	}
	return row, nil
}

func (c *cli) printPrediction(rows [][]float64, pred *training.Prediction) error {
	header := []string{"ROW", "INPUT", "OUTPUT"}
	if pred.Labels != nil {
		header = append(header, "CLASS")
	}
	table := make([][]string, len(rows))
	for i := range rows {
		line := []string{strconv.Itoa(i + 1), fmtFloats(rows[i]), fmtFloats(pred.Outputs[i])}
		if pred.Labels != nil {
			line = append(line, pred.Labels[i])
		}
		table[i] = line
	}
	return c.table(header, table)
}
