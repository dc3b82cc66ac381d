package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rbfnet/pipeline"
)

func (c *cli) inspectCmd() *cobra.Command {
	var data, charset string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarise the columns of a dataset",
		Long: `Inspect reports each column's kind, missing cells and numeric summary
before any preprocessing, so the target and encoding can be checked first.`,
		Example: `  rbfctl inspect --data iris.csv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := pipeline.Load(data, charset)
			if err != nil {
				return err
			}
			columns, err := pipeline.NewPreprocessor(ds, c.logger.Named("pipeline")).Inspect()
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(map[string]interface{}{"dataset": ds.Info(), "columns": columns})
			}

			fmt.Fprintf(c.out, "dataset: %s (%d patterns, %d columns)\n\n", ds.Name, len(ds.Rows), len(ds.Columns))
			rows := make([][]string, len(columns))
			for i, col := range columns {
				if col.Kind == pipeline.KindCategorical {
					rows[i] = []string{col.Name, col.Kind, strconv.Itoa(col.Missing), strconv.Itoa(col.Unique), "-", "-", "-", "-", "-"}
					continue
				}
				rows[i] = []string{col.Name, col.Kind, strconv.Itoa(col.Missing), "-",
					fmtFloat(col.Min), fmtFloat(col.Max), fmtFloat(col.Mean), fmtFloat(col.Std), fmtFloat(col.Median)}
			}
			return c.table([]string{"COLUMN", "KIND", "MISSING", "UNIQUE", "MIN", "MAX", "MEAN", "STD", "MEDIAN"}, rows)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "dataset file (.csv or .json)")
	cmd.Flags().StringVar(&charset, "charset", "", "dataset text encoding (default utf-8)")
	cmd.MarkFlagRequired("data")
	return cmd
}
