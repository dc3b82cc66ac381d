package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func (c *cli) modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"trainings"},
		Short:   "Manage stored trainings",
	}
	cmd.AddCommand(c.modelsListCmd(), c.modelsShowCmd(), c.modelsDeleteCmd(), c.modelsExportCmd())
	return cmd
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid training id %q", arg)
	}
	return id, nil
}

func (c *cli) modelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored trainings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			list, err := store.ListTrainings(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(list)
			}
			rows := make([][]string, len(list))
			for i, t := range list {
				testEG := "-"
				if t.TestEG != nil {
					testEG = fmtFloat(*t.TestEG)
				}
				rows[i] = []string{
					strconv.FormatInt(t.ID, 10),
					t.Name,
					t.DatasetName,
					t.CreatedAt.Local().Format("2006-01-02 15:04"),
					strconv.Itoa(t.Centers),
					strconv.FormatFloat(t.ErrorThreshold, 'g', -1, 64),
					t.Split,
					fmtFloat(t.TrainEG),
					testEG,
					yesNo(t.Converge),
				}
			}
			return c.table([]string{"ID", "NAME", "DATASET", "CREATED", "CENTERS", "ERROR", "SPLIT", "TRAIN EG", "TEST EG", "CONVERGED"}, rows)
		},
	}
}

func (c *cli) modelsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored training with its parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, err := c.openStore()
			if err != nil {
				return err
			}
			t, err := store.LoadTraining(cmd.Context(), id)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return c.printJSON(t)
			}

			info := t.Info
			rows := [][]string{
				{"name", info.Name},
				{"dataset", info.DatasetName},
				{"target", info.Target},
				{"created", info.CreatedAt.Local().Format("2006-01-02 15:04:05")},
				{"patterns", strconv.Itoa(info.Patterns)},
				{"inputs", strconv.Itoa(info.Inputs)},
				{"outputs", strconv.Itoa(info.Outputs)},
				{"centers", strconv.Itoa(info.Centers)},
				{"activation", info.Activation},
				{"error threshold", strconv.FormatFloat(info.ErrorThreshold, 'g', -1, 64)},
				{"train ratio", strconv.FormatFloat(info.TrainRatio, 'g', -1, 64)},
				{"seed", strconv.FormatInt(info.Seed, 10)},
				{"normalized", yesNo(info.Normalized)},
				{"classification", yesNo(info.Classification)},
				{"train eg/mae/rmse", fmtFloats([]float64{t.TrainMetrics.EG, t.TrainMetrics.MAE, t.TrainMetrics.RMSE})},
				{"converged", yesNo(t.TrainMetrics.Converge)},
			}
			if t.TestMetrics != nil {
				rows = append(rows, []string{"test eg/mae/rmse",
					fmtFloats([]float64{t.TestMetrics.EG, t.TestMetrics.MAE, t.TestMetrics.RMSE})})
			}
			if len(t.Classes) > 0 {
				rows = append(rows, []string{"classes", fmt.Sprint(t.Classes)})
			}
			if len(t.FeatureNames) > 0 {
				rows = append(rows, []string{"features", fmt.Sprint(t.FeatureNames)})
			}
			if info.Description != "" {
				rows = append(rows, []string{"description", info.Description})
			}
			return c.table([]string{"FIELD", "VALUE"}, rows)
		},
	}
}

func (c *cli) modelsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored training",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, err := c.openStore()
			if err != nil {
				return err
			}
			if err := store.DeleteTraining(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleted training %d\n", id)
			return nil
		},
	}
}

func (c *cli) modelsExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a training and its model as a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("training_%d.json", id)
			}
			store, err := c.openStore()
			if err != nil {
				return err
			}
			if err := store.ExportTraining(cmd.Context(), id, out); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "exported training %d to %s\n", id, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default training_<id>.json)")
	return cmd
}
