package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rbfnet/pipeline"
	"rbfnet/training"
)

func (c *cli) autoconfigCmd() *cobra.Command {
	var (
		data, target, charset string
		ratio                 float64
		seed                  int64
	)
	cmd := &cobra.Command{
		Use:   "autoconfig",
		Short: "Suggest centers and an error threshold for a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := pipeline.Load(data, charset)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("seed") {
				seed = c.cfg.ML.Seed
			}
			ac, err := training.Suggest(ds, target, ratio, seed, c.logger.Named("pipeline"))
			if err != nil {
				return err
			}
			s := ac.Suggestion

			if c.jsonOutput() {
				return c.printJSON(s)
			}
			fmt.Fprintf(c.out, "dataset:  %s (%d patterns, %d inputs, %s)\n", ds.Name, ac.Statistics.Patterns, ac.Statistics.Inputs, s.Kind)
			fmt.Fprintf(c.out, "split:    %d train / %d test\n", ac.TrainSize, ac.TestSize)
			fmt.Fprintf(c.out, "centers:  %d (base %d x factor %g)\n", s.Config.Centers, s.CenterBase, s.InputFactor)
			fmt.Fprintf(c.out, "error:    %g\n", s.Config.ErrorThreshold)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "dataset file (.csv or .json)")
	cmd.Flags().StringVar(&target, "target", "", "column to predict")
	cmd.Flags().StringVar(&charset, "charset", "", "dataset text encoding (default utf-8)")
	cmd.Flags().Float64Var(&ratio, "train-ratio", training.DefaultTrainRatio, "training fraction; centers are capped at the training-set size")
	cmd.Flags().Int64Var(&seed, "seed", 0, "split seed (default: ml.seed)")
	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("target")
	return cmd
}
