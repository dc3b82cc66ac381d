package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rbfnet/db"
	"rbfnet/ml"
	"rbfnet/pipeline"
	"rbfnet/training"
)

type trainOptions struct {
	data        string
	charset     string
	target      string
	name        string
	description string
	centers     int
	errorThresh float64
	trainRatio  float64
	seed        int64
	normalize   bool
	dedup       bool
	save        bool
}

func (c *cli) trainCmd() *cobra.Command {
	var opts trainOptions
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a network on a dataset",
		Long: `Train preprocesses the dataset, splits it, fits the network and reports
metrics for both sets. Leaving --centers or --error out lets the dataset
shape decide them.`,
		Example: `  rbfctl train --data iris.csv --target species --normalize --save
  rbfctl train --data houses.json --target price --centers 20 --error 0.3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.applyTrainDefaults(cmd, &opts)
			return c.runTrain(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.data, "data", "", "dataset file (.csv or .json)")
	f.StringVar(&opts.charset, "charset", "", "dataset text encoding (default utf-8)")
	f.StringVar(&opts.target, "target", "", "column to predict")
	f.StringVar(&opts.name, "name", "", "training name (default: dataset file name)")
	f.StringVar(&opts.description, "description", "", "free-form note stored with the training")
	f.IntVar(&opts.centers, "centers", 0, "number of centers (0: suggest)")
	f.Float64Var(&opts.errorThresh, "error", 0, "target mean absolute error (0: suggest)")
	f.Float64Var(&opts.trainRatio, "train-ratio", training.DefaultTrainRatio, "fraction of patterns used for training")
	f.Int64Var(&opts.seed, "seed", 0, "seed for center selection and the split")
	f.BoolVar(&opts.normalize, "normalize", false, "standardize inputs")
	f.BoolVar(&opts.dedup, "dedup", false, "drop rows repeated verbatim")
	f.BoolVar(&opts.save, "save", false, "store the trained model in the catalogue")
	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("target")
	return cmd
}

// applyTrainDefaults fills flags the user left out from the ml section of
// the configuration.
func (c *cli) applyTrainDefaults(cmd *cobra.Command, opts *trainOptions) {
	d := c.cfg.ML
	f := cmd.Flags()
	if !f.Changed("centers") {
		opts.centers = d.DefaultCenters
	}
	if !f.Changed("error") {
		opts.errorThresh = d.DefaultError
	}
	if !f.Changed("train-ratio") && d.TrainRatio > 0 {
		opts.trainRatio = d.TrainRatio
	}
	if !f.Changed("seed") {
		opts.seed = d.Seed
	}
	if !f.Changed("normalize") {
		opts.normalize = d.Normalize
	}
}

func (c *cli) runTrain(ctx context.Context, opts trainOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	ds, err := pipeline.Load(opts.data, opts.charset)
	if err != nil {
		return err
	}

	var store training.Store
	if opts.save {
		s, err := c.openStore()
		if err != nil {
			return err
		}
		store = s
	}
	runner := training.NewRunner(c.logger.Named("training"), store, nil, nil)

	name := opts.name
	if name == "" {
		name = ds.Name
	}
	res, err := runner.Run(ctx, training.Request{
		Name:           name,
		Description:    opts.description,
		Dataset:        ds,
		Target:         opts.target,
		Centers:        opts.centers,
		ErrorThreshold: opts.errorThresh,
		TrainRatio:     opts.trainRatio,
		Seed:           opts.seed,
		Normalize:      opts.normalize,
		Deduplicate:    opts.dedup,
		Save:           opts.save,
	})
	if err != nil {
		return err
	}
	c.logger.Debug("training result ready", zap.Int64("training_id", res.TrainingID))

	if c.jsonOutput() {
		return c.printJSON(res)
	}
	return c.printTrainResult(res, opts.trainRatio)
}

func (c *cli) printTrainResult(res *training.Result, ratio float64) error {
	if res.TrainingID != 0 {
		fmt.Fprintf(c.out, "training id:     %d\n", res.TrainingID)
	}
	fmt.Fprintf(c.out, "dataset:         %s (%d patterns, %d inputs, %d outputs)\n",
		res.DatasetName, res.Stats.Patterns, res.Stats.Inputs, res.Stats.Outputs)
	if res.Classification {
		fmt.Fprintf(c.out, "classes:         %v\n", res.Classes)
	}
	if res.Suggestion != nil {
		fmt.Fprintf(c.out, "configuration:   %d centers, error %g (suggested for %s)\n",
			res.Config.Centers, res.Config.ErrorThreshold, res.Suggestion.Kind)
	} else {
		fmt.Fprintf(c.out, "configuration:   %d centers, error %g\n", res.Config.Centers, res.Config.ErrorThreshold)
	}
	fmt.Fprintf(c.out, "split:           %s (%d train, %d test)\n", db.SplitLabel(ratio), res.TrainSize, res.TestSize)
	if res.PseudoInverse {
		fmt.Fprintln(c.out, "solver:          pseudoinverse (normal equations were singular)")
	}
	if cs := res.Stats.Cleaning; cs.Rejected > 0 || cs.Corrected > 0 {
		fmt.Fprintf(c.out, "cleaning:        %d kept, %d dropped, %d corrected\n", cs.Passed, cs.Rejected, cs.Corrected)
	}
	for _, issue := range res.Issues {
		fmt.Fprintf(c.out, "dropped row %d:   %s\n", issue.Row, issue.Message)
	}
	fmt.Fprintln(c.out)

	header := []string{"SET", "EG", "MAE", "RMSE", "R2", "CONVERGE"}
	train := []string{"train", fmtFloat(res.TrainMetrics.EG), fmtFloat(res.TrainMetrics.MAE),
		fmtFloat(res.TrainMetrics.RMSE), fmtFloat(res.TrainR2), yesNo(res.TrainMetrics.Converge)}
	test := []string{"test", fmtFloat(res.TestMetrics.EG), fmtFloat(res.TestMetrics.MAE),
		fmtFloat(res.TestMetrics.RMSE), fmtFloat(res.TestR2), "-"}
	if res.Classification {
		header = append(header, "ACCURACY")
		train = append(train, fmtFloat(*res.TrainAccuracy))
		test = append(test, fmtFloat(*res.TestAccuracy))
	}
	if err := c.table(header, [][]string{train, test}); err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, adviceText(res.Advice))
	return nil
}

func adviceText(a ml.Advice) string {
	switch a.Status {
	case ml.AdviceConverged:
		return "converged: training error is within the threshold"
	case ml.AdviceClose:
		return fmt.Sprintf("close to converging (error at %.0f%% of the threshold): try %d centers", a.Progress, a.SuggestedCenters)
	default:
		return fmt.Sprintf("far from converging (error at %.0f%% of the threshold): try %d centers or an error threshold of %g",
			a.Progress, a.SuggestedCenters, a.SuggestedError)
	}
}
