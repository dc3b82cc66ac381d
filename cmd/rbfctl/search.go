package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rbfnet/pipeline"
	"rbfnet/training"
)

func (c *cli) searchCmd() *cobra.Command {
	var (
		opts                     trainOptions
		minC, maxC, stepC, procs int
		thresholds               []float64
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Grid-search the center count and error threshold",
		Long: `Search trains one network per (centers, error) pair with the same split
and seed, and ranks the pairs by test-set EG. Nothing is stored; rerun
train with the winning pair and --save to keep it.`,
		Example: `  rbfctl search --data iris.csv --target species --min-centers 4 --max-centers 24 --step 4 --errors 0.3,0.45`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.applyTrainDefaults(cmd, &opts)
			ds, err := pipeline.Load(opts.data, opts.charset)
			if err != nil {
				return err
			}
			if len(thresholds) == 0 {
				thresholds = []float64{c.cfg.ML.DefaultError}
				if thresholds[0] == 0 {
					thresholds[0] = 0.3
				}
			}
			runner := training.NewRunner(c.logger.Named("search"), nil, nil, nil)
			res, err := runner.Search(cmd.Context(), training.SearchRequest{
				Base: training.Request{
					Name:        ds.Name,
					Dataset:     ds,
					Target:      opts.target,
					TrainRatio:  opts.trainRatio,
					Seed:        opts.seed,
					Normalize:   opts.normalize,
					Deduplicate: opts.dedup,
				},
				Centers:         training.CenterRange(minC, maxC, stepC),
				ErrorThresholds: thresholds,
				MaxWorkers:      procs,
			})
			if res == nil {
				return err
			}
			if c.jsonOutput() {
				if perr := c.printJSON(res); perr != nil {
					return perr
				}
				return err
			}

			rows := make([][]string, len(res.Iterations))
			for i, it := range res.Iterations {
				rank := "-"
				if it.Rank > 0 {
					rank = strconv.Itoa(it.Rank)
				}
				if it.Status != training.SearchCompleted {
					rows[i] = []string{rank, strconv.Itoa(it.Centers), strconv.FormatFloat(it.ErrorThreshold, 'g', -1, 64), "-", "-", "-", it.Error}
					continue
				}
				rows[i] = []string{rank, strconv.Itoa(it.Centers), strconv.FormatFloat(it.ErrorThreshold, 'g', -1, 64),
					fmtFloat(it.TrainMetrics.EG), fmtFloat(it.TestMetrics.EG), yesNo(it.TrainMetrics.Converge), ""}
			}
			if terr := c.table([]string{"RANK", "CENTERS", "ERROR", "TRAIN EG", "TEST EG", "CONVERGED", "NOTE"}, rows); terr != nil {
				return terr
			}
			if res.Best != nil {
				fmt.Fprintf(c.out, "\nbest: %d centers, error %g (test EG %s)\n",
					res.Best.Centers, res.Best.ErrorThreshold, fmtFloat(res.Best.TestMetrics.EG))
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.data, "data", "", "dataset file (.csv or .json)")
	f.StringVar(&opts.charset, "charset", "", "dataset text encoding (default utf-8)")
	f.StringVar(&opts.target, "target", "", "column to predict")
	f.Float64Var(&opts.trainRatio, "train-ratio", training.DefaultTrainRatio, "fraction of patterns used for training")
	f.Int64Var(&opts.seed, "seed", 0, "seed for center selection and the split")
	f.BoolVar(&opts.normalize, "normalize", false, "standardize inputs")
	f.BoolVar(&opts.dedup, "dedup", false, "drop rows repeated verbatim")
	f.IntVar(&minC, "min-centers", 4, "smallest center count")
	f.IntVar(&maxC, "max-centers", 24, "largest center count")
	f.IntVar(&stepC, "step", 4, "center count increment")
	f.Float64SliceVar(&thresholds, "errors", nil, "error thresholds to try (default: ml.default_error or 0.3)")
	f.IntVar(&procs, "workers", 0, "parallel trainings (default: number of CPUs)")
	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("target")
	return cmd
}
