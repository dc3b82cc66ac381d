package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"rbfnet/config"
	"rbfnet/db"
	"rbfnet/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ConfigPath string
	DBPath     string
	Output     string // table or json
	Verbose    bool
}

// cli carries the state built in PersistentPreRunE.
type cli struct {
	flags  globalFlags
	out    io.Writer
	cfg    *config.Config
	logger *logging.Logger
	store  *db.Store
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:   "rbfctl",
		Short: "Train and query radial basis function networks",
		Long: `rbfctl trains RBF networks on CSV or JSON datasets, keeps them in a
SQLite catalogue and answers predictions from stored models.

The network uses a d²·ln(d) activation and solves its output weights by
least squares, so training is a single closed-form step.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.teardown()
		},
	}

	root.PersistentFlags().StringVar(&c.flags.ConfigPath, "config", "config.yaml", "YAML configuration file")
	root.PersistentFlags().StringVar(&c.flags.DBPath, "db", "", "SQLite database (overrides database.path)")
	root.PersistentFlags().StringVarP(&c.flags.Output, "output", "o", "table", "output format: table|json")
	root.PersistentFlags().BoolVarP(&c.flags.Verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		c.trainCmd(),
		c.predictCmd(),
		c.modelsCmd(),
		c.inspectCmd(),
		c.autoconfigCmd(),
		c.searchCmd(),
		c.serveCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if c.flags.Output != "table" && c.flags.Output != "json" {
		return fmt.Errorf("unknown output format %q", c.flags.Output)
	}

	cfg, err := config.Load(c.flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.flags.DBPath != "" {
		cfg.Database.Path = c.flags.DBPath
	}
	if c.flags.Verbose {
		cfg.Log.Level = "debug"
	}
	c.cfg = cfg

	c.logger, err = logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	return nil
}

func (c *cli) teardown() error {
	var err error
	if c.store != nil {
		err = c.store.Close()
		c.store = nil
	}
	if c.logger != nil {
		c.logger.Sync()
	}
	return err
}

// openStore opens the catalogue on first use.
func (c *cli) openStore() (*db.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	store, err := db.Open(c.cfg.Database.Path, c.logger.Named("db"))
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}
