package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rbfnet/app"
)

func (c *cli) serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				c.cfg.HTTP.Port = port
			}
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			a, err := app.New(c.cfg, c.flags.ConfigPath, c.logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides http.port)")
	return cmd
}
