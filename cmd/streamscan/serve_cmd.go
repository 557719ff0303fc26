package main

import (
	"strings"

	"github.com/spf13/cobra"

	"streamscan/internal/api"
	"streamscan/internal/log"
	"streamscan/internal/scan"
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scan control API for an external interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.API.Listen = strings.TrimSpace(listen)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log.Configure(log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})

			discovery := cfg.DiscoveryParams()
			manager := scan.NewManager(func(params scan.Config) (*scan.Scanner, error) {
				source := scan.NewLocalSource(discovery, log.WithComponent("discovery"))
				return buildScanner(cfg, params, source)
			})

			ctx := cmd.Context()
			server := api.New(ctx, manager, api.Options{
				Defaults:  cfg.ScanParams(),
				StartRate: cfg.API.StartRate,
				Logger:    log.WithComponent("api"),
			})
			return server.ListenAndServe(ctx, cfg.API.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default from config, 127.0.0.1:8089)")
	return cmd
}
