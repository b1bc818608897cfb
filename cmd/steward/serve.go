package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"steward/internal/app"
	"steward/internal/platform/config"
	"steward/internal/platform/httpserver"
	"steward/internal/platform/logger"
)

type loader func() (*config.Config, error)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				log.Error("failed to build", "error", err)
				return err
			}
			defer func() {
				if err := a.Close(context.WithoutCancel(ctx)); err != nil {
					log.Warn("shutdown incomplete", "error", err)
				}
			}()
			if err := a.Start(ctx); err != nil {
				log.Error("failed to start", "error", err)
				return err
			}
			return httpserver.Run(ctx, httpserver.New(cfg.Server, a.Handler), cfg.Server, log)
		},
	}
}

func newVerifyCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run one cross-store consistency check and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, logger.New(cfg.Log))
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			rep, err := a.Coordinator.VerifySystemConsistency(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if !rep.OK {
				cmd.SilenceErrors = true
				return errInconsistent
			}
			return nil
		},
	}
}
