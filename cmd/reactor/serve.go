package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/legamerdc/reactor"
	"github.com/legamerdc/reactor/internal/config"
	"github.com/legamerdc/reactor/internal/echo"
	"github.com/legamerdc/reactor/server"
)

func newServeCmd() *cobra.Command {
	var (
		cfgFile  string
		delay    time.Duration
		maxConns int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := reactor.NewLogger(os.Stderr, cfg.LogLevel, "reactor")
			if err != nil {
				return err
			}

			h := echo.New(echo.Options{
				Compress: cfg.Compress,
				MaxConns: maxConns,
				Delay:    delay,
				Logger:   logger.WithPrefix("echo"),
			})
			srv, err := reactor.Start[*echo.Session](cfg, h, server.WithLogger(logger.WithPrefix("server")))
			if err != nil {
				return err
			}
			for source := range len(cfg.ExtraPorts) + 1 {
				if port, err := srv.Port(source); err == nil {
					logger.Info("listening", "source", source, "port", port, "local_only", cfg.HostLocalOnly)
				}
			}

			<-cmd.Context().Done()
			logger.Info("shutting down", "connections", srv.ConnectionCount())
			srv.Stop()
			snap := h.Snapshot()
			logger.Info("stopped", "accepted", snap.Accepted, "messages", snap.Messages, "timeouts", snap.Timeouts)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "YAML config file")
	cmd.Flags().DurationVar(&delay, "delay", 100*time.Millisecond, "reply delay of the delayed-echo api")
	cmd.Flags().IntVar(&maxConns, "max-conns", 0, "reject connections beyond this count, 0 for unlimited")
	config.RegisterFlags(cmd.Flags())
	return cmd
}
