package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"tidbyt.dev/fleetrt"
	"tidbyt.dev/fleetrt/metrics"
	"tidbyt.dev/fleetrt/publisher"
	"tidbyt.dev/fleetrt/server"
	"tidbyt.dev/fleetrt/traccar"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the bridge",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedule, err := loadSchedule(ctx, cfg)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	if cfg.Metrics.Addr != "" {
		srv := collector.Serve(cfg.Metrics.Addr)
		defer srv.Close()
	}

	service := fleetrt.NewService(schedule, cfg.ServiceOptions(collector))

	p := pool.New().WithContext(ctx).WithCancelOnError()

	httpServer := server.New(service)
	p.Go(func(ctx context.Context) error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Serving feeds")
		return httpServer.Listen(cfg.Server.Addr)
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	client := traccar.NewClient(cfg.Traccar.URL, cfg.Traccar.Email, cfg.Traccar.Password, service.Devices, collector)
	p.Go(client.Run)

	if cfg.NATS.URL != "" {
		nats, err := publisher.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, collector)
		if err != nil {
			return err
		}
		defer nats.Close()

		p.Go(func(ctx context.Context) error {
			return nats.Run(ctx, service.Feeds(), cfg.NATS.Interval)
		})
	}

	err = p.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Msg("Stopped")
	return err
}
