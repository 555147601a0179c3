package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devghori1264/aerophoenix/vkd/internal/api"
	"github.com/devghori1264/aerophoenix/vkd/internal/config"
	"github.com/devghori1264/aerophoenix/vkd/internal/events"
	"github.com/devghori1264/aerophoenix/vkd/internal/instance"
	natsclient "github.com/devghori1264/aerophoenix/vkd/internal/nats"
	"github.com/devghori1264/aerophoenix/vkd/internal/runtime"
	"github.com/devghori1264/aerophoenix/vkd/internal/server"
	"github.com/devghori1264/aerophoenix/vkd/internal/storage"
	"github.com/devghori1264/aerophoenix/vkd/internal/telemetry"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:          "vkd <config-path>",
		Short:        "Instance control plane for Volkanic hosts",
		Version:      version,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, "config error:", err)
				return err
			}
			log, err := telemetry.NewLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, log); err != nil {
				log.Error("vkd exited with error", zap.Error(err))
				return err
			}
			log.Info("shutdown complete")
			return nil
		},
	}
	cobra.CheckErr(config.BindFlags(v, cmd.Flags()))
	return cmd
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(cfg.Tracing.Enabled, os.Stdout, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	docker, err := runtime.NewDocker(runtime.DockerOptions{
		Host:        cfg.Runtime.Host,
		StopTimeout: cfg.Runtime.StopTimeout,
	}, log.Named("docker"))
	if err != nil {
		return err
	}
	defer docker.Close()
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pingErr := docker.Ping(pctx)
	cancel()
	if pingErr != nil {
		log.Warn("docker not reachable yet", zap.Error(pingErr))
	} else {
		log.Info("connected to docker")
	}

	notifications := events.NewBroker[events.Notification]("notifications", cfg.Events.Buffer)
	defer notifications.Close()

	opts := instance.Options{
		Image:           cfg.Runtime.Image,
		CallbackAddress: cfg.Runtime.CallbackAddress,
		CommandCapacity: cfg.Events.Buffer,
	}
	var pub *natsclient.Publisher
	if cfg.NATS.URL != "" {
		pub, err = natsclient.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log.Named("nats"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer pub.Close()
		opts.CommandRelay = pub.PublishCommand
	}

	m, err := instance.NewManager(ctx, store, docker, notifications, log, opts)
	if err != nil {
		return err
	}
	defer m.Wait()

	g, gctx := errgroup.WithContext(ctx)
	if pub != nil {
		sub := notifications.Subscribe()
		g.Go(func() error {
			pub.Relay(gctx, sub)
			return nil
		})
		log.Info("relaying events to nats", zap.String("subject", natsclient.EventsSubject(cfg.NATS.SubjectPrefix)))
	}
	if cfg.Debug {
		sub := notifications.Subscribe()
		g.Go(func() error {
			events.Forward(gctx, sub, func(n events.Notification) {
				log.Debug("instance event", zap.String("kind", string(n.Kind)), zap.String("instance", n.ID))
			})
			return nil
		})
	}

	grpcSrv := server.New(log.Named("grpc"))
	grpcSrv.SetServing(pingErr == nil)
	reconciler := instance.NewReconciler(m, instance.ReconcilerOptions{
		Interval:    cfg.Reconcile.Interval,
		LockTimeout: cfg.Reconcile.LockTimeout,
		Health:      grpcSrv,
	})

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddress(),
		Handler: api.NewHTTPHandler(m, notifications, log, api.Options{
			Version: version,
			Latency: time.Duration(cfg.AddLatency) * time.Millisecond,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// ends open event streams on shutdown
		BaseContext: func(net.Listener) context.Context { return gctx },
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           api.NewMetricsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return reconciler.Run(gctx)
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("address", httpSrv.Addr))
		return serveHTTP(httpSrv)
	})
	g.Go(func() error {
		log.Info("Prometheus metrics available", zap.String("address", metricsSrv.Addr))
		return serveHTTP(metricsSrv)
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
		}
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcSrv.Stop()
		return errors.Join(httpSrv.Shutdown(sctx), metricsSrv.Shutdown(sctx))
	})

	return g.Wait()
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	}
	return nil
}
