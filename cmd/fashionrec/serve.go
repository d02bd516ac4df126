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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/brittybidari/FashionRecSys/internal/api"
	"github.com/brittybidari/FashionRecSys/internal/extractor"
	"github.com/brittybidari/FashionRecSys/internal/health"
	"github.com/brittybidari/FashionRecSys/internal/limiter"
	"github.com/brittybidari/FashionRecSys/internal/telemetry"
)

func newServeCmd(a *cli) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the recommendation HTTP API",
		Long: `Start the HTTP API. The metrics listener and the optional gRPC health
listener come up first and report NOT_SERVING until the corpus is loaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				a.cfg.ListenAddr = listen
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address for the HTTP API (overrides FASHIONREC_LISTEN_ADDR)")
	return cmd
}

// listenAndServe runs srv until it is shut down.
func listenAndServe(srv *http.Server, logger zerolog.Logger, name string) error {
	logger.Info().Str("address", srv.Addr).Msgf("Starting %s server", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

func (a *cli) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := a.logger
	shutdownTracing, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    "fashionrec",
		ServiceVersion: version,
		Endpoint:       a.cfg.OTelEndpoint,
		UseStdout:      a.cfg.OTelStdout,
		SampleRatio:    a.cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}()

	mgr := health.NewManager(version, logger.With().Str("component", "health").Logger(), telemetry.Tracer("fashionrec/health"))
	var grpcLis net.Listener
	if a.cfg.GRPCHealthAddr != "" {
		grpcLis, err = net.Listen("tcp", a.cfg.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPCHealthAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(a.cfg.MetricsAddr)
	g.Go(func() error { return listenAndServe(metricsSrv, logger, "metrics") })

	var grpcSrv *grpc.Server
	if grpcLis != nil {
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, mgr.GRPCServer())
		g.Go(func() error {
			logger.Info().Str("address", a.cfg.GRPCHealthAddr).Msg("Starting gRPC health server")
			return grpcSrv.Serve(grpcLis)
		})
	}

	var apiSrv *http.Server
	loadErr := func() error {
		c, images, err := a.loadCorpus(gctx)
		if err != nil {
			return err
		}
		svc, ex, err := a.buildService(gctx, c)
		if err != nil {
			return err
		}
		mgr.RegisterChecker(health.NewCorpusChecker(c))
		mgr.RegisterChecker(health.NewCatalogChecker(images, c))
		modelChecker := health.NewModelChecker(ex.ModelName())
		if g, ok := ex.Model().(*extractor.GuardedModel); ok {
			modelChecker.WithBreaker(g.Breaker)
		}
		mgr.RegisterChecker(modelChecker)

		gin.SetMode(gin.ReleaseMode)
		router := api.NewRouter(api.Options{
			Service:        svc,
			Images:         images,
			Health:         mgr,
			Limiter:        limiter.NewRateLimiter(a.cfg.LimiterConfig()),
			MaxUploadBytes: a.cfg.MaxUploadBytes,
			Logger:         logger,
		})
		apiSrv = &http.Server{
			Addr:         a.cfg.ListenAddr,
			Handler:      router,
			ReadTimeout:  a.cfg.ReadTimeout,
			WriteTimeout: a.cfg.WriteTimeout,
		}
		g.Go(func() error { return listenAndServe(apiSrv, logger, "API") })
		mgr.SetReady(true)
		return nil
	}()
	if loadErr != nil {
		logger.Error().Err(loadErr).Msg("Startup failed")
		cancel()
	}

	<-gctx.Done()
	logger.Info().Msg("Shutting down")
	mgr.Shutdown()

	sctx, scancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer scancel()
	if apiSrv != nil {
		if err := apiSrv.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("API server shutdown failed")
		}
	}
	if err := metricsSrv.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return loadErr
}
