// Command mountd serves equipment mount trees and mount/unmount validation
// over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/equipment-mounts/internal/logging"
	"github.com/signalsfoundry/equipment-mounts/internal/nbi"
	"github.com/signalsfoundry/equipment-mounts/internal/observability"
	"github.com/signalsfoundry/equipment-mounts/internal/state"
	"github.com/signalsfoundry/equipment-mounts/kb"
	"github.com/signalsfoundry/equipment-mounts/scenario"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// Config holds the server settings.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	ScenarioPath   string
	CacheSize      int
	CacheTTL       time.Duration
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.ListenAddress, "grpc-addr", envOr("MOUNTS_GRPC_ADDR", ":50051"), "TCP address the gRPC server listens on")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", envOr("MOUNTS_METRICS_ADDR", ":9090"), "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&cfg.ScenarioPath, "scenario", os.Getenv("MOUNTS_SCENARIO"), "YAML or JSON file with configurations, equipment and mounts to preload")
	flag.IntVar(&cfg.CacheSize, "cache-size", 256, "number of tree snapshots kept in memory (0 disables the cache)")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", 10*time.Minute, "lifetime of a cached tree snapshot")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracingCfg := observability.TracingConfigFromEnv()
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, tracingCfg.ShutdownTimeout, log)

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server failed", logging.Err(err))
		os.Exit(1)
	}
}

// run serves on lis until ctx is cancelled.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}

	reg := prometheus.NewRegistry()
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("rpc metrics: %w", err)
	}
	stateMetrics, err := observability.NewStateCollector(reg)
	if err != nil {
		return fmt.Errorf("state metrics: %w", err)
	}

	store := kb.NewKnowledgeBase()
	if err := loadScenario(ctx, log, store, cfg.ScenarioPath); err != nil {
		return err
	}

	st := state.NewConfigurationState(store,
		state.WithLogger(log),
		state.WithMetricsRecorder(stateMetrics),
		state.WithSnapshotCache(cfg.CacheSize, cfg.CacheTTL),
	)
	defer st.Close()

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RequestIDUnaryServerInterceptor(log),
			nbi.TracingUnaryServerInterceptor(),
			rpcMetrics.UnaryServerInterceptor(),
		),
	)
	nbi.RegisterMountServiceServer(server, nbi.NewMountService(st, log))

	metricsSrv := serveMetrics(cfg.MetricsAddress, reg, log)

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting mount gRPC server", logging.String("addr", lis.Addr().String()))
		serveErr <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down mount server")
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log logging.Logger) *http.Server {
	if addr == "" || reg == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.HandlerFor(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func loadScenario(ctx context.Context, log logging.Logger, store *kb.KnowledgeBase, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	sc, err := scenario.Load(store, f)
	if err != nil {
		return fmt.Errorf("load scenario %s: %w", path, err)
	}
	log.Info(ctx, "loaded scenario",
		logging.String("path", path),
		logging.Int("configurations", len(sc.ConfigurationIDs)),
		logging.Int("mounts", len(sc.MountIDs)),
		logging.Int("locations", len(sc.LocationIDs)),
	)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
