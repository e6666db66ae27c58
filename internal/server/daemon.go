package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/docingest/internal/async"
	"github.com/joseph-ayodele/docingest/internal/ingest"
)

const shutdownTimeout = 30 * time.Second

// Daemon advances registered documents in the background. It serves gRPC
// health on the configured address and Prometheus metrics over HTTP.
type Daemon struct {
	app     *App
	queue   *async.ProcessorQueue
	poller  *Poller
	grpc    *grpc.Server
	health  *health.Server
	metrics *http.Server
	grpcLis net.Listener
	httpLis net.Listener
	logger  *slog.Logger
}

// NewDaemon binds both listeners; nothing is served until Run.
func NewDaemon(app *App, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if app.Orchestrator == nil {
		return nil, errors.New("daemon needs an app built with the pipeline")
	}
	cfg := app.Config

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("listen grpc %s: %w", cfg.Server.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", cfg.Server.MetricsAddr)
	if err != nil {
		_ = grpcLis.Close()
		return nil, fmt.Errorf("listen metrics %s: %w", cfg.Server.MetricsAddr, err)
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	// Reflection for grpcurl
	reflection.Register(grpcServer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.DB.HealthCheck(r.Context(), 2*time.Second, logger); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	queue := async.NewProcessorQueue(app.Orchestrator, logger,
		async.WithWorkers(cfg.Pipeline.Concurrency),
		async.WithQueueSize(4*cfg.Server.PollBatch),
		async.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)

	return &Daemon{
		app:     app,
		queue:   queue,
		poller:  NewPoller(app.Documents, queue, cfg.Pipeline.TargetLevel, cfg.Server.PollBatch, cfg.Server.PollInterval, logger),
		grpc:    grpcServer,
		health:  hs,
		metrics: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		grpcLis: grpcLis,
		httpLis: httpLis,
		logger:  logger,
	}, nil
}

// GRPCAddr is the bound health service address.
func (d *Daemon) GRPCAddr() string { return d.grpcLis.Addr().String() }

// MetricsAddr is the bound metrics address.
func (d *Daemon) MetricsAddr() string { return d.httpLis.Addr().String() }

// Run serves until ctx ends, then drains in-flight work and stops.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Info("grpc.serve", "addr", d.GRPCAddr())
		if err := d.grpc.Serve(d.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		d.logger.Info("metrics.serve", "addr", d.MetricsAddr())
		if err := d.metrics.Serve(d.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		d.poller.Run(gctx, d.checkHealth)
		return nil
	})
	if dir := d.app.Config.Server.WatchDir; dir != "" {
		g.Go(func() error { return d.watch(gctx, dir) })
	}
	g.Go(func() error {
		<-gctx.Done()
		d.shutdown()
		return nil
	})

	err := g.Wait()
	d.logger.Info("daemon.stopped", "error", err)
	return err
}

// checkHealth flips the gRPC serving status with database reachability.
func (d *Daemon) checkHealth(ctx context.Context) error {
	if err := d.app.DB.HealthCheck(ctx, 5*time.Second, d.logger); err != nil {
		d.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		d.logger.Error("daemon.db_unhealthy", "error", err)
		return err
	}
	d.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return nil
}

func (d *Daemon) watch(ctx context.Context, dir string) error {
	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{dir},
		InitialScan: true,
		SkipHidden:  true,
		Debounce:    500 * time.Millisecond,
	}, d.logger)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go func() {
		for err := range errs {
			d.logger.Warn("daemon.watch.error", "error", err)
		}
	}()
	target := d.app.Config.Pipeline.TargetLevel
	ingest.Follow(ctx, d.app.Registrar, events, d.logger, func(r ingest.RegistrationResult) {
		if _, err := d.queue.Enqueue(ctx, async.Job{
			DocumentID:  r.DocumentID,
			Target:      target,
			SubmittedAt: time.Now().UTC(),
		}); err != nil && ctx.Err() == nil {
			d.logger.Warn("daemon.enqueue.failed", "document_id", r.DocumentID, "error", err)
		}
	})
	return nil
}

func (d *Daemon) shutdown() {
	d.logger.Info("daemon.shutdown")
	d.health.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.metrics.Shutdown(ctx); err != nil {
		d.logger.Warn("metrics.shutdown.failed", "error", err)
	}
	d.grpc.GracefulStop()
	d.queue.Shutdown(ctx)
}
