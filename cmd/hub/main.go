// Command hub runs the robotics broker: it brings up the variable
// store, client registry, notification router, dispatcher, and
// network engine in order, serves connections until signaled, then
// shuts every piece down in reverse order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robot-ai-webapp/gateway/internal/audit"
	"github.com/robot-ai-webapp/gateway/internal/config"
	"github.com/robot-ai-webapp/gateway/internal/dispatch"
	"github.com/robot-ai-webapp/gateway/internal/logsink"
	"github.com/robot-ai-webapp/gateway/internal/monitor"
	"github.com/robot-ai-webapp/gateway/internal/network"
	"github.com/robot-ai-webapp/gateway/internal/notify"
	"github.com/robot-ai-webapp/gateway/internal/registry"
	"github.com/robot-ai-webapp/gateway/internal/snapshot"
	"github.com/robot-ai-webapp/gateway/internal/store"
	"go.uber.org/zap"
)

// hubStats adapts the registry and store to the small read-only
// interfaces the monitoring endpoint and snapshot writer need,
// without handing either of them the real components.
type hubStats struct {
	reg *registry.Registry
	vs  *store.Store
}

func (h hubStats) ConnectedClients() int { return h.reg.Count() }
func (h hubStats) VariableCount() int    { return h.vs.Count() }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := initLogger(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	vs := store.New(logger)
	if cfg.Store.VarDefsPath != "" {
		if err := vs.LoadSchema(cfg.Store.VarDefsPath); err != nil {
			return fmt.Errorf("load variable schema: %w", err)
		}
		if err := vs.LoadPersistent(cfg.Store.VarDBPath); err != nil {
			return fmt.Errorf("load persistent variables: %w", err)
		}
	}
	vs.StartFlusher()

	reg := registry.New(vs, logger)
	reg.StartReaper()

	router := notify.New(reg, logger)

	logSink, err := logsink.Open(cfg.Logging.LogFile, cfg.Logging.ReplicateStdout)
	if err != nil {
		return fmt.Errorf("open log sink: %w", err)
	}

	auditPub := audit.New(cfg.Audit.RedisURL, logger)

	d := dispatch.New(cfg.Auth.Password, vs, reg, router, logSink, auditPub, logger)

	stats := hubStats{reg: reg, vs: vs}

	var monEndpoint *monitor.Endpoint
	if cfg.Monitor.BindAddress != "" {
		monEndpoint = monitor.NewEndpoint(cfg.Monitor.BindAddress, stats, logger)
		go func() {
			if err := monEndpoint.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
				logger.Warn("monitoring endpoint stopped", zap.Error(err))
			}
		}()
	}

	snapWriter := snapshot.NewWriter(cfg.Snap.Path, cfg.Snap.Interval, stats, logger)
	snapWriter.Start()

	limiter := network.NewAdmissionLimiter(cfg.Network.AdmitPerMinute)
	engine := network.NewEngine(reg, d, limiter, cfg.Network.MaxClients, cfg.Network.ReadIdleTimeout, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		engine.Shutdown()
		reg.KickAll("Hub shutting down")
	}()

	logger.Info("hub starting", zap.String("bind_address", cfg.Network.BindAddress), zap.Int("bind_port", cfg.Network.BindPort))
	if err := engine.ListenAndServe(cfg.Network.BindAddress, cfg.Network.BindPort); err != nil {
		return fmt.Errorf("network engine: %w", err)
	}

	shutdown(engine, reg, vs, snapWriter, logSink, auditPub, monEndpoint, logger)
	return nil
}

// shutdown runs the ordered, idempotent teardown spelled out for the
// Supervisor: join every reader task, drain the reaper, force a final
// flush, stop the snapshot ticker, close the log sink, close the audit
// publisher, and only then stop the monitoring endpoint. Accepting new
// connections and kicking already-connected clients has already
// happened by the time this runs (triggered by the signal handler).
func shutdown(engine *network.Engine, reg *registry.Registry, vs *store.Store, snapWriter *snapshot.Writer, logSink *logsink.Sink, auditPub audit.Publisher, monEndpoint *monitor.Endpoint, logger *zap.Logger) {
	engine.Wait()
	reg.StopReaper()
	vs.Stop()
	snapWriter.Stop()
	if err := logSink.Close(); err != nil {
		logger.Warn("log sink close failed", zap.Error(err))
	}
	if err := auditPub.Close(); err != nil {
		logger.Warn("audit publisher close failed", zap.Error(err))
	}
	if monEndpoint != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := monEndpoint.Shutdown(ctx); err != nil {
			logger.Warn("monitoring endpoint shutdown failed", zap.Error(err))
		}
	}
}

func initLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
