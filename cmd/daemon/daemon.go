// Package daemon runs the node registration agent.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nodeagent/internal/agent"
	"nodeagent/internal/docker"
	"nodeagent/internal/metrics"
	"nodeagent/internal/registration"
	"nodeagent/internal/rpc"
	"nodeagent/internal/sysinfo"
	"nodeagent/pkg/config"
	"nodeagent/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Run starts the agent and blocks until SIGINT or SIGTERM.
func Run(s config.Settings, sources []string) error {
	log := logger.Init(s.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Strs("config_files", sources).
		Str("docker", s.Docker).
		Str("master", s.Master).
		Str("advertise", s.Advertise).
		Dur("interval", s.Interval).
		Bool("secret", s.Secret != "").
		Msg("Configuration loaded")

	host := sysinfo.CollectHost(ctx)
	log.Info().
		Str("hostname", host.Hostname).
		Str("ip", host.IPAddress).
		Str("os", host.OSName).
		Str("kernel", host.Kernel).
		Str("arch", host.Arch).
		Str("cpu", host.CPUModel).
		Int("cores", host.CPUCores).
		Float64("memory_gb", host.MemoryGB).
		Msg("Host information")

	tlsCfg, err := s.TLSConfig()
	if err != nil {
		return err
	}

	engine, err := docker.New(s.Docker, log, docker.WithTimeout(s.TTL()))
	if err != nil {
		return fmt.Errorf("docker: %w", err)
	}
	logEngine(ctx, engine, log)

	probe := sysinfo.NewHostProbe(log)
	if !probe.Available() {
		log.Warn().Msg("Host metrics unavailable, registering without system status")
	}

	rec := metrics.NewRecorder()
	reg, err := registration.New(registration.Config{
		Master:    s.Master,
		TTL:       s.TTL(),
		Secret:    s.Secret,
		TLS:       tlsCfg,
		Advertise: s.Advertise,
	}, engine, probe, log, registration.WithObserver(rec))
	if err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if err := reg.Open(); err != nil {
		return fmt.Errorf("master connection: %w", err)
	}

	tracker := agent.NewTracker()

	if s.MetricsAddr != "" {
		srv := metrics.NewServer(s.MetricsAddr, rec, tracker, s.TTL(), log)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if s.RPCSocket != "" {
		stopRPC := startStatusServer(s, host.Hostname, tracker, log)
		defer stopRPC()
	}

	log.Info().
		Dur("ttl", s.TTL()).
		Msg("Starting node agent")

	loop := agent.NewLoop(reg, s.Interval, tracker, log)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Shutting down")
	return nil
}

// logEngine logs the engine identity. The inspection endpoint may not be up
// yet; registration cycles retry it anyway.
func logEngine(ctx context.Context, engine *docker.Client, log zerolog.Logger) {
	info, err := engine.Info(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Docker engine not reachable yet")
		return
	}
	log.Info().
		Str("name", info.Name).
		Str("server_version", info.ServerVersion).
		Str("os", info.OperatingSystem).
		Str("kernel", info.KernelVersion).
		Msg("Docker engine")
}

// startStatusServer serves `nodeagent status`. A failure is logged and the
// agent keeps running without it.
func startStatusServer(s config.Settings, name string, tracker *agent.Tracker, log zerolog.Logger) func() {
	if err := os.MkdirAll(filepath.Dir(s.RPCSocket), 0755); err != nil {
		log.Warn().Err(err).Str("socket", s.RPCSocket).Msg("Status socket unavailable")
		return func() {}
	}
	node := rpc.NodeInfo{Docker: s.Docker, Master: s.Master, Name: name}
	ln, err := rpc.StartServer(s.RPCSocket, tracker, node, s.TTL(), log)
	if err != nil {
		log.Warn().Err(err).Str("socket", s.RPCSocket).Msg("Status socket unavailable")
		return func() {}
	}
	return func() {
		ln.Close()
		os.Remove(s.RPCSocket)
	}
}
