// Command server is the controller process entry point: it loads
// configuration, wires the intent-to-enforcement pipeline, starts the two
// enforcers, the metrics collector, and the HTTP/health/API servers, then
// waits for a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ibsfleet/controller/internal/apiserver"
	"github.com/ibsfleet/controller/internal/config"
	"github.com/ibsfleet/controller/internal/corepipeline"
	"github.com/ibsfleet/controller/internal/device"
	"github.com/ibsfleet/controller/internal/dispatch"
	"github.com/ibsfleet/controller/internal/health"
	"github.com/ibsfleet/controller/internal/intent"
	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/metrics"
	"github.com/ibsfleet/controller/internal/netenforce"
	"github.com/ibsfleet/controller/internal/policy"
	"github.com/ibsfleet/controller/internal/registry"
	"github.com/ibsfleet/controller/internal/security"
	"github.com/ibsfleet/controller/internal/store"
)

var configPath = flag.String("config", "config/default.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	configManager := config.NewManager()
	if err := configManager.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := configManager.Get()

	if err := logging.Setup(&logging.Config{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format,
		FileEnabled: cfg.Logging.FileEnabled, FilePath: cfg.Logging.FilePath,
		MaxFileSizeMB: cfg.Logging.MaxFileSizeMB, BackupCount: cfg.Logging.BackupCount,
		ConsoleEnabled: cfg.Logging.ConsoleEnabled,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	logger := logging.GetLogger()
	logger.Info("starting ibs fleet controller")

	if err := configManager.WatchForChanges(); err != nil {
		logger.WithError(err).Warn("configuration hot-reload watcher not started")
	}
	defer configManager.StopWatching()

	// --- device registry ------------------------------------------------
	reg := registry.New()
	seed := make([]registry.Entry, 0, len(cfg.Registry.Devices))
	for _, d := range cfg.Registry.Devices {
		seed = append(seed, registry.Entry{DeviceID: d.DeviceID, IP: d.IP, ClassID: d.ClassID, Iface: d.Iface})
	}
	if err := reg.Seed(seed); err != nil {
		logger.WithError(err).Fatal("failed to seed device registry")
	}

	if cfg.Network.ContainerDiscoveryEnabled {
		discoverer := registry.NewDockerSocketDiscoverer(cfg.Network.DockerSocketPath)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := registry.DiscoverSimulatorNodes(ctx, reg, discoverer, cfg.Network.ContainerBridgeFallback); err != nil {
			logger.WithError(err).Warn("simulator node discovery failed, continuing without container nodes")
		}
		cancel()
	}

	// --- network enforcer -----------------------------------------------
	runner := netenforce.NewRealRunner(cfg.Network.TCBinary, cfg.Network.CommandTimeout)
	netEnforcer := netenforce.NewEnforcer(runner, reg, cfg.Network, logger.WithField("component", "netenforce"))

	// --- device enforcer (MQTT) ------------------------------------------
	mqttClient := device.NewClient(cfg.MQTT, logger.WithField("component", "device"))
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.MQTT.ConnectTimeout+2*time.Second)
	if err := mqttClient.Connect(connectCtx); err != nil {
		logger.WithError(err).Warn("initial mqtt connect failed, client will keep retrying in the background")
	}
	cancel()
	devEnforcer := device.NewEnforcer(mqttClient, logger.WithField("component", "device"))

	// --- metrics ----------------------------------------------------------
	promReg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(promReg)

	// --- Store + Dispatcher -------------------------------------------------
	directiveStore := store.New()
	dispatcher := dispatch.New(netEnforcer, devEnforcer, metricsRegistry, logger.WithField("component", "dispatch"))

	collector := metrics.NewCollector(metricsRegistry, netEnforcer, reg, directiveStore, logger.WithField("component", "metrics"), cfg.Metrics.PollInterval)
	rateBps := defaultRateBps(cfg.Network.DeviceDefaultRate)
	collector.SeedDefaults(rateBps)

	pipeline := corepipeline.New(intent.NewParser(), policy.NewEngine(), dispatcher)

	// --- Security (auth + rate limit collaborators, out of scope core) ----
	jwtHandler, err := security.NewJWTHandler(cfg.Security.JWTSecretKey, logger.WithField("component", "security"))
	if err != nil {
		logger.WithError(err).Fatal("failed to create jwt handler")
	}
	rateLimiter := security.NewRateLimiter(cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow, logger.WithField("component", "security"))

	// --- API server -------------------------------------------------------
	apiSrv := apiserver.New(apiserver.Config{
		Host: cfg.Server.Host, Port: cfg.Server.Port,
		ReadTimeout: cfg.Server.ReadTimeout, WriteTimeout: cfg.Server.WriteTimeout,
		EventStreamPath: cfg.Server.EventStreamPath,
	}, pipeline, directiveStore, jwtHandler, rateLimiter, logger.WithField("component", "apiserver"))

	// --- Health server ------------------------------------------------------
	healthMonitor := health.NewMonitor()
	healthSrv := health.NewServer(cfg.HTTPHealth, healthMonitor, logger.WithField("component", "health"))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	errc := make(chan error, 4)
	apiSrv.Start(errc)
	healthSrv.Start(errc)
	metricsSrv := startMetricsServer(cfg.Metrics, promReg, errc, logger)
	go collector.Run(ctx)

	healthMonitor.UpdateComponent("mqtt", health.StatusHealthy, "connected")
	healthMonitor.UpdateComponent("netenforce", health.StatusHealthy, "ready")

	logger.Info("ibs fleet controller started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("received shutdown signal")
	case err := <-errc:
		logger.WithError(err).Error("a server failed, shutting down")
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = apiSrv.Shutdown(shutdownCtx) }()
	go func() { defer wg.Done(); _ = healthSrv.Shutdown(shutdownCtx) }()
	if metricsSrv != nil {
		wg.Add(1)
		go func() { defer wg.Done(); _ = metricsSrv.Shutdown(shutdownCtx) }()
	}
	wg.Wait()

	mqttClient.Disconnect(2 * time.Second)
	logger.Info("ibs fleet controller stopped")
}

func startMetricsServer(cfg config.MetricsConfig, gatherer prometheus.Gatherer, errc chan<- error, logger *logging.Logger) *http.Server {
	if !cfg.Enabled {
		logger.Info("metrics server disabled")
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		logger.WithField("addr", srv.Addr).Info("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	return srv
}

func defaultRateBps(rate string) float64 {
	// Mirrors the conversion in internal/metrics's rateToBps, duplicated
	// here only for the startup seed call before the collector exists on
	// its own goroutine.
	n, unit := 0.0, ""
	fmt.Sscanf(rate, "%f%s", &n, &unit)
	switch unit {
	case "gbit":
		return n * 1e9
	case "kbit":
		return n * 1e3
	default:
		return n * 1e6
	}
}
