// Command vio-frontend runs the visual-inertial estimator front end: it
// ingests inertial samples and feature frames, drives the back end,
// publishes fast and optimised poses and records trajectories.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/vio-frontend/internal/config"
	"github.com/banshee-data/vio-frontend/internal/serialmux"
	"github.com/banshee-data/vio-frontend/internal/version"
	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/align"
	"github.com/banshee-data/vio-frontend/internal/vio/backend"
	"github.com/banshee-data/vio-frontend/internal/vio/ingest"
	"github.com/banshee-data/vio-frontend/internal/vio/metrics"
	"github.com/banshee-data/vio-frontend/internal/vio/pipeline"
	"github.com/banshee-data/vio-frontend/internal/vio/propagate"
	"github.com/banshee-data/vio-frontend/internal/vio/publish"
	"github.com/banshee-data/vio-frontend/internal/vio/storage/sqlite"
	"github.com/banshee-data/vio-frontend/internal/vio/transport/mqttin"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	httpListen  = flag.String("listen", "", "HTTP listen address for /metrics and /debug (overrides http_listen)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC output stream address (overrides grpc_listen)")
	dbPath      = flag.String("db", "", "Trajectory database path (overrides trajectory_db)")
	runLabel    = flag.String("label", "", "Label stored with the recorded run")
	diagLog     = flag.Bool("diag", false, "Enable the diagnostic log stream on stderr")
	traceLog    = flag.String("trace-log", "", "Write per-sample trace logs to this file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *httpListen != "" {
		cfg.HTTPListen = httpListen
	}
	if *grpcListen != "" {
		cfg.GRPCListen = grpcListen
	}
	if *dbPath != "" {
		cfg.TrajectoryDB = dbPath
	}

	closeLogs, err := setupLogging(*diagLog, *traceLog)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closeLogs()
	log.Printf("vio-frontend %s starting (config %s)", version.String(), *configPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	// Core pipeline.
	buffers := ingest.NewBuffers(ingest.Config{
		Capacity:         cfg.GetBufferCapacity(),
		Policy:           cfg.GetOverflowPolicy(),
		LoopClosure:      cfg.GetLoopClosure(),
		RawImageCapacity: cfg.GetRawImageCapacity(),
		Metrics:          m,
	})
	predictor := propagate.NewPredictor(cfg.GetGravity(), m)

	bcfg := backend.DefaultConfig()
	bcfg.SolveAfterFrames = cfg.GetSolveAfterFrames()
	bcfg.WindowSize = cfg.GetWindowSize()
	bcfg.FeatureDepth = cfg.GetFeatureDepth()
	bcfg.Gravity = cfg.GetGravity()
	est := backend.NewInertialOnly(bcfg)

	hub := publish.NewHub(publish.HubConfig{
		QueueSize:     cfg.GetHubQueueSize(),
		ClientBuffer:  cfg.GetHubClientBuffer(),
		StatsInterval: cfg.GetHubStatsInterval(),
		Metrics:       m,
	})
	if err := hub.Start(); err != nil {
		log.Fatalf("failed to start hub: %v", err)
	}
	defer hub.Stop()
	sink := publish.NewSink(hub)

	orch, err := pipeline.NewOrchestrator(pipeline.Config{
		CameraCount: cfg.GetCameraCount(),
		Buffers:     buffers,
		Predictor:   predictor,
		Backend:     est,
		Publisher:   sink,
		Metrics:     m,
	})
	if err != nil {
		log.Fatalf("failed to create orchestrator: %v", err)
	}
	node := pipeline.NewNode(buffers, predictor, sink)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && err != context.Canceled {
				log.Printf("%s error: %v", name, err)
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	goRun("orchestrator", orch.Run)
	if cfg.GetLoopClosure() {
		// No relocalizer is linked into this binary; keep the image buffer short.
		goRun("raw image drain", func(ctx context.Context) error {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if n := len(node.DrainRawImages()); n > 0 {
						vio.Diagf("drained %d raw images", n)
					}
				}
			}
		})
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	httpMux.Handle("/ws", publish.NewWebSocketHandler(hub, cfg.GetHubClientBuffer()))
	attachStatusRoute(httpMux, buffers, orch, hub)

	// Outputs.
	grpcSrv := publish.NewGRPCServer(publish.GRPCConfig{ListenAddr: cfg.GetGRPCListen()}, hub)
	if err := grpcSrv.Start(); err != nil {
		log.Fatalf("failed to start gRPC server: %v", err)
	}
	defer grpcSrv.Stop()

	if path := cfg.GetTrajectoryDB(); path != "" {
		store, err := sqlite.Open(path)
		if err != nil {
			log.Fatalf("failed to open trajectory database: %v", err)
		}
		defer store.Close()
		runID, err := store.StartRun(ctx, *runLabel, cfg.GetCameraCount())
		if err != nil {
			log.Fatalf("failed to start run: %v", err)
		}
		log.Printf("recording run %s to %s", runID, path)
		store.AttachAdminRoutes(httpMux)
		goRun("recorder", sqlite.NewRecorder(store, hub, runID, 0).Run)
	}

	// Inputs.
	if mc := cfg.GetMQTT(); mc != nil {
		client, err := publish.ConnectMQTT(mc.Broker, mc.ClientID, 5*time.Second)
		if err != nil {
			log.Fatalf("failed to connect to mqtt: %v", err)
		}
		defer client.Disconnect(250)

		sub := mqttin.NewSubscriber(client, node, *mc.InputTopics, mc.QoS)
		if err := sub.Start(); err != nil {
			log.Fatalf("failed to subscribe: %v", err)
		}
		defer sub.Stop()

		fwd := publish.NewMQTTForwarder(publish.MQTTForwarderConfig{
			Prefix: mc.OutputPrefix,
			QoS:    mc.QoS,
			Topics: mc.ForwardTopics,
		}, client, hub)
		goRun("mqtt forwarder", fwd.Run)
	}

	if sc := cfg.GetSerial(); sc != nil {
		port, err := serialmux.NewRealSerialMux(sc.Path, sc.Options)
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", sc.Path, err)
		}
		defer port.Close()
		if err := port.Initialize(sc.InitCommands...); err != nil {
			log.Fatalf("failed to initialize inertial unit: %v", err)
		}
		port.AttachAdminRoutes(httpMux)
		goRun("serial monitor", port.Monitor)
		goRun("serial source", serialmux.NewInertialSource(port, node).Run)
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		server := &http.Server{
			Addr:    cfg.GetHTTPListen(),
			Handler: httpMux,
		}
		go func() {
			log.Printf("Starting HTTP server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// setupLogging routes the ops stream to stderr, and the diag and trace
// streams where the flags ask. The returned func closes any opened file.
func setupLogging(diag bool, tracePath string) (func(), error) {
	w := vio.LogWriters{Ops: os.Stderr}
	if diag {
		w.Diag = os.Stderr
	}
	closer := func() {}
	if tracePath != "" {
		f, err := os.OpenFile(tracePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace log: %w", err)
		}
		w.Trace = f
		closer = func() { f.Close() }
	}
	vio.SetLogWriters(w)
	return closer, nil
}

type status struct {
	Version string           `json:"version"`
	Ingest  ingest.Stats     `json:"ingest"`
	Sync    align.Stats      `json:"sync"`
	Hub     publish.HubStats `json:"hub"`
}

func attachStatusRoute(mux *http.ServeMux, buffers *ingest.Buffers, orch *pipeline.Orchestrator, hub *publish.Hub) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("vio", "Front-end buffer, synchronizer and hub counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status{
			Version: version.String(),
			Ingest:  buffers.Stats(),
			Sync:    orch.SyncStats(),
			Hub:     hub.Stats(),
		})
	})
}
