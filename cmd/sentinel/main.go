package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akalavre/panicswap-production-sub000/internal/alerts"
	"github.com/akalavre/panicswap-production-sub000/internal/audit"
	"github.com/akalavre/panicswap-production-sub000/internal/bus"
	"github.com/akalavre/panicswap-production-sub000/internal/classify"
	"github.com/akalavre/panicswap-production-sub000/internal/clickhouse"
	"github.com/akalavre/panicswap-production-sub000/internal/config"
	"github.com/akalavre/panicswap-production-sub000/internal/honeypot"
	"github.com/akalavre/panicswap-production-sub000/internal/monitor"
	"github.com/akalavre/panicswap-production-sub000/internal/observability"
	"github.com/akalavre/panicswap-production-sub000/internal/pattern"
	"github.com/akalavre/panicswap-production-sub000/internal/quality"
	"github.com/akalavre/panicswap-production-sub000/internal/risk"
	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
	"github.com/akalavre/panicswap-production-sub000/internal/sources"
	"github.com/akalavre/panicswap-production-sub000/internal/velocity"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("Token Sentinel - Starting")
	log.Info().Msg("COLLECT -> VELOCITY -> CLASSIFY -> PATTERNS -> ALERT")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("clickhouse", cfg.ClickHouse.Enabled).
		Msg("Configuration loaded")

	// 4. Setup context with cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 5. Data sources. External collaborators arrive through interfaces; the
	// stub implementations keep a full pipeline running without them.
	metrics := sources.NewStubMetrics()
	sells := sources.NewStubSells()
	dev := sources.NewStubDevActivity()
	relations := sources.NewStubRelations(false)
	lifecycle := sources.NewStubLifecycle()
	log.Info().Msg("Data sources: STUB mode")

	// 6. Core pipeline.
	history := snapshot.NewHistory(cfg.History)
	collector := snapshot.NewCollector(metrics, "stub")
	feedQuality := quality.NewMonitor(0.2)
	collector.SetQualityMonitor(feedQuality)
	go feedQuality.Start(ctx)
	trail := audit.NewTrail(1000)
	calculator := velocity.NewCalculator(history)
	classifier := classify.NewClassifier(cfg.Thresholds)
	evolution := honeypot.NewTracker(cfg.Honeypot)
	detector := pattern.NewDetector(cfg.Pattern, history, calculator, classifier, evolution, sells, dev, relations)

	// 7. Outbound plumbing: Kafka + ClickHouse event archive behind one sink,
	// websocket hub + logs behind one dispatcher.
	sinks := []bus.Sink{}

	var kafkaSink *bus.KafkaSink
	if cfg.Kafka.Enabled {
		kafkaSink, err = bus.NewKafkaSink(cfg.Kafka.Brokers,
			bus.WithInstanceID(cfg.General.InstanceID),
			bus.WithTopicPrefix(cfg.Kafka.TopicPrefix),
			bus.WithLinger(time.Duration(cfg.Kafka.LingerMs)*time.Millisecond))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka sink")
		}
		sinks = append(sinks, kafkaSink)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka sink connected")
	}

	var chClient *clickhouse.Client
	var chWriter *clickhouse.BatchWriter
	var chEvents *clickhouse.EventWriter
	var velocityStore monitor.VelocityStore
	var alertStore risk.AlertStore
	if cfg.ClickHouse.Enabled {
		chClient, err = clickhouse.NewClient(cfg.ClickHouse.DSN, cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create ClickHouse client")
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := chClient.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("ClickHouse ping failed (continuing, writes may error)")
		}
		pingCancel()

		chWriter = clickhouse.NewBatchWriter(chClient, cfg.ClickHouse.Database, 1000, 5*time.Second)
		chWriter.Start(ctx)
		velocityStore = chWriter
		alertStore = chWriter

		chEvents = clickhouse.NewEventWriter(chClient, cfg.ClickHouse.Database, 500, 10*time.Second)
		chEvents.Start(ctx)
		sinks = append(sinks, chEvents)
	}

	channelSink := bus.NewChannelSink(1024)
	sinks = append(sinks, channelSink)
	sink := bus.NewMultiSink(sinks...)

	registry := observability.SentinelMetrics()

	hub := alerts.NewHub(cfg.Hub)
	dispatcher := alerts.NewMultiDispatcher(
		alerts.NewLogDispatcher(),
		hub,
		countingDispatcher{registry.GetCounter("sentinel_alerts_total")},
	)

	// 8. Risk aggregation + engine.
	aggregator := risk.NewAggregator(cfg.Risk, detector, sink, dispatcher, alertStore)
	engine := monitor.NewEngine(
		cfg.Monitor,
		collector,
		history,
		calculator,
		classifier,
		evolution,
		aggregator,
		lifecycle,
		sink,
		dispatcher,
		velocityStore,
	)
	collectHist := registry.GetHistogram("sentinel_collect_latency_ms")
	collector.SetOnLatency(func(elapsed time.Duration) {
		collectHist.Observe(float64(elapsed.Microseconds()) / 1000)
	})
	sweepHist := registry.GetHistogram("sentinel_sweep_latency_ms")
	engine.SetOnSweep(func(elapsed time.Duration) {
		sweepHist.Observe(float64(elapsed.Microseconds()) / 1000)
	})
	engine.Start(ctx)

	// 9. Observability.
	health := observability.NewHealthMonitor(30 * time.Second)
	health.Register("engine", func(_ context.Context) observability.ComponentHealth {
		stats := engine.Stats()
		return observability.ComponentHealth{
			Status:  observability.StatusHealthy,
			Details: map[string]any{"tracked": stats.TrackedTokens, "cycles": stats.Cycles},
		}
	})
	if chClient != nil {
		health.Register("clickhouse", func(hctx context.Context) observability.ComponentHealth {
			if err := chClient.Ping(hctx); err != nil {
				return observability.ComponentHealth{Status: observability.StatusUnhealthy, Message: err.Error()}
			}
			return observability.ComponentHealth{Status: observability.StatusHealthy}
		})
	}
	go health.Start(ctx)

	// Mirror engine counters into the registry on a fixed cadence.
	go func() {
		cyclesCtr := registry.GetCounter("sentinel_update_cycles_total")
		skippedCtr := registry.GetCounter("sentinel_cycles_skipped_total")
		reschedCtr := registry.GetCounter("sentinel_reschedules_total")
		rugsCtr := registry.GetCounter("sentinel_rugs_total")
		analysesCtr := registry.GetCounter("sentinel_pattern_analyses_total")
		trackedGauge := registry.GetGauge("sentinel_tracked_tokens")
		clientsGauge := registry.GetGauge("sentinel_ws_clients")
		cacheGauge := registry.GetGauge("sentinel_cached_analyses")

		var prev monitor.EngineStats
		var prevAnalyses int64
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := engine.Stats()
				aggStats := aggregator.Stats()
				cyclesCtr.Add(float64(stats.Cycles - prev.Cycles))
				skippedCtr.Add(float64(stats.SkippedCycles - prev.SkippedCycles))
				reschedCtr.Add(float64(stats.Reschedules - prev.Reschedules))
				rugsCtr.Add(float64(stats.RuggedTotal - prev.RuggedTotal))
				analysesCtr.Add(float64(aggStats.TotalAnalyses - prevAnalyses))
				trackedGauge.Set(float64(stats.TrackedTokens))
				clientsGauge.Set(float64(hub.ClientCount()))
				cacheGauge.Set(float64(aggStats.CachedAnalyses))
				prev = stats
				prevAnalyses = aggStats.TotalAnalyses
			}
		}
	}()

	// 10. HTTP surface: metrics, health, websocket alerts, tracking control.
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.NewPrometheusExporter(registry))
	mux.Handle("/healthz", health.Handler())
	mux.Handle("/ws/alerts", hub)

	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(engine.TrackedTokens())
		case http.MethodPost:
			var req struct {
				TokenID   string `json:"token_id"`
				RiskLevel string `json:"risk_level"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := engine.TrackToken(r.Context(), req.TokenID, classify.RiskLevel(req.RiskLevel)); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			trail.Record(req.TokenID, audit.ActionTrack, "initial_risk="+req.RiskLevel, nil)
			w.WriteHeader(http.StatusCreated)
		default:
			http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/tokens/", func(w http.ResponseWriter, r *http.Request) {
		tokenID := r.URL.Path[len("/tokens/"):]
		if tokenID == "" {
			http.Error(w, "token id required", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodDelete:
			engine.StopTracking(tokenID)
			feedQuality.Evict("stub", tokenID)
			trail.Record(tokenID, audit.ActionUntrack, "", nil)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			if !engine.IsTracked(tokenID) {
				http.Error(w, "not tracked", http.StatusNotFound)
				return
			}
			analysis, cached := engine.GetAnalysis(tokenID)
			if !cached {
				analysis = engine.AnalyzeToken(r.Context(), tokenID)
			}
			level, _ := engine.RiskLevel(tokenID)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"risk_level": level,
				"velocity":   engine.VelocityData(tokenID),
				"analysis":   analysis,
			})
		default:
			http.Error(w, "GET or DELETE only", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/audit", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if tokenID := r.URL.Query().Get("token"); tokenID != "" {
			_ = json.NewEncoder(w).Encode(trail.Query(tokenID))
			return
		}
		_ = json.NewEncoder(w).Encode(trail.Entries())
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		combined := map[string]any{
			"engine":      engine.Stats(),
			"history":     history.Stats(),
			"honeypot":    evolution.Stats(),
			"aggregator":  aggregator.Stats(),
			"ws_clients":  hub.ClientCount(),
			"audit_total": trail.Total(),
			"feeds":       feedQuality.Snapshot(),
		}
		if chWriter != nil {
			flushes, errors, pendingV, pendingA := chWriter.Stats()
			combined["clickhouse"] = map[string]any{
				"flushes": flushes, "errors": errors,
				"pending_velocities": pendingV, "pending_alerts": pendingA,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(combined)
	})

	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server started (metrics + health + ws + control)")
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("HTTP server error")
		}
	}()

	// Drain the channel sink so the in-process buffer never fills. Every
	// emitted event also lands in the audit trail.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-channelSink.Events():
				registry.GetCounter("sentinel_events_emitted_total").Inc()
				action := audit.ActionThreshold
				switch event.EventName() {
				case "token-rugged":
					action = audit.ActionRugged
				case "high-risk-pattern":
					action = audit.ActionAnalysis
				}
				trail.Record(event.Token(), action, event.EventName(), event)
				log.Debug().Str("event", event.EventName()).Str("token", event.Token()).Msg("event emitted")
			}
		}
	}()

	// Surface degraded source feeds as standard-priority alerts.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case qa := <-feedQuality.Alerts():
				registry.GetCounter("sentinel_source_errors_total").Inc()
				dispatcher.SendAlert(ctx, alerts.New(qa.TokenID, "source-quality", alerts.PriorityStandard, qa.Message))
			}
		}
	}()

	log.Info().Msg("Token Sentinel - Running")

	// 11. Block until shutdown.
	<-ctx.Done()

	// 12. Graceful shutdown.
	log.Info().Msg("Shutting down Sentinel...")
	engine.Stop()
	health.Stop()
	if kafkaSink != nil {
		kafkaSink.Close()
	}
	if chEvents != nil {
		_ = chEvents.Close()
	}
	if chWriter != nil {
		_ = chWriter.Close()
	}
	if chClient != nil {
		_ = chClient.Close()
	}

	finalStats := engine.Stats()
	log.Info().
		Int64("cycles", finalStats.Cycles).
		Int64("reschedules", finalStats.Reschedules).
		Int64("skipped_cycles", finalStats.SkippedCycles).
		Int64("rugged", finalStats.RuggedTotal).
		Int64("sweeps", finalStats.SweepsComplete).
		Msg("Token Sentinel - Final Statistics")

	log.Info().Msg("Token Sentinel - Shutdown complete")
}

// countingDispatcher increments the alert counter for every dispatch.
type countingDispatcher struct {
	counter *observability.Counter
}

func (d countingDispatcher) SendAlert(_ context.Context, _ alerts.Alert) {
	d.counter.Inc()
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "sentinel").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "sentinel").
			Str("instance", general.InstanceID).Logger()
	}
}
