package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitewatch/presence-agent/config"
	"github.com/sitewatch/presence-agent/coordination"
	"github.com/sitewatch/presence-agent/monitor"
	"github.com/sitewatch/presence-agent/prober"
	"github.com/sitewatch/presence-agent/reporter"
	"github.com/sitewatch/presence-agent/scheduler"
	"github.com/sitewatch/presence-agent/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Failure to open the store is the only fatal error; everything else
	// is retried on the next tick.
	st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}
	log.Printf("Connected to store")

	// The scan lock lives in Redis so concurrent agent processes on the
	// same site cannot double-scan. Without Redis we fall back to a
	// process-local lock, safe only for a single agent instance.
	var locker coordination.Locker
	redisLocker, err := coordination.NewRedisLocker(cfg.RedisAddr, "", 0)
	if err != nil {
		log.Printf("Redis unavailable (%v). Using process-local scan lock; do not run a second agent.", err)
		locker = coordination.NewMemoryLocker()
	} else {
		defer redisLocker.Close()
		locker = redisLocker
		log.Printf("Connected to Redis at %s for the scan lock", cfg.RedisAddr)
	}

	sweeper := prober.NewArpScanner(cfg.NetworkInterface, cfg.Subnet, cfg.ProbeTimeout)
	rep := reporter.New(st, cfg.CloudAPIURL, cfg.AgentAuthToken, cfg.SiteID)
	scanLoop := monitor.NewScanLoop(st, sweeper, locker, rep, cfg.OfflineFailureCount, cfg.PingLockTimeout)
	summariser := monitor.NewSummariser(st)
	selfHeartbeat := coordination.NewSelfHeartbeat(st)
	outage := coordination.NewOutageDetector(st, cfg.SystemHeartbeatCheck, cfg.OfflineThreshold)

	hub := NewStatusHub()
	scanLoop.SetPublisher(hub)
	go hub.Run(ctx)

	// Outage attribution must happen before the first scan writes new
	// state, so run the startup check synchronously.
	if err := outage.Check(ctx); err != nil {
		log.Printf("Startup outage check failed: %v", err)
	}

	sched := scheduler.New()
	sched.Register("ping_all_devices", cfg.PingInterval, 5*time.Second, true, scanLoop.Tick)
	sched.Register("send_heartbeat", cfg.HeartbeatInterval, 10*time.Second, true, rep.SendHeartbeat)
	sched.Register("update_system_heartbeat", 30*time.Second, 0, false, selfHeartbeat.Beat)
	sched.Register("retry_unsynced_summaries", cfg.RetryInterval, 30*time.Second, false, rep.RetryUnsynced)
	sched.Register("check_outage", cfg.SystemHeartbeatCheck, 0, false, outage.Check)
	sched.RegisterAligned("send_hourly_summary", func(ctx context.Context) error {
		summaries, err := summariser.SummarisePreviousHour(ctx)
		if err != nil {
			return err
		}
		return rep.SyncSummaries(ctx, summaries)
	})
	sched.Start(ctx)

	api := NewAPI(st, hub)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", api.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/status", api.handleStatus)
	mux.HandleFunc("/api/status/stream", api.handleStatusStream)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("Presence agent for site %s listening on %s", cfg.SiteID, cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server failed: %v", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Println("Received shutdown signal")
	case <-ctx.Done():
	}
	cancel()

	// Let in-flight tasks drain; the scan lock expires on its own if we
	// are killed mid-tick.
	sched.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	log.Println("Agent stopped.")
}
