package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faststream-proxy/work/cache"
	"faststream-proxy/work/config"
	"faststream-proxy/work/database"
	"faststream-proxy/work/handlers"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/playlist"
	"faststream-proxy/work/probe"
	"faststream-proxy/work/proxy"
	"faststream-proxy/work/relay"
	"faststream-proxy/work/session"
	"faststream-proxy/work/upstream"
	"faststream-proxy/work/utils"
)

var (
	Version = "v3.0.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// set up logging
	logger.SetDebug(cfg.Debug)

	// initialize worker pool for background work (janitor sweeps, history
	// writes, speed probes)
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}

	// initialize the session registry and its collaborators
	registry := session.NewRegistry(cfg)
	adapter := upstream.New(cfg)
	streamRelay := relay.New(cfg)
	rewriter := playlist.NewRewriter(cfg)
	metadata := cache.NewMetadataCache(cfg.MetadataCacheSize, cfg.MetadataCacheTTL)
	prober := probe.New(cfg)

	// the history store is optional; streaming never depends on it
	var db *database.DB
	if cfg.DatabasePath != "" {
		db, err = database.Open(cfg.DatabasePath)
		if err != nil {
			logger.Warn("[MAIN] History store unavailable, continuing without it: %v", err)
			db = nil
		}
	}

	// create proxy instance
	proxyInstance := proxy.New(cfg, registry, adapter, streamRelay, rewriter, metadata, prober, db, workerPool)

	// background loops run until shutdown flips this context
	bgCtx, bgCancel := context.WithCancel(context.Background())

	// start the session janitor
	go registry.StartJanitor(bgCtx, workerPool)

	// start the history retention sweep
	if db != nil {
		go db.StartCleanup(bgCtx, cfg.JanitorInterval, cfg.HistoryRetention)
	}

	// setup HTTP routes
	router := mux.NewRouter()

	// proxied URLs carry raw slashes in the path, so the router must not
	// clean them away
	router.SkipClean(true)

	// control page and set-video action
	router.HandleFunc("/", handlers.HandleHome(proxyInstance)).Methods("GET")
	router.HandleFunc("/set-video", handlers.HandleSetVideo(proxyInstance)).Methods("POST")

	// streaming endpoints
	router.HandleFunc("/video", handlers.HandleVideo(proxyInstance)).Methods("GET", "HEAD", "OPTIONS")
	router.HandleFunc("/fast", handlers.HandleFast(proxyInstance)).Methods("GET", "HEAD", "OPTIONS")
	router.HandleFunc("/proxy/{url:.*}", handlers.HandleProxyPath(proxyInstance)).Methods("GET", "HEAD", "OPTIONS")
	router.HandleFunc("/mx", handlers.HandleMX(proxyInstance)).Methods("GET", "HEAD", "OPTIONS")

	// diagnostics
	router.HandleFunc("/test-isolation", handlers.HandleIsolationStatus(proxyInstance)).Methods("GET")
	router.HandleFunc("/health", handlers.HandleHealth(proxyInstance)).Methods("GET")
	router.HandleFunc("/keepalive", handlers.HandleKeepalive(proxyInstance)).Methods("GET")

	// metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, proxyInstance)

	// styled 404 fallback
	router.NotFoundHandler = handlers.HandleNotFound()

	addr := fmt.Sprintf(":%d", cfg.Port)

	// no write timeout: relayed streams legitimately run for hours
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// show info
	logger.Info("Starting FastStream Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Port: %d", cfg.Port)
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Chunk Size (fast): %s", utils.FormatBytes(int64(cfg.ChunkSizeFast)))
	logger.Info("  - Chunk Size (standard): %s", utils.FormatBytes(int64(cfg.ChunkSizeStandard)))
	logger.Info("  - Max Concurrent Streams: %d", cfg.MaxConcurrentStreams)
	logger.Info("  - Session TTL: %s", cfg.SessionTTL)
	logger.Info("  - Janitor Interval: %s", cfg.JanitorInterval)
	logger.Info("  - Playlist Rewriting: %v", cfg.RewritePlaylists)
	logger.Info("  - History Store: %v", db != nil)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// wait for a shutdown signal or a listener failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatalf("Server failed to start: %v", err)
	case sig := <-sigChan:
		logger.Info("[MAIN] Received %s, shutting down", sig)
	}

	// stop accepting new requests and give in-flight relays the grace
	// window to drain
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[MAIN] Drain window elapsed with streams still open: %v", err)
	}

	// stop the background loops, then release everything the registry owns
	bgCancel()
	registry.CloseAll()
	workerPool.Release()
	if err := db.Close(); err != nil {
		logger.Warn("[MAIN] Failed to close history store: %v", err)
	}

	logger.Info("[MAIN] Shutdown complete")
}
