// somniad is the environmental-sensor ingestion and sleep-correlation daemon.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/xtxerr/somnia/internal/loader"
	"github.com/xtxerr/somnia/internal/logging"
	"github.com/xtxerr/somnia/internal/service"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	secret := flag.String("secret", "", "ingest shared secret (or SOMNIA_INGEST_SECRET env)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("somniad %s\n", Version)
		return
	}

	// .env is optional; real environment wins over it.
	_ = godotenv.Load()

	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "somniad: load config: %v\n", err)
		os.Exit(1)
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.SetDataDir(*dataDir)
	}
	if *secret != "" {
		cfg.Gateway.Secret = *secret
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	log := logging.Component("main")
	log.Info("somniad starting", "version", Version, "config", *cfgPath)

	svc, err := service.New(cfg)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	// Shut down cleanly on SIGINT/SIGTERM. Queued readings survive in the
	// journal and are recovered on the next start.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down", "signal", sig.String())
		if err := svc.Stop(); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
	}()

	if err := svc.Start(); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("somniad stopped")
}
