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

	"github.com/savegress/telecare/internal/api"
	"github.com/savegress/telecare/internal/config"
	"github.com/savegress/telecare/internal/devices"
	"github.com/savegress/telecare/internal/devicetypes"
	"github.com/savegress/telecare/internal/scheduler"
	"github.com/savegress/telecare/internal/spine"
	"github.com/savegress/telecare/internal/storage"
	"github.com/savegress/telecare/internal/transmit"
)

func main() {
	log.Println("Starting TeleCare...")

	// Load configuration
	cfg := loadConfig()

	// runCtx is inherited by transmission runs, so cancelling it on
	// shutdown aborts any run still in flight.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	// Open the embedded readings store
	store, err := storage.Open(cfg.Storage.DataPath)
	if err != nil {
		log.Fatalf("Failed to open readings store: %v", err)
	}
	defer store.Close()

	// Build the capture device registry
	registry, err := devices.NewRegistry(cfg.Devices)
	if err != nil {
		log.Fatalf("Failed to build device registry: %v", err)
	}

	// Reload readings captured before the last shutdown so they remain
	// transmittable
	for _, d := range registry.List() {
		readings, err := store.Untransmitted(runCtx, d.ID())
		if err != nil {
			log.Fatalf("Failed to load buffered readings for %s: %v", d.ID(), err)
		}
		for _, r := range readings {
			if err := d.Record(r); err != nil {
				log.Printf("Skipping buffered reading for %s: %v", d.ID(), err)
			}
		}
	}

	// Wire devices into the selection registry
	selection := transmit.NewSelectionRegistry()
	for _, d := range registry.List() {
		d.SetDataChangeCallback(func(deviceID string, hasData bool) {
			selection.NotifyDataChanged(deviceID, hasData)
		})
		if err := selection.Register(d); err != nil {
			log.Fatalf("Failed to register source %s: %v", d.ID(), err)
		}
	}

	// Initialize the schedule collaborator
	sched := scheduler.New(cfg.Schedule)
	sched.SetRunningChangeCallback(func(running bool) {
		log.Printf("Schedule running: %v", running)
	})

	// Initialize the outbound transport
	sender := spine.NewSender(cfg.Spine)

	// Initialize the transmission orchestrator
	orch := transmit.NewOrchestrator(transmit.Config{
		SenderAddress:    cfg.Transmit.SenderAddress,
		RecipientAddress: cfg.Transmit.RecipientAddress,
		AuditIdentity:    cfg.Transmit.AuditIdentity,
		ArchiveDir:       cfg.Transmit.OutboundArchiveDir,
		FetchTimeout:     cfg.Transmit.FetchTimeout,
	}, selection, sender, sched)

	orch.SetWarningCallback(func(msg string, err error) {
		log.Printf("Warning: %s: %v", msg, err)
	})
	orch.SetErrorCallback(func(msg string, err error) {
		log.Printf("Transmission failed: %s: %v", msg, err)
	})
	orch.SetTransmittedCallback(func(sourceIDs []string) {
		now := time.Now().UTC()
		for _, id := range sourceIDs {
			d, ok := registry.Get(id)
			if !ok {
				continue
			}
			// Only the readings that went into the message are cleared and
			// stamped; anything recorded mid-run stays queued.
			n := d.ClearTransmitted()
			if err := store.MarkTransmitted(context.Background(), id, n, now); err != nil {
				log.Printf("Failed to mark readings transmitted for %s: %v", id, err)
			}
		}
		log.Printf("Transmitted data from %d sources", len(sourceIDs))
	})

	// Connect the device type metadata store when configured
	var deviceTypeRepo *devicetypes.Repository
	if cfg.Database.URL != "" {
		pool, err := devicetypes.Connect(runCtx, cfg.Database.URL)
		if err != nil {
			log.Printf("Device type store unavailable: %v", err)
		} else {
			defer pool.Close()

			cache, err := devicetypes.NewCache(cfg.Redis)
			if err != nil {
				log.Printf("Device type cache unavailable: %v", err)
				cache, _ = devicetypes.NewCache(config.RedisConfig{})
			} else {
				defer cache.Close()
			}

			deviceTypeRepo = devicetypes.NewRepository(pool, cache)
			log.Println("Device type store connected")
		}
	}

	// Create API server
	server := api.NewServer(cfg, runCtx, registry, selection, orch, sched, deviceTypeRepo, store)
	defer server.Close()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("TeleCare API listening on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down TeleCare...")

	// Abort in-flight transmission runs before closing the transport
	cancelRuns()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("TeleCare stopped")
}

func loadConfig() *config.Config {
	configPath := os.Getenv("TELECARE_CONFIG")
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("Failed to load config from %s: %v, using defaults", configPath, err)
			return config.LoadFromEnv()
		}
		return cfg
	}
	return config.LoadFromEnv()
}
