package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"power-backend/internal/auth"
	"power-backend/internal/database"
	"power-backend/internal/metrics"
	"power-backend/internal/models"
	"power-backend/internal/mqtt"
	"power-backend/internal/registry"
	"power-backend/internal/scheduler"
	"power-backend/internal/server"
	"power-backend/internal/services"
	"power-backend/pkg/config"
)

const shutdownTimeout = 10 * time.Second

// snapshotStore is a persistence backend for the device registry
type snapshotStore interface {
	services.SnapshotStore
	Close() error
}

func main() {
	log.Println("Starting power backend...")

	// Load configuration
	cfg, err := config.FromArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Invalid schedule timezone: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer store.Close()

	// The fleet gauges read the registry, which is built further down
	var reg *registry.Registry
	collector := metrics.New(func() (registered, online int) {
		devices := reg.List()
		for _, dev := range devices {
			if dev.Online {
				online++
			}
		}
		return len(devices), online
	})

	// Event sinks: metrics always, ClickHouse and MQTT when configured
	sinks := []services.EventSink{collector}

	if cfg.ClickHouseAddr != "" {
		db, err := database.NewClickHouseDB(cfg.ClickHouseAddr, cfg.ClickHouseDB, cfg.ClickHouseUser, cfg.ClickHousePass)
		if err != nil {
			log.Fatalf("Failed to initialize ClickHouse: %v", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = db.InitSchema(ctx)
		cancel()
		if err != nil {
			db.Close()
			log.Fatalf("Failed to initialize ClickHouse schema: %v", err)
		}
		sinks = append(sinks, db)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTTBroker != "" {
		mqttClient, err = mqtt.NewClient(mqtt.ClientConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		})
		if err != nil {
			log.Fatalf("Failed to initialize MQTT client: %v", err)
		}
		defer mqttClient.Close()

		sinks = append(sinks, mqtt.NewPublisher(mqttClient.Native(), mqtt.PublisherConfig{
			EventTopic: cfg.MQTTTopicEvents,
		}))
	}

	eventConfig := services.DefaultEventServiceConfig()
	eventConfig.ChannelSize = cfg.EventBuffer
	eventConfig.OnDrop = collector.EventDropped
	eventConfig.OnSinkError = collector.SinkFailed
	eventSvc := services.NewEventService(eventConfig, sinks...)

	snapshotConfig := services.DefaultSnapshotServiceConfig()
	snapshotConfig.OnFailure = collector.PersistFailed
	snapshotSvc := services.NewSnapshotService(store, snapshotConfig)

	reg = registry.New(
		registry.WithHeartbeatTimeout(cfg.HeartbeatTimeout),
		registry.WithWakeFreshness(cfg.WakeFreshness),
		registry.WithChangeHook(snapshotSvc.Request),
		registry.WithEventHook(eventSvc.Publish),
	)

	// Restore devices and re-arm their active tasks
	snap, err := loadSnapshot(snapshotSvc)
	if err != nil {
		log.Fatalf("Failed to load snapshot: %v", err)
	}
	restored := reg.Restore(snap)
	sched := scheduler.New(reg, scheduler.WithLocation(loc))
	armed := sched.RestoreAll()
	log.Printf("Restored %d devices, armed %d tasks (timezone %s)", restored, armed, loc)
	snapshotSvc.SetSource(reg.Snapshot)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		eventSvc.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		snapshotSvc.Start(ctx)
	}()

	var subscriber *mqtt.Subscriber
	if mqttClient != nil {
		subscriber = mqtt.NewSubscriber(mqttClient.Native(), mqtt.SubscriberConfig{
			HeartbeatTopic: cfg.MQTTTopicHeartbeat,
			CommandTopic:   cfg.MQTTTopicCommands,
		}, reg)
		if err := subscriber.SubscribeAll(); err != nil {
			log.Fatalf("Failed to subscribe to MQTT topics: %v", err)
		}
		mqttClient.OnReconnect(func() {
			if err := subscriber.SubscribeAll(); err != nil {
				log.Printf("Error resubscribing after reconnect: %v", err)
			}
		})
	}

	if cfg.AdminPassword == "" {
		log.Println("Warning: ADMIN_PASSWORD is empty, admin login is disabled")
	}
	sessions := auth.NewSessionStore(cfg.AdminUsername, cfg.AdminPassword, cfg.SessionTTL, reg.Clock())

	checks := map[string]func() bool{}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient.Connected
	}

	srv := server.New(server.Config{
		Devices:    reg,
		Tasks:      sched,
		Sessions:   sessions,
		Metrics:    collector.Handler(),
		Checks:     checks,
		RequestLog: cfg.HTTPRequestLog,
	})

	go func() {
		if err := srv.Listen(cfg.HTTPAddr); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Println("Power backend is running. Press Ctrl+C to exit.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	if subscriber != nil {
		subscriber.Close()
	}
	sched.Stop()

	// Drain queued events, then write the final state
	cancel()
	wg.Wait()
	if err := snapshotSvc.Flush(shutdownCtx); err != nil {
		log.Printf("Error writing final snapshot: %v", err)
	}

	log.Println("Shutdown complete")
}

func openStore(cfg *config.Config) (snapshotStore, error) {
	if cfg.StoreBackend == config.StoreSQLite {
		return database.NewSQLiteStore(cfg.SQLitePath)
	}
	return database.NewJSONFileStore(cfg.DataFile)
}

func loadSnapshot(svc *services.SnapshotService) (models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.Load(ctx)
}
