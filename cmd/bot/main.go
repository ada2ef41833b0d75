// Package main is the entry point of the moderation-log indexer bot.
// It opens the local index, wires the optional MongoDB mirror, MQTT bus
// and admin API, and follows the watched log channels on Discord.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/PancyStudios/PancyModLogs/internal/commands"
	"github.com/PancyStudios/PancyModLogs/internal/events"
	"github.com/PancyStudios/PancyModLogs/internal/scheduler"
	"github.com/PancyStudios/PancyModLogs/pkg/config"
	"github.com/PancyStudios/PancyModLogs/pkg/database"
	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/errors"
	"github.com/PancyStudios/PancyModLogs/pkg/ingest"
	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/logstore"
	"github.com/PancyStudios/PancyModLogs/pkg/mqtt"
	"github.com/PancyStudios/PancyModLogs/pkg/web"
)

func main() {
	if err := run(); err != nil {
		logger.Critical(err.Error(), "Main")
		logger.Get().Close()
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	level, _ := logger.ParseLevel(cfg.LogLevel)

	// Initialize logger
	log := logger.Init(logger.Options{
		ErrorWebhook: cfg.ErrorWebhook,
		LogsWebhook:  cfg.LogsWebhook,
		MinLevel:     level,
	})
	defer log.Close()

	logger.System(fmt.Sprintf("Iniciando PancyModLogs %s (%s)...", config.Version, config.BuildTime), "Main")
	logger.Info(fmt.Sprintf("Directorio de trabajo: %s", getCurrentDir()), "Main")

	channels, err := cfg.Channels()
	if err != nil {
		return err
	}

	// Initialize Discord client
	discordClient, err := discord.Init(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("error creating Discord client: %w", err)
	}

	// Initialize error handler
	errHandler := errors.Init(errors.Options{
		WebhookURL: cfg.ErrorWebhook,
		OnBurst:    reopenOnBurst(discordClient.Session),
	})
	defer errHandler.Stop()

	// Local index
	store, err := logstore.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ingest.NewMetrics(registry)

	pipeline := ingest.NewPipeline(store, ingest.PipelineOptions{
		Concurrency: cfg.ScanConcurrency,
		QueueSize:   cfg.QueueSize,
		Metrics:     metrics,
	})
	defer pipeline.Close()

	// MongoDB mirror, also answers queries when the local index fails
	var fallback ingest.QueryFallback
	if cfg.MongoDBURL != "" {
		db, err := database.Init(cfg.MongoDBURL, cfg.DBName)
		if err != nil {
			logger.Error(fmt.Sprintf("Error connecting to database: %v", err), "Main")
			// Continue without database, it will attempt to reconnect
		}
		defer db.Disconnect()

		mirror := database.NewMirror(db)
		if db.Connected() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := mirror.EnsureIndexes(ctx); err != nil {
				logger.Warn(fmt.Sprintf("Error creando índices de MongoDB: %v", err), "Main")
			}
			cancel()
		}
		pipeline.AddObserver(mirror)
		fallback = mirror
	}

	scanner := ingest.NewScanner(discord.NewMessageSource(discordClient.Session), store, pipeline, ingest.ScannerOptions{
		ResumeBackfill: cfg.ResumeBackfill,
		Metrics:        metrics,
	})
	indexer := ingest.NewIndexer(store, pipeline, scanner, ingest.IndexerOptions{
		Channels: channels,
		Fallback: fallback,
		Metrics:  metrics,
	})
	defer indexer.Close()

	// MQTT bus
	if cfg.MQTTHost != "" {
		mqttClientID := "pancymodlogs"
		if !cfg.IsProd() {
			mqttClientID = "pancymodlogs_canary"
		}
		mqttClient := mqtt.Init(mqtt.Options{
			Host:     cfg.MQTTHost,
			Port:     cfg.MQTTPort,
			Username: cfg.MQTTUser,
			Password: cfg.MQTTPassword,
			ClientID: mqttClientID,
		})
		defer mqttClient.Destroy()

		pipeline.AddObserver(mqtt.NewEventPublisher(mqttClient))
		if err := mqttClient.On(mqtt.QueryRequest, mqtt.NewQueryHandler(indexer)); err != nil {
			logger.Error(fmt.Sprintf("Error suscribiendo consultas MQTT: %v", err), "Main")
		}
	}

	// Initialize web server
	hub := web.NewHub()
	defer hub.Close()
	pipeline.AddObserver(hub)

	webServer := web.Init(web.Options{
		WebhookURL: cfg.LogsWebhook,
		APIToken:   cfg.APIToken,
	})
	web.SetupAPIRoutes(webServer, web.Deps{
		Indexer:  indexer,
		Store:    store,
		Gatherer: registry,
		Hub:      hub,
	})
	webServer.StartAsync(cfg.Port)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := webServer.Shutdown(ctx); err != nil {
			logger.Warn(fmt.Sprintf("Error apagando el servidor web: %v", err), "Main")
		}
	}()

	// Register commands and events
	eventsCtx, cancelEvents := context.WithCancel(context.Background())
	defer cancelEvents()
	commands.RegisterAll(discordClient, commands.Deps{Indexer: indexer, Store: store})
	events.RegisterAll(discordClient, events.NewHandlers(eventsCtx, indexer))

	rescans, err := scheduler.New(indexer, cfg.RescanSchedule, 0)
	if err != nil {
		return err
	}

	// Start the bot
	if err := discordClient.Start(true); err != nil {
		return fmt.Errorf("error starting Discord client: %w", err)
	}
	rescans.Start()

	logger.Success(fmt.Sprintf("PancyModLogs iniciado correctamente, vigilando %d canales.", len(channels)), "Main")

	// Wait for interrupt signal
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.System("Apagando PancyModLogs...", "Main")

	// producers first, observers are closed by the deferred calls
	rescans.Stop()
	if err := discordClient.Stop(); err != nil {
		logger.Warn(fmt.Sprintf("Error cerrando la sesión de Discord: %v", err), "Main")
	}
	cancelEvents()
	indexer.Close()
	pipeline.Close()
	return nil
}

// gatewaySession is the part of the Discord session a burst restarts
type gatewaySession interface {
	Close() error
	Open() error
}

// reopenOnBurst restarts the gateway connection after an error burst
func reopenOnBurst(s gatewaySession) func() {
	return func() {
		logger.Warn("Reiniciando la sesión de Discord tras una ráfaga de errores...", "Main")
		_ = s.Close()
		if err := s.Open(); err != nil {
			logger.Error(fmt.Sprintf("Error reabriendo la sesión: %v", err), "Main")
		}
	}
}

// getCurrentDir returns the current working directory
func getCurrentDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "unknown"
	}
	return dir
}
