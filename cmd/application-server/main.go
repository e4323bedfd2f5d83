package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/adoption"
	"github.com/hearth-security/hearth-server/internal/alarm"
	"github.com/hearth-security/hearth-server/internal/api"
	"github.com/hearth-security/hearth-server/internal/auth"
	"github.com/hearth-security/hearth-server/internal/collaborator"
	"github.com/hearth-security/hearth-server/internal/config"
	"github.com/hearth-security/hearth-server/internal/server"
	"github.com/hearth-security/hearth-server/internal/storage"
)

func main() {
	// Command line flags
	var configFile = flag.String("config", "config/application-server.yml", "Configuration file path")
	var validateOnly = flag.Bool("validate", false, "Validate the configuration and exit")
	var showConfig = flag.Bool("show-config", false, "Print the configuration summary and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configFile).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *showConfig || *validateOnly {
		cfg.PrintConfigSummary()
		if *validateOnly {
			fmt.Println("Configuration is valid")
		}
		return
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	// Commands and notifications go over NATS when configured, otherwise
	// commands are posted to the gateway and notifications are dropped
	var commands alarm.CommandSender
	var notifier alarm.Notifier

	if cfg.NATS.URL != "" {
		nc, err := connectNATS(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()

		publisher := server.NewNATSPublisher(nc, cfg.NATS.CommandSubject, cfg.Notifications.SubjectPrefix)
		commands = publisher
		notifier = publisher
	} else {
		log.Warn().Str("gateway_url", cfg.Collaborator.GatewayURL).
			Msg("NATS not configured, sending commands over HTTP without notifications")
		commands = collaborator.NewCommandClient(&cfg.Collaborator, auth.NewServiceAuth(&cfg.Internal))
	}

	dispatcher := alarm.NewDispatcher(commands, cfg.Alarm.Workers, cfg.Alarm.QueueSize, cfg.Alarm.CommandTimeout)
	dispatcher.Start(ctx)

	adoptionService := adoption.NewService(store, commands)
	engine := alarm.NewEngine(store, dispatcher, notifier)

	apiServer := api.NewRESTServer(cfg, store, adoptionService, engine)

	// WaitGroup for services
	var wg sync.WaitGroup

	// Start API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Shutdown API server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Drain queued siren commands before the publisher goes away
	dispatcher.Stop()
	cancel()

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Application server stopped")
}

// openStore connects to PostgreSQL, or falls back to the in-memory store
// when no DSN is configured
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Database.DSN == "" {
		log.Warn().Msg("No database configured, using in-memory store")
		return storage.NewMemoryStore(), nil
	}

	store, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	log.Info().Msg("Connected to database")
	return store, nil
}

func connectNATS(cfg *config.Config) (*nats.Conn, error) {
	log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("hearth-application-server"),
		nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("Connected to NATS")
	return nc, nil
}
