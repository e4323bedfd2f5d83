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

	"github.com/hearth-security/hearth-server/internal/auth"
	"github.com/hearth-security/hearth-server/internal/collaborator"
	"github.com/hearth-security/hearth-server/internal/config"
	"github.com/hearth-security/hearth-server/internal/gateway"
	"github.com/hearth-security/hearth-server/internal/server"
	"github.com/hearth-security/hearth-server/internal/session"
)

func main() {
	// Command line flags
	var configPath = flag.String("config", "config/device-gateway.yml", "Configuration file path")
	var validateOnly = flag.Bool("validate", false, "Validate the configuration and exit")
	var showConfig = flag.Bool("show-config", false, "Print the configuration summary and exit")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Invalid log level, using info")
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

	identity, err := gateway.LoadIdentity(&cfg.Gateway)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load gateway identity")
	}

	serviceAuth := auth.NewServiceAuth(&cfg.Internal)
	collab := collaborator.NewClient(&cfg.Collaborator, serviceAuth)
	gw := gateway.NewServer(&cfg.Gateway, identity, session.NewStore(), collab, serviceAuth)

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Commands arrive over NATS when configured, and always over
	// POST /internal/commands
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("hearth-device-gateway"),
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
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")

		subscriber := server.NewNATSSubscriber(nc, cfg.NATS.CommandSubject, gw, cfg.Gateway.WriteTimeout)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := subscriber.Start(ctx); err != nil {
				log.Error().Err(err).Msg("NATS subscriber stopped")
			}
		}()
	} else {
		log.Info().Msg("NATS not configured, accepting commands over HTTP only")
	}

	// Start the gateway listener
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
		if err := gw.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Device gateway failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown gateway gracefully")
	}

	wg.Wait()

	log.Info().Msg("Device gateway stopped")
}
