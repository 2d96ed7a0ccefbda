package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"lnmsg/api"
	"lnmsg/config"
	"lnmsg/db"
	"lnmsg/events"
	"lnmsg/logging"
	"lnmsg/server"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML configuration file")
	port := pflag.IntP("port", "p", 0, "TCP port for peers (overrides config)")
	httpAddr := pflag.String("http-addr", "", "operator API address, \"off\" to disable")
	dbPath := pflag.String("db", "", "SQLite history database")
	verbose := pflag.CountP("verbose", "v", "more logging (-v debug, -vv trace)")
	pflag.Parse()

	logging.Setup("info", os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	switch *httpAddr {
	case "":
	case "off":
		cfg.HTTPAddr = ""
	default:
		cfg.HTTPAddr = *httpAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	logging.Setup(logging.Verbosity(*verbose, cfg.LogLevel), os.Stderr)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer database.Close()

	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	srv := server.New(database, events.Multi(events.Logger, broadcaster), &server.ServerConfig{
		Port:         cfg.Port,
		FilesDir:     cfg.FilesDir,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ExitGrace:    cfg.ExitGrace,
		Name:         cfg.HubName,
		Status:       cfg.HubStatus,
		Avatar:       cfg.HubAvatar,
	})
	broadcaster.Welcome = func() any {
		return map[string]any{"type": "sessions", "sessions": srv.Sessions()}
	}

	srv.StartRetention(database, cfg.RetentionDays, time.Hour)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewRouter(srv, database, broadcaster),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("operator API listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("operator API stopped")
			}
		}()
	}

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			log.Info().Msg("shutting down")
			if httpServer != nil {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				httpServer.Shutdown(sctx)
				cancel()
			}
			srv.Shutdown()
		})
	}

	if cfg.ControlSocket != "" {
		go func() {
			if err := srv.ServeControl(cfg.ControlSocket, shutdown); err != nil {
				log.Error().Err(err).Msg("control socket stopped")
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdown()
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Int("port", cfg.Port).Msg("hub stopped")
	}
	shutdown()
}
