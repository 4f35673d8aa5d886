package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flexphone/internal/api"
	"flexphone/internal/auth"
	"flexphone/internal/config"
	"flexphone/internal/directory"
	"flexphone/internal/engine"
	"flexphone/internal/firewall"
	"flexphone/internal/history"
	"flexphone/internal/models"
	"flexphone/internal/notify"
	"flexphone/internal/registrar"
	"flexphone/internal/transport"

	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	tp := transport.NewSipgoTransport(cfg.SIP.ListenAddr, log)

	dir := directory.NewMemoryDirectory()
	for _, c := range cfg.Contacts {
		dir.Add(models.ContactSummary{Number: c.Number, Name: c.Name})
	}

	var hist history.Recorder
	if cfg.Redis.Enabled {
		hist = history.NewRedisRecorder(cfg.Redis.Addr, log)
	} else {
		hist = history.NewMemoryRecorder()
	}

	events := notify.NewBufferSink(256)
	sink := notify.MultiSink{notify.NewLogSink(log), events}

	bridge := engine.NewBridge(sink, hist, log)
	cc := engine.NewCallControl(tp, dir, bridge, engine.Config{
		MaxConcurrentCalls: cfg.Calls.MaxConcurrent,
		RingTimeout:        time.Duration(cfg.Calls.RingTimeoutSeconds) * time.Second,
		DTMFSpacing:        time.Duration(cfg.Calls.DTMFSpacingMillis) * time.Millisecond,
	}, log)
	reg := registrar.New(tp, bridge, cc, hist, log)
	cc.BindRegistration(reg)
	bridge.BindController(cc)
	bridge.BindRegistrar(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bridge.Run(ctx, tp)

	tokens := auth.NewManager(cfg.API.JWTSecret)
	fw := firewall.New(cfg.API.LoginAttempts, log)
	ctl := api.New(reg, cc, hist, events, tokens, fw, cfg.API, log)
	go func() {
		log.Info().Str("addr", cfg.API.Addr).Msg("control API starting")
		if err := ctl.Start(cfg.API.Addr); err != nil {
			log.Error().Err(err).Msg("control API stopped")
		}
	}()

	if cfg.SIP.AutoConnect {
		connectCfg := cfg.SIP.ConnectConfig()
		if err := reg.Connect(ctx, connectCfg); err != nil {
			log.Error().Err(err).Msg("auto-connect failed")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := reg.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("disconnect on shutdown")
	}
	cancel()
}
