package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keastman/parley/internal/adapters/gatewayws"
	"github.com/keastman/parley/internal/adapters/rtc"
	"github.com/keastman/parley/internal/config"
	"github.com/keastman/parley/internal/domain"
	"github.com/keastman/parley/internal/signaling"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var variant signaling.Variant
	switch cfg.Variant {
	case "videoroom":
		variant = &signaling.VideoRoom{Room: cfg.Room, Display: cfg.Display}
	case "recordplay":
		variant = &signaling.RecordPlay{
			RecordingID:           cfg.RecordPlay.RecordingID,
			Name:                  cfg.RecordPlay.Name,
			Filename:              cfg.RecordPlay.Filename,
			AudioCodec:            cfg.RecordPlay.AudioCodec,
			VideoCodec:            cfg.RecordPlay.VideoCodec,
			VideoBitrateMax:       cfg.RecordPlay.VideoBitrateMax,
			VideoKeyframeInterval: cfg.RecordPlay.VideoKeyframeInterval,
			Play:                  cfg.RecordPlay.Play,
		}
	default:
		log.Fatal().Str("variant", cfg.Variant).Msg("unknown plugin variant")
	}

	engine := rtc.NewEngine(rtc.DefaultConfig())
	transport := gatewayws.New(cfg.GatewayURL)

	client := signaling.NewClient(transport, variant, signaling.Events{
		OnConnected: func() {
			log.Info().Str("module", "main").Msg("gateway connected")
		},
		OnDisconnected: func(reason string, code int) {
			log.Info().Str("module", "main").Str("reason", reason).Int("code", code).Msg("gateway disconnected")
			cancel()
		},
		OnError: func(err error) {
			log.Error().Err(err).Str("module", "main").Msg("signaling error")
		},
		NewPublisher: engine.Publisher,
		NewSubscriber: func(handleID int64, feed domain.Feed) signaling.HandleCallbacks {
			log.Info().Str("module", "main").Int64("feed_id", int64(feed.ID)).Str("display", feed.Display).Msg("subscribing to feed")
			return engine.Subscriber(handleID, feed)
		},
	}, signaling.Options{
		KeepAlivePeriod:    cfg.KeepAlivePeriod,
		TransactionTimeout: cfg.TransactionTimeout,
	})

	engine.Bind(client)
	transport.Bind(client)

	if err := client.Connect(); err != nil {
		log.Fatal().Err(err).Str("url", cfg.GatewayURL).Msg("connect failed")
	}

	<-ctx.Done()
	log.Info().Str("module", "main").Msg("shutting down")
	client.Close()
	engine.Close()
	log.Info().Str("module", "main").Msg("exited gracefully")
}
