package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ZE-BOSS/telegram-bot/internal/api"
	"github.com/ZE-BOSS/telegram-bot/internal/config"
	"github.com/ZE-BOSS/telegram-bot/internal/engine"
	"github.com/ZE-BOSS/telegram-bot/internal/journal"
	"github.com/ZE-BOSS/telegram-bot/internal/metrics"
	"github.com/ZE-BOSS/telegram-bot/internal/notify"
	"github.com/ZE-BOSS/telegram-bot/internal/stream"
	"github.com/ZE-BOSS/telegram-bot/internal/util"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to YAML config")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		lg := util.NewLogger("info")
		lg.Fatal().Err(err).Msg("load config")
	}

	log := util.NewLogger(cfg.App.LogLevel)

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	token := cfg.Backend.Token
	rest := api.NewClient(cfg.Backend.BaseURL, api.TokenSource(token))

	opts := []engine.Option{
		engine.WithPageLimit(cfg.Sync.PageLimit),
		engine.WithStatusInterval(cfg.Sync.StatusPoll()),
		engine.WithJournalCapacity(cfg.Sync.JournalCapacity),
		engine.WithNotifier(notify.NewLogNotifier(log)),
	}
	if cfg.Sync.JournalFile != "" {
		recorder, err := journal.NewJSONLRecorder(cfg.Sync.JournalFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Sync.JournalFile).Msg("open journal file")
		}
		defer recorder.Close()
		opts = append(opts, engine.WithJournalSink(recorder))
	}

	eng := engine.New(rest, rest, log, opts...)

	ws := stream.NewClient(cfg.Backend.WSURL, stream.TokenSource(token), log,
		stream.WithRetryDelay(cfg.Sync.ReconnectDelay()))
	ws.OnStateChange = eng.SetConnected

	go func() {
		if err := ws.Run(ctx, eng.Events()); err != nil {
			log.Error().Err(err).Msg("stream stopped")
			cancel()
		}
	}()

	views, unsubscribe := eng.Subscribe()
	defer unsubscribe()
	go func() {
		for v := range views {
			log.Debug().
				Int("signals", len(v.Signals)).
				Int("executions", len(v.Executions)).
				Bool("connected", v.Connected).
				Str("backend", v.Status.Status).
				Msg("view")
		}
	}()

	log.Info().Str("backend", cfg.Backend.BaseURL).Msg("deck engine started")
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutting down")
}
