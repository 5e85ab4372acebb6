package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/conveycall/convey/internal/adapters/http"
	"github.com/conveycall/convey/internal/adapters/recognition"
	signaladapter "github.com/conveycall/convey/internal/adapters/signal"
	"github.com/conveycall/convey/internal/app"
	"github.com/conveycall/convey/internal/caption"
	"github.com/conveycall/convey/internal/config"
	"github.com/conveycall/convey/internal/events"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	bus := events.NewBus(log.Logger)
	defer bus.Close()

	reg := app.NewRegistry()
	life := app.NewLifecycle(reg, events.NewSummaryPublisher(bus), cfg.EmptyGrace)
	coord := app.NewCoordinator(reg)
	quality := app.NewQualityMonitor(reg, cfg.StatsInterval)

	var tts caption.Speaker
	if cfg.Caption.TTSEnabled {
		tts = events.NewTTSPublisher(bus)
	}
	captions := caption.NewManager(ctx, caption.Config{
		MinConfidence: cfg.Caption.MinConfidence,
		LatencyBudget: cfg.Caption.LatencyBudget,
		DisplayFor:    cfg.Caption.DisplayFor,
		HistoryCap:    cfg.Caption.HistoryCap,
	}, tts, reg.SessionLive)
	life.OnEnded(captions.Stop)

	limiter := signaladapter.NewJoinLimiter(cfg.JoinRateLimit, cfg.JoinRateWin)
	ctl := signaladapter.NewController(coord, quality, limiter, cfg.IdleWindow, cfg.ReadLimit)
	captions.SetDispatch(ctl.PushCaption)
	quality.OnStatsRequest(ctl.RequestStats)
	go quality.Run(ctx)

	consumer := events.NewRecognitionConsumer(bus, captions)
	if err := consumer.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start recognition consumer")
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Registry:  reg,
		Lifecycle: life,
		Signal:    ctl,
		Recog:     recognition.NewHandler(bus, reg.ParticipantActive),
		Captions:  captions,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("convey server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
