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

	router "github.com/demirkiran/cafe/internal/adapters/http"
	signalws "github.com/demirkiran/cafe/internal/adapters/signal"
	"github.com/demirkiran/cafe/internal/app"
	"github.com/demirkiran/cafe/internal/app/orch"
	"github.com/demirkiran/cafe/internal/config"
	"github.com/demirkiran/cafe/internal/media"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	pool, err := media.NewWorkerPool(cfg.Workers, media.WorkerConfig{
		AnnouncedIP: cfg.AnnouncedIP,
		RTCMinPort:  cfg.RTCMinPort,
		RTCMaxPort:  cfg.RTCMaxPort,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media workers")
	}
	go pool.Watch(ctx)

	reg := app.NewRegistry()
	orch := &orch.Orchestrator{
		Registry: reg,
		Engine:   media.NewEngine(pool),
		Dir:      app.NewDirectory(reg),
		Password: cfg.RoomPassword,
		Chat:     app.NewChatLimiter(cfg.ChatBurst, cfg.ChatWindow),
	}

	r := router.SetupRouter(ctx, cfg, signalws.NewController(orch))
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Cafe server started")
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
