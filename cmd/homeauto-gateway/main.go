package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/udit1567/Home.auto/internal/api"
	"github.com/udit1567/Home.auto/internal/config"
	"github.com/udit1567/Home.auto/internal/detection"
	"github.com/udit1567/Home.auto/internal/imaging"
	"github.com/udit1567/Home.auto/internal/logging"
	"github.com/udit1567/Home.auto/internal/observability"
	"github.com/udit1567/Home.auto/internal/store"
	"github.com/udit1567/Home.auto/internal/telemetry"
	"github.com/udit1567/Home.auto/internal/telemetry/publish"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("observability: %v", err)
	}

	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	decoder, err := imaging.NewDecoder(cfg.ScratchDir, cfg.MaxUploadBytes, imaging.WithMaxPixels(cfg.MaxImagePixels))
	if err != nil {
		log.Fatalf("imaging: %v", err)
	}

	// Models are loaded once here and shared read-only by every request.
	models, closeModels, err := loadModels(ctx, cfg)
	if err != nil {
		log.Fatalf("models: %v", err)
	}
	detector := detection.NewService(decoder, models, cfg.MaxConcurrentInfers)

	var opts []telemetry.Option
	opts = append(opts, telemetry.WithRejectEmpty(cfg.RejectEmptyReadings))
	publisher := publish.NewKafkaPublisher(cfg.KafkaBrokerList(), cfg.KafkaTopic)
	if publisher != nil {
		opts = append(opts, telemetry.WithPublisher(publisher))
		log.WithField("topic", cfg.KafkaTopic).Info("publishing readings to Kafka")
	}
	svc := telemetry.NewService(st, opts...)

	h := &api.Handler{Telemetry: svc, Detector: detector, MaxUploadBytes: cfg.MaxUploadBytes}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(h, cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
	}

	if publisher != nil {
		time.Sleep(publish.ShutdownDrainDuration)
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("kafka: close")
		}
	}
	closeModels()
	closeStore()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.WithError(err).Warn("observability: shutdown")
	}
	log.Info("gateway stopped")
}
