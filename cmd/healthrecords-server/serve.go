package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/healthrecords/internal/config"
	"github.com/ehr/healthrecords/internal/domain/vitals"
	"github.com/ehr/healthrecords/internal/platform/audit"
	"github.com/ehr/healthrecords/internal/platform/blobstore"
	"github.com/ehr/healthrecords/internal/platform/db"
	"github.com/ehr/healthrecords/internal/platform/extract"
	"github.com/ehr/healthrecords/internal/platform/extract/tesseract"
	"github.com/ehr/healthrecords/internal/platform/middleware"
	"github.com/ehr/healthrecords/internal/platform/reminder"
	"github.com/ehr/healthrecords/internal/platform/telemetry"
)

// Encrypted blobs carry a version byte, a nonce and a GCM tag on top of the
// plaintext.
const blobOverhead = 1 + 12 + 16

const reminderPollInterval = time.Minute

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	v, err := newVault(cfg, logger)
	if err != nil {
		return err
	}

	metrics := telemetry.New(nil)

	// Pipeline
	parser, err := vitals.NewParser(vitals.PatternSet(cfg.MetricPatterns))
	if err != nil {
		return err
	}
	aggregator, err := vitals.NewAggregator(vitals.Selection(cfg.CurrentSelection))
	if err != nil {
		return err
	}
	extractor := extract.NewExtractor(tesseract.New(cfg.OCRLanguage), logger,
		extract.WithThreshold(uint8(cfg.BinarizeThreshold)),
		extract.WithFailureRecorder(metrics))

	uploadLimit := middleware.ParseLimit(cfg.MaxUploadSize)
	blobs, err := blobstore.NewDiskStore(filepath.Join(cfg.UploadDir, "encrypted"), uploadLimit+blobOverhead)
	if err != nil {
		return err
	}
	scratch := filepath.Join(cfg.UploadDir, "tmp")
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	svc, err := vitals.NewService(vitals.Deps{
		Extractor:     extractor,
		Parser:        parser,
		Aggregator:    aggregator,
		Cipher:        v,
		Records:       vitals.NewRecordRepoPG(pool),
		Blobs:         blobs,
		Audit:         audit.NewLogger(v, audit.NewPGSink(pool), logger),
		Observer:      metrics,
		Tx:            db.NewTransactor(pool),
		Logger:        logger,
		ScratchDir:    scratch,
		MaxUploadSize: uploadLimit,
	})
	if err != nil {
		return err
	}

	// Reminders are optional; the API serves without Redis.
	var queue *reminder.Queue
	if rdb, err := reminder.Connect(ctx, cfg.RedisURL); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, appointment reminders disabled")
	} else {
		defer rdb.Close()
		queue = reminder.NewQueue(rdb, cfg.ReminderLead, logger)
	}

	e := newEcho(cfg, logger, metrics)
	checks := []db.Check{{Name: "database", Pinger: pool}}

	apiV1 := e.Group("/api/v1")
	vitals.NewHandler(svc).RegisterRoutes(apiV1)
	if queue != nil {
		reminder.NewHandler(queue).RegisterRoutes(apiV1)
		checks = append(checks, db.Check{Name: "redis", Pinger: queue})
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/ready", db.HealthHandler(5*time.Second, checks...))
	e.GET("/health/db", db.PoolHealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if queue != nil {
		g.Go(func() error {
			return queue.Poll(gctx, reminderPollInterval, logReminder(logger))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.BodyLimit("1M", cfg.MaxUploadSize))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID, vitals.HeaderUserID},
	}))
	e.Use(metrics.Middleware())

	return e
}

// logReminder stands in for delivery, which happens outside this service.
func logReminder(logger zerolog.Logger) reminder.Handle {
	return func(_ context.Context, r reminder.Reminder) error {
		logger.Info().
			Str("reminder_id", r.ID).
			Str("patient_id", r.PatientID).
			Time("appointment_at", r.AppointmentAt).
			Msg("appointment reminder due")
		return nil
	}
}
