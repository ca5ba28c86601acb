package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geocode"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/selector"
	"github.com/example/ride-dispatch/internal/service"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
		}
	}

	var store rides.Store
	if cfg.PGDSN != "" {
		if ps, err := rides.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Warn("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = rides.NewMemoryStore()
	}

	var bus events.Publisher
	if cfg.RedisAddr != "" {
		bus = events.NewRedisPublisher(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		bus = events.NewMemoryPublisher()
	}
	bus = &events.LoggingPublisher{Next: bus, Logger: logger}

	reg := registry.New()
	machine := rides.NewMachine(store, bus, reg, logger)
	sel := selector.New(reg)
	coord := dispatch.NewCoordinator(reg, sel, machine, bus, logger, cfg.MaxDriversNotify, cfg.ResponseTimeout)

	wsreg := dispatch.NewWSRegistry()
	coord.SetNotifier(wsreg)

	var pay payments.Client
	if os.Getenv("STRIPE_API_KEY") != "" {
		pay = payments.NewStripeClient()
	}

	svc := service.New(machine, coord, geocode.AddressSplitter{}, bus, pay, logger)

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
	}

	srv := httpapi.NewServer(svc, reg, kp, wsreg, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// runMigrations applies the basic schema from migrations/001_create_rides.sql.
func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
