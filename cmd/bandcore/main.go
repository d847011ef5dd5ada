package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	api "github.com/mind-engage/bandcore/internal/api/http"
	"github.com/mind-engage/bandcore/internal/attempt"
	"github.com/mind-engage/bandcore/internal/auth"
	"github.com/mind-engage/bandcore/internal/catalog"
	"github.com/mind-engage/bandcore/internal/config"
	"github.com/mind-engage/bandcore/internal/db"
	"github.com/mind-engage/bandcore/internal/entitlement"
	"github.com/mind-engage/bandcore/internal/logging"
	"github.com/mind-engage/bandcore/internal/notify"
	"github.com/mind-engage/bandcore/internal/scheduler"
)

func main() {
	cfg := config.FromEnv()
	log := logging.New(cfg.Environment, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("bandcore stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return err
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := db.Open(openCtx, driver, cfg.DBDSN)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	tests := catalog.NewStore(conn)
	if cfg.ContentFile != "" {
		content, err := catalog.LoadFile(cfg.ContentFile)
		if err != nil {
			return err
		}
		if err := tests.Seed(ctx, content); err != nil {
			return err
		}
		log.Info().Int("tests", len(content)).Str("file", cfg.ContentFile).Msg("catalog seeded")
	}

	// --- Entitlement ---
	var flags entitlement.FlagResolver = entitlement.StaticFlags{}
	var fileFlags *entitlement.FileFlags
	if cfg.FlagsFile != "" {
		fileFlags = entitlement.NewFileFlags(cfg.FlagsFile)
		// Until a load succeeds, kill-switched routes fail closed.
		if err := fileFlags.Reload(ctx); err != nil {
			log.Error().Err(err).Str("file", cfg.FlagsFile).Msg("initial flag load failed")
		}
		flags = fileFlags
	}
	dir := entitlement.NewSQLDirectory(conn)
	gate := entitlement.NewGate(dir, flags, cfg.UpgradeURL,
		entitlement.WithClaimRoleFallback(cfg.AllowClaimRoleFallback))

	trigger := notify.NewTrigger(notify.NewSQLStore(conn), log)
	attempts := attempt.NewService(attempt.NewSQLStore(conn, attempt.WithGrace(cfg.AttemptGrace)), tests, trigger,
		attempt.WithGrace(cfg.AttemptGrace))

	// --- Background jobs ---
	sched := scheduler.New(log)
	if err := sched.Add(cfg.ExpirySweepSpec, "expire_overdue", 30*time.Second, func(ctx context.Context) error {
		n, err := attempts.ExpireOverdue(ctx)
		if n > 0 {
			log.Info().Int64("expired", n).Msg("overdue attempts expired")
		}
		return err
	}); err != nil {
		return err
	}
	if fileFlags != nil {
		if err := sched.Add(cfg.FlagsReloadSpec, "reload_flags", 5*time.Second, fileFlags.Reload); err != nil {
			return err
		}
	}

	// --- Auth ---
	tokens := auth.NewAuthService(cfg.AuthSecret, cfg.TokenTTL)
	var login api.Authenticator
	if cfg.EnableLocalAuth {
		login = auth.LocalLogin{
			AdminUser:     cfg.AdminUser,
			AdminPassHash: cfg.AdminPassHash,
			DevLogins:     cfg.Mode == config.ModeOffline,
		}
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logging.AccessLog(log), middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Webhook-Secret"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.Identify(tokens, api.InvalidToken))

	api.Mount(r, api.Deps{
		Attempts:      attempts,
		Gate:          gate,
		Tokens:        tokens,
		Login:         login,
		Plans:         dir,
		Notifier:      trigger,
		WebhookSecret: cfg.BillingWebhookSecret,
		DB:            conn,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("mode", string(cfg.Mode)).Str("db", string(driver)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		err := srv.Shutdown(shutdownCtx)
		if serr := sched.Stop(shutdownCtx); err == nil {
			err = serr
		}
		return err
	})
	return g.Wait()
}
