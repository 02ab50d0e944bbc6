package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type appDeps struct {
	db     *sql.DB
	cfg    *Config
	copier snapshotCopier
	pusher billingPusher
	dex    *dexClient
	feeds  *sentimentClient
	whales *whaleClient
}

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "apply migrations and exit")
	flag.Parse()

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(cfg)
	log.Info().Str("env", cfg.Env).Interface("features", cfg.Features()).Msg("starting akari api")

	if *migrateOnly {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect failed")
	}
	defer db.Close()
	log.Info().Msg("connected to postgres")

	if err := runStartup(ctx, db, cfg, runMigrations); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("pgx pool init failed")
	}
	defer pool.Close()

	httpClient := newHTTPClient()
	deps := appDeps{
		db:     db,
		cfg:    cfg,
		copier: pool,
		dex:    newDexClient(cfg.DexScreenerBaseURL, httpClient),
		feeds:  newSentimentClient(cfg.SentimentBaseURL, cfg.SentimentAPIKey, httpClient),
		whales: newWhaleClient(cfg.WhaleBaseURL, httpClient),
	}
	if cfg.StripeKey != "" {
		deps.pusher = newStripeBillingPusher(cfg.StripeKey)
	} else {
		log.Info().Msg("STRIPE_KEY not set, billing records stay local")
	}

	startNotificationPruner(ctx, db)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newRouter(d appDeps) http.Handler {
	db, cfg := d.db, d.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Telegram-Init-Data", "X-Cron-Secret"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", healthHandler(db))

	r.Route("/api/miniapp", func(r chi.Router) {
		r.Post("/auth", miniAppAuthHandler(db, cfg))
		r.Get("/me", miniAppMeHandler(db, cfg))
		r.Post("/checkin", miniAppCheckinHandler(db, cfg))
		r.Get("/notifications", miniAppNotificationsHandler(db, cfg))
		r.Post("/notifications/read", miniAppNotificationsReadHandler(db, cfg))
		r.Get("/campaigns", miniAppCampaignsHandler(db, cfg))
		r.Post("/campaigns/{id}/tasks/{taskId}/complete", miniAppCompleteTaskHandler(db, cfg))
		r.Post("/deposits", miniAppCreateDepositHandler(db, cfg))
		r.Get("/predictions", miniAppPredictionsHandler(db, cfg))
		r.Post("/predictions/{id}/bet", miniAppBetHandler(db, cfg))
		r.Get("/leaderboard", leaderboardHandler(db))
	})

	r.Route("/api/portal", func(r chi.Router) {
		r.Route("/arc", func(r chi.Router) {
			r.Get("/projects", arcProjectsHandler(db, cfg))
			r.Get("/projects/{slug}/leaderboard", arcProjectLeaderboardHandler(db, cfg))
			r.Get("/mindshare", arcMindshareHandler(db, cfg))
			r.Post("/track-view", arcTrackViewHandler(db, cfg))
			r.Get("/arenas/{slug}", arenaDetailHandler(db, cfg))
			r.Get("/arenas/{slug}/leaderboard", arenaLeaderboardHandler(db, cfg))
			r.Post("/arenas/{slug}/join", arenaJoinHandler(db, cfg))
			r.Get("/programs", arcProgramsHandler(db, cfg))
			r.Post("/programs/{id}/apply", arcProgramApplyHandler(db, cfg))
		})
		r.Route("/admin", func(r chi.Router) {
			r.Post("/arenas", adminCreateArenaHandler(db, cfg))
			r.Post("/arenas/{slug}/creators", adminSetArenaCreatorHandler(db, cfg))
			r.Post("/programs/{id}/members/{userId}", adminProgramMemberHandler(db, cfg))
			r.Post("/billing", adminCreateBillingHandler(db, cfg, d.pusher))
			r.Post("/billing/{id}/paid", adminMarkBillingPaidHandler(db, cfg))
			r.Get("/reports/platform", adminPlatformReportHandler(db, cfg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/campaigns", adminCreateCampaignHandler(db, cfg))
		r.Post("/deposits/{id}/confirm", adminConfirmDepositHandler(db, cfg))
		r.Post("/predictions", adminCreatePredictionHandler(db, cfg))
		r.Post("/predictions/{id}/resolve", adminResolvePredictionHandler(db, cfg))
		r.Post("/users/{id}/myst", adminAdjustMystHandler(db, cfg))
		r.HandleFunc("/settings", adminSettingsHandler(db, cfg))
		r.Get("/audit-log", adminAuditLogHandler(db, cfg))
	})

	r.Route("/api/cron", func(r chi.Router) {
		jobs := map[string]jobFunc{
			JobDexSnapshots: dexSnapshotJob(db, d.copier, d.dex, cfg.DBRetryAttempts),
			JobSentiment:    sentimentJob(db, d.feeds, cfg.DBRetryAttempts),
			JobWhaleEntries: whaleEntriesJob(db, d.whales, cfg.WhaleMinUSD),
		}
		for name, fn := range jobs {
			h := cronJobHandler(db, cfg, name, fn)
			r.Get("/"+name, h)
			r.Post("/"+name, h)
		}
	})

	return r
}
