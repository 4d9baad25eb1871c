package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/api"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/api/handler"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/config"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/gateway"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/logger"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/repository/postgres"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/repository/redis"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/scheduler"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/security"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/service"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/skill"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	_, logCloser, err := logger.Setup(cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Starting gateway server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Skill catalog
	registry := skill.NewRegistry()
	httpClient := &http.Client{Timeout: cfg.Skills.HTTPTimeout}
	if err := skill.RegisterDefinitions(registry, cfg.Skills.Definitions, httpClient); err != nil {
		log.Fatal().Err(err).Msg("Failed to register skills")
	}
	log.Info().Int("skills", len(registry.List())).Msg("Skill catalog loaded")

	// Services
	quota := service.NewQuotaService(redis.NewQuotaCounter(redisClient), cfg.Quota)
	sessions := service.NewSessionService(
		postgres.NewSessionRepository(db.Pool),
		postgres.NewMessageRepository(db.Pool),
		redis.NewSessionCache(redisClient, cfg.Session.MessageCacheLimit),
		quota,
		cfg.Session,
	)
	engine := service.NewSkillEngine(registry, quota, postgres.NewSkillExecutionRepository(db.Pool), cfg.Skills)
	sched := scheduler.New(engine)

	jwtManager := security.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.Issuer,
		cfg.Auth.AccessTokenTTL,
		domain.Tier(cfg.Quota.DefaultTier),
	)

	gw := gateway.New(cfg.Gateway, gateway.Dependencies{
		Auth:     jwtManager,
		Quota:    quota,
		Sessions: sessions,
		Engine:   engine,
		Cron:     sched,
		Bus:      redis.NewPubSub(redisClient),
	})
	sched.SetNotifier(gw.NotifyCron)

	if err := gw.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start gateway")
	}
	sched.Start()
	go sessions.RunExpirySweeper(ctx, cfg.Session.SweepInterval)

	router := api.NewRouter(cfg, api.Dependencies{
		Auth:      jwtManager,
		WebSocket: gateway.NewWSServer(gw, cfg.Server.AllowedOrigins),
		Skills:    registry,
		Ready: map[string]handler.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("instance_id", gw.InstanceID()).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by the HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Gateway shutdown incomplete")
	}
	releaseCronJobs(shutdownCtx, quota, sched.Stop(shutdownCtx))

	log.Info().Msg("Server stopped")
}

// releaseCronJobs returns the quota held by jobs that die with this instance
func releaseCronJobs(ctx context.Context, quota *service.QuotaService, jobs []domain.CronJob) {
	released := 0
	for _, job := range jobs {
		if !job.Reserved {
			continue
		}
		if err := quota.Release(ctx, job.TenantID, domain.ResourceCronJobs); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Str("tenant_id", job.TenantID).Msg("Failed to release cron quota")
			continue
		}
		released++
	}
	if len(jobs) > 0 {
		log.Info().Int("jobs", len(jobs)).Int("released", released).Msg("Cron jobs stopped")
	}
}
