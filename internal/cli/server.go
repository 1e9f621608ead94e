package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mathquest-live/internal/app"
	"mathquest-live/internal/auth"
	"mathquest-live/internal/config"
	"mathquest-live/internal/infra/memory"
	"mathquest-live/internal/infra/postgres"
	redisstore "mathquest-live/internal/infra/redis"
	"mathquest-live/internal/logging"
	"mathquest-live/internal/metrics"
	transport "mathquest-live/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (JWT_SECRET) must be set")
	}
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	m := metrics.New()
	jwt := auth.NewJWTService(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour))

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	var pool *pgxpool.Pool
	var results app.ResultStore = memory.NewResultStore()
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		db, err := openBun(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		results = postgres.NewResultStore(db)
	}

	var loader memory.QuestionLoader
	if pool != nil {
		loader = postgres.NewQuestionLoader(pool)
	} else {
		loader = memory.NewStaticQuestionLoader(sampleContent())
		logger.Warn("no content store configured, serving the bundled sample questions")
	}

	cacheTTL := config.TTLDuration(cfg.Content.CacheTTL, 10*time.Minute)
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)
	practiceTTL := config.TTLDuration(cfg.Practice.TTL, 24*time.Hour)

	var (
		questions app.QuestionRepository
		sessions  app.SessionRepository
		practices app.PracticeRepository
		relay     transport.Relay
	)
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	if redisClient != nil {
		questions = redisstore.NewQuestionRepository(redisClient, loader, cacheTTL)
		sessions = redisstore.NewSessionStore(redisClient, sessionTTL)
		practices = redisstore.NewPracticeStore(redisClient)
		relay = redisstore.NewRoomRelay(redisClient, logger)
	} else {
		questions = memory.NewQuestionRepository(loader, cacheTTL)
		sessions = memory.NewSessionStore()
		store := memory.NewPracticeStore()
		go store.RunJanitor(janitorCtx, time.Minute, logger)
		practices = store
	}

	hub := transport.NewHub(relay, logger)
	defer hub.Close()

	policy := app.ScoringPolicy{Base: cfg.Scoring.BasePoints, MaxPenalty: cfg.Scoring.MaxPenaltyRatio}
	if policy.Base <= 0 {
		policy = app.DefaultScoringPolicy()
	}
	game := app.NewGameService(sessions, questions, results, hub,
		app.WithLogger(logger),
		app.WithMetrics(m),
		app.WithScoringPolicy(policy),
		app.WithCountdown(cfg.Game.CountdownSeconds),
		app.WithRevealDelay(config.TTLDuration(cfg.Game.RevealDelay, 5*time.Second)),
		app.WithCheckpointBackoff(app.CheckpointBackOff, cfg.CheckpointRetries()),
	)
	defer game.Shutdown()
	practice := app.NewPracticeService(practices, questions, results,
		app.WithPracticeLogger(logger),
		app.WithPracticeMetrics(m),
		app.WithPracticeTTL(practiceTTL),
		app.WithDefaultQuestionCount(cfg.Practice.DefaultQuestionCount),
		app.WithPracticeBackoff(app.CheckpointBackOff, cfg.CheckpointRetries()),
	)

	if n, err := game.RecoverTimers(ctx); err != nil {
		logger.Warn("timer recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered live sessions", zap.Int("sessions", n))
	}

	gin.SetMode(gin.ReleaseMode)
	router := transport.NewRouter(transport.RouterDeps{
		Game:     game,
		Practice: practice,
		WS:       transport.NewWSHandler(game, practice, hub, jwt, logger, m, cfg.Server.AllowedOrigins),
		Auth:     jwt,
		Logger:   logger,
		Metrics:  m,
		Ready:    readiness(redisClient, pool),

		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting game server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func readiness(client *redis.Client, pool *pgxpool.Pool) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		return nil
	}
}
