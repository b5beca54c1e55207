package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"fileshare/internal/auth"
	"fileshare/internal/blob"
	"fileshare/internal/db"
	"fileshare/internal/file"
	"fileshare/internal/maintenance"
	"fileshare/internal/observability"
	"fileshare/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	redisAddr, err := mustEnv("REDIS_ADDR")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("ACCESS_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("REFRESH_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	fileBasePath, err := mustEnv("FILE_BASE_PATH")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	redisDB := 0
	if value := strings.TrimSpace(os.Getenv("REDIS_DB")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			redisDB = parsed
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	blobStore, err := blob.NewStore(fileBasePath)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	accessTTL := envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15)
	refreshTTL := envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168)

	authRepo := auth.NewRepository(database)
	revocationCache := auth.NewRedisCache(redisClient)
	tokenAuthority := auth.NewTokenAuthority(accessSecret, refreshSecret, authRepo, revocationCache).
		WithTTLs(accessTTL, refreshTTL)
	authService := auth.NewService(authRepo, tokenAuthority)
	authHandler := auth.NewHandler(authService, accessTTL, refreshTTL)

	fileRepo := file.NewRepository(database)
	fileService := file.NewService(fileRepo, authRepo, blobStore, logger)
	fileHandler := file.NewHandler(fileService, blobStore, logger)

	userHandler := user.NewHandler(authRepo)

	sweepHandler := maintenance.NewSweepHandler(
		fileRepo,
		blobStore,
		logger,
		os.Getenv("CRON_SECRET"),
		envMinutesOrDefault("ORPHAN_SWEEP_MIN_AGE_MINUTES", 60),
	)

	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	authed := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(tokenAuthority, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", loginLimiter.Middleware(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("GET /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("GET /auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /auth/logout_all", authHandler.LogoutAll)

	mux.Handle("GET /users/{user_id}", authed(userHandler.Get))

	mux.Handle("POST /files", authed(fileHandler.Upload))
	mux.Handle("POST /files/stream", authed(fileHandler.UploadStream))
	mux.Handle("GET /files", authed(fileHandler.List))
	mux.Handle("GET /files/download/{file_id}", authed(fileHandler.Download))
	mux.Handle("GET /files/access/{file_id}", authed(fileHandler.AccessInfo))
	mux.Handle("PATCH /files/access/{file_id}", authed(fileHandler.ChangeAccess))
	mux.Handle("DELETE /files/access/{file_id}", authed(fileHandler.RemoveAccess))
	mux.Handle("PATCH /files/{file_id}", authed(fileHandler.Rename))
	mux.Handle("PUT /files/{file_id}", authed(fileHandler.Replace))
	mux.Handle("PUT /files/stream/{file_id}", authed(fileHandler.ReplaceStream))
	mux.Handle("DELETE /files/{file_id}", authed(fileHandler.Delete))

	mux.HandleFunc("GET /internal/maintenance/sweep", sweepHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/sweep", sweepHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			_ = redisClient.Close()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
