// Command breakpoint is the Breakpoint game server process. It also
// doubles as the §4.J compatibility relay when run with -mode=relay, since
// SPEC_FULL.md names a single entrypoint rather than a separate relay
// binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/alertfanout"
	"github.com/breakpointhq/breakpoint/internal/auth"
	"github.com/breakpointhq/breakpoint/internal/bus"
	"github.com/breakpointhq/breakpoint/internal/config"
	"github.com/breakpointhq/breakpoint/internal/event"
	"github.com/breakpointhq/breakpoint/internal/game"
	"github.com/breakpointhq/breakpoint/internal/games/demo"
	"github.com/breakpointhq/breakpoint/internal/ingest"
	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/middleware"
	"github.com/breakpointhq/breakpoint/internal/ratelimit"
	"github.com/breakpointhq/breakpoint/internal/relay"
	"github.com/breakpointhq/breakpoint/internal/roomapi"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
	"github.com/breakpointhq/breakpoint/internal/runtime"
	"github.com/breakpointhq/breakpoint/internal/tracing"
	"github.com/breakpointhq/breakpoint/internal/wsconn"
)

// Exit codes per §6: 0 clean shutdown, 2 bad configuration, 3 bind
// failure, 64 invalid argument (matches the sysexits.h convention the
// teacher's scripts already assume for its own CLI tools).
const (
	exitOK             = 0
	exitBadConfig      = 2
	exitBindFailure    = 3
	exitInvalidArgument = 64
)

func main() {
	os.Exit(run())
}

func run() int {
	mode := flag.String("mode", "server", "deployment mode: server or relay")
	configPath := flag.String("config", "", "path to a TOML configuration file (optional)")
	flag.Parse()
	if *mode != "server" && *mode != "relay" {
		fmt.Fprintf(os.Stderr, "breakpoint: invalid -mode %q (want server or relay)\n", *mode)
		return exitInvalidArgument
	}

	for _, path := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	development := os.Getenv("DEVELOPMENT_MODE") == "true"
	if err := logging.Initialize(development); err != nil {
		fmt.Fprintf(os.Stderr, "breakpoint: failed to initialize logging: %v\n", err)
		return exitBadConfig
	}
	logger := logging.GetLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "breakpoint", collectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	if *mode == "relay" {
		return runRelay(ctx)
	}
	return runServer(ctx, *configPath)
}

func runRelay(ctx context.Context) int {
	mgr := relay.New()
	handler := relay.NewHandler(mgr)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID())
	router.GET("/ws", handler.ServeWs)
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": "relay"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := envOrDefault("BREAKPOINT_LISTEN_ADDR", "0.0.0.0:8080")
	return serve(ctx, addr, router)
}

func runServer(ctx context.Context, configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Error(ctx, "configuration invalid", zap.Error(err))
		return exitBadConfig
	}

	var redisBus *bus.Service
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisBus, err = bus.NewService(redisAddr, os.Getenv("REDIS_PASSWORD"))
		if err != nil {
			logging.Warn(ctx, "redis unavailable, running single-instance", zap.Error(err))
			redisBus = nil
		} else {
			defer redisBus.Close()
		}
	}

	store := event.NewStore(10000)

	registry := game.NewRegistry()
	registry.Register("demo", demo.New)

	rooms := roommgr.New(
		time.Duration(cfg.Timeouts.IdleGraceSecs)*time.Second,
		10*time.Second,
		time.Duration(cfg.Timeouts.ReconnectTTLSecs)*time.Second,
		time.Duration(cfg.Timeouts.HostMigrationGraceSecs)*time.Second,
	)

	coordinator := runtime.New(rooms, registry)
	coordinator.Wire()

	var redisClient = redisBus.Client()
	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Error(ctx, "failed to construct rate limiter", zap.Error(err))
		return exitBadConfig
	}

	bearer := auth.NewBearerAuth(cfg.Auth.APIToken)
	secrets := ingest.NewWebhookSecrets(cfg.Auth.WebhookSecrets)
	ingestHandler := ingest.NewHandler(store, rooms, secrets)
	roomHandler := roomapi.NewHandler(rooms)

	allowedOrigins := splitEnvList("BREAKPOINT_ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	wsHandler := wsconn.NewHandler(rooms, store, limiter, coordinator, allowedOrigins)

	go rooms.RunIdleSweep(ctx)
	go alertfanout.Run(ctx, store, rooms)
	go store.RunExpirySweep(ctx, 10*time.Second)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID(), otelgin.Middleware("breakpoint"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-Session-Token")
	router.Use(cors.New(corsConfig))

	router.GET("/ws", wsHandler.ServeWs)
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": "server"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	roomHandler.RegisterRoutes(api)

	authed := api.Group("")
	authed.Use(bearer.Middleware())
	ingestHandler.RegisterRoutes(authed, api, limiter.EventsMiddleware())

	return serve(ctx, cfg.ListenAddr, router)
}

func serve(ctx context.Context, addr string, handler http.Handler) int {
	srv := &http.Server{Addr: addr, Handler: handler}

	bindErr := make(chan error, 1)
	go func() {
		logging.Info(ctx, "server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			bindErr <- err
		}
	}()

	select {
	case err := <-bindErr:
		logging.Error(ctx, "server failed to bind", zap.Error(err))
		return exitBindFailure
	case <-ctx.Done():
	}

	logging.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "graceful shutdown failed", zap.Error(err))
	}
	logging.Info(ctx, "server exited")
	return exitOK
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
