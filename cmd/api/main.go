package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	chicors "github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"urgency-timer-api/internal/cache"
	"urgency-timer-api/internal/config"
	"urgency-timer-api/internal/database"
	"urgency-timer-api/internal/emailgif"
	"urgency-timer-api/internal/events"
	"urgency-timer-api/internal/features"
	"urgency-timer-api/internal/handler"
	"urgency-timer-api/internal/middleware"
	"urgency-timer-api/internal/service"
	tlsconfig "urgency-timer-api/internal/tls"
	"urgency-timer-api/internal/tracing"
	"urgency-timer-api/internal/views"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file")
	prettyLog := flag.Bool("pretty-log", false, "Human-readable log output")
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *prettyLog {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.JaegerURL,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: os.Getenv("ENVIRONMENT"),
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to initialize database")
	}
	defer db.Close()

	// Candidate cache: Redis when configured, in-memory otherwise.
	var timerCache cache.Cache
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
		}
		timerCache = redisCache
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis candidate cache")
	} else {
		timerCache = cache.NewInMemoryCache()
		log.Info().Msg("using in-memory candidate cache")
	}

	flags := features.Defaults()
	if !cfg.Email.Enabled {
		flags.Disable(features.FeatureEmailGIF)
	}

	eventManager := events.NewManager(true)
	defer eventManager.Shutdown()

	// View ingestion pipeline
	viewQueue := views.NewQueue(cfg.Views.QueueSize)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	var viewRedis *redis.Client
	if redisCache != nil {
		viewRedis = redisCache.Client()
	}
	worker := views.NewWorkerWithConfig(db, viewRedis, viewQueue,
		cfg.Views.BatchSize, time.Duration(cfg.Views.BatchTimeout)*time.Second)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	svc := service.NewServiceWithOptions(db, service.Options{
		Cache:     timerCache,
		Events:    eventManager,
		Flags:     flags,
		ViewQueue: viewQueue,
	})

	handlerOpts := handler.DefaultHandlerOptions()
	handlerOpts.MaxBodySize = cfg.Security.MaxRequestBodySize
	if cfg.Email.Enabled {
		renderer, err := emailgif.NewRenderer(cfg.Email.FontPath)
		if err != nil {
			log.Fatal().Err(err).Str("font", cfg.Email.FontPath).Msg("failed to initialize gif renderer")
		}
		handlerOpts.GIFRenderer = renderer
	}
	h := handler.NewHandlerWithOptions(svc, handlerOpts)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
	defer rateLimiter.Stop()

	r := newRouter(cfg, h, rateLimiter)

	var tlsConfig *tls.Config
	if cfg.Server.EnableTLS {
		tlsConfig, err = tlsconfig.LoadTLSConfig(tlsconfig.Config{
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS configuration")
		}
		if cfg.Server.CertFile == "" || cfg.Server.KeyFile == "" {
			log.Warn().Msg("no certificate files provided, using self-signed certificate for development")
		}
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:      addr,
		Handler:   r,
		TLSConfig: tlsConfig,
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	log.Info().
		Str("addr", addr).
		Str("db", cfg.Database.Path).
		Bool("tls", cfg.Server.EnableTLS).
		Msg("starting server")

	if cfg.Server.EnableTLS {
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}

	// The listener is closed; stop the view worker and wait for its final
	// flush before the deferred db.Close runs.
	stopWorker()
	<-workerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown error")
	}
}

// newRouter assembles the HTTP surface: a CORS-open public mount for the
// storefront embed and email clients, a restricted admin mount, and a health
// check. CORS middleware goes on mounted sub-routers so it sees preflight
// OPTIONS requests before method routing can reject them.
func newRouter(cfg *config.Config, h *handler.Handler, rateLimiter *middleware.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger())
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())
	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	// Public storefront routes. The embed script runs on arbitrary shop
	// domains, so CORS stays wide open and preflights answer 204.
	publicCORS := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	public := chi.NewRouter()
	public.Use(publicCORS.Handler)
	public.Get("/timers", h.ResolveTimers)
	public.Post("/views", h.RecordView)
	public.Get("/timers/{timer_id}/email.gif", h.EmailGIF)
	r.Mount("/public", public)

	// Admin routes
	adminCORS := chicors.Handler(chicors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	timers := chi.NewRouter()
	timers.Use(adminCORS)
	timers.Post("/", h.CreateTimer)
	timers.Get("/", h.ListTimers)
	timers.Get("/{timer_id}", h.GetTimer)
	timers.Put("/{timer_id}", h.UpdateTimer)
	timers.Delete("/{timer_id}", h.DeleteTimer)
	r.Mount("/timers", timers)

	shops := chi.NewRouter()
	shops.Use(adminCORS)
	shops.Get("/{shop}/usage", h.GetShopUsage)
	r.Mount("/shops", shops)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

// requestLogger emits one structured line per request.
func requestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
