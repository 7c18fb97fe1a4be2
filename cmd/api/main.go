package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"multimodal-agent/internal/cache"
	"multimodal-agent/internal/config"
	httphandler "multimodal-agent/internal/http"
	"multimodal-agent/internal/logging"
	"multimodal-agent/internal/metrics"
	"multimodal-agent/internal/middleware"
	"multimodal-agent/internal/services/agent"
	"multimodal-agent/internal/services/cost"
	"multimodal-agent/internal/services/extract"
	"multimodal-agent/internal/services/extract/pdfdoc"
	"multimodal-agent/internal/services/extract/tesseract"
	"multimodal-agent/internal/services/intent"
	"multimodal-agent/internal/services/llm"
	"multimodal-agent/internal/services/task"
)

func main() {
	port := flag.String("port", "", "Port to run the server on (overrides PORT)")
	flag.Parse()

	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.Log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("No .env file loaded")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	m := metrics.New()

	llmClient, err := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.TranscribeModel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create LLM client")
	}

	extractor := extract.NewExtractor(
		tesseract.NewEngine(cfg.Extract.OCRLanguages...),
		pdfdoc.NewTextReader(),
		pdfdoc.NewRasterizer(),
		llmClient,
		extract.Options{
			MinPDFTextChars: cfg.Extract.MinPDFTextChars,
			PDFOCRDPI:       cfg.Extract.PDFOCRDPI,
			OCRConcurrency:  cfg.Extract.OCRConcurrency,
		},
	)

	dispatcher := task.NewDispatcher(llmClient, task.RetryPolicy{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Backoff:     cfg.Dispatch.RetryBackoff,
		Timeout:     cfg.Dispatch.UpstreamTimeout,
	}, m)

	service := agent.NewService(extractor, intent.NewClassifier(), dispatcher, m, agent.Options{
		MaxFileSize:  cfg.Limits.MaxFileSize,
		PreviewChars: cfg.Limits.ExtractPreviewChars,
	})

	var counter cost.TokenCounter
	if tok, err := cost.NewTiktoken("cl100k_base"); err != nil {
		log.Warn().Err(err).Msg("Token encoder unavailable, estimating from byte length")
	} else {
		counter = tok
	}
	estimator := cost.NewEstimator(cost.Pricing{
		InputPerMTok:          cfg.Pricing.InputPerMTok,
		OutputPerMTok:         cfg.Pricing.OutputPerMTok,
		EstimatedOutputTokens: cfg.Pricing.EstimatedOutputTokens,
	}, counter)

	var (
		limiter middleware.Limiter = middleware.NewMemoryLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
		pinger  httphandler.Pinger
	)
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisCache.Close()

		limiter = middleware.NewRedisLimiter(redisCache, cfg.RateLimit.RequestsPerMinute)
		pinger = redisCache
	}

	router := httphandler.NewRouter(limiter, cfg.Server.RequestTimeout)
	router.RegisterAgentRoutes(httphandler.NewAgentHandler(service, estimator, cfg.Limits.MaxFileSize))
	router.RegisterHealthRoutes(httphandler.NewProbeHandler(pinger))
	router.RegisterMetricsRoutes(m.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Str("model", cfg.OpenAI.Model).
			Bool("redis", cfg.Redis.Addr != "").
			Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped")
}
