package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/audio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/brain"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/config"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/pipeline"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/player"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/session"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/stt"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/telephony"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("reply_url", cfg.ReplyURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice agent starting")

	transcoder := audio.NewTranscoder(
		cfg.FFmpegPath,
		time.Duration(cfg.TranscodeTimeout)*time.Second,
		time.Duration(cfg.FallbackSilenceMs)*time.Millisecond,
	)

	chain := pipeline.New(
		stt.NewDeepgram(cfg),
		brain.NewClient(cfg),
		tts.NewCartesia(cfg),
		transcoder,
		pipeline.Options{
			TargetRate:   audio.WireSampleRate,
			Mulaw:        true,
			LanguageHint: cfg.STTLanguageHint,
		},
	)

	// Carrier audio is 8kHz mu-law: one byte per sample on the wire
	playerCfg := player.Config{
		ChunkDuration:  time.Duration(cfg.PlaybackChunkMs) * time.Millisecond,
		BytesPerSecond: audio.WireSampleRate,
		MaxAge:         time.Duration(cfg.PlaybackMaxAgeMs) * time.Millisecond,
	}

	factory := func(transport session.Transport, callSID string) telephony.StreamSession {
		s := session.New(cfg, callSID, transport, chain, playerCfg)
		s.Start()
		if cfg.Greeting != "" {
			go func() {
				req, err := chain.Say(context.Background(), callSID, cfg.Greeting, "")
				if err != nil {
					logger.Error().Err(err).Msg("Failed to synthesize greeting")
					return
				}
				if req == nil {
					return
				}
				if err := s.Speak(req); err != nil {
					logger.Warn().Err(err).Msg("Failed to queue greeting")
				}
			}()
		}
		return s
	}

	// Create HTTP server
	mux := http.NewServeMux()

	// Register carrier media stream handler
	mux.HandleFunc("/streams/twilio", telephony.NewHandler(factory))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint with per-dependency probes
	checks := map[string]observability.HealthCheckFunc{
		"media_converter": func(ctx context.Context) (bool, error) {
			if err := transcoder.CheckAvailable(); err != nil {
				return false, err
			}
			return true, nil
		},
	}
	if cfg.ReplyHealthAddr != "" {
		prober := brain.NewHealthProber(cfg.ReplyHealthAddr)
		defer prober.Close()
		checks["reply_backend"] = prober.Check
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", streamEndpoint(cfg)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// streamEndpoint is the URL the carrier should be pointed at
func streamEndpoint(cfg *config.Config) string {
	if cfg.PublicURL == "" {
		return fmt.Sprintf("ws://localhost:%s/streams/twilio", cfg.Port)
	}
	endpoint := strings.TrimSuffix(cfg.PublicURL, "/") + "/streams/twilio"
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)
	return strings.Replace(endpoint, "http://", "ws://", 1)
}
