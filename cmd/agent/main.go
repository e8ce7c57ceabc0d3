package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/audio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/brain"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/config"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/localaudio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/pipeline"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/player"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/session"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/stt"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/tts"
)

// Microphone/speaker variant of the agent for testing the full loop without
// a carrier in front of it.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Int("sample_rate", cfg.DeviceSampleRate).
		Str("reply_url", cfg.ReplyURL).
		Msg("Local voice agent starting")

	transcoder := audio.NewTranscoder(
		cfg.FFmpegPath,
		time.Duration(cfg.TranscodeTimeout)*time.Second,
		time.Duration(cfg.FallbackSilenceMs)*time.Millisecond,
	)

	// The device consumes raw PCM16, so no companding on the way out
	chain := pipeline.New(
		stt.NewDeepgram(cfg),
		brain.NewClient(cfg),
		tts.NewCartesia(cfg),
		transcoder,
		pipeline.Options{
			TargetRate:   cfg.DeviceSampleRate,
			Mulaw:        false,
			LanguageHint: cfg.STTLanguageHint,
		},
	)

	playerCfg := player.Config{
		ChunkDuration:  time.Duration(cfg.PlaybackChunkMs) * time.Millisecond,
		BytesPerSecond: 2 * cfg.DeviceSampleRate,
		MaxAge:         time.Duration(cfg.PlaybackMaxAgeMs) * time.Millisecond,
	}

	device := localaudio.New(localaudio.Config{
		SampleRate:    cfg.DeviceSampleRate,
		FrameDuration: time.Duration(cfg.FrameDuration) * time.Millisecond,
		BufferSize:    cfg.AudioBufferSize,
	})

	sess := session.New(cfg, "local", device, chain, playerCfg)
	sess.Start()

	if err := device.Start(sess); err != nil {
		sess.Close()
		logger.Fatal().Err(err).Msg("Failed to start audio device")
	}

	if cfg.Greeting != "" {
		go func() {
			req, err := chain.Say(context.Background(), "local", cfg.Greeting, "")
			if err != nil {
				logger.Error().Err(err).Msg("Failed to synthesize greeting")
				return
			}
			if req == nil {
				return
			}
			if err := sess.Speak(req); err != nil {
				logger.Warn().Err(err).Msg("Failed to queue greeting")
			}
		}()
	}

	logger.Info().Msg("Listening on microphone, press Ctrl+C to exit")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")
	device.Stop()
	sess.Close()
}
