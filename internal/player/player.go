package player

import (
	"context"
	"errors"
	"time"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
)

// ErrStaleRequest is returned when a request sat in the queue longer than
// the configured maximum age and was rejected instead of played
var ErrStaleRequest = errors.New("playback request is stale")

// Sink carries encoded audio to the caller. Implemented by the telephony
// bridge and the local audio device.
type Sink interface {
	WriteMedia(payload []byte) error
}

// Result reports how a playback ended
type Result struct {
	Completed bool // false when cancelled or the sink failed
	BytesSent int
}

// Config tunes the streaming pace
type Config struct {
	// ChunkDuration is how much audio each write carries
	ChunkDuration time.Duration
	// BytesPerSecond is the byte rate of the encoded audio handed to the
	// sink (8000 for 8kHz μ-law, sampleRate*2 for PCM16)
	BytesPerSecond int
	// MaxAge rejects requests that waited too long in the queue; answering
	// a question the caller asked seconds ago reads as a malfunction
	MaxAge time.Duration
}

// DefaultConfig returns the production pacing for the telephony wire
func DefaultConfig() Config {
	return Config{
		ChunkDuration:  120 * time.Millisecond,
		BytesPerSecond: 8000,
		MaxAge:         5 * time.Second,
	}
}

// Player streams playback requests to a sink in small chunks, checking the
// cancel token between chunks so a barge-in takes effect within one chunk.
type Player struct {
	sink Sink
	cfg  Config

	// seams for tests
	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a player over the given sink. Zero config fields fall back
// to defaults.
func New(sink Sink, cfg Config) *Player {
	def := DefaultConfig()
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = def.ChunkDuration
	}
	if cfg.BytesPerSecond <= 0 {
		cfg.BytesPerSecond = def.BytesPerSecond
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	return &Player{
		sink:  sink,
		cfg:   cfg,
		sleep: time.Sleep,
		now:   time.Now,
	}
}

// Play streams one request to the sink. It returns ErrStaleRequest without
// sending anything when the request outlived MaxAge. Cancellation is a
// normal outcome: the Result reports Completed=false and how many bytes
// made it out.
func (p *Player) Play(ctx context.Context, req *Request, tok *CancelToken) (Result, error) {
	if req == nil || len(req.Audio) == 0 {
		return Result{Completed: true}, nil
	}

	if !req.EnqueuedAt.IsZero() && p.now().Sub(req.EnqueuedAt) > p.cfg.MaxAge {
		observability.RecordStaleDrop()
		return Result{}, ErrStaleRequest
	}

	chunkBytes := int(int64(p.cfg.BytesPerSecond) * int64(p.cfg.ChunkDuration) / int64(time.Second))
	if chunkBytes <= 0 {
		chunkBytes = len(req.Audio)
	}

	sent := 0
	for offset := 0; offset < len(req.Audio); offset += chunkBytes {
		if tok != nil && tok.Cancelled() {
			observability.RecordPlaybackChunk(true)
			return Result{Completed: false, BytesSent: sent}, nil
		}
		if err := ctx.Err(); err != nil {
			return Result{Completed: false, BytesSent: sent}, err
		}

		end := offset + chunkBytes
		if end > len(req.Audio) {
			end = len(req.Audio)
		}

		if err := p.sink.WriteMedia(req.Audio[offset:end]); err != nil {
			return Result{Completed: false, BytesSent: sent}, err
		}
		sent += end - offset
		observability.RecordPlaybackChunk(false)

		// Pace ahead of real time: half a chunk of headroom keeps the
		// transport fed without flooding it, and keeps cancellation
		// latency inside one chunk
		if end < len(req.Audio) {
			p.sleep(p.cfg.ChunkDuration / 2)
		}
	}

	return Result{Completed: true, BytesSent: sent}, nil
}
