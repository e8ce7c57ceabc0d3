package telephony

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/audio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // carrier webhooks have no browser origin; auth happens at the edge
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// twilioMessage is the inbound control envelope on a media stream socket
type twilioMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Media     *twilioMedia `json:"media,omitempty"`
	Start     *twilioStart `json:"start,omitempty"`
}

type twilioMedia struct {
	Track     string `json:"track,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type twilioStart struct {
	AccountSid string   `json:"accountSid"`
	CallSid    string   `json:"callSid"`
	StreamSid  string   `json:"streamSid"`
	Tracks     []string `json:"tracks"`
}

// StreamSession is the slice of a call session the stream handler drives
type StreamSession interface {
	EnqueueFrame(audio.Frame) error
	Close()
}

// SessionFactory builds and starts a session for an accepted call. The
// transport is the bridge wrapping the carrier socket the call arrived on.
type SessionFactory func(transport session.Transport, callSID string) StreamSession

// NewHandler returns the WebSocket endpoint carrier media streams connect to.
// One connection carries one call: connected -> start -> media... -> stop.
func NewHandler(newSession SessionFactory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.GetLogger()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to upgrade carrier connection")
			return
		}
		defer conn.Close()

		logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Carrier stream connected")

		var sess StreamSession
		defer func() {
			if sess != nil {
				sess.Close()
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("Carrier stream read error")
				}
				return
			}

			var msg twilioMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				logger.Error().Err(err).Msg("Failed to parse carrier message")
				continue
			}

			switch msg.Event {
			case "connected":
				logger.Debug().Msg("Carrier handshake complete")

			case "start":
				if sess != nil {
					logger.Warn().Msg("Duplicate start event on stream, ignoring")
					continue
				}
				callSID := msg.StreamSid
				streamSid := msg.StreamSid
				if msg.Start != nil {
					if msg.Start.CallSid != "" {
						callSID = msg.Start.CallSid
					}
					if msg.Start.StreamSid != "" {
						streamSid = msg.Start.StreamSid
					}
				}
				sess = newSession(NewBridge(conn, streamSid), callSID)
				logger.Info().
					Str("call_sid", callSID).
					Str("stream_sid", streamSid).
					Msg("Call stream started")

			case "media":
				if sess == nil || msg.Media == nil {
					continue
				}
				payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
				if err != nil {
					logger.Error().Err(err).Msg("Failed to decode media payload")
					continue
				}
				// Blocking on purpose: backpressure on the socket instead of
				// dropping caller audio.
				if err := sess.EnqueueFrame(audio.DecodeWire(payload, time.Now())); err != nil {
					logger.Warn().Err(err).Msg("Dropping media for closed session")
				}

			case "stop":
				logger.Info().Str("stream_sid", msg.StreamSid).Msg("Call stream stopped")
				return

			default:
				logger.Debug().Str("event", msg.Event).Msg("Ignoring unknown carrier event")
			}
		}
	}
}
