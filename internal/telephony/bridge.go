package telephony

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// mediaEnvelope is the outbound audio message the carrier expects
type mediaEnvelope struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// clearEnvelope tells the carrier to discard audio it has buffered for
// playback but not yet emitted
type clearEnvelope struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// Bridge implements session.Transport over one carrier media stream. Writes
// are serialized because the playback goroutine and the consumer loop (on
// interrupt) both talk to the same socket.
type Bridge struct {
	conn      *websocket.Conn
	streamSid string
	writeMu   sync.Mutex
}

// NewBridge wraps an upgraded carrier connection
func NewBridge(conn *websocket.Conn, streamSid string) *Bridge {
	return &Bridge{conn: conn, streamSid: streamSid}
}

// WriteMedia sends one chunk of companded wire audio to the caller
func (b *Bridge) WriteMedia(payload []byte) error {
	msg := mediaEnvelope{
		Event:     "media",
		StreamSid: b.streamSid,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(payload)},
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write media to carrier: %w", err)
	}
	return nil
}

// Clear asks the carrier to drop its buffered playback audio. Sent on
// interruption before any new audio is queued; the local cancel token alone
// cannot reach audio the carrier already holds.
func (b *Bridge) Clear() error {
	msg := clearEnvelope{Event: "clear", StreamSid: b.streamSid}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send clear to carrier: %w", err)
	}
	return nil
}

// StreamSid identifies this stream in carrier control messages
func (b *Bridge) StreamSid() string {
	return b.streamSid
}
