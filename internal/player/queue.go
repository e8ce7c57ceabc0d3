package player

import (
	"errors"
	"time"
)

// ErrQueueFull is returned when a playback request cannot be enqueued
var ErrQueueFull = errors.New("playback queue is full")

// Request is one bot utterance ready to stream to the caller. Audio is
// already encoded for the transport that will carry it.
type Request struct {
	Audio      []byte
	Voice      string
	Text       string
	EnqueuedAt time.Time
}

// Queue holds pending playback requests in arrival order. An interruption
// clears it wholesale, so consumers must tolerate the channel yielding
// nothing after a request was known to be queued.
type Queue struct {
	ch chan *Request
}

// NewQueue creates a queue holding up to size pending requests
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 16
	}
	return &Queue{ch: make(chan *Request, size)}
}

// Enqueue adds a request without blocking. A full queue is a sign the
// transport has stalled; the caller decides whether to drop or retry.
func (q *Queue) Enqueue(r *Request) error {
	select {
	case q.ch <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

// C exposes the consume side for the playback loop's select
func (q *Queue) C() <-chan *Request {
	return q.ch
}

// Clear drains all pending requests and returns how many were dropped
func (q *Queue) Clear() int {
	dropped := 0
	for {
		select {
		case <-q.ch:
			dropped++
		default:
			return dropped
		}
	}
}

// Len returns the number of pending requests
func (q *Queue) Len() int {
	return len(q.ch)
}
