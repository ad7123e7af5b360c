package ingest

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/alertstream/siem-engine/internal/alert"
	"github.com/alertstream/siem-engine/internal/metrics"
)

// Client is one connected streaming subscriber. Frames are delivered on a
// buffered channel; the channel is closed when the client is unsubscribed.
type Client struct {
	id      string
	frames  chan []byte
	dropped atomic.Int64
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Frames returns the receive-only channel of JSON-encoded alert frames.
func (c *Client) Frames() <-chan []byte { return c.frames }

// Dropped returns how many frames were discarded because this client's
// buffer was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Broadcaster maintains the set of connected streaming clients and the
// recent-alert ring used for replay. Ring and client set live under one
// mutex: Broadcast appends to the ring and fans out as a single critical
// section, and Subscribe snapshots the ring and registers the client in
// another. A subscriber therefore sees exactly the ring contents at
// subscription time followed by every later broadcast, with no gap and no
// duplicate.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[string]*Client
	ring    [][]byte
	ringCap int
	log     zerolog.Logger
}

// NewBroadcaster creates a Broadcaster whose replay ring holds ringCap frames.
func NewBroadcaster(ringCap int, log zerolog.Logger) *Broadcaster {
	if ringCap <= 0 {
		ringCap = 50
	}
	return &Broadcaster{
		clients: make(map[string]*Client),
		ringCap: ringCap,
		log:     log.With().Str("component", "broadcaster").Logger(),
	}
}

// Seed preloads the replay ring with alerts in ascending timestamp order.
// Called once at startup, before any client can connect.
func (b *Broadcaster) Seed(alerts []alert.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range alerts {
		frame, err := json.Marshal(a)
		if err != nil {
			continue
		}
		b.push(frame)
	}
}

// Subscribe registers a new client and queues the replay batch on its frame
// channel ahead of any live broadcast. The buffer always has room for the
// full replay plus a live burst, so replay frames are never dropped.
func (b *Broadcaster) Subscribe(id string) *Client {
	c := &Client{
		id:     id,
		frames: make(chan []byte, b.ringCap+64),
	}

	b.mu.Lock()
	for _, frame := range b.ring {
		c.frames <- frame
	}
	b.clients[id] = c
	n := len(b.clients)
	b.mu.Unlock()

	metrics.ConnectedClients.Inc()
	b.log.Info().Str("client_id", id).Int("clients", n).Msg("client subscribed")
	return c
}

// Unsubscribe removes the client and closes its frame channel so the write
// pump exits. Unknown ids are a no-op.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	n := len(b.clients)
	b.mu.Unlock()

	if !ok {
		return
	}
	close(c.frames)
	metrics.ConnectedClients.Dec()
	b.log.Info().
		Str("client_id", id).
		Int64("dropped_frames", c.dropped.Load()).
		Int("clients", n).
		Msg("client unsubscribed")
}

// Broadcast appends a to the replay ring and delivers it to every connected
// client. Sends are non-blocking: a slow client drops the frame and keeps
// its connection, so one stalled dashboard never delays the others.
func (b *Broadcaster) Broadcast(a alert.Alert) {
	frame, err := json.Marshal(a)
	if err != nil {
		b.log.Error().Err(err).Str("alert_id", a.ID).Msg("broadcast marshal failed")
		return
	}

	b.mu.Lock()
	b.push(frame)
	for _, c := range b.clients {
		select {
		case c.frames <- frame:
		default:
			c.dropped.Add(1)
			metrics.BroadcastDroppedTotal.Inc()
			b.log.Warn().Str("client_id", c.id).Msg("client buffer full, dropping alert")
		}
	}
	b.mu.Unlock()
}

// Recent returns a copy of the replay ring, oldest first.
func (b *Broadcaster) Recent() []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]json.RawMessage, len(b.ring))
	for i, frame := range b.ring {
		out[i] = json.RawMessage(frame)
	}
	return out
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close unsubscribes every client. Used at shutdown.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*Client)
	b.mu.Unlock()

	for _, c := range clients {
		close(c.frames)
		metrics.ConnectedClients.Dec()
	}
}

// push appends a frame to the ring, evicting the oldest past capacity.
// Caller holds b.mu.
func (b *Broadcaster) push(frame []byte) {
	b.ring = append(b.ring, frame)
	if len(b.ring) > b.ringCap {
		b.ring = b.ring[len(b.ring)-b.ringCap:]
	}
}
