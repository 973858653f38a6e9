package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-overlay/internal/log"
)

// WebSocketFeed subscribes to a remote detector that streams detection
// batches over a websocket. It reconnects with exponential backoff until
// its context is cancelled.
type WebSocketFeed struct {
	url    string
	header http.Header
	out    *Mailbox
	logger *slog.Logger

	// Backoff bounds between reconnect attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	wsMu      sync.Mutex
	ws        *websocket.Conn
	connected atomic.Bool
	batches   atomic.Uint64
	rejected  atomic.Uint64
}

// FeedStats summarizes a remote feed.
type FeedStats struct {
	Connected bool   `json:"connected"`
	Batches   uint64 `json:"batches"`
	Rejected  uint64 `json:"rejected"`
}

// NewWebSocketFeed creates a feed for url. header may be nil.
func NewWebSocketFeed(url string, header http.Header, out *Mailbox) *WebSocketFeed {
	return &WebSocketFeed{
		url:        url,
		header:     header,
		out:        out,
		logger:     log.With("component", "live.websocket", "url", url),
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Run connects and reads until ctx is cancelled.
func (f *WebSocketFeed) Run(ctx context.Context) error {
	backoff := f.MinBackoff
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = f.MinBackoff
		}
		f.logger.Warn("detection feed disconnected, retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.MaxBackoff {
			backoff = f.MaxBackoff
		}
	}
}

// session runs one connection. It returns nil if at least one batch was
// received before the connection dropped.
func (f *WebSocketFeed) session(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		return fmt.Errorf("dial detection feed: %w", err)
	}

	f.wsMu.Lock()
	f.ws = ws
	f.wsMu.Unlock()
	f.connected.Store(true)
	f.logger.Info("detection feed connected")

	ws.SetPingHandler(func(appData string) error {
		f.wsMu.Lock()
		defer f.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	defer func() {
		close(done)
		f.connected.Store(false)
		f.wsMu.Lock()
		ws.Close()
		f.ws = nil
		f.wsMu.Unlock()
	}()

	go func() {
		select {
		case <-ctx.Done():
			f.wsMu.Lock()
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			ws.Close()
			f.wsMu.Unlock()
		case <-done:
		}
	}()
	go f.keepAlive(ws, done)

	received := false
	for {
		ws.SetReadDeadline(time.Now().Add(120 * time.Second))
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if received && !errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		dets, err := DecodeBatch(payload)
		if err != nil {
			if !errors.Is(err, ErrNotDetections) {
				f.rejected.Add(1)
				f.logger.Debug("rejected detection payload", "error", err)
			}
			continue
		}
		received = true
		f.batches.Add(1)
		f.out.Put(dets)
	}
}

// keepAlive sends periodic pings to keep the connection alive.
func (f *WebSocketFeed) keepAlive(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.wsMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			f.wsMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Stats returns feed counters.
func (f *WebSocketFeed) Stats() FeedStats {
	return FeedStats{
		Connected: f.connected.Load(),
		Batches:   f.batches.Load(),
		Rejected:  f.rejected.Load(),
	}
}
