// Package stream maintains a persistent WebSocket subscription to the
// builder backend's status feed. Pushed updates land in the session store
// through the same override-guarded merge as polling, so the stream is a
// latency improvement, never a second source of truth.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	"github.com/liquidcrypto/liquidos-builder/internal/metrics"
)

// UpdateSink receives pushed build updates. *session.Store implements it.
type UpdateSink interface {
	ApplyServerUpdate(id string, upd builder.BuildUpdate) error
}

// Config holds stream client configuration.
type Config struct {
	// URL is the WebSocket status feed, e.g. "ws://localhost:4100/api/builder/stream".
	URL string

	// Token is sent as a Bearer header on the upgrade request.
	Token string

	// ReconnectInterval is the initial delay between reconnection attempts.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the exponential backoff.
	MaxReconnectInterval time.Duration
}

// frame is a pushed protocol frame. The backend sends "status" frames with
// a partial build update and periodic "ping" frames.
type frame struct {
	Type   string          `json:"type"`
	Update json.RawMessage `json:"update,omitempty"`
}

// Client is a persistent status feed subscriber.
type Client struct {
	cfg     Config
	sink    UpdateSink
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a stream client feeding the given sink.
func NewClient(cfg Config, sink UpdateSink, logger zerolog.Logger) *Client {
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 1 * time.Second
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With().Str("component", "stream").Logger(),
	}
}

// SetMetrics attaches a metrics collector.
func (c *Client) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// Run connects and consumes the feed until ctx is cancelled, reconnecting
// with exponential backoff on any failure. Blocks; run it in its own
// goroutine.
func (c *Client) Run(ctx context.Context) {
	delay := c.cfg.ReconnectInterval
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("stream connect failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.MaxReconnectInterval {
				delay = c.cfg.MaxReconnectInterval
			}
			if c.metrics != nil {
				c.metrics.StreamReconnects.Inc()
			}
			continue
		}

		delay = c.cfg.ReconnectInterval
		c.logger.Info().Str("url", c.cfg.URL).Msg("stream connected")
		c.consume(ctx, conn)
		_ = conn.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
		c.logger.Warn().Msg("stream disconnected; reconnecting")
		if c.metrics != nil {
			c.metrics.StreamReconnects.Inc()
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	var header http.Header
	if c.cfg.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.cfg.Token}}
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	return conn, err
}

// consume reads frames until the connection drops or ctx is cancelled.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("stream read error")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.logger.Warn().Err(err).Msg("stream parse error")
			continue
		}

		switch f.Type {
		case "status":
			c.handleStatus(f.Update)
		case "ping":
		default:
			c.logger.Debug().Str("type", f.Type).Msg("unknown stream frame")
		}
	}
}

func (c *Client) handleStatus(raw json.RawMessage) {
	var upd builder.BuildUpdate
	if err := json.Unmarshal(raw, &upd); err != nil {
		c.logger.Warn().Err(err).Msg("bad status frame")
		return
	}
	if upd.ID == "" {
		c.logger.Warn().Msg("status frame missing build id")
		return
	}
	if err := c.sink.ApplyServerUpdate(upd.ID, upd); err != nil {
		c.logger.Debug().Err(err).Str("build_id", upd.ID).Msg("status frame dropped")
	}
}
