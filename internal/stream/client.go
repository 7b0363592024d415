// Package stream maintains the websocket event channel to the backend and
// decodes its frames. One Client instance owns one logical connection and
// reconnects with a fixed delay for the life of the process.
package stream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ZE-BOSS/telegram-bot/internal/api"
	"github.com/ZE-BOSS/telegram-bot/internal/metrics"
)

// ErrNoToken is returned when a connection is attempted without a usable
// bearer token: missing, expired, or one the backend already rejected. The
// retry loop suspends until the token source yields a fresh one.
var ErrNoToken = errors.New("stream: no usable auth token")

const (
	defaultRetryDelay = 3 * time.Second
	handshakeTimeout  = 10 * time.Second
	readLimit         = 1 << 20
	pongWait          = 60 * time.Second
	pingPeriod        = 25 * time.Second
)

// TokenSource supplies the current bearer token; an empty string means no
// token is available (logged out, or the backend rejected the last one).
type TokenSource func() string

// Client is the transport connection. Construct with NewClient; Run blocks
// until the context is canceled.
type Client struct {
	url        string
	token      TokenSource
	log        zerolog.Logger
	retryDelay time.Duration

	// rejected holds the last token the backend refused; dialing with it
	// again is pointless until the token source yields a different one.
	// Touched only from the Run goroutine.
	rejected string

	// OnStateChange is invoked on every connectivity flip. It carries no
	// ordering guarantee relative to event delivery.
	OnStateChange func(connected bool)
}

// Option configures Client construction.
type Option func(*Client)

// WithRetryDelay overrides the fixed delay between reconnect attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// NewClient builds a stream client targeting the given websocket URL.
func NewClient(wsURL string, token TokenSource, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		url:        wsURL,
		token:      token,
		log:        log,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run delivers decoded events onto out until ctx is canceled. Every
// connection loss schedules exactly one reconnect attempt after the fixed
// delay. A missing or expired token, or one the backend rejected with
// 401/403, suspends dialing entirely until the token source yields a
// different token. Run never returns a transport error: all failures are
// logged and retried.
func (c *Client) Run(ctx context.Context, out chan<- Event) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.consume(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case errors.Is(err, ErrNoToken):
			c.log.Warn().Msg("stream: waiting for auth token")
		default:
			c.log.Warn().Err(err).Dur("retry_in", c.retryDelay).Msg("stream disconnected, retrying")
		}

		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) consume(ctx context.Context, out chan<- Event) error {
	token := c.token()
	if token == "" || token == c.rejected || api.TokenExpired(token, time.Now()) {
		return ErrNoToken
	}

	dialURL, err := appendToken(c.url, token)
	if err != nil {
		return err
	}

	metrics.ReconnectsTotal.Inc()
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.rejected = token
			return ErrNoToken
		}
		return err
	}
	defer conn.Close()
	c.rejected = ""

	c.setConnected(true)
	defer c.setConnected(false)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx, conn)

	// Unblock ReadMessage when the engine shuts down.
	go func() {
		<-pingCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := Decode(frame)
		if err != nil {
			metrics.DecodeErrorsTotal.Inc()
			c.log.Warn().Err(err).Str("frame", truncate(frame, 256)).Msg("dropping undecodable frame")
			continue
		}
		metrics.EventsTotal.WithLabelValues(ev.Kind()).Inc()

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("stream ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) setConnected(connected bool) {
	if connected {
		metrics.Connected.Set(1)
		c.log.Info().Msg("stream connected")
	} else {
		metrics.Connected.Set(0)
		c.log.Info().Msg("stream closed")
	}
	if c.OnStateChange != nil {
		c.OnStateChange(connected)
	}
}

func appendToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
