// Package relay is the websocket client of the signaling relay. It redials with
// exponential backoff and reports connection changes to the engine, which
// re-joins the meeting after every connect.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/VoiceMesh/internal/app/event"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

var ErrNotConnected = errors.New("relay not connected")

type Config struct {
	URL          string
	SendBuffer   int
	WriteWait    time.Duration
	PongWait     time.Duration
	PingPeriod   time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Backpressure BackpressureAction
}

func (c *Config) defaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 30 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	post   event.Poster
	log    zerolog.Logger

	mu      sync.RWMutex
	current *wsConn
}

var _ core.Signaler = (*Client)(nil)

func NewClient(cfg Config, post event.Poster, log zerolog.Logger) *Client {
	cfg.defaults()
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		post:   post,
		log:    log,
	}
}

// Send encodes m and queues it on the live connection.
func (c *Client) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.RLock()
	conn := c.current
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	err = conn.TrySend(data)
	if errors.Is(err, ErrBackpressure) && c.cfg.Backpressure == Redial {
		c.log.Warn().Str("type", string(m.MessageType())).Msg("send queue full, redialing")
		conn.Close()
	}
	return err
}

// Run keeps a connection to the relay until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	if _, err := url.Parse(c.cfg.URL); err != nil {
		return fmt.Errorf("relay url: %w", err)
	}
	for {
		ws, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
			return c.dial(ctx)
		}, backoff.WithBackOff(c.backoff()), backoff.WithMaxElapsedTime(0))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay dial: %w", err)
		}

		conn := newWSConn(ws, c.cfg.SendBuffer)
		c.setCurrent(conn)
		c.log.Info().Str("url", c.cfg.URL).Msg("relay connected")
		c.post(event.RelayConnected{})

		err = c.serve(ctx, conn)

		c.setCurrent(nil)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Err(err).Msg("relay connection lost")
		c.post(event.RelayDisconnected{Err: err})
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.log.Debug().Err(err).Str("url", c.cfg.URL).Msg("relay dial failed")
		return nil, err
	}
	return ws, nil
}

func (c *Client) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.MinBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	return b
}

func (c *Client) setCurrent(conn *wsConn) {
	c.mu.Lock()
	c.current = conn
	c.mu.Unlock()
}

// serve runs both pumps until either of them stops.
func (c *Client) serve(ctx context.Context, conn *wsConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var readErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		c.writePump(ctx, conn)
	})
	wg.Go(func() {
		defer cancel()
		readErr = c.readPump(conn)
	})
	wg.Wait()
	return readErr
}
