package socketio

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/RideTrack/internal/integrations/push"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrNotConnected = errors.New("socketio: not connected")
	ErrConnectError = errors.New("socketio: namespace connect refused")
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20

	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
)

// engine.io packet types
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// socket.io packet types
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

type Config struct {
	// URL of the socket server, http(s) or ws(s).
	URL       string
	Path      string
	Namespace string
	UserType  string
	UserID    string
	Header    http.Header

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// Client is a Socket.IO v4 client over a plain WebSocket transport. Inbound
// events are dispatched through the embedded Hub, so trackers register on the
// client exactly as on any push.Conn.
type Client struct {
	*push.Hub

	cfg    Config
	log    zerolog.Logger
	dialer *websocket.Dialer

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn

	connected atomic.Bool
	connects  atomic.Int64
}

type Option func(*Client)

func WithLogger(lg zerolog.Logger) Option {
	return func(c *Client) { c.log = lg }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Path == "" {
		cfg.Path = "/socket.io/"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "/"
	}
	if cfg.UserType == "" {
		cfg.UserType = "user"
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
		if cfg.MaxBackoff < cfg.MinBackoff {
			cfg.MaxBackoff = cfg.MinBackoff
		}
	}
	c := &Client{
		Hub:    push.NewHub(),
		cfg:    cfg,
		log:    zerolog.Nop(),
		dialer: websocket.DefaultDialer,
	}
	for _, o := range opts {
		o(c)
	}
	c.Hub.SetOutbound(c.send)
	return c
}

func (c *Client) Connected() bool { return c.connected.Load() }

// Connects returns how many times the namespace connect succeeded.
func (c *Client) Connects() int64 { return c.connects.Load() }

// Run keeps the connection up until ctx is done. Reconnect attempts never give up.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		err := c.session(ctx, func() { backoff = c.cfg.MinBackoff })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("socket disconnected")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", errors.Wrap(err, "parse socket url")
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = c.cfg.Path
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) session(ctx context.Context, connected func()) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, endpoint, c.cfg.Header)
	if err != nil {
		return errors.Wrap(err, "dial socket")
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	wait := defaultPingInterval + defaultPingTimeout
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read frame")
		}
		if len(data) == 0 {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))

		switch data[0] {
		case eioOpen:
			var hs handshake
			if err := json.Unmarshal(data[1:], &hs); err != nil {
				return errors.Wrap(err, "decode handshake")
			}
			if hs.PingInterval > 0 && hs.PingTimeout > 0 {
				wait = time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond
				_ = conn.SetReadDeadline(time.Now().Add(wait))
			}
			if err := c.write(conn, c.packet(sioConnect, nil)); err != nil {
				return err
			}
		case eioPing:
			if err := c.write(conn, []byte{eioPong}); err != nil {
				return err
			}
		case eioClose:
			return errors.New("server closed the session")
		case eioMessage:
			if err := c.onMessage(conn, data[1:], connected); err != nil {
				return err
			}
		}
	}
}

func (c *Client) onMessage(conn *websocket.Conn, data []byte, connected func()) error {
	if len(data) == 0 {
		return nil
	}
	typ := data[0]
	ns, body := splitNamespace(data[1:])
	if ns != c.cfg.Namespace {
		return nil
	}

	switch typ {
	case sioConnect:
		c.connected.Store(true)
		n := c.connects.Add(1)
		connected()
		c.log.Info().Int64("connects", n).Msg("socket connected")
		if err := c.emitUserConnect(conn); err != nil {
			return err
		}
		if n > 1 {
			c.Hub.Reconnected()
		}
	case sioDisconnect:
		return errors.New("namespace disconnected by server")
	case sioConnectError:
		return errors.Wrap(ErrConnectError, string(body))
	case sioEvent:
		event, payload, err := decodeEvent(body)
		if err != nil {
			c.log.Warn().Err(err).Msg("skip malformed socket event")
			return nil
		}
		c.Hub.Dispatch(event, payload)
	}
	return nil
}

func (c *Client) emitUserConnect(conn *websocket.Conn) error {
	frame, err := c.eventFrame("user_connect", map[string]string{
		"userType": c.cfg.UserType,
		"userId":   c.cfg.UserID,
	})
	if err != nil {
		return err
	}
	return c.write(conn, frame)
}

// send is the outbound side of the embedded Hub.
func (c *Client) send(event string, payload json.RawMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	frame, err := c.eventFrame(event, payload)
	if err != nil {
		return err
	}
	return c.write(conn, frame)
}

func (c *Client) eventFrame(event string, payload any) ([]byte, error) {
	body, err := json.Marshal([]any{event, payload})
	if err != nil {
		return nil, errors.Wrap(err, "marshal event")
	}
	return c.packet(sioEvent, body), nil
}

func (c *Client) packet(typ byte, body []byte) []byte {
	var b bytes.Buffer
	b.WriteByte(eioMessage)
	b.WriteByte(typ)
	if c.cfg.Namespace != "/" {
		b.WriteString(c.cfg.Namespace)
		b.WriteByte(',')
	}
	b.Write(body)
	return b.Bytes()
}

func (c *Client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

func splitNamespace(data []byte) (string, []byte) {
	if len(data) == 0 || data[0] != '/' {
		return "/", data
	}
	i := bytes.IndexByte(data, ',')
	if i < 0 {
		return string(data), nil
	}
	return string(data[:i]), data[i+1:]
}

// decodeEvent parses `[ackID]["name", data]`. Extra arguments are dropped.
func decodeEvent(body []byte) (string, json.RawMessage, error) {
	body = bytes.TrimLeft(body, "0123456789")
	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return "", nil, errors.Wrap(err, "decode event")
	}
	if len(args) == 0 {
		return "", nil, errors.New("event without name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, errors.Wrap(err, "decode event name")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, errors.New("event without name")
	}
	if len(args) < 2 {
		return name, json.RawMessage("null"), nil
	}
	return name, args[1], nil
}

var _ push.Conn = (*Client)(nil)
