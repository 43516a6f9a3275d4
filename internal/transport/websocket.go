// Package transport provides the websocket transport adapter used by the realtime connection manager.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"rtlink/pkg/core"
)

// DialerConfig holds keepalive settings shared by every socket a Dialer opens.
type DialerConfig struct {
	// PingInterval is the duration between ping frames sent to keep the connection alive.
	PingInterval time.Duration
	// PongWait is the extra time allowed for a pong before the connection is considered dead.
	PongWait time.Duration
}

// Dialer opens gws websocket handles.
type Dialer struct {
	config DialerConfig
	logger zerolog.Logger
}

// NewDialer creates a Dialer. Zero-valued fields get defaults of 10s ping interval and 20s pong wait.
func NewDialer(config DialerConfig) *Dialer {
	if config.PingInterval == 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PongWait == 0 {
		config.PongWait = 20 * time.Second
	}
	return &Dialer{
		config: config,
		logger: zerolog.Nop(),
	}
}

// SetLogger configures the logger for sockets opened after the call.
func (d *Dialer) SetLogger(logger zerolog.Logger) {
	d.logger = logger
}

// Open returns an idle handle. The handshake starts when Connect is called.
func (d *Dialer) Open(url string, opts core.TransportOptions) core.TransportHandle {
	return &socket{
		url:       url,
		opts:      opts,
		config:    d.config,
		logger:    d.logger.With().Str("url", url).Logger(),
		listeners: make(map[core.TransportEvent][]core.Listener),
		stopChan:  make(chan struct{}),
	}
}

type socket struct {
	url    string
	opts   core.TransportOptions
	config DialerConfig
	logger zerolog.Logger

	mu        sync.Mutex
	listeners map[core.TransportEvent][]core.Listener
	conn      *gws.Conn
	started   bool
	closed    bool
	stopChan  chan struct{}
}

type socketEvents struct {
	socket *socket
}

func (s *socket) On(event core.TransportEvent, fn core.Listener) {
	s.mu.Lock()
	s.listeners[event] = append(s.listeners[event], fn)
	s.mu.Unlock()
}

func (s *socket) RemoveAllListeners() {
	s.mu.Lock()
	s.listeners = make(map[core.TransportEvent][]core.Listener)
	s.mu.Unlock()
}

func (s *socket) emit(event core.TransportEvent, payload core.Payload) {
	s.mu.Lock()
	fns := slices.Clone(s.listeners[event])
	s.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

func (s *socket) Connect() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.dial()
}

func (s *socket) dial() {
	if !slices.Contains(s.opts.Transports, core.TransportWebsocket) {
		s.emit(core.EventConnectError, core.Payload{
			Err: core.NewConnErrorWithCode(core.ErrorTypeTransport, core.ErrCodeUnsupportedTransport,
				fmt.Sprintf("no supported transport in %v", s.opts.Transports), nil),
		})
		return
	}

	addr, err := withToken(s.url, s.opts.Token.Value)
	if err != nil {
		s.emit(core.EventConnectError, core.Payload{
			Err: core.NewConnErrorWithCode(core.ErrorTypeTransport, core.ErrCodeHandshake, "invalid url", err),
		})
		return
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.opts.Token.Value)

	conn, resp, err := gws.NewClient(&socketEvents{socket: s}, &gws.ClientOption{
		Addr:             addr,
		RequestHeader:    header,
		HandshakeTimeout: s.opts.HandshakeTimeout,
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket handshake failed")
		s.emit(core.EventConnectError, core.Payload{Err: handshakeError(resp, err)})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.NetConn().Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	conn.ReadLoop()
}

// handshakeError turns a failed upgrade into a structured error. 401 and 403 are credential rejections.
func handshakeError(resp *http.Response, err error) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return core.NewConnErrorWithCode(core.ErrorTypeAuthRejected, core.ErrCodeAuthRejected,
			fmt.Sprintf("handshake rejected with status %d", resp.StatusCode), err)
	}
	return core.NewConnErrorWithCode(core.ErrorTypeTransport, core.ErrCodeHandshake, "handshake failed", err)
}

func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *socket) Emit(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()

	// gws reports write failures through OnClose, which takes s.mu.
	if conn == nil || closed {
		return core.ErrNotConnected
	}
	return conn.WriteMessage(gws.OpcodeText, data)
}

func (s *socket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stopChan)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteClose(1000, nil)
		_ = conn.NetConn().Close()
	}
}

func (s *socket) keepalive(conn *gws.Conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WritePing(nil); err != nil {
				s.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *socket) extendDeadline(conn *gws.Conn) {
	_ = conn.SetDeadline(time.Now().Add(s.config.PingInterval + s.config.PongWait))
}

func (h *socketEvents) OnOpen(conn *gws.Conn) {
	h.socket.mu.Lock()
	closed := h.socket.closed
	h.socket.mu.Unlock()
	if closed {
		return
	}

	h.socket.extendDeadline(conn)
	go h.socket.keepalive(conn)

	h.socket.logger.Debug().Msg("websocket connected")
	h.socket.emit(core.EventConnect, core.Payload{})
}

func (h *socketEvents) OnClose(conn *gws.Conn, err error) {
	h.socket.mu.Lock()
	local := h.socket.closed
	h.socket.conn = nil
	if !h.socket.closed {
		h.socket.closed = true
		close(h.socket.stopChan)
	}
	h.socket.mu.Unlock()

	reason := core.ReasonTransportClosed
	var closeErr *gws.CloseError
	switch {
	case local:
		reason = core.ReasonClientInitiated
	case errors.As(err, &closeErr):
		reason = core.ReasonServerInitiated
	}

	h.socket.logger.Debug().
		Err(err).
		Str("reason", reason.String()).
		Msg("websocket disconnected")
	h.socket.emit(core.EventDisconnect, core.Payload{Reason: reason, Err: err})
}

func (h *socketEvents) OnPing(conn *gws.Conn, payload []byte) {
	h.socket.extendDeadline(conn)
	_ = conn.WritePong(nil)
}

func (h *socketEvents) OnPong(conn *gws.Conn, payload []byte) {
	h.socket.extendDeadline(conn)
}

func (h *socketEvents) OnMessage(conn *gws.Conn, message *gws.Message) {
	defer message.Close()

	h.socket.extendDeadline(conn)
	data := message.Bytes()
	if len(data) == 0 {
		return
	}

	h.socket.emit(core.EventMessage, core.Payload{Data: slices.Clone(data)})
}
