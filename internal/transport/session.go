// Package transport maintains the persistent websocket session to the
// chat backend. One Session owns at most one live socket for its
// conversation; request/reply pairs are multiplexed over it via
// correlation ids, unsolicited frames fan out to subscribers, and
// unexpected closure is healed with exponential backoff.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/haemilhq/haemilchat/internal/correlation"
	"github.com/haemilhq/haemilchat/pkg/models"
)

// State describes the session lifecycle. It is rebuilt from scratch on
// every Connect; nothing here is persisted.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
)

// Config carries the connection parameters for one Session.
type Config struct {
	URL            string        `json:"url"`             // ws:// or wss:// endpoint
	ConnectTimeout time.Duration `json:"connect_timeout"` // open handshake bound (default: 5s)
	ReplyTimeout   time.Duration `json:"reply_timeout"`   // per-request reply bound (default: 15s)
	Backoff        BackoffConfig `json:"backoff"`
}

// DefaultConfig returns the connection parameters for a local backend.
func DefaultConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:8080/chat/ws",
		ConnectTimeout: 5 * time.Second,
		ReplyTimeout:   15 * time.Second,
		Backoff:        DefaultBackoffConfig(),
	}
}

// Session multiplexes correlated requests and unsolicited pushes over a
// single chat socket. All methods are safe for concurrent use.
type Session struct {
	cfg       Config
	registry  *correlation.Registry
	reconnect *reconnectPolicy

	mu          sync.Mutex
	conn        *websocket.Conn
	connecting  chan struct{} // non-nil while a dial is in flight
	connectErr  error         // outcome of the last finished dial
	manualClose bool
	token       string
	state       State

	writeMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(models.Frame)
	nextSub int
}

// NewSession builds a disconnected session. Call Connect to open it.
func NewSession(cfg Config) *Session {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = def.ReplyTimeout
	}
	return &Session{
		cfg:       cfg,
		registry:  correlation.NewRegistry(),
		reconnect: newReconnectPolicy(cfg.Backoff),
		state:     StateDisconnected,
		subs:      make(map[int]func(models.Frame)),
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports the number of outstanding correlated requests.
func (s *Session) Pending() int {
	return s.registry.Len()
}

// Connect opens the socket, carrying token as a handshake query
// parameter. It is idempotent: an already open session returns
// immediately, and a call racing an in-flight attempt awaits that
// attempt instead of dialing a second socket. A non-empty token replaces
// the stored one and is reused by automatic reconnects.
func (s *Session) Connect(ctx context.Context, token string) error {
	return s.connect(ctx, token, true)
}

// connect is the shared dial path. Only an explicit caller clears the
// manual-close latch; the reconnect path re-checks it under the session
// lock so a timer that fired before Disconnect completed cannot
// resurrect the session.
func (s *Session) connect(ctx context.Context, token string, explicit bool) error {
	s.mu.Lock()
	if token != "" {
		s.token = token
	}
	if explicit {
		s.manualClose = false
	} else if s.manualClose {
		s.mu.Unlock()
		return fmt.Errorf("%w: session manually closed", ErrSocketClosed)
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	if inflight := s.connecting; inflight != nil {
		s.mu.Unlock()
		select {
		case <-inflight:
			s.mu.Lock()
			err := s.connectErr
			s.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	s.connecting = done
	s.state = StateConnecting
	tok := s.token
	s.mu.Unlock()

	conn, err := s.dial(ctx, tok)

	s.mu.Lock()
	if err == nil && s.manualClose {
		// Disconnect raced the dial; do not resurrect the session.
		_ = conn.Close()
		conn = nil
		err = fmt.Errorf("%w: disconnected during connect", ErrSocketClosed)
	}
	s.connectErr = err
	s.connecting = nil
	if err == nil {
		s.conn = conn
		s.state = StateOpen
		s.reconnect.Reset()
		go s.readLoop(conn)
	} else {
		s.state = StateDisconnected
	}
	close(done)
	s.mu.Unlock()
	return err
}

// Disconnect marks the session manually closed, cancels any pending
// reconnect timer, rejects in-flight requests, and closes the socket.
// Idempotent; safe with no connection or mid-connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.manualClose = true
	s.state = StateClosing
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.reconnect.Cancel()
	s.registry.Clear(ErrSocketClosed)
	if conn != nil {
		_ = conn.Close()
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
}

// Send writes one fire-and-forget frame for text using cid, generating a
// correlation id when cid is empty. No reply is awaited; the cid used is
// returned so the caller can track an eventual echo.
func (s *Session) Send(ctx context.Context, text, cid string) (string, error) {
	if cid == "" {
		cid = uuid.NewString()
	}
	if err := s.ensureConnected(ctx); err != nil {
		return "", err
	}
	frame := models.Frame{CID: cid, Message: text, CreatedAt: time.Now().UnixMilli()}
	if err := s.write(frame); err != nil {
		return "", err
	}
	return cid, nil
}

// SendAndWait writes a correlated frame and blocks until the matching
// reply arrives, the reply timeout fires, ctx is cancelled, or the
// socket dies. The caller must have connected first; an unopened session
// fails with ErrNotConnected.
func (s *Session) SendAndWait(ctx context.Context, text, cid string) (models.Frame, error) {
	if cid == "" {
		cid = uuid.NewString()
	}
	if err := s.ensureConnected(ctx); err != nil {
		return models.Frame{}, err
	}
	frame := models.Frame{CID: cid, Message: text, CreatedAt: time.Now().UnixMilli()}

	ch, err := s.registry.Register(cid, s.cfg.ReplyTimeout)
	if err != nil {
		return models.Frame{}, err
	}
	if err := s.write(frame); err != nil {
		s.registry.Reject(cid, err)
		<-ch
		return models.Frame{}, err
	}

	select {
	case res := <-ch:
		return res.Frame, res.Err
	case <-ctx.Done():
		s.registry.Reject(cid, ctx.Err())
		return models.Frame{}, ctx.Err()
	}
}

// Subscribe registers fn for unsolicited pushes (frames whose cid does
// not match any pending request). The returned function removes the
// subscription.
func (s *Session) Subscribe(fn func(models.Frame)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// ensureConnected mirrors the client contract: callers should connect
// before sending, but an unopened session gets one connect attempt with
// the stored token before the send fails as NotConnected.
func (s *Session) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	open := s.conn != nil
	s.mu.Unlock()
	if open {
		return nil
	}
	if err := s.Connect(ctx, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (s *Session) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	endpoint := s.cfg.URL
	if token != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse socket url: %w", err)
		}
		q := u.Query()
		q.Set("jwt", token)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	d := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, _, err := d.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", ErrConnectTimeout, s.cfg.ConnectTimeout)
		}
		return nil, fmt.Errorf("dial chat socket: %w", err)
	}
	return conn, nil
}

func (s *Session) write(frame models.Frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	body, err := encodeFrame(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	// gorilla allows one concurrent writer per connection.
	s.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, body)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop is the sole reader of conn. It exits when the socket errors
// or closes, tearing the session down and scheduling a reconnect unless
// the closure was manual.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClosed(conn, err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		s.handleFrame(data)
	}
}

// handleFrame routes one inbound frame: a cid matching a pending request
// consumes the frame; everything else with a message and timestamp fans
// out to subscribers. Malformed frames are dropped, except that a
// readable cid matching a pending request fails that request rather
// than letting it idle until timeout.
func (s *Session) handleFrame(data []byte) {
	frame, err := parseFrame(data)
	if err != nil {
		if frame.CID != "" && s.registry.Reject(frame.CID, fmt.Errorf("%w: %v", ErrMalformedFrame, err)) {
			return
		}
		log.Debug().Err(err).Msg("Dropping malformed frame")
		return
	}
	if frame.CID != "" && s.registry.Resolve(frame.CID, frame) {
		return
	}

	s.subMu.Lock()
	subs := make([]func(models.Frame), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(frame)
	}
}

// handleClosed tears down after the read loop observed an error or
// close. Stale loops from an already replaced connection are ignored.
func (s *Session) handleClosed(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	manual := s.manualClose
	s.mu.Unlock()

	_ = conn.Close()
	if n := s.registry.Clear(fmt.Errorf("%w: %v", ErrSocketClosed, cause)); n > 0 {
		log.Debug().Int("rejected", n).Msg("Socket closed with pending requests")
	}
	if !manual {
		s.scheduleReconnect()
	}
}

func (s *Session) scheduleReconnect() {
	s.reconnect.Schedule(func() {
		s.mu.Lock()
		manual := s.manualClose
		s.mu.Unlock()
		if manual {
			return
		}
		if err := s.connect(context.Background(), "", false); err != nil {
			log.Debug().Err(err).Msg("Reconnect attempt failed")
			s.mu.Lock()
			manual := s.manualClose
			s.mu.Unlock()
			if !manual {
				s.scheduleReconnect()
			}
		}
	})
}
