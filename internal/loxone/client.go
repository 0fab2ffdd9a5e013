package loxone

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// socketPath is the Miniserver's WebSocket endpoint. The session
	// token rides along as the auth query parameter.
	socketPath = "/ws/rfc6455"

	// defaultRefreshThreshold is how long before expiry a token is
	// treated as stale.
	defaultRefreshThreshold = 5 * time.Minute

	// defaultReconnectDelay is the fixed wait between reconnect
	// attempts. Fixed-interval retry-forever, not exponential backoff:
	// the Miniserver lives on the local network, so transient outages
	// resolve quickly and a growing backoff only delays recovery.
	defaultReconnectDelay = 5 * time.Second

	// defaultPingInterval and pongTimeout drive WebSocket keepalive.
	defaultPingInterval = 30 * time.Second
	pongTimeout         = 10 * time.Second

	// dialTimeout bounds the WebSocket handshake.
	dialTimeout = 10 * time.Second

	// writeWait bounds control-frame writes on the socket.
	writeWait = 5 * time.Second
)

// Config holds the connection settings for a Client.
type Config struct {
	Host     string
	Port     int // defaults to 443 with TLS, 80 without
	Username string
	Password string

	// UseTLS selects https/wss. InsecureSkipVerify accepts self-signed
	// certificates, which most LAN Miniservers present.
	UseTLS             bool
	InsecureSkipVerify bool

	// Permission is the requested token class (default 2 = Web).
	Permission int

	// ClientInfo labels this client in the Miniserver's token list.
	ClientInfo string

	TokenRefreshThreshold time.Duration
	ReconnectDelay        time.Duration
	PingInterval          time.Duration

	// HTTPClient optionally supplies an externally owned HTTP client.
	// When set, Stop leaves it open; otherwise the Client owns its own.
	HTTPClient *http.Client
}

// withDefaults fills unset Config fields.
func (c Config) withDefaults() Config {
	if c.Port == 0 {
		if c.UseTLS {
			c.Port = 443
		} else {
			c.Port = 80
		}
	}
	if c.Permission == 0 {
		c.Permission = DefaultPermission
	}
	if c.ClientInfo == "" {
		c.ClientInfo = "loxbridge"
	}
	if c.TokenRefreshThreshold == 0 {
		c.TokenRefreshThreshold = defaultRefreshThreshold
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	return c
}

// Client maintains a session with a Loxone Miniserver: token lifecycle,
// control registry, command dispatch, and the persistent event stream.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - Callbacks run on the receive goroutine in registration order.
type Client struct {
	cfg        Config
	httpClient *http.Client
	ownsHTTP   bool
	logger     Logger

	// mu guards token, controls, states and started.
	mu       sync.RWMutex
	token    *TokenInfo
	controls map[string]*Control
	states   map[string]any
	started  bool

	// cbMu guards the ordered subscriber list.
	cbMu      sync.RWMutex
	callbacks []Callback

	// connMu guards the socket and receive-loop handles.
	connMu       sync.Mutex
	conn         *websocket.Conn
	listenCancel context.CancelFunc
	listenDone   chan struct{}

	closing atomic.Bool
}

// NewClient creates a Client for the given Miniserver. The client does
// not touch the network until Start is called.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()

	httpClient := cfg.HTTPClient
	owns := false
	if httpClient == nil {
		transport := &http.Transport{}
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // config opt-in for self-signed LAN certs
		}
		httpClient = &http.Client{Transport: transport}
		owns = true
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		ownsHTTP:   owns,
		logger:     noopLogger{},
		controls:   make(map[string]*Control),
		states:     make(map[string]any),
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// baseURL returns the REST base, e.g. "https://host:443".
func (c *Client) baseURL() string {
	scheme := "http"
	if c.cfg.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Host, c.cfg.Port)
}

// socketURL returns the stream endpoint with the token attached.
func (c *Client) socketURL(token string) string {
	scheme := "ws"
	if c.cfg.UseTLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s?auth=%s", scheme, c.cfg.Host, c.cfg.Port, socketPath, url.QueryEscape(token))
}

// Start connects to the Miniserver and returns the control registry.
//
// It authenticates, loads the structure document, opens the event
// stream, and spawns the receive loop. Authentication and stream-open
// failures are fatal and returned; a failed structure load degrades to
// an empty registry and is not.
//
// Start is idempotent: a second call on a started client returns the
// cached registry without re-fetching. Use RefreshStructure to force
// re-discovery.
func (c *Client) Start(ctx context.Context) (map[string]*Control, error) {
	c.mu.RLock()
	if c.started {
		defer c.mu.RUnlock()
		return c.registrySnapshotLocked(), nil
	}
	c.mu.RUnlock()

	c.closing.Store(false)

	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	if err := c.RefreshStructure(ctx); err != nil {
		// Non-fatal: the connection proceeds with zero known controls.
		c.logger.Warn("continuing with empty control registry", "error", err)
	}

	if err := c.ensureStream(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.logger.Info("connected to miniserver",
		"host", c.cfg.Host,
		"controls", len(c.controls),
	)
	return c.registrySnapshotLocked(), nil
}

// Stop tears the session down: it cancels the receive loop, waits for
// it to exit, closes the socket, and releases the HTTP client if the
// Client owns it. Safe to call multiple times.
func (c *Client) Stop() {
	c.closing.Store(true)

	c.connMu.Lock()
	cancel := c.listenCancel
	done := c.listenDone
	conn := c.conn
	c.listenCancel = nil
	c.listenDone = nil
	c.conn = nil
	c.connMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		// Best-effort close handshake; the hard Close below unblocks
		// the receive loop either way.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}

	if c.ownsHTTP {
		c.httpClient.CloseIdleConnections()
	}

	c.mu.Lock()
	c.started = false
	// Cached values are connection-scoped.
	c.states = make(map[string]any)
	c.mu.Unlock()
}

// RefreshStructure re-fetches the structure document and rebuilds the
// control registry wholesale. On failure the registry is emptied and
// an error wrapping ErrStructure is returned; callers that can operate
// without a registry may ignore it.
func (c *Client) RefreshStructure(ctx context.Context) error {
	body, err := c.jdevGet(ctx, structurePath)
	if err != nil {
		c.logger.Error("failed to fetch structure document", "error", err)
		c.setControls(nil)
		return fmt.Errorf("%w: %w", ErrStructure, err)
	}

	controls, err := parseStructure(body)
	if err != nil {
		c.logger.Error("failed to parse structure document", "error", err)
		c.setControls(nil)
		return err
	}

	c.setControls(controls)
	c.logger.Debug("structure loaded", "controls", len(controls))
	return nil
}

func (c *Client) setControls(controls map[string]*Control) {
	if controls == nil {
		controls = make(map[string]*Control)
	}
	c.mu.Lock()
	c.controls = controls
	c.mu.Unlock()
}

// registrySnapshotLocked copies the registry map. Callers must hold mu.
// Control values are shared and treated as read-only.
func (c *Client) registrySnapshotLocked() map[string]*Control {
	snapshot := make(map[string]*Control, len(c.controls))
	for k, v := range c.controls {
		snapshot[k] = v
	}
	return snapshot
}

// ensureToken refreshes the session token when it is missing or within
// the refresh threshold of expiry. The check is lazy: it runs before
// each operation that needs a token, not on a timer.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if !token.Expired(c.cfg.TokenRefreshThreshold) {
		return nil
	}
	return c.authenticate(ctx)
}

// authenticate runs the getkey2/getjwt handshake and replaces the
// session token. Failures are fatal at this layer; retry policy lives
// with the callers driving reconnection.
func (c *Client) authenticate(ctx context.Context) error {
	key, err := c.fetchKey(ctx)
	if err != nil {
		return err
	}

	path := buildTokenPath(c.cfg.Username, c.cfg.Password, key, TokenRequest{
		Permission: c.cfg.Permission,
		Info:       c.cfg.ClientInfo,
	})

	body, status, err := c.get(ctx, path, "")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: token request returned status %d", ErrAuthentication, status)
	}

	token, err := parseTokenResponse(body, time.Now())
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	c.logger.Debug("authenticated", "valid_until", token.ValidUntil)
	return nil
}

// fetchKey retrieves the one-time HMAC key for this user.
func (c *Client) fetchKey(ctx context.Context) (string, error) {
	body, status, err := c.get(ctx, fmt.Sprintf(keyPathFormat, c.cfg.Username), "")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: key request returned status %d", ErrAuthentication, status)
	}
	return parseKeyResponse(body)
}

// currentToken returns the token string, or "".
func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return ""
	}
	return c.token.Token
}

// get issues a GET against the Miniserver. bearer, when non-empty, is
// sent as an Authorization header. Network failures wrap ErrTransport.
func (c *Client) get(ctx context.Context, path, bearer string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return body, resp.StatusCode, nil
}

// jdevGet issues an authenticated GET and requires a 200 response.
func (c *Client) jdevGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	body, status, err := c.get(ctx, path, c.currentToken())
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrTransport, path, status)
	}
	return body, nil
}

// ensureStream opens the event stream and spawns the receive loop if
// not already running.
func (c *Client) ensureStream(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn

	listenCtx, cancel := context.WithCancel(context.Background())
	c.listenCancel = cancel
	c.listenDone = make(chan struct{})

	go c.listen(listenCtx, c.listenDone)
	go c.pingLoop(listenCtx)
	return nil
}

// dial opens one WebSocket connection with a fresh-enough token and
// keepalive deadlines armed.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
	}
	if c.cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // config opt-in for self-signed LAN certs
	}

	conn, resp, err := dialer.DialContext(ctx, c.socketURL(c.currentToken()), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: stream handshake failed with status %d: %w", ErrTransport, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: stream handshake failed: %w", ErrTransport, err)
	}

	readTimeout := c.cfg.PingInterval + pongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	return conn, nil
}

// currentConn returns the live socket, or nil.
func (c *Client) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// listen is the receive loop. It reads frames until a deliberate stop
// or context cancellation; an unexpected closure triggers the
// fixed-interval reconnect loop and the stream resumes.
func (c *Client) listen(ctx context.Context, done chan struct{}) {
	defer close(done)

	readTimeout := c.cfg.PingInterval + pongTimeout

	for {
		conn := c.currentConn()
		if conn == nil {
			return
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || ctx.Err() != nil {
				return
			}
			c.logger.Warn("event stream closed unexpectedly", "error", err)
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			// Binary frames are opportunistically decoded as UTF-8 JSON
			// and routed through the same path as text frames.
			c.handleFrame(data)
		}
	}
}

// reconnect re-dials the stream after an unexpected closure, waiting a
// fixed delay between attempts and retrying until it succeeds or the
// client stops. Token refresh happens inside dial, so an expired token
// never wedges the loop.
func (c *Client) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.ReconnectDelay):
		}
		if c.closing.Load() {
			return false
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("stream reconnect failed", "error", err)
			continue
		}

		c.connMu.Lock()
		old := c.conn
		c.conn = conn
		c.connMu.Unlock()
		if old != nil {
			_ = old.Close()
		}

		c.logger.Info("event stream reconnected")
		return true
	}
}

// pingLoop keeps the stream alive. It is the only writer on the socket;
// commands travel over REST, so no write coordination is needed.
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn := c.currentConn()
			if conn == nil {
				return
			}
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
	}
}
