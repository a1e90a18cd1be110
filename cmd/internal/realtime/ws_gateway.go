package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"vision/cmd/internal/metrics"
)

const (
	// CloseReasonSessionExpired is the close reason clients key their
	// re-login flow off. Its wording is part of the wire contract.
	CloseReasonSessionExpired = "Session Expired"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 5 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// SessionAuthority is what the gateway needs from the session service.
type SessionAuthority interface {
	ValidateAccess(ctx context.Context, now time.Time, username, accessToken string) (bool, error)
	ValidateRefresh(ctx context.Context, now time.Time, username, refreshToken string) (bool, error)
	ExtendAccess(ctx context.Context, now time.Time, username, accessToken string) (time.Time, error)
}

// Snapshotter supplies the state snapshot pushed to every connection on open.
// The returned bytes are a complete wire message.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// inboundMessage is the envelope clients send. Every message carries the
// caller's identity; type-specific fields ride alongside.
type inboundMessage struct {
	Type         string `json:"type"`
	Username     string `json:"username"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type accessExpiryMessage struct {
	Type              string  `json:"type"`
	AccessTokenExpiry float64 `json:"access_token_expiry"`
}

// WSGateway is the websocket entrypoint for Vision's update stream.
//
// It enforces origin policy, rate limits, and heartbeats, authenticates every
// inbound message, and keeps the Registry consistent across connection
// lifecycles.
type WSGateway struct {
	log      *slog.Logger
	sessions SessionAuthority
	registry *Registry
	snapshot Snapshotter
	met      *metrics.Metrics

	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
	devInsecure    bool

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults, reading overrides
// from VISION_WS_* environment variables.
func NewWSGateway(log *slog.Logger, sessions SessionAuthority, registry *Registry, snapshot Snapshotter, met *metrics.Metrics) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if registry == nil {
		registry = NewRegistry(log, met)
	}

	g := &WSGateway{log: log, sessions: sessions, registry: registry, snapshot: snapshot, met: met}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("VISION_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("VISION_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("VISION_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("VISION_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("VISION_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("VISION_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("VISION_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("VISION_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("VISION_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("VISION_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// Registry exposes the registry so the lifecycle layer can force-close
// connections.
func (g *WSGateway) Registry() *Registry { return g.registry }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a websocket and runs the update loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(time.Now().UTC(), g.sendQueueSize)
	connID := client.ID

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// shutdown is idempotent and is the only place the registry entry is
	// removed, so even abnormal exits cannot leak it. It does NOT close
	// client.Send; broadcast safety relies on Send staying open.
	var shutdownOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		shutdownOnce.Do(func() {
			g.registry.Unregister(client)
			client.Close(reason)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Force-closes from the registry (deactivate/delete/lapse) land here.
	client.OnClose(func(reason string) {
		shutdown(websocket.StatusNormalClosure, reason)
	})

	g.registry.Register(client)

	if err := g.pushSnapshot(ctx, client); err != nil {
		g.log.Info("ws.snapshot.fail", "conn_id", connID, "err", err)
		shutdown(websocket.StatusInternalError, "snapshot failed")
		return
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case msg := <-client.Send:
				if err := g.writeMessage(ctx, conn, msg); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		data, err := readMessage(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.log.Warn("ws.message.bad_json", "conn_id", connID, "err", err)
			continue readLoop
		}

		ok, err := g.sessions.ValidateAccess(ctx, now, msg.Username, msg.AccessToken)
		if err != nil {
			g.log.Error("ws.auth.check_fail", "conn_id", connID, "err", err)
			shutdown(websocket.StatusInternalError, "auth check failed")
			break readLoop
		}
		if !ok {
			// Only this connection pays for the stale token; others bound
			// to the same user are untouched until the store says so.
			g.log.Warn("ws.auth.invalid_access", "conn_id", connID, "username", msg.Username)
			g.met.AuthFailure("ws_access")
			shutdown(websocket.StatusNormalClosure, CloseReasonSessionExpired)
			break readLoop
		}

		g.registry.Bind(client, msg.Username, msg.AccessToken)

		switch msg.Type {
		case "refresh_token":
			if err := g.onRefreshToken(ctx, now, client, msg); err != nil {
				g.log.Warn("ws.refresh.invalid", "conn_id", connID, "username", msg.Username, "err", err)
				g.met.AuthFailure("ws_refresh")
				shutdown(websocket.StatusNormalClosure, CloseReasonSessionExpired)
				break readLoop
			}

		default:
			g.log.Warn("ws.message.unknown_type", "conn_id", connID, "type", msg.Type)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

// onRefreshToken validates the refresh token, extends the access token's
// expiry, and replies with the new expiry as seconds from now. Reporting a
// relative duration instead of an absolute timestamp sidesteps clock skew
// between peers.
func (g *WSGateway) onRefreshToken(ctx context.Context, now time.Time, client *Client, msg inboundMessage) error {
	ok, err := g.sessions.ValidateRefresh(ctx, now, msg.Username, msg.RefreshToken)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("refresh token rejected")
	}

	exp, err := g.sessions.ExtendAccess(ctx, now, msg.Username, msg.AccessToken)
	if err != nil {
		return err
	}

	reply, err := json.Marshal(accessExpiryMessage{
		Type:              "access_token_expiry",
		AccessTokenExpiry: exp.Sub(now).Seconds(),
	})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, reply) {
		return errors.New("backpressure: access_token_expiry")
	}
	return nil
}

func (g *WSGateway) pushSnapshot(ctx context.Context, client *Client) error {
	if g.snapshot == nil {
		return nil
	}
	snap, err := g.snapshot.Snapshot(ctx)
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, snap) {
		return errors.New("backpressure: snapshot")
	}
	return nil
}

// ---- send helpers ----

func (g *WSGateway) enqueue(ctx context.Context, client *Client, msg []byte) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- msg:
		return true
	default:
		return false
	}
}

// ---- message IO ----

func readMessage(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (g *WSGateway) writeMessage(parent context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// Only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
