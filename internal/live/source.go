package live

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tokbot/internal/eventbus"
	logx "tokbot/pkg/logx"
)

const (
	defaultReconnectDelay   = 5 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

type SourceConfig struct {
	URL    string
	Room   string
	APIKey string // sent as a bearer token when non-empty

	ReconnectDelay   time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
}

// HandlerFunc receives each raw event frame, on the read-loop goroutine.
// Events for one room are therefore serialized end to end.
type HandlerFunc func(ctx context.Context, kind Kind, data RawEvent)

// envelope is the gateway's wire frame. The gateway tags each payload
// with its kind; everything inside data is opaque until normalization.
type envelope struct {
	Kind string          `json:"kind"`
	Type string          `json:"type"` // older gateway builds
	Data json.RawMessage `json:"data"`
}

// Source maintains one websocket connection to the live-event gateway and
// feeds frames to the handler. It reconnects forever (fixed delay) until
// the context is canceled, publishing connect/disconnect transitions on
// the bus so the pipeline can clear its dedup caches per session.
type Source struct {
	cfg    SourceConfig
	log    logx.Logger
	bus    eventbus.Bus
	handle HandlerFunc

	connected   atomic.Bool
	lastEventMS atomic.Int64
	attempts    atomic.Int64
}

func NewSource(cfg SourceConfig, handle HandlerFunc, bus eventbus.Bus, log logx.Logger) *Source {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{cfg: cfg, log: log, bus: bus, handle: handle}
}

// Connected reports whether a live connection is currently up.
func (s *Source) Connected() bool { return s.connected.Load() }

// LastEventAt returns when the last event frame arrived (zero time if none).
func (s *Source) LastEventAt() time.Time {
	ms := s.lastEventMS.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Run blocks until ctx is canceled, dialing and re-dialing the gateway.
func (s *Source) Run(ctx context.Context) {
	dialer := &websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}

	var header http.Header
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		attempt := int(s.attempts.Add(1))

		conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
		if err != nil {
			s.log.Warn("gateway dial failed",
				logx.String("url", s.cfg.URL),
				logx.Int("attempt", attempt),
				logx.Err(err))
			if waitForReconnect(ctx, s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		if err := s.join(conn); err != nil {
			s.log.Warn("gateway join failed", logx.String("room", s.cfg.Room), logx.Err(err))
			_ = conn.Close()
			if waitForReconnect(ctx, s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		s.connected.Store(true)
		s.attempts.Store(0)
		s.log.Info("gateway connected", logx.String("room", s.cfg.Room))
		s.publish(eventbus.TopicGatewayConnected, attempt, nil)

		pingStop := s.startPingLoop(ctx, conn)

		readErr := s.readLoop(ctx, conn)
		pingStop()
		_ = conn.Close()

		s.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("gateway disconnected", logx.String("room", s.cfg.Room), logx.Err(readErr))
		s.publish(eventbus.TopicGatewayDisconnected, attempt, readErr)

		if waitForReconnect(ctx, s.cfg.ReconnectDelay) {
			return
		}
	}
}

func (s *Source) join(conn *websocket.Conn) error {
	req := struct {
		Op   string `json:"op"`
		Room string `json:"room"`
	}{Op: "join", Room: s.cfg.Room}
	return conn.WriteJSON(req)
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleFrame(ctx, msg)
	}
}

func (s *Source) handleFrame(ctx context.Context, msg []byte) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.log.Debug("undecodable frame dropped", logx.Err(err))
		return
	}
	kindStr := env.Kind
	if kindStr == "" {
		kindStr = env.Type
	}
	kindStr = strings.ToLower(strings.TrimSpace(kindStr))
	if kindStr == "" || kindStr == "ack" || kindStr == "pong" {
		// Control frames, not room events.
		return
	}

	data := RawEvent{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			s.log.Debug("undecodable event payload dropped",
				logx.String("kind", kindStr), logx.Err(err))
			return
		}
	}

	s.lastEventMS.Store(time.Now().UnixMilli())
	if s.handle != nil {
		s.handle(ctx, Kind(kindStr), data)
	}
}

func (s *Source) startPingLoop(ctx context.Context, conn *websocket.Conn) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					s.log.Debug("ping failed", logx.Err(err))
					return
				}
			}
		}
	}()
	return cancel
}

func (s *Source) publish(topic string, attempt int, err error) {
	if s.bus == nil {
		return
	}
	st := eventbus.GatewayState{Room: s.cfg.Room, Attempt: attempt}
	if err != nil {
		st.Err = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: st})
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
