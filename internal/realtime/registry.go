package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/internal/metrics"
)

// Close codes sent to browser sockets.
const (
	CloseSuperseded      websocket.StatusCode = 4000
	CloseInvalidSession  websocket.StatusCode = 4001
	CloseForbiddenOrigin websocket.StatusCode = 4003
	CloseIdleTimeout     websocket.StatusCode = 4008
)

// Socket is the write side of a browser connection. *websocket.Conn
// satisfies it.
type Socket interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Connection is one live browser socket.
type Connection struct {
	SessionID uuid.UUID
	TicketID  int64

	socket       Socket
	lastActivity atomic.Int64 // unix nanos
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

type RegistryConfig struct {
	PingInterval time.Duration
	CleanupEvery time.Duration
	MaxIdle      time.Duration
	WriteTimeout time.Duration
}

// Registry tracks the live browser connections of this process. There is at
// most one connection per session; tickets are indexed so ticket-addressed
// pushes do not scan every connection.
type Registry struct {
	cfg RegistryConfig
	now func() time.Time

	mu       sync.RWMutex
	conns    map[uuid.UUID]*Connection
	byTicket map[int64]map[uuid.UUID]struct{}

	running   atomic.Bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = time.Minute
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Registry{
		cfg:       cfg,
		now:       time.Now,
		conns:     make(map[uuid.UUID]*Connection),
		byTicket:  make(map[int64]map[uuid.UUID]struct{}),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Add registers socket for sessionID. A live connection of the same session
// is closed with CloseSuperseded first.
func (r *Registry) Add(sessionID uuid.UUID, ticketID int64, socket Socket) *Connection {
	conn := &Connection{SessionID: sessionID, TicketID: ticketID, socket: socket}
	conn.lastActivity.Store(r.now().UnixNano())

	r.mu.Lock()
	prev := r.conns[sessionID]
	if prev != nil {
		r.unindexLocked(prev)
	}
	r.conns[sessionID] = conn
	r.indexLocked(conn)
	count := len(r.conns)
	r.mu.Unlock()

	metrics.Connections.Set(float64(count))

	if prev != nil && prev.socket != socket {
		metrics.Superseded.Inc()
		slog.Info("superseding browser connection", "session_id", sessionID.String())
		_ = prev.socket.Close(CloseSuperseded, "superseded")
	}
	return conn
}

// Remove drops the connection of sessionID if it is still backed by socket.
// A superseded socket removing itself does not evict its successor.
func (r *Registry) Remove(sessionID uuid.UUID, socket Socket) bool {
	r.mu.Lock()
	conn, ok := r.conns[sessionID]
	if !ok || conn.socket != socket {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, sessionID)
	r.unindexLocked(conn)
	count := len(r.conns)
	r.mu.Unlock()

	metrics.Connections.Set(float64(count))
	return true
}

// Bind attaches ticketID to the live connection of sessionID, e.g. once the
// first message created the ticket.
func (r *Registry) Bind(sessionID uuid.UUID, ticketID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[sessionID]
	if !ok {
		return false
	}
	if conn.TicketID == ticketID {
		return true
	}
	r.unindexLocked(conn)
	conn.TicketID = ticketID
	r.indexLocked(conn)
	return true
}

func (r *Registry) Touch(sessionID uuid.UUID) {
	r.mu.RLock()
	conn, ok := r.conns[sessionID]
	r.mu.RUnlock()
	if ok {
		conn.lastActivity.Store(r.now().UnixNano())
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send pushes an event to the session's socket. It returns false when the
// session has no open connection or the write fails.
func (r *Registry) Send(ctx context.Context, sessionID uuid.UUID, eventType EventType, payload any) bool {
	r.mu.RLock()
	conn, ok := r.conns[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	frame, err := Encode(eventType, payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event", "error", err, "type", eventType)
		return false
	}
	return r.write(ctx, conn, frame)
}

// SendToTicket pushes an event to a connection bound to ticketID. With
// several tabs open for one ticket, an arbitrary one receives it.
func (r *Registry) SendToTicket(ctx context.Context, ticketID int64, eventType EventType, payload any) bool {
	r.mu.RLock()
	var conn *Connection
	for sessionID := range r.byTicket[ticketID] {
		conn = r.conns[sessionID]
		break
	}
	r.mu.RUnlock()
	if conn == nil {
		return false
	}

	frame, err := Encode(eventType, payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event", "error", err, "type", eventType)
		return false
	}
	return r.write(ctx, conn, frame)
}

// Broadcast pushes an event to every connection. Failures are logged per
// connection.
func (r *Registry) Broadcast(ctx context.Context, eventType EventType, payload any) int {
	frame, err := Encode(eventType, payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event", "error", err, "type", eventType)
		return 0
	}

	sent := 0
	for _, conn := range r.snapshot() {
		if r.write(ctx, conn, frame) {
			sent++
		}
	}
	return sent
}

// NotifySession and NotifyTicket let the registry serve as a Notifier inside
// the server process.
func (r *Registry) NotifySession(ctx context.Context, sessionID uuid.UUID, eventType EventType, payload any) bool {
	return r.Send(ctx, sessionID, eventType, payload)
}

func (r *Registry) NotifyTicket(ctx context.Context, ticketID int64, eventType EventType, payload any) bool {
	return r.SendToTicket(ctx, ticketID, eventType, payload)
}

// Cleanup force-closes connections idle for longer than maxIdle and returns
// how many were closed.
func (r *Registry) Cleanup(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle).UnixNano()

	r.mu.Lock()
	var idle []*Connection
	for sessionID, conn := range r.conns {
		if conn.lastActivity.Load() < cutoff {
			idle = append(idle, conn)
			delete(r.conns, sessionID)
			r.unindexLocked(conn)
		}
	}
	count := len(r.conns)
	r.mu.Unlock()

	metrics.Connections.Set(float64(count))
	for _, conn := range idle {
		metrics.IdleClosed.Inc()
		slog.Info("closing idle browser connection", "session_id", conn.SessionID.String())
		_ = conn.socket.Close(CloseIdleTimeout, "idle timeout")
	}
	return len(idle)
}

// Run pings every connection and sweeps idle ones until ctx is done or Stop
// is called.
func (r *Registry) Run(ctx context.Context) error {
	r.running.Store(true)
	defer close(r.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.realtime"})
	slog.InfoContext(ctx, "registry started",
		"ping_interval", r.cfg.PingInterval,
		"cleanup_interval", r.cfg.CleanupEvery,
		"max_idle", r.cfg.MaxIdle)

	ping := time.NewTicker(r.cfg.PingInterval)
	defer ping.Stop()
	cleanup := time.NewTicker(r.cfg.CleanupEvery)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "registry stopping: context cancelled")
			return ctx.Err()
		case <-r.stopCh:
			slog.InfoContext(ctx, "registry stopping: stop signal received")
			return nil
		case <-ping.C:
			r.Broadcast(ctx, EventPing, Ping{Timestamp: r.now().UnixMilli()})
		case <-cleanup.C:
			if n := r.Cleanup(r.cfg.MaxIdle); n > 0 {
				slog.InfoContext(ctx, "idle sweep closed connections", "count", n)
			}
		}
	}
}

// Stop ends Run and waits for it to return.
func (r *Registry) Stop() {
	select {
	case <-r.stopCh:
		return
	default:
		close(r.stopCh)
	}
	if r.running.Load() {
		<-r.stoppedCh
	}
}

// CloseAll closes every connection, used on shutdown.
func (r *Registry) CloseAll(reason string) {
	for _, conn := range r.snapshot() {
		r.Remove(conn.SessionID, conn.socket)
		_ = conn.socket.Close(websocket.StatusGoingAway, reason)
	}
}

func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) write(ctx context.Context, conn *Connection, frame []byte) bool {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if err := conn.socket.Write(ctx, websocket.MessageText, frame); err != nil {
		slog.WarnContext(ctx, "failed to write to browser socket",
			"error", err,
			"session_id", conn.SessionID.String())
		return false
	}
	return true
}

func (r *Registry) indexLocked(conn *Connection) {
	if conn.TicketID == 0 {
		return
	}
	sessions, ok := r.byTicket[conn.TicketID]
	if !ok {
		sessions = make(map[uuid.UUID]struct{})
		r.byTicket[conn.TicketID] = sessions
	}
	sessions[conn.SessionID] = struct{}{}
}

func (r *Registry) unindexLocked(conn *Connection) {
	if conn.TicketID == 0 {
		return
	}
	sessions := r.byTicket[conn.TicketID]
	delete(sessions, conn.SessionID)
	if len(sessions) == 0 {
		delete(r.byTicket, conn.TicketID)
	}
}
