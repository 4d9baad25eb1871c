package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/config"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/service"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Admission gates connections and per-event work against tenant quotas
type Admission interface {
	Check(ctx context.Context, tenantID string, tier domain.Tier, resource domain.QuotaResource) (domain.QuotaDecision, error)
	Release(ctx context.Context, tenantID string, resource domain.QuotaResource) error
	ShouldWarn(d domain.QuotaDecision) bool
}

// SessionStore is the session manager as seen by the gateway
type SessionStore interface {
	CreateSession(ctx context.Context, tenantID, userID string, tier domain.Tier, metadata map[string]any, ttlSeconds int) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.Session, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	AddMessage(ctx context.Context, sessionID string, role domain.MessageRole, content string, metadata map[string]any) (*domain.Message, error)
}

// SkillExecutor runs skill executions
type SkillExecutor interface {
	Execute(ctx context.Context, req *domain.SkillExecutionRequest, opts service.ExecuteOptions) *domain.SkillExecutionResult
	DefaultOptions() service.ExecuteOptions
}

// CronScheduler registers recurring executions
type CronScheduler interface {
	Add(job domain.CronJob) (*domain.CronJob, error)
	Remove(id, tenantID string) (*domain.CronJob, error)
}

// Dependencies are the collaborators of a gateway. Cron and Bus are optional.
type Dependencies struct {
	Auth     domain.Authenticator
	Quota    Admission
	Sessions SessionStore
	Engine   SkillExecutor
	Cron     CronScheduler
	Bus      Bus
}

type handlerFunc func(ctx context.Context, c *Conn, in Inbound) error

// Gateway owns connection lifecycle, local rooms and cross-instance fan-out
type Gateway struct {
	cfg      config.GatewayConfig
	deps     Dependencies
	rooms    *Rooms
	handlers map[string]handlerFunc
	now      func() time.Time

	mu       sync.RWMutex
	conns    map[string]*Conn
	warnings map[string]domain.QuotaDecision

	baseCtx  context.Context
	inflight sync.WaitGroup
}

// New creates a gateway. Start must be called to receive bus traffic.
func New(cfg config.GatewayConfig, deps Dependencies) *Gateway {
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.BusChannel == "" {
		cfg.BusChannel = "gateway:events"
	}

	g := &Gateway{
		cfg:      cfg,
		deps:     deps,
		rooms:    NewRooms(),
		now:      time.Now,
		conns:    make(map[string]*Conn),
		warnings: make(map[string]domain.QuotaDecision),
		baseCtx:  context.Background(),
	}
	g.handlers = map[string]handlerFunc{
		domain.EventSessionCreate:  g.handleSessionCreate,
		domain.EventSessionUpdate:  g.handleSessionUpdate,
		domain.EventSessionDelete:  g.handleSessionDelete,
		domain.EventSkillExecute:   g.handleSkillExecute,
		domain.EventMessageSend:    g.handleMessageSend,
		domain.EventMessageTyping:  g.handleMessageTyping,
		domain.EventCronCreate:     g.handleCronCreate,
		domain.EventCronDelete:     g.handleCronDelete,
		domain.EventChannelConnect: g.handleChannelConnect,
	}
	return g
}

// InstanceID returns the identifier stamped on this instance's bus envelopes
func (g *Gateway) InstanceID() string {
	return g.cfg.InstanceID
}

// Rooms exposes the local membership table
func (g *Gateway) Rooms() *Rooms {
	return g.rooms
}

// Start subscribes to the cross-instance bus. Handlers started afterwards
// run under ctx.
func (g *Gateway) Start(ctx context.Context) error {
	g.baseCtx = ctx
	if g.deps.Bus == nil {
		return nil
	}
	if err := g.deps.Bus.Subscribe(ctx, g.cfg.BusChannel, g.onBusMessage); err != nil {
		return fmt.Errorf("failed to subscribe gateway bus: %w", err)
	}
	log.Info().
		Str("instance_id", g.cfg.InstanceID).
		Str("channel", g.cfg.BusChannel).
		Msg("Gateway subscribed to event bus")
	return nil
}

// Connect authenticates a bearer credential. No state is created on failure.
func (g *Gateway) Connect(ctx context.Context, token string) (*domain.ConnectionContext, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	identity, err := g.deps.Auth.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if identity == nil || identity.OrganizationID == "" || identity.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	return domain.NewConnectionContext(uuid.NewString(), identity, g.now()), nil
}

// AdmitConnection checks the tenant's concurrent-connection quota and
// records whether a counter slot is held by the connection.
func (g *Gateway) AdmitConnection(ctx context.Context, cc *domain.ConnectionContext) (bool, error) {
	decision, err := g.deps.Quota.Check(ctx, cc.TenantID, cc.Tier, domain.ResourceConnections)
	if err != nil {
		return false, err
	}
	if !decision.Allowed {
		log.Info().
			Str("tenant_id", cc.TenantID).
			Int64("used", decision.Used).
			Int("limit", decision.Limit).
			Msg("Connection rejected by quota")
		return false, nil
	}
	cc.SetReserved(decision.Counted)
	if g.deps.Quota.ShouldWarn(decision) {
		g.mu.Lock()
		g.warnings[cc.ID] = decision
		g.mu.Unlock()
	}
	return true, nil
}

// Register attaches an admitted connection, joining its tenant and user
// rooms and, when resumeSessionID is set, the session room. A failed resume
// releases the connection's reservation.
func (g *Gateway) Register(ctx context.Context, cc *domain.ConnectionContext, resumeSessionID string) (*Conn, error) {
	if resumeSessionID != "" {
		if err := g.checkResume(ctx, cc, resumeSessionID); err != nil {
			g.releaseReservation(cc)
			g.mu.Lock()
			delete(g.warnings, cc.ID)
			g.mu.Unlock()
			return nil, err
		}
		cc.SetSessionID(resumeSessionID)
	}

	c := newConn(cc, g.cfg.SendBuffer)

	g.mu.Lock()
	g.conns[c.ID] = c
	warning, warn := g.warnings[c.ID]
	delete(g.warnings, c.ID)
	g.mu.Unlock()

	g.rooms.Join(TenantRoom(c.TenantID), c)
	g.rooms.Join(UserRoom(c.TenantID, c.UserID), c)
	if resumeSessionID != "" {
		g.rooms.Join(SessionRoom(resumeSessionID), c)
	}

	log.Info().
		Str("conn_id", c.ID).
		Str("tenant_id", c.TenantID).
		Str("user_id", c.UserID).
		Str("session_id", resumeSessionID).
		Msg("Connection registered")

	if warn {
		g.emitWarning(c, "", warning)
	}
	return c, nil
}

func (g *Gateway) checkResume(ctx context.Context, cc *domain.ConnectionContext, sessionID string) error {
	session, err := g.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.NewError(domain.CodeSessionNotFound, "session not found", false)
	}
	if session.TenantID != cc.TenantID {
		return domain.NewError(domain.CodeForbidden, "session belongs to another tenant", false)
	}
	if session.IsExpired(g.now()) {
		return domain.NewError(domain.CodeSessionExpired, "session has expired", false)
	}
	return nil
}

// Dispatch decodes one inbound frame and handles it. Handler failures and
// panics become an error event to the originating connection only.
func (g *Gateway) Dispatch(ctx context.Context, c *Conn, raw []byte) {
	c.Touch(g.now())

	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		g.emitError(c, "", "", domain.NewError(domain.CodeInvalidPayload, "malformed event frame", false))
		return
	}
	g.Handle(ctx, c, in)
}

// Handle runs the handler of a decoded inbound event
func (g *Gateway) Handle(ctx context.Context, c *Conn, in Inbound) {
	handler, ok := g.handlers[in.Event]
	if !ok {
		g.emitError(c, in.Event, in.RequestID, domain.NewError(domain.CodeInvalidEvent, "unknown event: "+in.Event, false))
		return
	}

	// skill executions are bounded by the engine's own timeouts
	if g.cfg.HandlerTimeout > 0 && in.Event != domain.EventSkillExecute {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("conn_id", c.ID).
				Str("event", in.Event).
				Msg("Event handler panicked")
			g.emitError(c, in.Event, in.RequestID, domain.NewError(domain.CodeInternal, "internal error", true))
		}
	}()

	if err := handler(ctx, c, in); err != nil {
		logEvent := log.Warn()
		var derr *domain.Error
		if !errors.As(err, &derr) {
			logEvent = log.Error()
		}
		logEvent.Err(err).
			Str("conn_id", c.ID).
			Str("tenant_id", c.TenantID).
			Str("event", in.Event).
			Msg("Event handler failed")
		g.emitError(c, in.Event, in.RequestID, err)
	}
}

// DispatchAsync handles a frame on its own goroutine under the gateway's
// lifetime context, so results outlive the originating socket.
func (g *Gateway) DispatchAsync(c *Conn, raw []byte) {
	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		g.Dispatch(g.baseCtx, c, raw)
	}()
}

// Disconnect releases the connection's rooms, its connection reservation
// and every channel it attached. The session outlives the connection.
func (g *Gateway) Disconnect(c *Conn, reason string) {
	g.mu.Lock()
	_, ok := g.conns[c.ID]
	delete(g.conns, c.ID)
	g.mu.Unlock()
	if !ok {
		return
	}

	// Close before LeaveAll: a concurrent Join either sees the closed
	// connection or runs before LeaveAll takes the rooms lock.
	c.Close()
	g.rooms.LeaveAll(c.ID)
	g.releaseReservation(c.ConnectionContext)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(g.baseCtx), 5*time.Second)
	defer cancel()
	for _, ch := range c.DetachChannels() {
		if ch.Counted {
			if err := g.deps.Quota.Release(ctx, c.TenantID, domain.ResourceChannels); err != nil {
				log.Warn().Err(err).Str("tenant_id", c.TenantID).Msg("Failed to release channel quota")
			}
		}
		channelType, channelID, _ := strings.Cut(ch.Key, ":")
		g.emitToRoom(ctx, UserRoom(c.TenantID, c.UserID), "", domain.EventChannelDisconnected, "", map[string]any{
			"channel_type": channelType,
			"channel_id":   channelID,
			"reason":       reason,
		})
	}

	log.Info().
		Str("conn_id", c.ID).
		Str("tenant_id", c.TenantID).
		Str("reason", reason).
		Dur("duration", g.now().Sub(c.ConnectedAt)).
		Msg("Connection closed")
}

func (g *Gateway) releaseReservation(cc *domain.ConnectionContext) {
	if !cc.TakeReservation() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(g.baseCtx), 5*time.Second)
	defer cancel()
	if err := g.deps.Quota.Release(ctx, cc.TenantID, domain.ResourceConnections); err != nil {
		log.Warn().Err(err).Str("tenant_id", cc.TenantID).Msg("Failed to release connection quota")
	}
}

// Shutdown disconnects every local connection and waits for in-flight
// handlers until ctx is done.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, c := range conns {
		g.Disconnect(c, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway shutdown: %w", ctx.Err())
	}
}

// ConnectionCount returns the number of local connections
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// emitToConn sends an event to one local connection
func (g *Gateway) emitToConn(c *Conn, event, requestID string, data any) {
	msg, err := encode(event, requestID, data, g.now())
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}
	g.send(c, msg)
}

func (g *Gateway) emitError(c *Conn, event, requestID string, err error) {
	g.emitToConn(c, domain.EventError, requestID, errorPayload(event, err))
}

func (g *Gateway) emitWarning(c *Conn, requestID string, d domain.QuotaDecision) {
	g.emitToConn(c, domain.EventQuotaWarning, requestID, map[string]any{
		"resource": d.Resource,
		"used":     d.Used,
		"limit":    d.Limit,
	})
}

// emitToRoom delivers an event to the room's local members and mirrors it
// to other instances. exclude skips one connection id everywhere.
func (g *Gateway) emitToRoom(ctx context.Context, room, exclude, event, requestID string, data any) {
	msg, err := encode(event, requestID, data, g.now())
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}

	g.deliverLocal(room, exclude, event, msg)

	if g.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(envelope{
		Origin:  g.cfg.InstanceID,
		Room:    room,
		Event:   event,
		Exclude: exclude,
		Message: msg,
	})
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("Failed to encode bus envelope")
		return
	}
	if err := g.deps.Bus.Publish(ctx, g.cfg.BusChannel, payload); err != nil {
		log.Warn().Err(err).Str("room", room).Str("event", event).Msg("Failed to publish to event bus")
	}
}

func (g *Gateway) onBusMessage(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed bus envelope")
		return
	}
	if env.Origin == g.cfg.InstanceID {
		return
	}
	g.deliverLocal(env.Room, env.Exclude, env.Event, env.Message)
}

func (g *Gateway) deliverLocal(room, exclude, event string, msg []byte) {
	for _, c := range g.rooms.Members(room) {
		if c.ID == exclude {
			continue
		}
		g.send(c, msg)
	}

	if event == domain.EventSessionDeleted && strings.HasPrefix(room, "session:") {
		sessionID := strings.TrimPrefix(room, "session:")
		for _, c := range g.rooms.Drop(room) {
			c.ClearSessionID(sessionID)
		}
	}
}

func (g *Gateway) send(c *Conn, msg []byte) {
	if c.enqueue(msg) {
		return
	}
	if c.Closed() {
		return
	}
	log.Warn().Str("conn_id", c.ID).Msg("Send buffer full, closing connection")
	go g.Disconnect(c, "send buffer full")
}
