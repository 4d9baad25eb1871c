package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/skill"
	"github.com/rs/zerolog/log"
)

type sessionRef struct {
	SessionID string `json:"session_id,omitempty"`
}

type typingPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Typing    bool   `json:"typing"`
}

type skillExecutePayload struct {
	Skill       string          `json:"skill" validate:"required,max=128"`
	Params      json.RawMessage `json:"params,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	TimeoutMs   int64           `json:"timeout_ms,omitempty" validate:"omitempty,min=1"`
	MaxAttempts int             `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
}

// decode unmarshals the event data into dst and runs its validate tags
func decode(in Inbound, dst any) error {
	res := skill.DecodeAndValidate(in.Data, dst)
	if res.Valid {
		return nil
	}
	return domain.NewError(domain.CodeValidation, "invalid "+in.Event+" payload", false).
		WithDetails(map[string]any{"errors": res.Errors})
}

func (g *Gateway) emitQuotaExceeded(c *Conn, requestID string, d domain.QuotaDecision) {
	g.emitToConn(c, domain.EventQuotaExceeded, requestID, map[string]any{
		"resource": d.Resource,
		"used":     d.Used,
		"limit":    d.Limit,
		"message":  string(d.Resource) + " quota exceeded",
	})
}

// admit runs an admission check. It returns false after reporting a
// denial to the connection.
func (g *Gateway) admit(ctx context.Context, c *Conn, requestID string, resource domain.QuotaResource) (domain.QuotaDecision, bool, error) {
	d, err := g.deps.Quota.Check(ctx, c.TenantID, c.Tier, resource)
	if err != nil {
		return d, false, err
	}
	if !d.Allowed {
		g.emitQuotaExceeded(c, requestID, d)
		return d, false, nil
	}
	if g.deps.Quota.ShouldWarn(d) {
		g.emitWarning(c, requestID, d)
	}
	return d, true, nil
}

func (g *Gateway) release(ctx context.Context, tenantID string, resource domain.QuotaResource) {
	if err := g.deps.Quota.Release(context.WithoutCancel(ctx), tenantID, resource); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Str("resource", string(resource)).Msg("Failed to release quota")
	}
}

// ownedSession loads a session and checks it belongs to the connection's tenant
func (g *Gateway) ownedSession(ctx context.Context, c *Conn, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.NewError(domain.CodeValidation, "session_id is required", false)
	}
	session, err := g.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.NewError(domain.CodeSessionNotFound, "session not found", false)
	}
	if session.TenantID != c.TenantID {
		return nil, domain.NewError(domain.CodeForbidden, "session belongs to another tenant", false)
	}
	return session, nil
}

// emitToSession delivers to the session room and to the originating
// connection when it is not a member.
func (g *Gateway) emitToSession(ctx context.Context, c *Conn, sessionID, event, requestID string, data any) {
	room := SessionRoom(sessionID)
	member := g.rooms.Has(room, c.ID)
	g.emitToRoom(ctx, room, "", event, requestID, data)
	if !member {
		g.emitToConn(c, event, requestID, data)
	}
}

func (g *Gateway) handleSessionCreate(ctx context.Context, c *Conn, in Inbound) error {
	var p domain.SessionCreate
	if err := decode(in, &p); err != nil {
		return err
	}

	decision, ok, err := g.admit(ctx, c, in.RequestID, domain.ResourceSessions)
	if err != nil || !ok {
		return err
	}

	session, err := g.deps.Sessions.CreateSession(ctx, c.TenantID, c.UserID, c.Tier, p.Metadata, p.TTLSeconds)
	if err != nil {
		if decision.Counted {
			g.release(ctx, c.TenantID, domain.ResourceSessions)
		}
		return err
	}

	// the session outlives a connection that closed while it was created
	if !g.rooms.Join(SessionRoom(session.ID), c) {
		log.Debug().Str("conn_id", c.ID).Str("session_id", session.ID).Msg("Session created after connection closed")
		return nil
	}
	c.SetSessionID(session.ID)
	g.emitToConn(c, domain.EventSessionCreated, in.RequestID, session)
	return nil
}

func (g *Gateway) handleSessionUpdate(ctx context.Context, c *Conn, in Inbound) error {
	var p domain.SessionPatch
	if err := decode(in, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		p.SessionID = c.SessionID()
	}
	if _, err := g.ownedSession(ctx, c, p.SessionID); err != nil {
		return err
	}

	session, err := g.deps.Sessions.UpdateSession(ctx, p.SessionID, p)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.NewError(domain.CodeSessionNotFound, "session not found", false)
	}

	g.emitToSession(ctx, c, session.ID, domain.EventSessionUpdated, in.RequestID, session)
	return nil
}

func (g *Gateway) handleSessionDelete(ctx context.Context, c *Conn, in Inbound) error {
	var p sessionRef
	if err := decode(in, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		p.SessionID = c.SessionID()
	}
	if _, err := g.ownedSession(ctx, c, p.SessionID); err != nil {
		return err
	}

	deleted, err := g.deps.Sessions.DeleteSession(ctx, p.SessionID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.NewError(domain.CodeSessionNotFound, "session not found", false)
	}

	c.ClearSessionID(p.SessionID)
	g.emitToSession(ctx, c, p.SessionID, domain.EventSessionDeleted, in.RequestID, map[string]any{
		"session_id": p.SessionID,
	})
	return nil
}

func (g *Gateway) handleSkillExecute(ctx context.Context, c *Conn, in Inbound) error {
	var p skillExecutePayload
	if err := decode(in, &p); err != nil {
		return err
	}

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = c.SessionID()
	} else if _, err := g.ownedSession(ctx, c, sessionID); err != nil {
		return err
	}

	emit := func(event string, data any) {
		if sessionID != "" {
			g.emitToSession(ctx, c, sessionID, event, in.RequestID, data)
			return
		}
		g.emitToConn(c, event, in.RequestID, data)
	}

	opts := g.deps.Engine.DefaultOptions()
	if t := time.Duration(p.TimeoutMs) * time.Millisecond; t > 0 && (opts.Timeout <= 0 || t < opts.Timeout) {
		opts.Timeout = t
	}
	if p.MaxAttempts > 0 && p.MaxAttempts < opts.MaxAttempts {
		opts.MaxAttempts = p.MaxAttempts
	}
	opts.Admitted = func(d domain.QuotaDecision) {
		if g.deps.Quota.ShouldWarn(d) {
			g.emitWarning(c, in.RequestID, d)
		}
	}
	opts.Progress = func(ev domain.ProgressEvent) {
		switch ev.Stage {
		case domain.StageStarting:
			emit(domain.EventSkillStarted, map[string]any{
				"skill":      ev.Skill,
				"session_id": sessionID,
			})
		case domain.StageProgress, domain.StageRetrying:
			emit(domain.EventSkillProgress, ev)
		}
	}

	result := g.deps.Engine.Execute(ctx, &domain.SkillExecutionRequest{
		SkillName: p.Skill,
		Params:    p.Params,
		TenantID:  c.TenantID,
		UserID:    c.UserID,
		Tier:      c.Tier,
		SessionID: sessionID,
		RequestID: in.RequestID,
	}, opts)

	switch {
	case result.Success:
		emit(domain.EventSkillCompleted, map[string]any{
			"skill":  p.Skill,
			"result": result,
		})
	case result.Error.Code == domain.CodeQuotaExceeded:
		g.emitToConn(c, domain.EventQuotaExceeded, in.RequestID, map[string]any{
			"resource": domain.ResourceSkills,
			"skill":    p.Skill,
			"message":  result.Error.Message,
		})
	default:
		emit(domain.EventSkillError, map[string]any{
			"skill":  p.Skill,
			"result": result,
			"error":  result.Error,
		})
	}
	return nil
}

func (g *Gateway) handleMessageSend(ctx context.Context, c *Conn, in Inbound) error {
	var p domain.MessageSend
	if err := decode(in, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		p.SessionID = c.SessionID()
	}
	if p.Role == "" {
		p.Role = domain.RoleUser
	}
	if _, err := g.ownedSession(ctx, c, p.SessionID); err != nil {
		return err
	}

	if _, ok, err := g.admit(ctx, c, in.RequestID, domain.ResourceMessages); err != nil || !ok {
		return err
	}

	msg, err := g.deps.Sessions.AddMessage(ctx, p.SessionID, p.Role, p.Content, p.Metadata)
	if err != nil {
		return err
	}

	g.emitToRoom(ctx, SessionRoom(p.SessionID), "", domain.EventMessageReceived, in.RequestID, msg)
	g.emitToConn(c, domain.EventMessageSent, in.RequestID, map[string]any{
		"message_id": msg.ID,
		"session_id": msg.SessionID,
		"created_at": msg.CreatedAt,
	})
	return nil
}

func (g *Gateway) handleMessageTyping(ctx context.Context, c *Conn, in Inbound) error {
	var p typingPayload
	if err := decode(in, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		p.SessionID = c.SessionID()
	}
	if _, err := g.ownedSession(ctx, c, p.SessionID); err != nil {
		return err
	}

	g.emitToRoom(ctx, SessionRoom(p.SessionID), c.ID, domain.EventMessageTypingOut, in.RequestID, map[string]any{
		"session_id": p.SessionID,
		"user_id":    c.UserID,
		"typing":     p.Typing,
	})
	return nil
}

func (g *Gateway) handleCronCreate(ctx context.Context, c *Conn, in Inbound) error {
	if g.deps.Cron == nil {
		return domain.NewError(domain.CodeInvalidEvent, "scheduling is not enabled", false)
	}

	var p domain.CronCreate
	if err := decode(in, &p); err != nil {
		return err
	}
	if p.SessionID != "" {
		if _, err := g.ownedSession(ctx, c, p.SessionID); err != nil {
			return err
		}
	}

	decision, ok, err := g.admit(ctx, c, in.RequestID, domain.ResourceCronJobs)
	if err != nil || !ok {
		return err
	}

	job, err := g.deps.Cron.Add(domain.CronJob{
		Name:      p.Name,
		Schedule:  p.Schedule,
		SkillName: p.SkillName,
		Params:    p.Params,
		TenantID:  c.TenantID,
		UserID:    c.UserID,
		Tier:      c.Tier,
		SessionID: p.SessionID,
		Reserved:  decision.Counted,
	})
	if err != nil {
		if decision.Counted {
			g.release(ctx, c.TenantID, domain.ResourceCronJobs)
		}
		return err
	}

	g.emitToConn(c, domain.EventCronCreated, in.RequestID, job)
	return nil
}

func (g *Gateway) handleCronDelete(ctx context.Context, c *Conn, in Inbound) error {
	if g.deps.Cron == nil {
		return domain.NewError(domain.CodeInvalidEvent, "scheduling is not enabled", false)
	}

	var p domain.CronDelete
	if err := decode(in, &p); err != nil {
		return err
	}

	job, err := g.deps.Cron.Remove(p.JobID, c.TenantID)
	if err != nil {
		return err
	}
	if job.Reserved {
		g.release(ctx, c.TenantID, domain.ResourceCronJobs)
	}

	g.emitToConn(c, domain.EventCronDeleted, in.RequestID, map[string]any{"job_id": job.ID})
	return nil
}

func (g *Gateway) handleChannelConnect(ctx context.Context, c *Conn, in Inbound) error {
	var p domain.ChannelConnect
	if err := decode(in, &p); err != nil {
		return err
	}

	key := p.ChannelType + ":" + p.ChannelID
	if c.HasChannel(key) {
		return domain.NewError(domain.CodeValidation, "channel already connected", false).
			WithDetails(map[string]any{"channel_type": p.ChannelType, "channel_id": p.ChannelID})
	}

	decision, ok, err := g.admit(ctx, c, in.RequestID, domain.ResourceChannels)
	if err != nil || !ok {
		return err
	}
	if err := c.AddChannel(key, decision.Counted); err != nil {
		if decision.Counted {
			g.release(ctx, c.TenantID, domain.ResourceChannels)
		}
		if errors.Is(err, domain.ErrConnectionClosed) {
			return nil
		}
		return domain.NewError(domain.CodeValidation, "channel already connected", false)
	}

	g.emitToRoom(ctx, UserRoom(c.TenantID, c.UserID), "", domain.EventChannelConnected, in.RequestID, map[string]any{
		"channel_type": p.ChannelType,
		"channel_id":   p.ChannelID,
		"conn_id":      c.ID,
	})
	return nil
}

// NotifyCron delivers a scheduler lifecycle event to the job owner's user room
func (g *Gateway) NotifyCron(job domain.CronJob, event string, payload any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(g.baseCtx), 5*time.Second)
	defer cancel()
	g.emitToRoom(ctx, UserRoom(job.TenantID, job.UserID), "", event, "", payload)
}
