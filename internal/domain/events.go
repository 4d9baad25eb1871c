package domain

// Inbound real-time events
const (
	EventSessionCreate  = "session.create"
	EventSessionUpdate  = "session.update"
	EventSessionDelete  = "session.delete"
	EventSkillExecute   = "skill.execute"
	EventMessageSend    = "message.send"
	EventMessageTyping  = "message.typing"
	EventCronCreate     = "cron.create"
	EventCronDelete     = "cron.delete"
	EventChannelConnect = "channel.connect"
)

// Outbound real-time events
const (
	EventSessionCreated      = "session.created"
	EventSessionUpdated      = "session.updated"
	EventSessionDeleted      = "session.deleted"
	EventSkillStarted        = "skill.started"
	EventSkillProgress       = "skill.progress"
	EventSkillCompleted      = "skill.completed"
	EventSkillError          = "skill.error"
	EventMessageReceived     = "message.received"
	EventMessageSent         = "message.sent"
	EventMessageTypingOut    = "message.typing"
	EventCronCreated         = "cron.created"
	EventCronDeleted         = "cron.deleted"
	EventCronTriggered       = "cron.triggered"
	EventCronCompleted       = "cron.completed"
	EventCronFailed          = "cron.failed"
	EventChannelConnected    = "channel.connected"
	EventChannelDisconnected = "channel.disconnected"
	EventQuotaWarning        = "quota.warning"
	EventQuotaExceeded       = "quota.exceeded"
	EventError               = "error"
	EventUnauthorized        = "unauthorized"
)
