// Package websocket implements the real-time pub/sub hub that pushes run
// and audit-event updates to connected operator clients (§1: "streams
// notifications about those outcomes"). It uses gorilla/websocket under the
// hood and exposes a topic-based broadcast API. Its only publisher is
// internal/notification.Service, which publishes once a backup or restore
// run reaches a terminal state.
//
// Topic naming convention:
//
//	run:<uuid>      — the terminal status of a specific Run
//	schedule:<uuid> — accepted as a subscription; nothing publishes on it
//	audit           — one audit.event per finished backup or restore run;
//	                  configuration-change audit events are not published
package websocket

// MessageType identifies the kind of event carried by a Message.
type MessageType string

const (
	// MsgRunStatus is sent when a run transitions between states
	// (started → success | failed).
	MsgRunStatus MessageType = "run.status"

	// MsgAuditEvent is sent when a backup or restore run finishes, whether
	// it was a scheduled run, a manual trigger, or a restore.
	MsgAuditEvent MessageType = "audit.event"

	// MsgPing names an application-level ping message. Nothing in this
	// package sends it: keep-alive uses WebSocket ping control frames sent
	// by Client.writePump.
	MsgPing MessageType = "ping"
)

// Message is the envelope for every WebSocket frame sent to clients.
//
// JSON example:
//
//	{"type":"run.status","topic":"run:018f...","payload":{"status":"success"}}
type Message struct {
	// Type identifies the kind of event so the client can route it correctly.
	Type MessageType `json:"type"`

	// Topic is the pub/sub channel this message was published on.
	Topic string `json:"topic"`

	// Payload carries the event-specific data. The shape varies by Type:
	//   - run.status:   {"run_id":"...","status":"success","backup_filename":"..."}
	//   - audit.event:  {"id":"...","operation":"backup","status":"success",...}
	//   - ping:         {} (empty)
	Payload any `json:"payload"`
}

// RunStatusPayload is the payload shape for MsgRunStatus.
type RunStatusPayload struct {
	RunID          string `json:"run_id"`
	ScheduleID     string `json:"schedule_id,omitempty"`
	Operation      string `json:"operation"`
	Status         string `json:"status"`
	BackupFilename string `json:"backup_filename,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// AuditEventPayload is the payload shape for MsgAuditEvent.
type AuditEventPayload struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	Trigger   string `json:"trigger"`
	Status    string `json:"status"`
	TargetID  string `json:"target_id,omitempty"`
}
