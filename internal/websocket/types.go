package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/redact/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeRedaction is sent after a text or document was redacted
	EventTypeRedaction EventType = "redaction"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// RedactionEvent describes one redaction. It never carries text or entity
// values, only counts.
type RedactionEvent struct {
	Source        string            `json:"source"` // "text", "file:<format>", "batch:<name>"
	Level         int               `json:"level"`
	Strategy      string            `json:"strategy"`
	Findings      []privacy.Finding `json:"findings"`
	TotalEntities int               `json:"total_entities"`
	InputChars    int               `json:"input_chars"`
	Cached        bool              `json:"cached"`
	ProcessingMS  float64           `json:"processing_ms"`
}

// NewRedactionEvent wraps a ProcessResult summary in an Event.
func NewRedactionEvent(requestID, source, strategy string, res privacy.ProcessResult, cached bool, d time.Duration) Event {
	findings := res.Findings
	if findings == nil {
		findings = []privacy.Finding{}
	}
	return Event{
		Type:      EventTypeRedaction,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: RedactionEvent{
			Source:        source,
			Level:         int(res.Level),
			Strategy:      strategy,
			Findings:      findings,
			TotalEntities: res.TotalEntities(),
			InputChars:    len(res.Original),
			Cached:        cached,
			ProcessingMS:  float64(d.Microseconds()) / 1000,
		},
	}
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	ClientIP     string        `json:"client_ip"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Duration     time.Duration `json:"duration"`
	ResponseSize int64         `json:"response_size"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	TotalRedactions  int64  `json:"total_redactions"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows the event types a client receives.
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	subscription *SubscriptionRequest
}
