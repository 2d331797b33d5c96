package model

import "time"

type KeyStatus string

const (
	KeyPending   KeyStatus = "pending"
	KeyConfirmed KeyStatus = "confirmed"
	KeyRejected  KeyStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s KeyStatus) Terminal() bool {
	return s == KeyConfirmed || s == KeyRejected
}

type Attempt struct {
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location"`
	Key       string    `json:"key,omitempty"`
	Source    string    `json:"source,omitempty"`
	Raw       string    `json:"raw,omitempty"`
}

type Location struct {
	ID          string    `json:"id"`
	Attempts    int       `json:"attempts"`
	Total       int       `json:"total"`
	Active      bool      `json:"active"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

type Key struct {
	ID          string    `json:"id"`
	Value       string    `json:"value"`
	Status      KeyStatus `json:"status"`
	Location    string    `json:"location"`
	SubmittedAt time.Time `json:"submitted_at"`
	DecidedAt   time.Time `json:"decided_at,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts"`
}

type Client struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
}

// UpdateInfo is the payload of the "update info" broadcast. Field names are
// shared with the web front end.
type UpdateInfo struct {
	Door    *string `json:"door"`
	Clients int     `json:"clients"`
	Pending int     `json:"pending"`
}

// ActiveLocation returns the door as a plain string, empty when none.
func (u UpdateInfo) ActiveLocation() string {
	if u.Door == nil {
		return ""
	}
	return *u.Door
}

type KeyResult struct {
	ID     string    `json:"id"`
	Status KeyStatus `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`
}

type EventType string

const (
	EventLocationActivated   EventType = "location_activated"
	EventLocationDeactivated EventType = "location_deactivated"
	EventKeySubmitted        EventType = "key_submitted"
	EventKeyConfirmed        EventType = "key_confirmed"
	EventKeyRejected         EventType = "key_rejected"
	EventClientConnected     EventType = "client_connected"
	EventClientDisconnected  EventType = "client_disconnected"
)

type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Location  string            `json:"location,omitempty"`
	KeyID     string            `json:"key_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}
