package types

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "Initializing"
	SessionReady        SessionStatus = "Ready"
	SessionRunning      SessionStatus = "Running"
	SessionTerminating  SessionStatus = "Terminating"
	SessionTerminated   SessionStatus = "Terminated"
	SessionError        SessionStatus = "Error"
)

// Terminal reports whether the status has no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionTerminated || s == SessionError
}

// Session is the durable record owned by the Session Registry (C3).
type Session struct {
	ID            string        `json:"session_id"`
	Status        SessionStatus `json:"status"`
	InitialPrompt string        `json:"initial_prompt"`
	Environment   string        `json:"environment,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	DesktopPort   int           `json:"desktop_port,omitempty"`
	ToolPort      int           `json:"tool_port,omitempty"`
	SandboxID     string        `json:"sandbox_id,omitempty"`
	WorkerID      string        `json:"worker_id,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// EventType enumerates the kinds of events carried on the chat channel.
type EventType string

const (
	EventUserPrompt    EventType = "UserPrompt"
	EventAgentThinking EventType = "AgentThinking"
	EventAgentAction   EventType = "AgentAction"
	EventAgentResponse EventType = "AgentResponse"
	EventSystemUpdate  EventType = "SystemUpdate"
	EventDownloadReady EventType = "DownloadReady"
	EventError         EventType = "Error"
)

// EventMetadata carries the optional typed fields a MessageEvent may set.
type EventMetadata struct {
	ToolUsed       string `json:"tool_used,omitempty"`
	Progress       int    `json:"progress,omitempty"`
	DownloadURL    string `json:"download_url,omitempty"`
	Error          string `json:"error,omitempty"`
	DesktopReady   bool   `json:"desktop_ready,omitempty"`
	SessionStatus  string `json:"session_status,omitempty"`
}

// MessageEvent is a typed record emitted on a session's chat channel.
type MessageEvent struct {
	Type      EventType      `json:"type"`
	Content   string         `json:"content"`
	Timestamp int64          `json:"timestamp"`
	Metadata  *EventMetadata `json:"metadata,omitempty"`

	// PublisherID and Seq stamp the event for the fabric's dedup filter;
	// never exposed to subscribers beyond what they need for ordering.
	PublisherID string `json:"publisher_id,omitempty"`
	Seq         uint64 `json:"seq,omitempty"`
}

// LogLevel mirrors zerolog's level names for session log entries.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// SessionLogEntry is one entry in a session's bounded log stream.
type SessionLogEntry struct {
	Timestamp int64             `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// SandboxDescriptor is the opaque handle a Sandbox Supervisor hands back.
type SandboxDescriptor struct {
	SandboxID   string    `json:"sandbox_id"`
	SessionID   string    `json:"session_id"`
	DesktopPort int       `json:"desktop_port"`
	ToolPort    int       `json:"tool_port"`
	CreatedAt   time.Time `json:"created_at"`
	MemoryLimit int64     `json:"memory_limit"`
	CPUShares   uint64    `json:"cpu_shares"`
}

// JobKind enumerates the work queue's job kinds.
type JobKind string

const (
	JobCreateSession    JobKind = "CreateSession"
	JobTerminateSession JobKind = "TerminateSession"
	JobProcessMessage   JobKind = "ProcessMessage"
)

// Job is a unit of work dispatched through the Work Queue (C5).
type Job struct {
	JobID     string          `json:"job_id"`
	Kind      JobKind         `json:"kind"`
	SessionID string          `json:"session_id"`
	Payload   map[string]any  `json:"payload,omitempty"`
	Attempts  int             `json:"attempts"`
	Priority  int             `json:"priority"`
}

// WorkerStatus enumerates a worker's registration state.
type WorkerStatus string

const (
	WorkerActive   WorkerStatus = "Active"
	WorkerStopping WorkerStatus = "Stopping"
	WorkerStopped  WorkerStatus = "Stopped"
)

// WorkerEntry is the TTL-bounded registration record for a worker process.
type WorkerEntry struct {
	WorkerID      string       `json:"worker_id"`
	Status        WorkerStatus `json:"status"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
}
