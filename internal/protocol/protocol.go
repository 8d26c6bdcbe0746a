// Package protocol defines the wire messages exchanged with clients over
// the session WebSocket and the admin HTTP surface.
package protocol

import (
	"time"

	"github.com/agent-broker/backend/internal/workspace"
)

type MessageType string

const (
	MsgStatus     MessageType = "status"
	MsgAgentEvent MessageType = "agent_event"
	MsgFileTree   MessageType = "file_tree"
	MsgError      MessageType = "error"
	MsgAck        MessageType = "ack"
	MsgConnected  MessageType = "connected"
)

// Client->server message types.
const (
	ClientMessage   = "message"
	ClientCommand   = "command"
	ClientFileWrite = "file_write"
	ClientStop      = "stop"
)

// Inbound is a message from a connected client.
type Inbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Path    string `json:"path,omitempty"`
}

// Handshake is the first frame a client sends on the session socket.
type Handshake struct {
	Token         string `json:"token,omitempty"`
	RepoURL       string `json:"repoUrl,omitempty"`
	Branch        string `json:"branch,omitempty"`
	Task          string `json:"task"`
	ProjectID     string `json:"projectId,omitempty"`
	ModelProvider string `json:"modelProvider,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
}

type Status struct {
	Type      MessageType `json:"type"`
	Status    string      `json:"status"`
	SessionID string      `json:"sessionId,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// AgentEvent is one engine event relayed to the client. Event is the
// coarse category (action/observation/state/error); EventType carries the
// engine's kind name verbatim.
type AgentEvent struct {
	Type      MessageType `json:"type"`
	Event     string      `json:"event"`
	EventType string      `json:"eventType"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
	Command   string      `json:"command,omitempty"`
	ExitCode  *int        `json:"exitCode,omitempty"`
	Path      string      `json:"path,omitempty"`
	Thought   string      `json:"thought,omitempty"`
}

type FileTree struct {
	Type      MessageType          `json:"type"`
	Tree      []workspace.TreeNode `json:"tree"`
	Timestamp string               `json:"timestamp"`
}

type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type Ack struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type Connected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Message   string      `json:"message"`
}

// Timestamp renders the current UTC time the way every outbound message
// stamps it.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
