package engine

import (
	"regexp"
	"strings"

	"github.com/agent-broker/backend/internal/protocol"
)

const (
	maxContentLen = 2000
	maxThoughtLen = 1000
)

// fileChangeKinds are the event kinds that always indicate a workspace
// mutation. Command events are excluded here; they go through the command
// pattern instead.
var fileChangeKinds = map[string]bool{
	"FileWriteAction":       true,
	"FileWriteObservation":  true,
	"FileEditAction":        true,
	"FileEditObservation":   true,
	"FileCreateAction":      true,
	"FileCreateObservation": true,
	"FileDeleteAction":      true,
	"FileDeleteObservation": true,
}

// fileChangePattern matches shell commands that can alter the workspace
// tree: directory creation/removal/move/copy, repo operations, downloads,
// archive extraction, package installs, and output redirection.
var fileChangePattern = regexp.MustCompile(
	`(?i)\b(touch|mkdir|rm|rmdir|mv|cp|git\s+clone|git\s+checkout|` +
		`git\s+pull|wget|curl\s+-[oO]|unzip|tar|npm\s+init|pip\s+install|` +
		`npx|create-react-app|tee|dd|install)\b`,
)

// Classify maps an engine event to its wire message and reports whether
// the event may have changed the workspace tree. It is a pure function:
// identical input always yields identical output.
func Classify(ev Event) (protocol.AgentEvent, bool) {
	category := "observation"
	switch {
	case strings.Contains(ev.Kind, "Action"):
		category = "action"
	case strings.Contains(ev.Kind, "Error"):
		category = "error"
	case strings.Contains(ev.Kind, "State"), strings.Contains(ev.Kind, "Update"):
		category = "state"
	}

	msg := protocol.AgentEvent{
		Type:      protocol.MsgAgentEvent,
		Event:     category,
		EventType: ev.Kind,
		Content:   truncate(ev.Content, maxContentLen),
		Timestamp: protocol.Timestamp(),
		Command:   ev.Command,
		ExitCode:  ev.ExitCode,
		Path:      ev.Path,
		Thought:   truncate(ev.Thought, maxThoughtLen),
	}

	return msg, triggersTreeRefresh(ev)
}

func triggersTreeRefresh(ev Event) bool {
	if fileChangeKinds[ev.Kind] {
		return true
	}

	text := ev.Command
	if text == "" {
		text = ev.Content
	}
	return text != "" && fileChangePattern.MatchString(text)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
