// Package classify derives a session's live state from its event records.
package classify

import (
	"slices"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
)

// Status is the lifecycle state shown for a live session.
type Status string

const (
	StatusWorking  Status = "working"
	StatusThinking Status = "thinking"
	StatusWaiting  Status = "waiting"
	StatusIdle     Status = "idle"
	StatusUnknown  Status = "unknown"
)

// Prompt is the question a waiting session is blocked on.
type Prompt struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices"`
}

// Task is a running background subagent.
type Task struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// State is the accumulated result of folding a session's records.
type State struct {
	Status           Status   `json:"state"`
	WaitingPrompt    *Prompt  `json:"waitingPrompt,omitempty"`
	BackgroundTasks  []Task   `json:"backgroundTasks"`
	ConnectedServers []string `json:"connectedServers"`
	ToolCallCount    int      `json:"toolCallCount"`
	SubagentRunCount int      `json:"subagentRunCount"`
	Intent           string   `json:"intent,omitempty"`

	promptCallID string
	pending      map[string]string
	lastKind     eventlog.Kind
}

// New returns the state of a session that has produced no records.
func New() State {
	return State{
		Status:           StatusUnknown,
		BackgroundTasks:  []Task{},
		ConnectedServers: []string{},
	}
}

// PendingTools is the number of tool calls started but not yet completed.
func (s State) PendingTools() int { return len(s.pending) }

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	if s.WaitingPrompt != nil {
		p := *s.WaitingPrompt
		p.Choices = slices.Clone(s.WaitingPrompt.Choices)
		c.WaitingPrompt = &p
	}
	c.BackgroundTasks = append([]Task{}, s.BackgroundTasks...)
	c.ConnectedServers = append([]string{}, s.ConnectedServers...)
	if s.pending != nil {
		c.pending = make(map[string]string, len(s.pending))
		for k, v := range s.pending {
			c.pending[k] = v
		}
	}
	return c
}

// settled reports a finished turn with no open prompt and no running
// background task. Tool calls are not consulted: a cancelled call never
// completes.
func (s State) settled() bool {
	return s.lastKind == eventlog.KindReasoningEnd &&
		s.WaitingPrompt == nil &&
		len(s.BackgroundTasks) == 0
}
