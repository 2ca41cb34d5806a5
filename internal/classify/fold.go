package classify

import (
	"sort"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
)

// Fold applies records, in order, to prev and returns the new state. prev is
// not modified. With fullReplay the fold starts from New() instead of prev.
//
// A settled state (last relevant record was reasoning-end with no prompt,
// task or tool outstanding) that receives no further records becomes idle.
// Fold reads no clock; the same inputs always give the same output.
func Fold(prev State, records []eventlog.Record, fullReplay bool) State {
	var s State
	if fullReplay {
		s = New()
	} else {
		s = prev.Clone()
		if s.Status == "" {
			s.Status = StatusUnknown
		}
	}

	if len(records) == 0 {
		if s.settled() {
			s.Status = StatusIdle
		}
		return s
	}

	for i := range records {
		s.apply(&records[i])
	}
	return s
}

func (s *State) apply(r *eventlog.Record) {
	switch r.Kind {
	case eventlog.KindReasoningStart:
		s.clearPrompt()
		s.Status = StatusThinking

	case eventlog.KindReasoningEnd:
		s.clearPrompt()
		s.Status = StatusWorking

	case eventlog.KindToolCallStart:
		s.clearPrompt()
		s.Status = StatusWorking
		s.ToolCallCount++
		if r.Tool != nil {
			if r.Tool.CallID != "" {
				if s.pending == nil {
					s.pending = make(map[string]string)
				}
				s.pending[r.Tool.CallID] = r.Tool.Name
			}
			if r.Tool.Intent != "" {
				s.Intent = r.Tool.Intent
			}
		}

	case eventlog.KindToolCallEnd:
		if r.Tool == nil {
			break
		}
		// Completing the prompt tool is the user's answer.
		if s.WaitingPrompt != nil && r.Tool.CallID != "" && r.Tool.CallID == s.promptCallID {
			s.respond()
			break
		}
		delete(s.pending, r.Tool.CallID)
		if s.Status == StatusUnknown {
			s.Status = StatusWorking
		}

	case eventlog.KindUserPromptRequest:
		if r.Prompt == nil {
			return
		}
		s.Status = StatusWaiting
		s.WaitingPrompt = &Prompt{
			Text:    r.Prompt.Text,
			Choices: append([]string{}, r.Prompt.Choices...),
		}
		s.promptCallID = r.Prompt.CallID

	case eventlog.KindUserResponse:
		s.respond()

	case eventlog.KindSubagentStart:
		if r.Subagent == nil {
			return
		}
		s.BackgroundTasks = append(s.BackgroundTasks, Task{
			ID:          r.Subagent.CallID,
			Name:        r.Subagent.Name,
			Description: r.Subagent.Description,
		})
		s.SubagentRunCount++
		if s.Status == StatusUnknown {
			s.Status = StatusWorking
		}

	case eventlog.KindSubagentEnd:
		if r.Subagent == nil {
			return
		}
		s.endTask(r.Subagent)

	case eventlog.KindServerConnect:
		if r.Server == nil || r.Server.Name == "" {
			return
		}
		s.addServer(r.Server.Name)
		// Connecting servers says nothing about the turn.
		return

	default:
		return
	}
	s.lastKind = r.Kind
}

func (s *State) respond() {
	s.clearPrompt()
	s.Status = StatusWorking
}

func (s *State) clearPrompt() {
	s.WaitingPrompt = nil
	s.promptCallID = ""
}

// endTask removes the task with the same call id, or failing that the first
// task with the same name. An unmatched end is ignored.
func (s *State) endTask(sub *eventlog.SubagentPayload) {
	idx := -1
	if sub.CallID != "" {
		for i, t := range s.BackgroundTasks {
			if t.ID == sub.CallID {
				idx = i
				break
			}
		}
	}
	if idx < 0 && sub.Name != "" {
		for i, t := range s.BackgroundTasks {
			if t.Name == sub.Name {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return
	}
	s.BackgroundTasks = append(s.BackgroundTasks[:idx:idx], s.BackgroundTasks[idx+1:]...)
}

func (s *State) addServer(name string) {
	i := sort.SearchStrings(s.ConnectedServers, name)
	if i < len(s.ConnectedServers) && s.ConnectedServers[i] == name {
		return
	}
	s.ConnectedServers = append(s.ConnectedServers, "")
	copy(s.ConnectedServers[i+1:], s.ConnectedServers[i:])
	s.ConnectedServers[i] = name
}
