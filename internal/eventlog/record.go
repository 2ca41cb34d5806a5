// Package eventlog reads the Copilot CLI's per-session events.jsonl files
// incrementally and decodes each line into a typed Record.
package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a record for the state classifier.
type Kind string

const (
	KindToolCallStart     Kind = "tool-call-start"
	KindToolCallEnd       Kind = "tool-call-end"
	KindUserPromptRequest Kind = "user-prompt-request"
	KindUserResponse      Kind = "user-response"
	KindReasoningStart    Kind = "reasoning-start"
	KindReasoningEnd      Kind = "reasoning-end"
	KindSubagentStart     Kind = "subagent-start"
	KindSubagentEnd       Kind = "subagent-end"
	KindServerConnect     Kind = "server-connect"
	KindOther             Kind = "other"
)

// Wire-format event types written by the Copilot CLI.
const (
	TypeSessionStart     = "session.start"
	TypeSessionResume    = "session.resume"
	TypeSessionInfo      = "session.info"
	TypeToolStart        = "tool.execution_start"
	TypeToolComplete     = "tool.execution_complete"
	TypeTurnStart        = "assistant.turn_start"
	TypeTurnEnd          = "assistant.turn_end"
	TypeAssistantMessage = "assistant.message"
	TypeUserMessage      = "user.message"
	TypeSubagentStarted  = "subagent.started"
	TypeSubagentComplete = "subagent.completed"
)

// Tools whose execution means the CLI is blocked on the user.
var promptTools = map[string]bool{
	"ask_user":       true,
	"ask_permission": true,
}

// IntentTool is the bookkeeping tool the CLI uses to announce what it is doing.
const IntentTool = "report_intent"

// Record is one decoded event. Exactly one payload pointer is set for kinds
// that carry a payload; KindOther and the reasoning/response kinds carry none.
type Record struct {
	Kind      Kind
	Type      string
	Timestamp time.Time

	Tool     *ToolPayload
	Prompt   *PromptPayload
	Subagent *SubagentPayload
	Server   *ServerPayload
}

// ToolPayload belongs to KindToolCallStart and KindToolCallEnd.
type ToolPayload struct {
	CallID string
	Name   string
	// Intent is set for report_intent calls.
	Intent string
}

// PromptPayload belongs to KindUserPromptRequest.
type PromptPayload struct {
	CallID  string
	Text    string
	Choices []string
}

// SubagentPayload belongs to KindSubagentStart and KindSubagentEnd.
type SubagentPayload struct {
	CallID      string
	Name        string
	Description string
}

// ServerPayload belongs to KindServerConnect.
type ServerPayload struct {
	Name string
}

// ErrMalformedRecord is wrapped by every decode failure.
var ErrMalformedRecord = errors.New("malformed record")

type wireEvent struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type wireToolData struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments"`
}

type wireToolArgs struct {
	Question string   `json:"question"`
	Message  string   `json:"message"`
	Choices  []string `json:"choices"`
	Intent   string   `json:"intent"`
}

type wireSubagentData struct {
	ToolCallID       string `json:"toolCallId"`
	AgentName        string `json:"agentName"`
	AgentDisplayName string `json:"agentDisplayName"`
	AgentDescription string `json:"agentDescription"`
}

type wireInfoData struct {
	InfoType string `json:"infoType"`
	Message  string `json:"message"`
}

// Decode turns one events.jsonl line into zero or more records. A single
// session.info line listing several MCP servers yields one record per server.
// Unknown event types decode to KindOther.
func Decode(line []byte) ([]Record, error) {
	var ev wireEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	base := Record{Kind: KindOther, Type: ev.Type, Timestamp: parseTimestamp(ev.Timestamp)}

	switch ev.Type {
	case TypeTurnStart:
		base.Kind = KindReasoningStart
	case TypeTurnEnd:
		base.Kind = KindReasoningEnd
	case TypeUserMessage:
		base.Kind = KindUserResponse
	case TypeToolStart:
		return decodeToolStart(base, ev.Data)
	case TypeToolComplete:
		return decodeToolComplete(base, ev.Data)
	case TypeSubagentStarted, TypeSubagentComplete:
		return decodeSubagent(base, ev.Data)
	case TypeSessionInfo:
		return decodeInfo(base, ev.Data)
	}
	return []Record{base}, nil
}

func decodeToolStart(rec Record, raw json.RawMessage) ([]Record, error) {
	var data wireToolData
	if err := unmarshalData(raw, &data); err != nil {
		return nil, err
	}
	if data.ToolName == "" {
		return nil, fmt.Errorf("%w: %s without toolName", ErrMalformedRecord, rec.Type)
	}
	args := decodeArgs(data.Arguments)

	if promptTools[data.ToolName] {
		text := args.Question
		if text == "" {
			text = args.Message
		}
		if text == "" && len(args.Choices) == 0 {
			text = "Waiting for input"
		}
		rec.Kind = KindUserPromptRequest
		rec.Prompt = &PromptPayload{CallID: data.ToolCallID, Text: text, Choices: args.Choices}
		return []Record{rec}, nil
	}

	rec.Kind = KindToolCallStart
	rec.Tool = &ToolPayload{CallID: data.ToolCallID, Name: data.ToolName}
	if data.ToolName == IntentTool {
		rec.Tool.Intent = args.Intent
	}
	return []Record{rec}, nil
}

func decodeToolComplete(rec Record, raw json.RawMessage) ([]Record, error) {
	var data wireToolData
	if err := unmarshalData(raw, &data); err != nil {
		return nil, err
	}
	if data.ToolCallID == "" && data.ToolName == "" {
		return nil, fmt.Errorf("%w: %s without toolCallId", ErrMalformedRecord, rec.Type)
	}
	rec.Kind = KindToolCallEnd
	rec.Tool = &ToolPayload{CallID: data.ToolCallID, Name: data.ToolName}
	return []Record{rec}, nil
}

func decodeSubagent(rec Record, raw json.RawMessage) ([]Record, error) {
	var data wireSubagentData
	if err := unmarshalData(raw, &data); err != nil {
		return nil, err
	}
	name := data.AgentDisplayName
	if name == "" {
		name = data.AgentName
	}
	if name == "" && data.ToolCallID == "" {
		return nil, fmt.Errorf("%w: %s without agent name or toolCallId", ErrMalformedRecord, rec.Type)
	}
	rec.Kind = KindSubagentStart
	if rec.Type == TypeSubagentComplete {
		rec.Kind = KindSubagentEnd
	}
	rec.Subagent = &SubagentPayload{CallID: data.ToolCallID, Name: name, Description: data.AgentDescription}
	return []Record{rec}, nil
}

func decodeInfo(rec Record, raw json.RawMessage) ([]Record, error) {
	var data wireInfoData
	if err := unmarshalData(raw, &data); err != nil {
		return nil, err
	}
	if data.InfoType != "mcp" {
		return []Record{rec}, nil
	}
	names := ServerNamesFromInfo(data.Message)
	if len(names) == 0 {
		return []Record{rec}, nil
	}
	out := make([]Record, 0, len(names))
	for _, name := range names {
		r := rec
		r.Kind = KindServerConnect
		r.Server = &ServerPayload{Name: name}
		out = append(out, r)
	}
	return out, nil
}

// ServerNamesFromInfo extracts MCP server names from an "mcp" info message
// such as "Configured MCP servers: github, playwright".
func ServerNamesFromInfo(msg string) []string {
	const marker = "Configured MCP servers:"
	switch {
	case strings.Contains(msg, marker):
		list := msg[strings.LastIndex(msg, marker)+len(marker):]
		var names []string
		for _, n := range strings.Split(list, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		return names
	case strings.Contains(msg, "GitHub MCP Server"):
		return []string{"github"}
	case strings.TrimSpace(msg) != "":
		return []string{strings.TrimSpace(msg)}
	}
	return nil
}

func unmarshalData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedRecord, err)
	}
	return nil
}

// decodeArgs accepts arguments as an object or as a JSON-encoded string.
func decodeArgs(raw json.RawMessage) wireToolArgs {
	var args wireToolArgs
	if len(raw) == 0 {
		return args
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			_ = json.Unmarshal([]byte(s), &args)
		}
		return args
	}
	_ = json.Unmarshal(raw, &args)
	return args
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}
