// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"encoding/json"
	"fmt"
)

// ContentBlock mirrors the agent's content block types: one unit of a
// message turn, either text or a tool invocation.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// Usage carries token accounting from the agent.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

// ContextTokens is the total context the agent reports consumed, including
// cache reads and writes.
func (u Usage) ContextTokens() int {
	return u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// Event is one decoded protocol event. The set of implementations is closed:
// SystemEvent, AssistantEvent, StreamEvent, ResultEvent and ErrorEvent.
// Anything else comes back from DecodeLine as an UnhandledEventError.
type Event interface {
	eventKind() string
}

// SystemEvent announces session metadata (init) or in-band markers such as
// a context compaction boundary.
type SystemEvent struct {
	Subtype        string
	AgentSessionID string
	Model          string
	Tools          []string
	Compact        *CompactBoundary
}

// CompactBoundary is the payload of a system event with subtype
// "compact_boundary": the agent summarized older context away.
type CompactBoundary struct {
	Trigger   string `json:"trigger"`
	PreTokens int    `json:"pre_tokens"`
}

// AssistantEvent is a complete message turn with ordered content blocks.
type AssistantEvent struct {
	MessageID string
	Content   []ContentBlock
	Usage     Usage
}

// StreamEvent wraps one granular partial-progress event.
type StreamEvent struct {
	Inner InnerEvent
}

// ResultEvent signals the turn is complete.
type ResultEvent struct {
	IsError    bool
	Result     string
	NumTurns   int
	DurationMS int64
	Errors     []string
}

// ErrorEvent surfaces an agent-reported error. It does not itself change
// session status.
type ErrorEvent struct {
	Message string
}

func (*SystemEvent) eventKind() string    { return "system" }
func (*AssistantEvent) eventKind() string { return "assistant" }
func (*StreamEvent) eventKind() string    { return "stream_event" }
func (*ResultEvent) eventKind() string    { return "result" }
func (*ErrorEvent) eventKind() string     { return "error" }

// InnerEvent is one decoded stream_event payload. The set of implementations
// is closed: MessageStart, ContentBlockStart, ContentBlockDelta,
// ContentBlockStop, MessageDelta and MessageStop.
type InnerEvent interface {
	innerKind() string
}

// MessageStart begins a new streaming accumulation.
type MessageStart struct {
	MessageID string
	Usage     Usage
}

// ContentBlockStart opens one content block within the streamed message.
type ContentBlockStart struct {
	Index int
	Block ContentBlock
}

// Delta is the incremental growth of a content block.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockDelta appends to the open content block. A delta of type
// "text_delta" carries incremental text; "input_json_delta" carries partial
// tool input.
type ContentBlockDelta struct {
	Index int
	Delta Delta
}

// ContentBlockStop closes one content block.
type ContentBlockStop struct {
	Index int
}

// MessageDelta carries the stop reason and final usage. Informational.
type MessageDelta struct {
	StopReason string
	Usage      Usage
}

// MessageStop finalizes the streaming accumulation.
type MessageStop struct{}

func (*MessageStart) innerKind() string      { return "message_start" }
func (*ContentBlockStart) innerKind() string { return "content_block_start" }
func (*ContentBlockDelta) innerKind() string { return "content_block_delta" }
func (*ContentBlockStop) innerKind() string  { return "content_block_stop" }
func (*MessageDelta) innerKind() string      { return "message_delta" }
func (*MessageStop) innerKind() string       { return "message_stop" }

// wireLine is the superset of top-level fields across all protocol events.
type wireLine struct {
	Type       string           `json:"type"`
	Subtype    string           `json:"subtype,omitempty"`
	SessionID  string           `json:"session_id,omitempty"`
	Model      string           `json:"model,omitempty"`
	Tools      []string         `json:"tools,omitempty"`
	Compact    *CompactBoundary `json:"compact_metadata,omitempty"`
	Message    json.RawMessage  `json:"message,omitempty"`
	Event      json.RawMessage  `json:"event,omitempty"`
	IsError    bool             `json:"is_error,omitempty"`
	Result     string           `json:"result,omitempty"`
	NumTurns   int              `json:"num_turns,omitempty"`
	DurationMS int64            `json:"duration_ms,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
	Error      *wireError       `json:"error,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
}

// DecodeLine parses one complete protocol line into its typed event. A line
// that is not valid JSON returns a *DecodeError; a line whose type
// discriminator is unknown returns an *UnhandledEventError. Both are
// expected protocol noise for the caller to log and drop.
func DecodeLine(line []byte) (Event, error) {
	var w wireLine
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, &DecodeError{Line: line, Err: err}
	}

	switch w.Type {
	case "system":
		return &SystemEvent{
			Subtype:        w.Subtype,
			AgentSessionID: w.SessionID,
			Model:          w.Model,
			Tools:          w.Tools,
			Compact:        w.Compact,
		}, nil

	case "assistant":
		ev := &AssistantEvent{}
		if w.Message != nil {
			var msg struct {
				ID      string         `json:"id"`
				Content []ContentBlock `json:"content"`
				Usage   Usage          `json:"usage"`
			}
			if err := json.Unmarshal(w.Message, &msg); err != nil {
				return nil, &DecodeError{Line: line, Err: fmt.Errorf("assistant message: %w", err)}
			}
			ev.MessageID = msg.ID
			ev.Content = msg.Content
			ev.Usage = msg.Usage
		}
		return ev, nil

	case "stream_event":
		inner, err := decodeInner(w.Event)
		if err != nil {
			return nil, err
		}
		return &StreamEvent{Inner: inner}, nil

	case "result":
		return &ResultEvent{
			IsError:    w.IsError,
			Result:     w.Result,
			NumTurns:   w.NumTurns,
			DurationMS: w.DurationMS,
			Errors:     w.Errors,
		}, nil

	case "error":
		msg := "agent error"
		if w.Error != nil && w.Error.Message != "" {
			msg = w.Error.Message
		} else if w.Message != nil {
			var s string
			if json.Unmarshal(w.Message, &s) == nil && s != "" {
				msg = s
			}
		}
		return &ErrorEvent{Message: msg}, nil

	default:
		return nil, &UnhandledEventError{Kind: w.Type}
	}
}

func decodeInner(raw json.RawMessage) (InnerEvent, error) {
	if raw == nil {
		return nil, &UnhandledEventError{Kind: "stream_event.<missing>"}
	}

	var w struct {
		Type    string          `json:"type"`
		Index   int             `json:"index,omitempty"`
		Message json.RawMessage `json:"message,omitempty"`
		Block   json.RawMessage `json:"content_block,omitempty"`
		Delta   json.RawMessage `json:"delta,omitempty"`
		Usage   Usage           `json:"usage,omitempty"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Line: raw, Err: err}
	}

	switch w.Type {
	case "message_start":
		ev := &MessageStart{}
		if w.Message != nil {
			var msg struct {
				ID    string `json:"id"`
				Usage Usage  `json:"usage"`
			}
			if err := json.Unmarshal(w.Message, &msg); err != nil {
				return nil, &DecodeError{Line: raw, Err: fmt.Errorf("message_start: %w", err)}
			}
			ev.MessageID = msg.ID
			ev.Usage = msg.Usage
		}
		return ev, nil

	case "content_block_start":
		ev := &ContentBlockStart{Index: w.Index}
		if w.Block != nil {
			if err := json.Unmarshal(w.Block, &ev.Block); err != nil {
				return nil, &DecodeError{Line: raw, Err: fmt.Errorf("content_block_start: %w", err)}
			}
		}
		return ev, nil

	case "content_block_delta":
		ev := &ContentBlockDelta{Index: w.Index}
		if w.Delta != nil {
			if err := json.Unmarshal(w.Delta, &ev.Delta); err != nil {
				return nil, &DecodeError{Line: raw, Err: fmt.Errorf("content_block_delta: %w", err)}
			}
		}
		return ev, nil

	case "content_block_stop":
		return &ContentBlockStop{Index: w.Index}, nil

	case "message_delta":
		ev := &MessageDelta{Usage: w.Usage}
		if w.Delta != nil {
			var d struct {
				StopReason string `json:"stop_reason"`
			}
			if json.Unmarshal(w.Delta, &d) == nil {
				ev.StopReason = d.StopReason
			}
		}
		return ev, nil

	case "message_stop":
		return &MessageStop{}, nil

	default:
		return nil, &UnhandledEventError{Kind: "stream_event." + w.Type}
	}
}

// InputMessage is the envelope written to the agent's stdin, one JSON
// object per line.
type InputMessage struct {
	Type    string       `json:"type"`
	Message InputPayload `json:"message"`
}

// InputPayload is the message body of an InputMessage.
type InputPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodeUserInput builds the wire line for one piece of user input,
// including the trailing newline.
func EncodeUserInput(text string) ([]byte, error) {
	msg := InputMessage{Type: "user"}
	msg.Message.Role = "user"
	msg.Message.Content = text

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode user input: %w", err)
	}
	return append(data, '\n'), nil
}
