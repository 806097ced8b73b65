package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrMalformedMessage marks a stdout line that is not a JSON object.
var ErrMalformedMessage = errors.New("plugin: malformed message")

// MessageKind discriminates protocol frames.
type MessageKind int

// Protocol frame kinds.
const (
	MessageUnknown MessageKind = iota
	MessageLog
	MessageResult
)

// Message is one decoded stdout frame.
type Message struct {
	Kind MessageKind
	// Type is the raw "type" field, kept for unknown frames.
	Type string
	Msg  string
	// Result is nil when the frame carried no result or a JSON null.
	Result json.RawMessage
}

type wireMessage struct {
	Type   string          `json:"type"`
	Msg    json.RawMessage `json:"msg"`
	Result json.RawMessage `json:"result"`
}

// DecodeMessage parses a single protocol line.
func DecodeMessage(line []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(line, &wire); err != nil {
		return Message{}, ErrMalformedMessage
	}
	msg := Message{Type: wire.Type}
	switch wire.Type {
	case "log":
		msg.Kind = MessageLog
		msg.Msg = logText(wire.Msg)
	case "result":
		msg.Kind = MessageResult
		if len(wire.Result) > 0 && !bytes.Equal(bytes.TrimSpace(wire.Result), []byte("null")) {
			msg.Result = append(json.RawMessage(nil), wire.Result...)
		}
	default:
		msg.Kind = MessageUnknown
	}
	return msg, nil
}

// logText renders msg verbatim when it is a string and as JSON otherwise.
func logText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
