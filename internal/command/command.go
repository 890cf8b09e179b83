// Package command carries JSON commands of the form {"cmd": name, ...} over a websocket.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command and reply names.
const (
	Ping          = "ping"
	Pong          = "pong"
	GetChartData  = "get_chart_data"
	ChartData     = "chart_data"
	GetHeader     = "get_chart_header"
	ChartHeader   = "chart_header"
	SetChartHours = "set_chart_hours"
	ChartHours    = "chart_hours"
	Error         = "error"
)

// ErrUnknownCommand is returned for a command with no registered handler.
var ErrUnknownCommand = errors.New("unknown command")

// Message is one decoded command or reply. Raw holds the complete JSON object.
type Message struct {
	Cmd string
	Raw json.RawMessage
}

// Decode unmarshals the full message into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Cmd, err)
	}
	return nil
}

// Parse reads the "cmd" field of a raw message.
func Parse(raw []byte) (Message, error) {
	var head struct {
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Message{}, fmt.Errorf("invalid message: %w", err)
	}
	if head.Cmd == "" {
		return Message{}, errors.New("could not find 'cmd' in request")
	}
	return Message{Cmd: head.Cmd, Raw: append(json.RawMessage(nil), raw...)}, nil
}

// Encode builds the wire object for name with the payload fields merged in.
func Encode(name string, payload map[string]any) map[string]any {
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["cmd"] = name
	return msg
}

// ErrorReply is sent back when a command fails.
type ErrorReply struct {
	Cmd   string `json:"cmd"`
	Error string `json:"error"`
}

func errorReply(err error) ErrorReply {
	return ErrorReply{Cmd: Error, Error: err.Error()}
}
