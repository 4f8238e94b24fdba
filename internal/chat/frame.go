package chat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Frame is one event of a chat stream. The concrete types are AgentStart,
// TextDelta, AgentDone, Done and ErrorFrame.
type Frame interface {
	frame()
}

// AgentStart announces that an agent is about to respond.
type AgentStart struct {
	AgentID     string
	AgentName   string
	AgentVendor string
}

// TextDelta carries a piece of the responding agent's text.
type TextDelta struct {
	Text      string
	AgentID   string
	AgentName string
}

// AgentDone marks the end of an agent's turn.
type AgentDone struct {
	AgentID string
}

// Done ends a successful stream.
type Done struct {
	ConversationID string
}

// ErrorFrame ends a failed stream.
type ErrorFrame struct {
	Message string
}

func (AgentStart) frame() {}
func (TextDelta) frame()  {}
func (AgentDone) frame()  {}
func (Done) frame()       {}
func (ErrorFrame) frame() {}

// Marshal encodes f as its JSON wire object.
func Marshal(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case AgentStart:
		return json.Marshal(struct {
			AgentStart  bool   `json:"agentStart"`
			AgentID     string `json:"agentId"`
			AgentName   string `json:"agentName"`
			AgentVendor string `json:"agentVendor"`
		}{true, v.AgentID, v.AgentName, v.AgentVendor})
	case TextDelta:
		return json.Marshal(struct {
			Text      string `json:"text"`
			AgentID   string `json:"agentId"`
			AgentName string `json:"agentName"`
		}{v.Text, v.AgentID, v.AgentName})
	case AgentDone:
		return json.Marshal(struct {
			AgentDone bool   `json:"agentDone"`
			AgentID   string `json:"agentId"`
		}{true, v.AgentID})
	case Done:
		return json.Marshal(struct {
			Done           bool   `json:"done"`
			ConversationID string `json:"conversationId"`
		}{true, v.ConversationID})
	case ErrorFrame:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{v.Message})
	default:
		return nil, fmt.Errorf("chat: unknown frame %T", f)
	}
}

// wireFrame is the union of every frame's JSON fields.
type wireFrame struct {
	AgentStart     bool    `json:"agentStart"`
	AgentDone      bool    `json:"agentDone"`
	Done           bool    `json:"done"`
	Text           *string `json:"text"`
	Error          *string `json:"error"`
	AgentID        string  `json:"agentId"`
	AgentName      string  `json:"agentName"`
	AgentVendor    string  `json:"agentVendor"`
	ConversationID string  `json:"conversationId"`
}

// Unmarshal decodes a JSON wire object into its frame type.
func Unmarshal(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("chat: decode frame: %w", err)
	}
	switch {
	case w.AgentStart:
		return AgentStart{AgentID: w.AgentID, AgentName: w.AgentName, AgentVendor: w.AgentVendor}, nil
	case w.AgentDone:
		return AgentDone{AgentID: w.AgentID}, nil
	case w.Done:
		return Done{ConversationID: w.ConversationID}, nil
	case w.Error != nil:
		return ErrorFrame{Message: *w.Error}, nil
	case w.Text != nil:
		return TextDelta{Text: *w.Text, AgentID: w.AgentID, AgentName: w.AgentName}, nil
	default:
		return nil, fmt.Errorf("chat: unrecognized frame %s", data)
	}
}

// Encode writes f to w as a server-sent event: "data: <json>\n\n".
func Encode(w io.Writer, f Frame) error {
	data, err := Marshal(f)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + 8)
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	_, err = w.Write(buf.Bytes())
	return err
}

// Decoder reads frames from a server-sent event stream.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{scanner: s}
}

// Next returns the next frame, or io.EOF at the end of the stream. Events
// with several data lines are joined with newlines, as SSE specifies.
func (d *Decoder) Next() (Frame, error) {
	var data []string
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if len(data) == 0 {
				continue
			}
			return Unmarshal([]byte(strings.Join(data, "\n")))
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(rest, " "))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("chat: read stream: %w", err)
	}
	if len(data) > 0 {
		return Unmarshal([]byte(strings.Join(data, "\n")))
	}
	return nil, io.EOF
}
