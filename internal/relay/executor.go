package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Executor forwards messages to the local agent runtime.
type Executor struct {
	baseURL string
	http    *http.Client
}

// NewExecutor creates an Executor for the runtime at baseURL. A nil client
// uses http.DefaultClient; executor calls are bounded by the caller's context.
func NewExecutor(baseURL string, client *http.Client) *Executor {
	if baseURL == "" {
		baseURL = DefaultExecutorURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{baseURL: strings.TrimSuffix(baseURL, "/"), http: client}
}

// Execute sends the message and history to the runtime and returns its
// complete answer, whether it streamed it or returned it in one body.
func (e *Executor) Execute(ctx context.Context, item Item) (string, error) {
	history := item.History
	if history == nil {
		history = []Turn{}
	}
	payload, err := json.Marshal(map[string]any{"message": item.Message, "history": history})
	if err != nil {
		return "", fmt.Errorf("relay: encode executor request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/message", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("relay: executor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp)
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readEventStream(resp.Body)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("relay: read executor response: %w", err)
	}
	return answerFromJSON(body), nil
}

// readEventStream concatenates the text of every data line. A line whose
// payload is not JSON contributes its raw payload.
func readEventStream(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var out strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		var v any
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			out.WriteString(data)
			continue
		}
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := firstField(obj, "text", "content"); ok {
			out.WriteString(s)
		}
	}
	if err := scanner.Err(); err != nil {
		return out.String(), fmt.Errorf("relay: read event stream: %w", err)
	}
	return out.String(), nil
}

// answerFromJSON picks content, text or message from a JSON object, falling
// back to the JSON itself. A body that is not JSON is returned as is.
func answerFromJSON(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	if obj, ok := v.(map[string]any); ok {
		if s, ok := firstField(obj, "content", "text", "message"); ok {
			return s
		}
	}
	return strings.TrimSpace(string(body))
}

// firstField returns the first of keys present with a non-null value.
// Strings are returned as is, anything else as JSON.
func firstField(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return s, true
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		return string(b), true
	}
	return "", false
}
