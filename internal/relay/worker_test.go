package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type response struct {
	id      string
	content string
}

type fakeHub struct {
	mu        sync.Mutex
	items     []Item
	pollErr   error
	polls     int
	responses []response
	failures  []error // returned by successive Respond calls
}

func (h *fakeHub) Poll(context.Context) ([]Item, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polls++
	if h.pollErr != nil {
		return nil, h.pollErr
	}
	items := h.items
	h.items = nil
	return items, nil
}

func (h *fakeHub) Respond(_ context.Context, id, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, response{id, content})
	if len(h.failures) > 0 {
		err := h.failures[0]
		h.failures = h.failures[1:]
		return err
	}
	return nil
}

type runnerFunc func(ctx context.Context, item Item) (string, error)

func (f runnerFunc) Execute(ctx context.Context, item Item) (string, error) { return f(ctx, item) }

func newTestWorker(t *testing.T, hub Hub, runner Runner) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerOpts{Hub: hub, Runner: runner, Interval: time.Millisecond, RetryBackoff: time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

func TestNewWorker_Validation(t *testing.T) {
	if _, err := NewWorker(WorkerOpts{Runner: runnerFunc(nil)}); err == nil {
		t.Error("expected error for missing hub")
	}
	if _, err := NewWorker(WorkerOpts{Hub: &fakeHub{}}); err == nil {
		t.Error("expected error for missing runner")
	}
}

func TestWorker_ProcessesItemsInOrder(t *testing.T) {
	hub := &fakeHub{items: []Item{{QueueItemID: "q1", Message: "one"}, {QueueItemID: "q2", Message: "two"}}}
	var seen []string
	w := newTestWorker(t, hub, runnerFunc(func(_ context.Context, item Item) (string, error) {
		seen = append(seen, item.QueueItemID)
		return "re: " + item.Message, nil
	}))
	w.Cycle(context.Background())

	if strings.Join(seen, ",") != "q1,q2" {
		t.Errorf("executed = %v", seen)
	}
	want := []response{{"q1", "re: one"}, {"q2", "re: two"}}
	if len(hub.responses) != 2 || hub.responses[0] != want[0] || hub.responses[1] != want[1] {
		t.Errorf("responses = %+v", hub.responses)
	}
}

func TestWorker_ErrorReports(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
		want   string
	}{
		{"status error", "", &StatusError{Code: 503, Body: "busy"}, "[Error] 503: busy"},
		{"transport error", "", errors.New("connection refused"), "[Error] connection refused"},
		{"empty answer", "", nil, EmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &fakeHub{items: []Item{{QueueItemID: "q1"}}}
			w := newTestWorker(t, hub, runnerFunc(func(context.Context, Item) (string, error) {
				return tt.answer, tt.err
			}))
			w.Cycle(context.Background())
			if len(hub.responses) != 1 || hub.responses[0].content != tt.want {
				t.Errorf("responses = %+v, want %q", hub.responses, tt.want)
			}
		})
	}
}

func TestWorker_ErrorReportRetries(t *testing.T) {
	hub := &fakeHub{
		items:    []Item{{QueueItemID: "q1"}},
		failures: []error{&StatusError{Code: 502}, errors.New("reset"), nil},
	}
	w := newTestWorker(t, hub, runnerFunc(func(context.Context, Item) (string, error) {
		return "", errors.New("boom")
	}))
	w.Cycle(context.Background())
	if len(hub.responses) != 3 {
		t.Errorf("respond attempts = %d, want 3", len(hub.responses))
	}
}

func TestWorker_ErrorReportGivesUp(t *testing.T) {
	hub := &fakeHub{
		items:    []Item{{QueueItemID: "q1"}},
		failures: []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")},
	}
	w := newTestWorker(t, hub, runnerFunc(func(context.Context, Item) (string, error) {
		return "", errors.New("boom")
	}))
	w.Cycle(context.Background())
	if len(hub.responses) != 1+ErrorReportRetries {
		t.Errorf("respond attempts = %d, want %d", len(hub.responses), 1+ErrorReportRetries)
	}
}

func TestWorker_ErrorReportNoRetryOnConflict(t *testing.T) {
	hub := &fakeHub{
		items:    []Item{{QueueItemID: "q1"}},
		failures: []error{&StatusError{Code: 409, Body: "Queue item is failed, expected processing"}},
	}
	w := newTestWorker(t, hub, runnerFunc(func(context.Context, Item) (string, error) {
		return "", errors.New("boom")
	}))
	w.Cycle(context.Background())
	if len(hub.responses) != 1 {
		t.Errorf("respond attempts = %d, want 1", len(hub.responses))
	}
}

func TestWorker_AnswerDeliveryFailureReportsError(t *testing.T) {
	hub := &fakeHub{items: []Item{{QueueItemID: "q1"}}, failures: []error{errors.New("connection reset by peer")}}
	w := newTestWorker(t, hub, runnerFunc(func(context.Context, Item) (string, error) {
		return "answer", nil
	}))
	w.Cycle(context.Background())

	if len(hub.responses) != 2 {
		t.Fatalf("respond calls = %d, want 2: %+v", len(hub.responses), hub.responses)
	}
	if hub.responses[0].content != "answer" {
		t.Errorf("first respond = %q, want the answer", hub.responses[0].content)
	}
	if got := hub.responses[1]; got.id != "q1" || got.content != "[Error] connection reset by peer" {
		t.Errorf("second respond = %+v, want error report for q1", got)
	}
}

func TestWorker_AnswerDeliveryReportGivesUp(t *testing.T) {
	fail := errors.New("unreachable")
	hub := &fakeHub{items: []Item{{QueueItemID: "q1"}}, failures: []error{fail, fail, fail, fail, fail}}
	w := newTestWorker(t, hub, runnerFunc(func(context.Context, Item) (string, error) {
		return "answer", nil
	}))
	w.Cycle(context.Background())
	if want := 2 + ErrorReportRetries; len(hub.responses) != want {
		t.Errorf("respond calls = %d, want %d", len(hub.responses), want)
	}
}

func TestWorker_AnswerConflictNotReported(t *testing.T) {
	hub := &fakeHub{
		items:    []Item{{QueueItemID: "q1"}},
		failures: []error{&StatusError{Code: 409, Body: "Queue item is failed, expected processing"}},
	}
	w := newTestWorker(t, hub, runnerFunc(func(context.Context, Item) (string, error) {
		return "late answer", nil
	}))
	w.Cycle(context.Background())
	if len(hub.responses) != 1 {
		t.Errorf("respond calls = %d, want 1: %+v", len(hub.responses), hub.responses)
	}
}

func TestWorker_PollErrorContinues(t *testing.T) {
	hub := &fakeHub{pollErr: errors.New("hub down")}
	ctx, cancel := context.WithCancel(context.Background())
	w := newTestWorker(t, hub, runnerFunc(func(context.Context, Item) (string, error) { return "", nil }))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	deadline := time.After(2 * time.Second)
	for {
		hub.mu.Lock()
		polls := hub.polls
		hub.mu.Unlock()
		if polls >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d polls", polls)
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWorker_CancelAbandonsItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := &fakeHub{items: []Item{{QueueItemID: "q1"}, {QueueItemID: "q2"}}}
	calls := 0
	w := newTestWorker(t, hub, runnerFunc(func(ctx context.Context, _ Item) (string, error) {
		calls++
		cancel()
		return "", ctx.Err()
	}))
	w.Cycle(ctx)
	if calls != 1 {
		t.Errorf("executor calls = %d, want 1", calls)
	}
	if len(hub.responses) != 0 {
		t.Errorf("responses = %+v, want none after cancel", hub.responses)
	}
}

// hubServer records respond bodies and serves one item on the first poll.
func hubServer(t *testing.T) (*httptest.Server, func() []map[string]string) {
	t.Helper()
	var (
		mu     sync.Mutex
		served bool
		bodies []map[string]string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agents/a1/poll", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if served {
			w.Write([]byte(`{"items":[]}`))
			return
		}
		served = true
		w.Write([]byte(`{"items":[{"queueItemId":"q1","conversationId":"c1","message":"hello","history":[]}]}`))
	})
	mux.HandleFunc("POST /api/agents/a1/respond", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.Write([]byte(`{"success":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() []map[string]string {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]string(nil), bodies...)
	}
}

func TestWorker_EndToEndStreamedAnswer(t *testing.T) {
	hub, responses := hubServer(t)
	exec := executorServer(t, "text/event-stream", http.StatusOK, "data: {\"text\":\"Hel\"}\n\ndata: {\"text\":\"lo\"}\n\n")

	client, _ := NewHubClient(HubClientOpts{BaseURL: hub.URL, AgentID: "a1", Token: "tok"})
	w := newTestWorker(t, client, NewExecutor(exec.URL, nil))
	w.Cycle(context.Background())

	got := responses()
	if len(got) != 1 || got[0]["queueItemId"] != "q1" || got[0]["content"] != "Hello" {
		t.Errorf("responses = %v", got)
	}
}

func TestWorker_EndToEndExecutorUnavailable(t *testing.T) {
	hub, responses := hubServer(t)
	exec := executorServer(t, "text/plain", http.StatusServiceUnavailable, "down")

	client, _ := NewHubClient(HubClientOpts{BaseURL: hub.URL, AgentID: "a1", Token: "tok"})
	w := newTestWorker(t, client, NewExecutor(exec.URL, nil))
	w.Cycle(context.Background())

	got := responses()
	if len(got) != 1 || !strings.HasPrefix(got[0]["content"], "[Error]") {
		t.Errorf("responses = %v", got)
	}
}
