package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agentfloor/agentfloor/internal/db"
	"github.com/agentfloor/agentfloor/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// frozenClock returns the same instant on every call.
func frozenClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newLedger(t *testing.T, gdb *gorm.DB, now func() time.Time) *Ledger {
	t.Helper()
	l, err := New(Opts{DB: gdb, Now: now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func strPtr(s string) *string { return &s }

func TestNew_RequiresDB(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestCreateConversation_WithParticipants(t *testing.T) {
	l := newLedger(t, testDB(t), nil)
	ctx := context.Background()

	conv, err := l.CreateConversation(ctx, "org-1", "Hello", []string{"a1", "a2"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	got, err := l.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "Hello" || got.OrgID != "org-1" {
		t.Errorf("conversation = %+v", got)
	}
	if len(got.Participants) != 2 {
		t.Errorf("participants = %d, want 2", len(got.Participants))
	}
}

func TestCreateConversation_RequiresOrg(t *testing.T) {
	l := newLedger(t, testDB(t), nil)
	if _, err := l.CreateConversation(context.Background(), "", "x", nil); err == nil {
		t.Fatal("expected error for missing org")
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	l := newLedger(t, testDB(t), nil)
	_, err := l.GetConversation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestAppendMessage_StrictlyIncreasingWithFrozenClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(t, testDB(t), frozenClock(at))
	ctx := context.Background()

	conv, err := l.CreateConversation(ctx, "org-1", "t", nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	var prev time.Time
	for i, content := range []string{"one", "two", "three"} {
		msg := &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: content}
		if err := l.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
		if msg.ID == "" {
			t.Errorf("message %d has no ID", i)
		}
		if i > 0 && !msg.CreatedAt.After(prev) {
			t.Errorf("message %d CreatedAt %v not after %v", i, msg.CreatedAt, prev)
		}
		prev = msg.CreatedAt
	}

	turns, err := l.Transcript(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	var got []string
	for _, tr := range turns {
		got = append(got, tr.Content)
	}
	if strings.Join(got, ",") != "one,two,three" {
		t.Errorf("transcript order = %v", got)
	}
}

func TestAppendMessage_AdvancesUpdatedAt(t *testing.T) {
	gdb := testDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := newLedger(t, gdb, clock)
	ctx := context.Background()

	conv, err := l.CreateConversation(ctx, "org-1", "t", nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	now = now.Add(time.Minute)
	if err := l.AppendMessage(ctx, &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	got, err := l.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
	}
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	gdb := testDB(t)
	l := newLedger(t, gdb, nil)
	err := l.AppendMessage(context.Background(), &models.Message{ConversationID: "nope", Role: models.RoleUser, Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	var n int64
	gdb.Model(&models.Message{}).Count(&n)
	if n != 0 {
		t.Errorf("messages = %d, want 0 after rollback", n)
	}
}

func TestAppendMessage_Validation(t *testing.T) {
	l := newLedger(t, testDB(t), nil)
	ctx := context.Background()
	if err := l.AppendMessage(ctx, &models.Message{Role: models.RoleUser}); err == nil {
		t.Error("expected error for missing conversation id")
	}
	if err := l.AppendMessage(ctx, &models.Message{ConversationID: "c", Role: "robot"}); err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestTranscript_ExcludesSystemAndKeepsOrder(t *testing.T) {
	l := newLedger(t, testDB(t), nil)
	ctx := context.Background()
	conv, err := l.CreateConversation(ctx, "org-1", "t", []string{"a1"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	rows := []models.Message{
		{Role: models.RoleUser, Content: "u1"},
		{Role: models.RoleSystem, Content: "s1"},
		{Role: models.RoleAssistant, Content: "a1", AgentID: strPtr("a1")},
		{Role: models.RoleUser, Content: "u2"},
	}
	for i := range rows {
		rows[i].ConversationID = conv.ID
		if err := l.AppendMessage(ctx, &rows[i]); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	turns, err := l.Transcript(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	want := []Turn{
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2"},
	}
	if len(turns) != len(want) {
		t.Fatalf("turns = %+v, want %+v", turns, want)
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Errorf("turns[%d] = %+v, want %+v", i, turns[i], want[i])
		}
	}
}

func TestTranscript_EmptyIsNotNil(t *testing.T) {
	l := newLedger(t, testDB(t), nil)
	turns, err := l.Transcript(context.Background(), "none")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if turns == nil {
		t.Error("Transcript returned nil, want empty slice")
	}
}

func TestTouch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(t, testDB(t), func() time.Time { return now })
	ctx := context.Background()
	conv, err := l.CreateConversation(ctx, "org-1", "t", nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	now = now.Add(time.Hour)
	if err := l.Touch(ctx, conv.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := l.GetConversation(ctx, conv.ID)
	if !got.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
	}
	// Touching at the same instant is a no-op, not an error.
	if err := l.Touch(ctx, conv.ID); err != nil {
		t.Errorf("second Touch: %v", err)
	}
	if err := l.Touch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch missing = %v, want ErrNotFound", err)
	}
}

func TestTitleFor(t *testing.T) {
	long := strings.Repeat("a", 60)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "Hello there", "Hello there"},
		{"exactly limit", strings.Repeat("b", 50), strings.Repeat("b", 50)},
		{"truncated", long, strings.Repeat("a", 50) + "..."},
		{"multibyte", strings.Repeat("é", 55), strings.Repeat("é", 50) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleFor(tt.in); got != tt.want {
				t.Errorf("TitleFor() = %q, want %q", got, tt.want)
			}
		})
	}
}
