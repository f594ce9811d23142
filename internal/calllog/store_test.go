package calllog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/arveliot/voxwire/pkg/transcript"
)

// testStore opens a Store against the database named by
// VOXWIRE_TEST_POSTGRES_DSN, skipping the test when unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("VOXWIRE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXWIRE_TEST_POSTGRES_DSN not set; skipping database test")
	}

	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_SaveAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := Record{
		SessionID: "test-" + time.Now().Format("20060102150405.000"),
		AgentID:   "7",
		Mode:      "test-agent",
		Transcript: []transcript.Message{
			{Role: transcript.RoleUser, Content: "hello", Complete: true, CreatedAt: time.Now().UTC()},
			{Role: transcript.RoleAssistant, Content: "hi there", Complete: true, CreatedAt: time.Now().UTC()},
		},
		Duration:  17 * time.Second,
		StartedAt: time.Now().UTC(),
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("Recent returned no records")
	}

	found := false
	for _, r := range got {
		if r.SessionID != rec.SessionID {
			continue
		}
		found = true
		if r.Mode != "test-agent" || r.AgentID != "7" {
			t.Errorf("record = %+v", r)
		}
		if r.Duration != 17*time.Second {
			t.Errorf("duration = %v, want 17s", r.Duration)
		}
		if len(r.Transcript) != 2 || r.Transcript[0].Content != "hello" {
			t.Errorf("transcript = %+v", r.Transcript)
		}
	}
	if !found {
		t.Errorf("saved record %q not in recent results", rec.SessionID)
	}
}

func TestStore_Ping(t *testing.T) {
	s := testStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
