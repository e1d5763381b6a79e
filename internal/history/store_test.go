package history

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haemilhq/haemilchat/pkg/models"
)

func msg(id, text string, sender models.Sender, at int64) models.Message {
	return models.Message{ID: id, Text: text, Sender: sender, CreatedAt: at}
}

func TestAppendIsIdempotent(t *testing.T) {
	s := NewStore()
	if !s.Append(msg("a", "first", models.SenderSelf, 100)) {
		t.Fatal("first append should succeed")
	}
	if s.Append(msg("a", "imposter", models.SenderRemote, 999)) {
		t.Error("duplicate id append should be a no-op")
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
	got, _ := s.Get("a")
	if got.Text != "first" {
		t.Errorf("duplicate append overwrote the original: %+v", got)
	}
}

func TestUpdateStatus(t *testing.T) {
	s := NewStore()
	s.Append(msg("mine", "hello", models.SenderSelf, 100))
	s.Append(msg("theirs", "hi", models.SenderRemote, 200))

	if !s.UpdateStatus("mine", models.StatusConfirmed) {
		t.Error("status update on own message should succeed")
	}
	if got, _ := s.Get("mine"); got.Status != models.StatusConfirmed {
		t.Errorf("status = %q, want confirmed", got.Status)
	}

	if s.UpdateStatus("theirs", models.StatusFailed) {
		t.Error("status update on a remote message should be a no-op")
	}
	if s.UpdateStatus("ghost", models.StatusFailed) {
		t.Error("status update on unknown id should be a no-op")
	}
}

func TestSnapshotOrdersByCreatedAt(t *testing.T) {
	s := NewStore()
	s.Append(msg("c", "third", models.SenderRemote, 300))
	s.Append(msg("a", "first", models.SenderSelf, 100))
	s.Append(msg("b1", "tie one", models.SenderSelf, 200))
	s.Append(msg("b2", "tie two", models.SenderRemote, 200))

	var ids []string
	for _, m := range s.Snapshot() {
		ids = append(ids, m.ID)
	}
	// Ascending by CreatedAt, insertion order breaking the tie.
	want := []string{"a", "b1", "b2", "c"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("snapshot order mismatch (-want +got):\n%s", diff)
	}
}

func TestRestoreDiscardsMalformedEntries(t *testing.T) {
	s := NewStore()
	kept := s.Restore([]models.Message{
		msg("ok1", "fine", models.SenderSelf, 200),
		{ID: "", Text: "no id", Sender: models.SenderSelf, CreatedAt: 100},
		{ID: "no-text", Text: "", Sender: models.SenderRemote, CreatedAt: 100},
		{ID: "bad-sender", Text: "x", Sender: "alien", CreatedAt: 100},
		{ID: "no-stamp", Text: "x", Sender: models.SenderSelf},
		msg("ok2", "also fine", models.SenderRemote, 100),
		msg("ok1", "duplicate id", models.SenderRemote, 300),
	})

	if kept != 2 {
		t.Errorf("kept %d entries, want 2", kept)
	}
	var ids []string
	for _, m := range s.Snapshot() {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"ok2", "ok1"}, ids); diff != "" {
		t.Errorf("restored order mismatch (-want +got):\n%s", diff)
	}
}

func TestRestoreReplacesExistingState(t *testing.T) {
	s := NewStore()
	s.Append(msg("old", "stale", models.SenderSelf, 1))
	s.Restore([]models.Message{msg("new", "fresh", models.SenderRemote, 2)})

	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	if _, ok := s.Get("old"); ok {
		t.Error("restore should drop pre-existing messages")
	}
	// The replaced id must be appendable again.
	if !s.Append(msg("old", "back", models.SenderSelf, 3)) {
		t.Error("append of a dropped id should succeed after restore")
	}
}

func TestReset(t *testing.T) {
	s := NewStore()
	s.Append(msg("a", "x", models.SenderSelf, 1))
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("len = %d after reset, want 0", s.Len())
	}
	if !s.Append(msg("a", "x", models.SenderSelf, 1)) {
		t.Error("append after reset should succeed")
	}
}
