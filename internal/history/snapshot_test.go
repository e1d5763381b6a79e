package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/haemilhq/haemilchat/pkg/models"
)

func TestDecodeSnapshotPartialRecovery(t *testing.T) {
	payload := `[
		{"id":"a","text":"hello","sender":"me","createdAt":100,"status":"confirmed"},
		{"id":42,"text":"mistyped id","sender":"bot","createdAt":100},
		{"text":"missing id","sender":"bot","createdAt":100},
		{"id":"b","text":"hi","sender":"bot","createdAt":200}
	]`
	got, err := DecodeSnapshot([]byte(payload))
	require.NoError(t, err)

	want := []models.Message{
		{ID: "a", Text: "hello", Sender: models.SenderSelf, CreatedAt: 100, Status: models.StatusConfirmed},
		{ID: "b", Text: "hi", Sender: models.SenderRemote, CreatedAt: 200},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSnapshotRejectsNonArray(t *testing.T) {
	if _, err := DecodeSnapshot([]byte(`{"not":"an array"}`)); err == nil {
		t.Error("expected error for non-array payload")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	missing, err := store.Load(ctx, "chat_history_default")
	require.NoError(t, err)
	require.Nil(t, missing)

	messages := []models.Message{
		{ID: "a", Text: "hello", Sender: models.SenderSelf, CreatedAt: 100, Status: models.StatusPending},
		{ID: "b", Text: "hi", Sender: models.SenderRemote, CreatedAt: 200},
	}
	require.NoError(t, store.Save(ctx, "chat_history_default", messages))

	got, err := store.Load(ctx, "chat_history_default")
	require.NoError(t, err)
	if diff := cmp.Diff(messages, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, store.Delete(ctx, "chat_history_default"))
	gone, err := store.Load(ctx, "chat_history_default")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	key := Key("tok-abc", "u1_bot")
	messages := []models.Message{
		{ID: "a", Text: "안녕하세요", Sender: models.SenderRemote, CreatedAt: 100},
		{ID: "b", Text: "hello", Sender: models.SenderSelf, CreatedAt: 200, Status: models.StatusConfirmed},
	}
	require.NoError(t, store.Save(ctx, key, messages))

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	if diff := cmp.Diff(messages, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Overwrite must replace, not accumulate.
	require.NoError(t, store.Save(ctx, key, messages[:1]))
	got, err = store.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Other keys stay isolated.
	other, err := store.Load(ctx, Key("tok-abc", "u1_counselor"))
	require.NoError(t, err)
	require.Nil(t, other)

	require.NoError(t, store.Delete(ctx, key))
	gone, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.Nil(t, gone)
}
