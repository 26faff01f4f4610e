package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnwheel/turnwheel/pkg/chat"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			sess := New(WithUserMessage("hello"))
			require.NoError(t, store.AddSession(t.Context(), sess))

			loaded, err := store.GetSession(t.Context(), sess.ID)
			require.NoError(t, err)
			assert.Equal(t, sess.ID, loaded.ID)
			require.Len(t, loaded.Messages, 1)
			assert.Equal(t, "hello", loaded.Messages[0].Content)
		})
	}
}

func TestStoreUpdate(t *testing.T) {
	t.Parallel()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			sess := New(WithUserMessage("hello"))
			require.NoError(t, store.AddSession(t.Context(), sess))

			sess.AddMessage(chat.Message{Role: chat.MessageRoleAssistant, Content: "hi there"})
			sess.RecordTurn(chat.Usage{InputTokens: 10, OutputTokens: 4}, 0.01)
			require.NoError(t, store.UpdateSession(t.Context(), sess))

			loaded, err := store.GetSession(t.Context(), sess.ID)
			require.NoError(t, err)
			assert.Len(t, loaded.Messages, 2)
			assert.Equal(t, int64(10), loaded.InputTokens)
			assert.Equal(t, 1, loaded.Iterations)
			assert.InDelta(t, 0.01, loaded.TotalCost, 1e-9)
		})
	}
}

func TestStoreUpdateUnknownSession(t *testing.T) {
	t.Parallel()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.UpdateSession(t.Context(), New(WithID("ghost")))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreGetMissingSession(t *testing.T) {
	t.Parallel()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetSession(t.Context(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRejectsEmptyID(t *testing.T) {
	t.Parallel()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.AddSession(t.Context(), &Session{}), ErrEmptyID)
			_, err := store.GetSession(t.Context(), "")
			assert.ErrorIs(t, err, ErrEmptyID)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			sess := New()
			require.NoError(t, store.AddSession(t.Context(), sess))
			require.NoError(t, store.DeleteSession(t.Context(), sess.ID))

			_, err := store.GetSession(t.Context(), sess.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreListSessions(t *testing.T) {
	t.Parallel()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.AddSession(t.Context(), New()))
			require.NoError(t, store.AddSession(t.Context(), New()))

			sessions, err := store.GetSessions(t.Context())
			require.NoError(t, err)
			assert.Len(t, sessions, 2)
		})
	}
}
