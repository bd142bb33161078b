// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(Invocation{
			ID:         fmt.Sprintf("inv-%d", i),
			ServerID:   "files",
			Capability: "read",
			Arguments:  `{"path":"/etc/hosts"}`,
			Output:     fmt.Sprintf("result %d", i),
			DurationMs: int64(10 * (i + 1)),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "inv-2", recent[0].ID, "newest first")
	require.Equal(t, "inv-1", recent[1].ID)
	require.Equal(t, "result 2", recent[0].Output)
	require.Equal(t, int64(30), recent[0].DurationMs)
}

func TestRecordFailedInvocation(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record(Invocation{
		ID:         "inv-err",
		ServerID:   "files",
		Capability: "read",
		Error:      "invocation failed: permission denied",
	}))

	recent, err := store.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "invocation failed: permission denied", recent[0].Error)
	require.Empty(t, recent[0].Output)
	require.False(t, recent[0].CreatedAt.IsZero(), "missing timestamps are filled in")
}

func TestRecentOnEmptyStore(t *testing.T) {
	store := openTestStore(t)

	recent, err := store.Recent(10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())

	require.ErrorIs(t, store.Record(Invocation{ID: "x"}), ErrClosed)
	_, err := store.Recent(1)
	require.ErrorIs(t, err, ErrClosed)

	// Double close is a no-op.
	require.NoError(t, store.Close())
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(Invocation{ID: "inv-1", ServerID: "files", Capability: "read"}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	recent, err := reopened.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "inv-1", recent[0].ID)
}
