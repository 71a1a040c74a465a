package dao

import (
	"path/filepath"
	"testing"

	"github.com/modfin/mntletter/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDAO(t *testing.T) DAO {
	t.Helper()
	db, err := NewSQLite(Config{Path: filepath.Join(t.TempDir(), "journal.sqlite")}, tools.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAddAndGetDispatches(t *testing.T) {
	db := newDAO(t)

	for _, d := range []Dispatch{
		{MessageID: "m1", Kind: "broadcast", List: "news", MailingID: "42", Rcpt: "a@x.com", Status: DispatchStatusSent},
		{MessageID: "m2", Kind: "broadcast", List: "news", MailingID: "42", Rcpt: "b@x.com", Status: DispatchStatusFailed, Error: "connection refused"},
		{MessageID: "m3", Kind: "preview", List: "news", MailingID: "42", Rcpt: "admin@x.com", Status: DispatchStatusSent},
		{MessageID: "m4", Kind: "confirmation", List: "news", Rcpt: "c@x.com", Status: DispatchStatusSent},
	} {
		stored, err := db.AddDispatch(d)
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.False(t, stored.CreatedAt.IsZero())
	}

	got, err := db.GetDispatches("42")
	require.NoError(t, err)
	require.Len(t, got, 3)

	var failed []Dispatch
	for _, d := range got {
		if d.Status == DispatchStatusFailed {
			failed = append(failed, d)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "b@x.com", failed[0].Rcpt)
	assert.Equal(t, "connection refused", failed[0].Error)

	sum, err := db.GetSummary("42")
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Sent: 1, Failed: 1}, sum, "previews are not counted")

	sum, err = db.GetSummary("unknown")
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{}, sum)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.sqlite")
	db, err := NewSQLite(Config{Path: path}, tools.DiscardLogger())
	require.NoError(t, err)
	_, err = db.AddDispatch(Dispatch{MessageID: "m1", Kind: "broadcast", List: "news", MailingID: "1", Rcpt: "a@x.com", Status: DispatchStatusSent})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewSQLite(Config{Path: path}, tools.DiscardLogger())
	require.NoError(t, err)
	defer db.Close()
	got, err := db.GetDispatches("1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
