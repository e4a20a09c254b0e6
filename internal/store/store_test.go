package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		v, err := s.SchemaVersion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ir.SchemaVersion, v)
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s, _ := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpen_MigratesOlderDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.DB().Exec(`DELETE FROM _schema_version`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO _schema_version (version, applied_at) VALUES (1, '2025-01-01T00:00:00.000000000Z')`)
	require.NoError(t, err)
	s.Close()

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM _schema_version`).Scan(&n))
	assert.Equal(t, ir.SchemaVersion, n)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertLink(ctx, testLink("l1", "fam-a", "d1", "1.01")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetLink(ctx, "l1")
	assert.ErrorIs(t, err, ErrNotFound)
}
