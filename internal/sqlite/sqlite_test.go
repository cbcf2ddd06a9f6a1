package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOpen verifies that Open creates a new file, including a missing
// parent directory, and that the data survives a reopen.
func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "board.db")

	db, err := Open(dbPath)
	require.NoError(t, err, "Opening new file failed")
	require.NotNil(t, db)

	_, err = db.Exec(`CREATE TABLE probe (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err, "Creating probe table failed")
	_, err = db.Exec(`INSERT INTO probe (name) VALUES ('alice')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(dbPath)
	require.NoError(t, err, "Reopening existing file failed")
	defer reopened.Close()

	var count int
	err = reopened.QueryRow(`SELECT count(*) FROM probe`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
