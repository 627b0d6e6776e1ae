package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	require := require.New(t)

	require.NoError(db.Put([]byte("pos/b"), []byte("2")))
	require.NoError(db.Put([]byte("pos/a"), []byte("1")))
	require.NoError(db.Put([]byte("pool"), []byte("p")))

	value, err := db.Get([]byte("pos/a"))
	require.NoError(err)
	require.Equal([]byte("1"), value)

	_, err = db.Get([]byte("missing"))
	require.True(errors.Is(err, ErrNotFound))

	var keys []string
	require.NoError(db.Iterate([]byte("pos/"), func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}))
	require.Equal([]string{"pos/a", "pos/b"}, keys)

	batch := db.NewBatch()
	batch.Put([]byte("pos/c"), []byte("3"))
	batch.Delete([]byte("pos/a"))
	require.Equal(2, batch.Len())
	require.NoError(batch.Write())

	_, err = db.Get([]byte("pos/a"))
	require.True(errors.Is(err, ErrNotFound))
	value, err = db.Get([]byte("pos/c"))
	require.NoError(err)
	require.Equal([]byte("3"), value)

	require.NoError(db.Delete([]byte("pool")))
	_, err = db.Get([]byte("pool"))
	require.True(errors.Is(err, ErrNotFound))
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "level"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestBoltDB(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open("rocksdb", "")
	require.Error(t, err)
	db, err := Open("", "")
	require.NoError(t, err)
	require.IsType(t, &MemDB{}, db)
}
