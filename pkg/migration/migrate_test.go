package migration

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/tenantdesk/pkg/database"
)

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("全マイグレーションが適用されること", func(t *testing.T) {
		t.Parallel()

		db, err := database.OpenSQLite(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		require.NoError(t, Run(db, os.DirFS("testdata"), "migrations"))

		_, err = db.Exec("INSERT INTO items (id, name) VALUES ('1', 'a')")
		require.NoError(t, err)

		v, err := Version(db)
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
	})

	t.Run("2回実行しても失敗しないこと", func(t *testing.T) {
		t.Parallel()

		db, err := database.OpenSQLite(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		require.NoError(t, Run(db, os.DirFS("testdata"), "migrations"))
		require.NoError(t, Run(db, os.DirFS("testdata"), "migrations"))
	})

	t.Run("存在しないディレクトリでエラーになること", func(t *testing.T) {
		t.Parallel()

		db, err := database.OpenSQLite(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		assert.Error(t, Run(db, os.DirFS("testdata"), "missing"))
	})
}
