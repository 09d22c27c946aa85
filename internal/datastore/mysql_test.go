package datastore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/preroll-recorder/internal/conf"
)

// TestMySQLIndex runs the index against a real MySQL server in a container.
func TestMySQLIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MySQL container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	container, err := tcmysql.Run(ctx, "mysql:8.4",
		tcmysql.WithDatabase("recorder"),
		tcmysql.WithUsername("recorder"),
		tcmysql.WithPassword("studio"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	// the password comes from a secret file to cover that path too
	pwFile := filepath.Join(t.TempDir(), "mysql_password")
	require.NoError(t, os.WriteFile(pwFile, []byte("studio\n"), 0o600))

	s, err := Open(&conf.DatastoreSettings{
		Type: "mysql",
		MySQL: conf.MySQLSettings{
			Host:         host,
			Port:         port.Port(),
			Username:     "recorder",
			PasswordFile: pwFile,
			Database:     "recorder",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	older := testSession(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	newer := testSession(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	newer.Notes = "verse take"
	require.NoError(t, s.SaveSession(ctx, older))
	require.NoError(t, s.SaveSession(ctx, newer))
	require.NoError(t, s.SetFavorite(ctx, older.ID, true))

	list, err := s.ListSessions(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID, "newest first")

	list, err = s.ListSessions(ctx, Filter{Search: "verse"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)

	list, err = s.ListSessions(ctx, Filter{FavoritesOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)

	got, err := s.GetSession(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.AudioFiles, got.AudioFiles)
}
