package db

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/odyssey?sslmode=disable", MigrateURL("postgres://u:p@db:5432/odyssey?sslmode=disable"))
	assert.Equal(t, "pgx5://db/odyssey", MigrateURL("postgresql://db/odyssey"))
	assert.Equal(t, "pgx5://db/odyssey", MigrateURL("pgx5://db/odyssey"))
}

func TestMigrationFilesArePaired(t *testing.T) {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	name := regexp.MustCompile(`^(\d{6})_[a-z0-9_]+\.(up|down)\.sql$`)
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		m := name.FindStringSubmatch(e.Name())
		require.NotNil(t, m, "unexpected file %s", e.Name())
		if m[2] == "up" {
			ups[m[1]] = true
		} else {
			downs[m[1]] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)

	versions := make([]string, 0, len(ups))
	for v := range ups {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	assert.Equal(t, "000001", versions[0])

	body, err := os.ReadFile(filepath.Join(dir, "000001_ledger.up.sql"))
	require.NoError(t, err)
	sql := string(body)
	for _, constraint := range []string{"ux_blocks_open_code", "closing_headers_reference_date_key", "block_orders"} {
		assert.True(t, strings.Contains(sql, constraint), "missing %s", constraint)
	}
}
