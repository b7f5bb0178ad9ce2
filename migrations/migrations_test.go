package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/cms?sslmode=disable", DriverURL("postgres://u:p@localhost:5432/cms?sslmode=disable"))
	assert.Equal(t, "pgx5://localhost/cms", DriverURL("postgresql://localhost/cms"))
	assert.Equal(t, "pgx5://localhost/cms", DriverURL("pgx5://localhost/cms"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitialSchemaDeclaresPairUniqueness(t *testing.T) {
	raw, err := fs.ReadFile(files, "sql/000001_init_rbac.up.sql")
	require.NoError(t, err)
	schema := string(raw)
	for _, constraint := range []string{
		"user_roles_user_role_key",
		"role_permissions_role_permission_key",
		"user_permissions_user_permission_key",
		"permissions_resource_action_key",
	} {
		assert.Contains(t, schema, constraint)
	}
	assert.Contains(t, schema, "ON DELETE CASCADE")
}
