package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEndpoints() []Endpoint {
	return []Endpoint{
		{ID: "users-list", Entity: "users", Operation: "list", Method: "GET", URLPattern: "/api/v1/users"},
		{ID: "users-roles", Entity: "users", Operation: "list_roles", Method: "GET",
			URLPattern: "/api/v1/users/{userId}/roles", Required: []string{"userId"}, Dependencies: []string{"users-list"}},
		{ID: "apps-list", Entity: "applications", Operation: "list", Method: "GET", URLPattern: "/api/v1/apps"},
	}
}

func testTables() []Table {
	return []Table{
		{Name: "users", Columns: []Column{{Name: "id", Type: "text"}, {Name: "email", Type: "text"}, {Name: "status", Type: "text"}}},
		{Name: "groups", Columns: []Column{{Name: "id", Type: "text"}, {Name: "name", Type: "text"}},
			Relationships: []string{"user_groups.group_id -> groups.id"}},
	}
}

func TestNew_IndexesByEntityOperation(t *testing.T) {
	c, err := New(testEndpoints(), testTables())
	require.NoError(t, err)

	e, ok := c.Endpoint("users", "list_roles")
	require.True(t, ok)
	assert.Equal(t, "/api/v1/users/{userId}/roles", e.URLPattern)

	// Lookup is case-insensitive.
	_, ok = c.Endpoint("Users", "List")
	assert.True(t, ok)

	_, ok = c.Endpoint("users", "delete")
	assert.False(t, ok)

	tbl, ok := c.Table("GROUPS")
	require.True(t, ok)
	assert.Len(t, tbl.Relationships, 1)
}

func TestNew_RejectsUnknownDependency(t *testing.T) {
	eps := testEndpoints()
	eps[1].Dependencies = []string{"missing-id"}
	_, err := New(eps, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-id")
}

func TestNew_RejectsDuplicates(t *testing.T) {
	eps := append(testEndpoints(), Endpoint{Entity: "users", Operation: "list", Method: "GET"})
	_, err := New(eps, nil)
	require.Error(t, err)
}

func TestNarrow(t *testing.T) {
	c, err := New(testEndpoints(), testTables())
	require.NoError(t, err)

	n, missing := c.Narrow([][2]string{{"users", "list_roles"}}, []string{"users"})
	assert.Empty(t, missing)
	assert.Len(t, n.Endpoints, 1)
	assert.Len(t, n.Tables, 1)

	_, missing = c.Narrow([][2]string{{"devices", "list"}}, []string{"nope"})
	assert.Equal(t, []string{"devices/list", "nope"}, missing)
}

func TestDescribe(t *testing.T) {
	c, err := New(testEndpoints(), testTables())
	require.NoError(t, err)
	n, _ := c.Narrow([][2]string{{"users", "list_roles"}}, []string{"users"})

	text := n.Describe()
	assert.Contains(t, text, "users(id text, email text, status text)")
	assert.Contains(t, text, "list_roles")
	assert.Contains(t, text, "required=userId")
}

func TestEndpointsSorted(t *testing.T) {
	c, err := New(testEndpoints(), nil)
	require.NoError(t, err)
	eps := c.Endpoints()
	require.Len(t, eps, 3)
	assert.Equal(t, "applications", eps[0].Entity)
	assert.Equal(t, "list", eps[1].Operation)
	assert.Equal(t, "list_roles", eps[2].Operation)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	api := `
endpoints:
  - id: users-list
    entity: users
    operation: list
    http_method: GET
    url_pattern: /api/v1/users
`
	schema := `
tables:
  - name: users
    columns:
      - {name: id, type: text}
      - {name: email, type: text}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api_catalog.yaml"), []byte(api), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema_catalog.yaml"), []byte(schema), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)
	_, ok := c.Endpoint("users", "list")
	assert.True(t, ok)
	_, ok = c.Table("users")
	assert.True(t, ok)
}

func TestLoad_EmptyDir(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}
