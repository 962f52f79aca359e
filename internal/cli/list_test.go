package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listBooks(t *testing.T, extra ...string) (string, error) {
	t.Helper()
	args := append([]string{"list", libraryDef, "book",
		"--fixtures", libraryFixtures,
		"--fields", "id,title,author:last_name",
		"--sort", "title",
	}, extra...)
	return execute(t, args...)
}

func TestList_Golden(t *testing.T) {
	out, err := listBooks(t)
	require.NoError(t, err)
	assertGolden(t, "list_books", out)
}

func TestList_GoldenJSON(t *testing.T) {
	out, err := listBooks(t, "--format", "json")
	require.NoError(t, err)
	assertGolden(t, "list_books_json", out)
}

// The SQLite store serves the same records as the memory store.
func TestList_SQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")
	out, err := listBooks(t, "--store", "sqlite", "--db", db)
	require.NoError(t, err)
	assertGolden(t, "list_books", out)
}

func TestList_Filter(t *testing.T) {
	out, err := execute(t, "list", libraryDef, "book",
		"--fixtures", libraryFixtures,
		"--filter", `{"field":"author:last_name","operator":"Equal","value":"Le Guin"}`,
		"--fields", "title")
	require.NoError(t, err)
	assert.Equal(t, "{\"title\":\"The Dispossessed\"}\n", out)
}

func TestList_SortAndPage(t *testing.T) {
	out, err := execute(t, "list", libraryDef, "book",
		"--fixtures", libraryFixtures,
		"--fields", "id",
		"--sort=-title",
		"--skip", "1",
		"--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"b2\"}\n", out)
}

func TestList_CamelCase(t *testing.T) {
	out, err := execute(t, "list", libraryDef, "person",
		"--fixtures", libraryFixtures,
		"--camel-case",
		"--fields", "id,firstName",
		"--sort", "id",
		"--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "Isaac", resp.Data[0]["firstName"])
	assert.Equal(t, "Ursula", resp.Data[1]["firstName"])
}

func TestList_NoFixtures(t *testing.T) {
	out, err := execute(t, "list", libraryDef, "book", "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":[]}`, out)
}

func TestList_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		exitCode int
		output   string
	}{
		{
			name:     "unknown collection",
			args:     []string{"list", libraryDef, "magazine"},
			exitCode: ExitFailure,
			output:   "Error [NotFoundError]",
		},
		{
			name:     "bad filter",
			args:     []string{"list", libraryDef, "book", "--filter", "{"},
			exitCode: ExitCommandError,
			output:   "Error [E002]",
		},
		{
			name:     "bad store",
			args:     []string{"list", libraryDef, "book", "--store", "postgres"},
			exitCode: ExitCommandError,
			output:   `invalid store "postgres"`,
		},
		{
			name:     "missing definition",
			args:     []string{"list", "testdata/nope.cue", "book"},
			exitCode: ExitCommandError,
			output:   "Error [E005]",
		},
		{
			name:     "missing fixtures",
			args:     []string{"list", libraryDef, "book", "--fixtures", "testdata/nope.yaml"},
			exitCode: ExitCommandError,
			output:   "Error [E005]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.Contains(t, out, tt.output)
		})
	}
}
