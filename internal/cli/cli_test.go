package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Keksclan/dishsync/model"
)

// run executes one invocation against a sqlite file shared by the test.
func run(t *testing.T, db string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"--store", "sqlite", "--sqlite-path", db}, args...)
	require.NoError(t, Run(t.Context(), full, &out), strings.Join(args, " "))
	return out.String()
}

func isolateEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("DISHSYNC_STORE", "memory")
	t.Setenv("DISHSYNC_LOG_LEVEL", "error")
	return filepath.Join(t.TempDir(), "cli.db")
}

func TestGroceryCommands(t *testing.T) {
	db := isolateEnv(t)

	run(t, db, "grocery", "add", "Milk", "Bread")

	var items []model.GroceryItem
	require.NoError(t, json.Unmarshal([]byte(run(t, db, "--raw", "grocery", "list")), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "Milk", items[0].Name)

	out := run(t, db, "grocery", "toggle", items[0].ID)
	assert.Contains(t, out, "[x] Milk")

	out = run(t, db, "grocery", "clear-checked")
	assert.Equal(t, "removed 1 item(s)\n", out)

	out = run(t, db, "grocery", "list")
	assert.Contains(t, out, "[ ] Bread")
	assert.NotContains(t, out, "Milk")

	run(t, db, "grocery", "clear")
	assert.Equal(t, "(empty)\n", run(t, db, "grocery", "list"))
}

func TestProgressCommands(t *testing.T) {
	db := isolateEnv(t)

	run(t, db, "progress", "toggle-step", "r1", "2")
	run(t, db, "progress", "toggle-step", "r1", "0")
	out := run(t, db, "progress", "toggle-ingredient", "r1", "1")
	assert.Contains(t, out, "steps:       [0 2]")
	assert.Contains(t, out, "ingredients: [1]")

	run(t, db, "progress", "reset", "r1")
	var p model.RecipeProgress
	require.NoError(t, json.Unmarshal([]byte(run(t, db, "--raw", "progress", "show", "r1")), &p))
	assert.Equal(t, "r1", p.RecipeID)
	assert.Empty(t, p.CompletedSteps)
}

func TestErrors(t *testing.T) {
	db := isolateEnv(t)
	var out bytes.Buffer

	err := Run(t.Context(), []string{"--store", "sqlite", "--sqlite-path", db, "progress", "toggle-step", "r1", "x"}, &out)
	assert.ErrorContains(t, err, "not a number")

	err = Run(t.Context(), []string{"--store", "sqlite", "--sqlite-path", db, "grocery", "toggle", "nope"}, &out)
	assert.ErrorContains(t, err, "not found")

	err = Run(t.Context(), []string{"--store", "etcd", "grocery", "list"}, &out)
	assert.Error(t, err)
}
