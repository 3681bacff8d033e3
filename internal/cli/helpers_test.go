package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// workspace is a temporary project: a config file, a recipe tree and a
// cache directory, all under one root.
type workspace struct {
	root   string
	config string
}

func newWorkspace(t *testing.T, recipes map[string]string) *workspace {
	t.Helper()
	root := t.TempDir()
	for rel, content := range recipes {
		writeFile(t, filepath.Join(root, "recipes", rel), content)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "recipes"), 0o755))
	config := filepath.Join(root, "reduce.yaml")
	writeFile(t, config, "recipe_paths: [recipes]\ncache_dir: cache\n")
	return &workspace{root: root, config: config}
}

// file writes a dataset under the workspace and returns its path.
func (w *workspace) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.root, "data", name)
	writeFile(t, path, content)
	return path
}

// run executes the root command with the workspace config.
func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--config", w.config}, args...)...)
}

// runWithInput is run with stdin fed from input.
func (w *workspace) runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", w.config}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// decodeData unmarshals the data field of a JSON CLI response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}
