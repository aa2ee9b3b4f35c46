package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writePipelineFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestRun_JSONDumpResolvesBareBinReference covers the --json path end to
// end: a pipeline file referencing the bundled "log" module by its bare
// logical name compiles without ever touching the filesystem for that
// module, and the dump reflects it.
func TestRun_JSONDumpResolvesBareBinReference(t *testing.T) {
	dir := t.TempDir()
	root := writePipelineFile(t, dir, "root.yaml", `
import:
  bin:
    - name: logger
      path: log
pipeline:
  - module: logger
`)
	out := filepath.Join(dir, "dump.json")

	err := runRun(context.Background(), root, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var dumped map[string]any
	require.NoError(t, json.Unmarshal(data, &dumped))
	require.Contains(t, string(data), `"ModulePath": "log"`)
}

// TestRun_EndToEndThroughBundledModules drives a real pipeline file through
// cmd/labrun's run path, using only bare bin references to the bundled
// reference modules (no plugin .so on disk): a producer ("mock") seeds a
// payload that a pass-through ("print") writes to stdout. This is the path
// DESIGN.md's cmd/labrun section claims labrun exercises; it previously
// could not work because bare references were resolved as filesystem paths.
func TestRun_EndToEndThroughBundledModules(t *testing.T) {
	dir := t.TempDir()
	root := writePipelineFile(t, dir, "root.yaml", `
import:
  bin:
    - name: mock
      path: mock
    - name: print
      path: print
pipeline:
  - module: mock
    tags:
      producer: true
    params: hello-end-to-end
  - module: print
`)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	origStdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = origStdout }()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err = runRun(ctx, root, "")
	require.NoError(t, err)

	require.NoError(t, w.Close())
	captured, err := io.ReadAll(r)
	require.NoError(t, err)

	require.True(t, strings.Contains(string(captured), "hello-end-to-end"),
		"expected print step output to contain the mock producer's payload, got: %s", captured)
}
