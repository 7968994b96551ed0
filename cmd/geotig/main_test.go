package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFeature(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append([]string{"--repo", dir}, args...))
	require.NoError(t, rootCmd.Execute(), buf.String())
	return buf.String()
}

func TestSplitArg(t *testing.T) {
	assert.Equal(t, []string{"ns", "parcels", "1"}, splitArg("ns/parcels/1"))
	assert.Nil(t, splitArg(""))
}

func TestCLI_Workflow(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()

	assert.Contains(t, run(t, dir, "init"), "Initialized empty geotig repository")

	writeFeature(t, dir, "ns/parcels/1.json", `{"crs":"EPSG:4326","bbox":[0,0,1,1],"geometry":"POINT (0 0)","properties":{"use":"farm"}}`)
	writeFeature(t, dir, "ns/parcels/2.json", `{"geometry":"POINT (2 2)"}`)
	assert.Contains(t, run(t, dir, "import"), "Imported 2 features")

	status := run(t, dir, "status")
	assert.Contains(t, status, "Changes not staged:")
	assert.Contains(t, status, "A  ns/parcels/1")

	assert.Contains(t, run(t, dir, "mkdir", "ns/roads"), "Recorded tree")
	assert.Contains(t, run(t, dir, "stage", "ns"), "Staged 3 changes")
	assert.Contains(t, run(t, dir, "commit", "-m", "seed", "-a", "ana"), "seed")
	assert.Contains(t, run(t, dir, "status"), "Nothing to commit")

	listing := run(t, dir, "ls-tree", "-r")
	assert.Contains(t, listing, "ns/parcels/1")
	assert.Contains(t, listing, "ns/parcels/2")
	assert.Contains(t, listing, "ns/roads")

	writeFeature(t, dir, "ns/parcels/1.json", `{"crs":"EPSG:4326","bbox":[0,0,1,1],"geometry":"POINT (0 0)","properties":{"use":"park"}}`)
	require.NoError(t, os.Remove(filepath.Join(dir, "ns", "parcels", "2.json")))
	assert.Contains(t, run(t, dir, "import"), "Imported 1 features")
	assert.Contains(t, run(t, dir, "rm", "ns/parcels/2"), "Recorded deletion")
	assert.Contains(t, run(t, dir, "rm", "ns/parcels/9"), "Nothing to delete")
	run(t, dir, "stage")
	run(t, dir, "commit", "-m", "rework")

	ids := commitIDs(run(t, dir, "log"))
	require.Len(t, ids, 2)

	out := run(t, dir, "diff", ids[1], ids[0], "--patch")
	assert.Contains(t, out, "M  ns/parcels/1")
	assert.Contains(t, out, "D  ns/parcels/2")
	assert.Contains(t, out, "+ use: park")
	assert.Contains(t, out, "0 added, 1 modified, 1 deleted")

	pack := filepath.Join(t.TempDir(), "head.pack")
	assert.Contains(t, run(t, dir, "export", pack), "Exported")

	clone := t.TempDir()
	run(t, clone, "init")
	assert.Contains(t, run(t, clone, "fetch-pack", pack, "--ref", "HEAD", "--id", ids[0]), "HEAD -> ")
	listing = run(t, clone, "ls-tree", "-r")
	assert.Contains(t, listing, "ns/parcels/1")
	assert.NotContains(t, listing, "ns/parcels/2")
}

func commitIDs(log string) []string {
	var ids []string
	for _, line := range strings.Split(log, "\n") {
		if id, ok := strings.CutPrefix(line, "commit "); ok {
			ids = append(ids, strings.TrimSpace(id))
		}
	}
	return ids
}
