package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/lesson-video-pipeline/internal/workspace"
)

const stageScene = `[{"script_seq":1,"script_for_manim":["Show title"],"script_voice_over":["Welcome."]}]`

func TestReadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenes.json")
	require.NoError(t, os.WriteFile(path, []byte(stageScene), 0644))

	got, err := readScript(path, nil)
	require.NoError(t, err)
	assert.Equal(t, stageScene, got)

	got, err = readScript("-", strings.NewReader(stageScene))
	require.NoError(t, err)
	assert.Equal(t, stageScene, got)

	_, err = readScript(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.ErrorContains(t, err, "failed to read script")
}

func TestReadPrograms(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "script_seq1.py"), []byte("one"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "script_seq4.py"), []byte("four"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helpers.py"), []byte("skip"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "script_seq2.txt"), []byte("skip"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "script_seq3.py"), 0755))

	programs, err := readPrograms(dir)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "one", 4: "four"}, programs)

	_, err = readPrograms(t.TempDir())
	assert.ErrorContains(t, err, "no script_seqN.py files")
}

func TestStageCommands_FilesThenCode(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), appOptions{Mock: true})
	require.NoError(t, err)
	defer a.Close()

	files, err := a.coordinator.GenerateFiles(context.Background(), "stage-files", stageScene)
	require.NoError(t, err)

	code, err := a.coordinator.GenerateCode(context.Background(), "stage-code", "latest", stageScene)
	require.NoError(t, err)
	assert.Equal(t, files.ProcessedFrom, code.ProcessedFrom)

	folder, err := workspace.Scan(code.ProcessedFrom)
	require.NoError(t, err)
	ready, incomplete := folder.Renderable()
	assert.Len(t, ready, 1)
	assert.Empty(t, incomplete)
}

func TestStageCommands_Registered(t *testing.T) {
	var names []string
	for _, c := range stageCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"files", "code", "write", "upload"}, names)
}
