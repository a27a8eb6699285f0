package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/unfreeze/internal/model"
)

func TestDefaultCatalogueIsValid(t *testing.T) {
	engines := DefaultCatalogue()
	require.NoError(t, Validate(engines))
	assert.Equal(t, model.StagePrimary, engines[0].Stage)
	assert.Equal(t, model.StageSecondary, engines[1].Stage)
	assert.Equal(t, model.StageDisassemble, engines[2].Stage)
}

func TestLoadCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engines.yaml")
	content := `engines:
  - name: pycdc
    stage: primary
    command: [pycdc, "{input}"]
  - stage: primary
    command: [decompyle3, "{input}"]
    timeout: 30s
  - name: uncompyle6
    stage: secondary
    command: [uncompyle6, -o, "{output}", "{input}"]
    output: file
  - name: pycdas
    stage: disassemble
    command: [pycdas, "{input}"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	engines, err := LoadCatalogue(path)
	require.NoError(t, err)
	require.Len(t, engines, 4)
	assert.Equal(t, OutputStdout, engines[0].Output)
	assert.Equal(t, "decompyle3", engines[1].Name)
	assert.Equal(t, 30*time.Second, engines[1].Timeout)
	assert.Equal(t, OutputFile, engines[2].Output)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		engines []Engine
	}{
		{"empty", nil},
		{"unknown stage", []Engine{{Name: "x", Stage: "magic", Command: []string{"x"}, Output: OutputStdout}}},
		{"out of order", []Engine{
			{Name: "b", Stage: model.StageSecondary, Command: []string{"b"}, Output: OutputStdout},
			{Name: "a", Stage: model.StagePrimary, Command: []string{"a"}, Output: OutputStdout},
		}},
		{"no command", []Engine{{Name: "x", Stage: model.StagePrimary, Output: OutputStdout}}},
		{"bad output", []Engine{{Name: "x", Stage: model.StagePrimary, Command: []string{"x"}, Output: "pipe"}}},
		{"raw stage is not an engine", []Engine{{Name: "x", Stage: model.StageRawExtract, Command: []string{"x"}, Output: OutputStdout}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Validate(tt.engines))
		})
	}
}

func TestArgsSubstitutesPlaceholders(t *testing.T) {
	e := Engine{Command: []string{"tool", "--py", "{version}", "-o", "{output}", "{input}", "--dir={outdir}"}}
	got := e.Args(Vars{Input: "/u/a.pyc", Output: "/o/a.py", OutDir: "/o", Version: "3.8"})
	assert.Equal(t, []string{"tool", "--py", "3.8", "-o", "/o/a.py", "/u/a.pyc", "--dir=/o"}, got)
}
