package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/unfreeze/internal/model"
)

func shEngine(script string, mode OutputMode) Engine {
	return Engine{
		Name:    "sh",
		Stage:   model.StagePrimary,
		Command: []string{"/bin/sh", "-c", script, "sh", "{input}", "{output}"},
		Output:  mode,
	}
}

func invoke(t *testing.T, e Engine, timeout time.Duration) (model.Attempt, string) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "unit.pyc")
	require.NoError(t, os.WriteFile(input, []byte("bytes"), 0o644))
	out := filepath.Join(dir, "out", "unit.py")
	att := NewExecInvoker(timeout, nil).Invoke(context.Background(), Invocation{Engine: e, Input: input, Output: out, Version: "3.8"})
	return att, out
}

func TestInvokeStdoutSuccess(t *testing.T) {
	att, out := invoke(t, shEngine(`echo "print('hi')"`, OutputStdout), time.Minute)

	assert.True(t, att.Success)
	assert.Equal(t, 0, att.ExitCode)
	assert.Equal(t, int64(len("print('hi')\n")), att.StdoutBytes)
	assert.Equal(t, out, att.Output)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(got))
}

func TestInvokeFileOutputSuccess(t *testing.T) {
	att, out := invoke(t, shEngine(`printf 'x = 1\n' > "$2"`, OutputFile), time.Minute)

	assert.True(t, att.Success)
	_, err := os.Stat(out)
	assert.NoError(t, err)
}

func TestInvokeEmptyOutputFails(t *testing.T) {
	att, out := invoke(t, shEngine(`true`, OutputStdout), time.Minute)

	assert.False(t, att.Success)
	assert.Equal(t, model.ReasonEmptyOutput, att.Reason)
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err), "empty artifact is removed")
}

func TestInvokeFileOutputIgnoresPreviousArtifact(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "unit.pyc")
	require.NoError(t, os.WriteFile(input, []byte("bytes"), 0o644))
	out := filepath.Join(dir, "unit.py")
	require.NoError(t, os.WriteFile(out, []byte("x = 'from an earlier run'\n"), 0o644))

	att := NewExecInvoker(time.Minute, nil).Invoke(context.Background(), Invocation{
		Engine: shEngine(`true`, OutputFile),
		Input:  input,
		Output: out,
	})

	assert.False(t, att.Success)
	assert.Equal(t, model.ReasonEmptyOutput, att.Reason)
	assert.NoFileExists(t, out)
}

func TestInvokeNonZeroExitFails(t *testing.T) {
	att, out := invoke(t, shEngine(`echo partial; echo "Unsupported opcode" >&2; exit 3`, OutputStdout), time.Minute)

	assert.False(t, att.Success)
	assert.Equal(t, 3, att.ExitCode)
	assert.Equal(t, model.ReasonEngineInvocationFailed, att.Reason)
	assert.Contains(t, att.Diagnostic, "Unsupported opcode")
	assert.Positive(t, att.StderrBytes)
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestInvokeTimeout(t *testing.T) {
	att, _ := invoke(t, shEngine(`sleep 5`, OutputStdout), 100*time.Millisecond)

	assert.False(t, att.Success)
	assert.Equal(t, model.ReasonEngineTimeout, att.Reason)
	assert.Less(t, att.Duration, 4*time.Second)
}

func TestInvokeMissingBinary(t *testing.T) {
	e := Engine{Name: "ghost", Stage: model.StageSecondary, Command: []string{"/nonexistent/decompiler", "{input}"}, Output: OutputStdout}
	att, _ := invoke(t, e, time.Minute)

	assert.False(t, att.Success)
	assert.Equal(t, model.ReasonEngineInvocationFailed, att.Reason)
	assert.Equal(t, -1, att.ExitCode)
}

func TestInvokeCancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	att := NewExecInvoker(time.Minute, nil).Invoke(ctx, Invocation{
		Engine: shEngine(`sleep 5`, OutputStdout),
		Input:  filepath.Join(dir, "in"),
		Output: filepath.Join(dir, "out"),
	})
	assert.False(t, att.Success)
	assert.True(t, strings.HasPrefix(att.Diagnostic, "cancelled"))
}

func TestCountingWriterKeepsTail(t *testing.T) {
	w := &countingWriter{keep: 4}
	_, _ = w.Write([]byte("abcdef"))
	_, _ = w.Write([]byte("gh"))
	assert.Equal(t, int64(8), w.n)
	assert.Equal(t, "efgh", string(w.tail))
}
