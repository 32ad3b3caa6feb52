package cmake

import (
	"bytes"
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmdString(t *testing.T) {
	c := Cmd{Name: "cmake", Args: []string{"--build", "out", "--target", "ggml"}}
	assert.Equal(t, "cmake --build out --target ggml", c.String())
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	t.Run("output and dir", func(t *testing.T) {
		dir := t.TempDir()
		var stdout, stderr bytes.Buffer
		r := ExecRunner{Stdout: &stdout, Stderr: &stderr}
		err := r.Run(context.Background(), Cmd{
			Name: "sh",
			Args: []string{"-c", "pwd; echo $GGML_SYS_TEST; echo oops >&2"},
			Dir:  dir,
			Env:  []string{"GGML_SYS_TEST=set"},
		})
		require.NoError(t, err)
		assert.Contains(t, stdout.String(), "set\n")
		assert.Equal(t, "oops\n", stderr.String())
	})

	t.Run("exit status", func(t *testing.T) {
		err := ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "exit 3"}})
		require.ErrorIs(t, err, ErrExternalTool)
		assert.Contains(t, err.Error(), "status 3")
	})

	t.Run("not found", func(t *testing.T) {
		err := ExecRunner{}.Run(context.Background(), Cmd{Name: "ggml-sys-no-such-tool"})
		require.ErrorIs(t, err, ErrExternalTool)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := ExecRunner{}.Run(ctx, Cmd{Name: "sh", Args: []string{"-c", "sleep 10"}})
		require.ErrorIs(t, err, ErrExternalTool)
	})
}
