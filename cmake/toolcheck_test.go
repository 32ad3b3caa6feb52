package cmake

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorganca/ggml-sys/backend"
)

func available(names ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, n := range names {
			if n == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestRequiredTools(t *testing.T) {
	reqs := RequiredTools(resolve(t, linux, backend.Request{}))
	require.Len(t, reqs, 1)
	assert.Equal(t, "cmake", reqs[0].Name)

	reqs = RequiredTools(resolve(t, linux, backend.Request{Vulkan: true}))
	require.Len(t, reqs, 2)
	assert.Equal(t, "python", reqs[1].Name)
	assert.Equal(t, []string{"python3"}, reqs[1].Alternatives)
}

func TestCheckRequiredTools(t *testing.T) {
	reqs := []ToolRequirement{
		{Name: "cmake", Purpose: "ggml native build"},
		{Name: "python", Alternatives: []string{"python3"}, Purpose: "shaders"},
	}

	cases := []struct {
		name    string
		have    []string
		missing []string
	}{
		{"all present", []string{"cmake", "python"}, nil},
		{"alternative", []string{"cmake", "python3"}, nil},
		{"one missing", []string{"python3"}, []string{"cmake (ggml native build) not found in PATH"}},
		{"all missing", nil, []string{"missing required tools", "cmake (ggml native build)", "python (shaders)"}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRequiredTools(available(tt.have...), reqs)
			if tt.missing == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrExternalTool)
			for _, m := range tt.missing {
				assert.Contains(t, err.Error(), m)
			}
		})
	}
}

func TestResolveToolPrefersPrimary(t *testing.T) {
	name, ok := resolveTool(available("python", "python3"), ToolRequirement{Name: "python", Alternatives: []string{"python3"}})
	require.True(t, ok)
	assert.Equal(t, "python", name)

	name, ok = resolveTool(available("python3"), ToolRequirement{Name: "python", Alternatives: []string{"python3"}})
	require.True(t, ok)
	assert.Equal(t, "python3", name)
}
