package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorganca/ggml-sys/backend"
	"github.com/jmorganca/ggml-sys/envconfig"
	"github.com/jmorganca/ggml-sys/progress"
	"github.com/jmorganca/ggml-sys/version"
)

var envKeys = []string{
	"GGML_SYS_TARGET_OS", "GGML_SYS_TARGET", "GGML_SYS_HOST", "GGML_SYS_TARGET_FEATURES",
	"GGML_SYS_FEATURES", "GGML_SYS_DOCS", "ROCM_PATH", "GGML_SYS_SOURCE", "GGML_SYS_OUT_DIR",
	"GGML_SYS_BINDINGS", "GGML_SYS_PARALLEL", "GGML_SYS_DEBUG",
}

// isolate clears the build environment and pins the manifest to one with
// the given contents.
func isolate(t *testing.T, manifest string) string {
	t.Helper()
	for _, k := range envKeys {
		// Setenv restores the caller's value on cleanup
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	path := filepath.Join(t.TempDir(), envconfig.ManifestName)
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	envconfig.UseConfigFile(path)
	t.Cleanup(func() { envconfig.UseConfigFile("") })
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewCLI()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	isolate(t, "")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ggml-sys version is "+version.Version+"\n", out)
}

func parseBuildFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "build"}
	addBuildFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestRequestFromFlags(t *testing.T) {
	isolate(t, "[features]\ncuda = true\n")

	t.Run("manifest", func(t *testing.T) {
		cmd := parseBuildFlags(t)
		req, err := requestFromFlags(cmd, envconfig.Load())
		require.NoError(t, err)
		assert.Equal(t, backend.Request{CUDA: true}, req)
	})

	t.Run("environment wins over manifest", func(t *testing.T) {
		t.Setenv("GGML_SYS_FEATURES", "blas,vulkan")
		cmd := parseBuildFlags(t)
		req, err := requestFromFlags(cmd, envconfig.Load())
		require.NoError(t, err)
		assert.Equal(t, backend.Request{BLAS: true, Vulkan: true}, req)
	})

	t.Run("flags win over environment", func(t *testing.T) {
		t.Setenv("GGML_SYS_FEATURES", "blas,vulkan")
		cmd := parseBuildFlags(t, "--vulkan=false", "--metal", "--no-accelerate")
		req, err := requestFromFlags(cmd, envconfig.Load())
		require.NoError(t, err)
		assert.Equal(t, backend.Request{BLAS: true, Metal: true, NoAccelerate: true}, req)
	})

	t.Run("unknown feature", func(t *testing.T) {
		t.Setenv("GGML_SYS_FEATURES", "opencl")
		_, err := requestFromFlags(parseBuildFlags(t), envconfig.Load())
		require.ErrorIs(t, err, backend.ErrUnsupported)
	})
}

func TestLoadEnvFlags(t *testing.T) {
	isolate(t, "[build]\nparallel = 2\n")

	cmd := parseBuildFlags(t, "--native", "--source", "/src/ggml", "--parallel", "8")
	env, err := loadEnv(cmd)
	require.NoError(t, err)

	triple, targetOS := envconfig.NativeTriple()
	assert.Equal(t, triple, env.Host)
	assert.Equal(t, triple, env.Target)
	assert.Equal(t, targetOS, env.TargetOS)
	assert.Equal(t, "/src/ggml", env.SourceDir)
	assert.Equal(t, 8, env.Parallel)
	assert.Equal(t, filepath.FromSlash("build/ggml"), env.OutDir)
}

func TestPlan(t *testing.T) {
	manifest := isolate(t, "")
	out, err := execute(t, "plan", "--native", "--blas", "--manifest", manifest)
	require.NoError(t, err)

	assert.Contains(t, out, "include/ggml.h include/ggml-blas.h")
	assert.Contains(t, out, "-DGGML_BLAS=ON")
	assert.Contains(t, out, "ggml-sys:lib=ggml")
	assert.NoDirExists(t, "build")
}

func TestPlanStaticRejected(t *testing.T) {
	manifest := isolate(t, "")
	_, err := execute(t, "plan", "--native", "--static", "--manifest", manifest)
	require.ErrorIs(t, err, backend.ErrUnsupported)
}

func TestProbeRequiresEnvironment(t *testing.T) {
	manifest := isolate(t, "")
	_, err := execute(t, "probe", "--manifest", manifest)
	require.ErrorIs(t, err, envconfig.ErrMissingEnv)
}

func TestProbeCross(t *testing.T) {
	manifest := isolate(t, "")
	t.Setenv("GGML_SYS_TARGET_OS", "linux")
	t.Setenv("GGML_SYS_TARGET", "aarch64-unknown-linux-gnu")
	t.Setenv("GGML_SYS_HOST", "x86_64-unknown-linux-gnu")
	t.Setenv("GGML_SYS_TARGET_FEATURES", "avx,neon,fma")

	out, err := execute(t, "probe", "--manifest", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "declared")
	assert.Contains(t, out, "fma,avx")
	assert.NotContains(t, out, "neon")
}

func TestBuildDocumentation(t *testing.T) {
	for _, value := range []string{"1", "", "0"} {
		t.Run(value, func(t *testing.T) {
			manifest := isolate(t, "")
			t.Setenv("GGML_SYS_DOCS", value)
			out, err := execute(t, "build", "--vulkan", "--manifest", manifest)
			require.NoError(t, err)
			assert.Empty(t, out)
		})
	}
}

func TestBuildDocumentationSkipsProgress(t *testing.T) {
	manifest := isolate(t, "")
	t.Setenv("GGML_SYS_DOCS", "")

	isTerminal = func(*os.File) bool { return true }
	t.Cleanup(func() { isTerminal = progress.IsTerminal })

	out := filepath.Join(t.TempDir(), "build")
	_, err := execute(t, "build", "--progress", "--out", out, "--manifest", manifest)
	require.NoError(t, err)
	assert.NoDirExists(t, out)
}

func TestEnv(t *testing.T) {
	manifest := isolate(t, "[target]\nos = \"macos\"\n")
	out, err := execute(t, "env", "--manifest", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "GGML_SYS_TARGET_OS")
	assert.Contains(t, out, "macos")
	assert.Contains(t, out, "/opt/rocm")
	assert.Contains(t, out, "manifest: "+manifest)
}

func TestEnvExample(t *testing.T) {
	manifest := isolate(t, "")
	out, err := execute(t, "env", "--example", "--manifest", manifest)
	require.NoError(t, err)
	assert.Equal(t, envconfig.GenerateExampleConfig(), out)
}

func TestLoadDotEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("GGML_SYS_HOST", "from-environment")
	t.Setenv("GGML_SYS_TARGET", "")
	os.Unsetenv("GGML_SYS_TARGET")

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".ggml-sys"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".ggml-sys", ".env"),
		[]byte("GGML_SYS_TARGET=from-dotenv\nGGML_SYS_HOST=from-dotenv\n"), 0o644))

	require.NoError(t, LoadDotEnv())
	assert.Equal(t, "from-dotenv", os.Getenv("GGML_SYS_TARGET"))
	assert.Equal(t, "from-environment", os.Getenv("GGML_SYS_HOST"))
}
