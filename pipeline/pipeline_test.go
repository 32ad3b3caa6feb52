package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"modernc.org/cc/v4"

	"github.com/jmorganca/ggml-sys/backend"
	"github.com/jmorganca/ggml-sys/bindgen"
	"github.com/jmorganca/ggml-sys/cmake"
	"github.com/jmorganca/ggml-sys/envconfig"
	"github.com/jmorganca/ggml-sys/link"
)

type recorder struct {
	cmds []cmake.Cmd
	fail func(cmake.Cmd) error
}

func (r *recorder) Run(_ context.Context, c cmake.Cmd) error {
	r.cmds = append(r.cmds, c)
	if r.fail != nil {
		return r.fail(c)
	}
	return nil
}

type fakeTranslator struct {
	err error
	req bindgen.Request
}

func (f *fakeTranslator) Translate(_ context.Context, req bindgen.Request) ([]byte, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return []byte("package ggml\n"), nil
}

type events []string

func (e *events) StageStarted(name string) { *e = append(*e, "start "+name) }
func (e *events) StageFinished(name string, err error) {
	if err != nil {
		*e = append(*e, "fail "+name)
		return
	}
	*e = append(*e, "done "+name)
}

func anyTool(name string) (string, error) { return "/usr/bin/" + name, nil }

type fixture struct {
	root       string
	opts       Options
	runner     *recorder
	translator *fakeTranslator
	stdout     *bytes.Buffer
	events     *events
}

func newFixture(t *testing.T, targetOS, triple string, req backend.Request) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:       root,
		runner:     &recorder{},
		translator: &fakeTranslator{},
		stdout:     &bytes.Buffer{},
		events:     &events{},
	}
	f.opts = Options{
		Env: envconfig.BuildEnv{
			TargetOS:     targetOS,
			Target:       triple,
			Host:         triple,
			SourceDir:    filepath.Join(root, "ggml"),
			OutDir:       filepath.Join(root, "build", "ggml"),
			BindingsPath: filepath.Join(root, "bindings", "ggml", "zbindings.go"),
		},
		Request:    req,
		Runner:     f.runner,
		Translator: f.translator,
		Reporter:   f.events,
		LookPath:   anyTool,
		Stdout:     f.stdout,
	}
	return f
}

func TestRunLinuxWithoutBackends(t *testing.T) {
	f := newFixture(t, "linux", "x86_64-unknown-linux-gnu", backend.Request{})

	res, err := Run(context.Background(), f.opts)
	require.NoError(t, err)

	assert.Equal(t, []string{backend.CoreHeader}, res.Config.Headers)
	assert.Equal(t, backend.Defines{{Key: "GGML_NATIVE", Value: "ON"}}, res.CPU)
	assert.Nil(t, res.Config.PreBuild)

	require.Len(t, f.runner.cmds, 2)
	assert.Equal(t, "cmake", f.runner.cmds[0].Name)
	assert.Equal(t, "--build", f.runner.cmds[1].Args[0])

	expect := []link.Directive{
		{Kind: link.SearchPath, Value: res.Output.LibDir},
		{Kind: link.Library, Value: "ggml"},
	}
	if diff := cmp.Diff(expect, res.Plan.Directives); diff != "" {
		t.Errorf("directives mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, strings.Join(res.Plan.Lines(), "\n")+"\n", f.stdout.String())
	assert.True(t, strings.HasPrefix(f.stdout.String(), "ggml-sys:rerun-if-changed="))

	assert.FileExists(t, res.Bindings)
	assert.FileExists(t, filepath.Join(filepath.Dir(res.Bindings), LinkFile))
	assert.Equal(t, []string{filepath.Join(f.opts.Env.SourceDir, "include", "ggml.h")}, f.translator.req.Headers)

	assert.Equal(t, events{
		"start probe", "done probe",
		"start resolve", "done resolve",
		"start build", "done build",
		"start bindgen", "done bindgen",
		"start link", "done link",
	}, *f.events)
}

func TestRunMacOSVulkan(t *testing.T) {
	f := newFixture(t, "macos", "aarch64-apple-darwin", backend.Request{Vulkan: true})

	res, err := Run(context.Background(), f.opts)
	require.NoError(t, err)

	assert.Equal(t, []string{backend.CoreHeader, "include/ggml-vulkan.h"}, res.Config.Headers)

	require.Len(t, f.runner.cmds, 3)
	assert.Equal(t, "python", f.runner.cmds[0].Name)
	assert.Equal(t, filepath.Join(f.opts.Env.SourceDir, "src"), f.runner.cmds[0].Dir)
	assert.Equal(t, "cmake", f.runner.cmds[1].Name)

	assert.Contains(t, res.Plan.Directives, link.Directive{Kind: link.Framework, Value: "Accelerate"})
	assert.Contains(t, res.Plan.Directives, link.Directive{Kind: link.SearchPath, Value: res.Output.LibDir})
	assert.Contains(t, res.Plan.Directives, link.Directive{Kind: link.Library, Value: "ggml"})
}

func TestRunPreBuildFailure(t *testing.T) {
	f := newFixture(t, "macos", "aarch64-apple-darwin", backend.Request{Vulkan: true})
	f.runner.fail = func(c cmake.Cmd) error {
		if c.Name == "python" {
			return errors.New("No module named ggml_vk_generate_shaders")
		}
		return nil
	}

	_, err := Run(context.Background(), f.opts)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePreBuild, stageErr.Stage)
	assert.ErrorIs(t, err, cmake.ErrPreBuild)
	assert.ErrorIs(t, err, cmake.ErrExternalTool)

	assert.Len(t, f.runner.cmds, 1, "native build must not start")
	assert.NoFileExists(t, f.opts.Env.BindingsPath)
	assert.Empty(t, f.stdout.String())
	assert.Equal(t, "fail build", (*f.events)[len(*f.events)-1])
}

func TestRunMissingPreBuildTool(t *testing.T) {
	f := newFixture(t, "linux", "x86_64-unknown-linux-gnu", backend.Request{Vulkan: true})
	f.opts.LookPath = func(name string) (string, error) {
		if name == "cmake" {
			return anyTool(name)
		}
		return "", exec.ErrNotFound
	}

	_, err := Run(context.Background(), f.opts)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePreBuild, stageErr.Stage)
	assert.ErrorIs(t, err, cmake.ErrExternalTool)
	assert.Empty(t, f.runner.cmds)
}

func TestRunDocumentationBuild(t *testing.T) {
	f := newFixture(t, "", "", backend.Request{Vulkan: true, Static: true})
	f.opts.Env.DocsBuild = true

	res, err := Run(context.Background(), f.opts)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	assert.Empty(t, f.runner.cmds)
	assert.Empty(t, *f.events)
	assert.Empty(t, f.stdout.String())

	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunMissingEnvironment(t *testing.T) {
	f := newFixture(t, "linux", "", backend.Request{})

	_, err := Run(context.Background(), f.opts)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageProbe, stageErr.Stage)
	assert.ErrorIs(t, err, envconfig.ErrMissingEnv)
	assert.Empty(t, f.runner.cmds)
}

func TestRunStaticRejected(t *testing.T) {
	f := newFixture(t, "linux", "x86_64-unknown-linux-gnu", backend.Request{Static: true})

	_, err := Run(context.Background(), f.opts)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageResolve, stageErr.Stage)
	assert.ErrorIs(t, err, backend.ErrUnsupported)
	assert.Empty(t, f.runner.cmds)
}

func TestRunBuildFailure(t *testing.T) {
	f := newFixture(t, "linux", "x86_64-unknown-linux-gnu", backend.Request{})
	f.runner.fail = func(c cmake.Cmd) error {
		if c.Args[0] == "--build" {
			return errors.New("exit status 2")
		}
		return nil
	}

	_, err := Run(context.Background(), f.opts)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageBuild, stageErr.Stage)
	assert.ErrorIs(t, err, cmake.ErrExternalTool)
	assert.NoFileExists(t, f.opts.Env.BindingsPath)
}

func TestRunTranslationFailure(t *testing.T) {
	f := newFixture(t, "linux", "x86_64-unknown-linux-gnu", backend.Request{})
	f.translator.err = errors.New("unexpected token")

	_, err := Run(context.Background(), f.opts)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageBindgen, stageErr.Stage)
	assert.ErrorIs(t, err, bindgen.ErrTranslation)
	assert.Empty(t, f.stdout.String())
}

func TestRunWithHeaderTranslator(t *testing.T) {
	f := newFixture(t, "linux", "x86_64-unknown-linux-gnu", backend.Request{BLAS: true})

	abi, err := cc.NewABI(runtime.GOOS, runtime.GOARCH)
	require.NoError(t, err)
	f.opts.Translator = bindgen.HeaderTranslator{
		Config:  &cc.Config{ABI: abi},
		Prelude: "int __predefined_declarator;\ntypedef unsigned long long __predefined_size_t;\n",
	}

	include := filepath.Join(f.opts.Env.SourceDir, "include")
	require.NoError(t, os.MkdirAll(include, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(include, "ggml.h"), []byte("#pragma once\n#define GGML_MAX_DIMS 4\nstruct ggml_tensor { int n; };\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(include, "ggml-blas.h"), []byte("#pragma once\n#include \"ggml.h\"\nint ggml_backend_is_blas(void);\n"), 0o644))

	res, err := Run(context.Background(), f.opts)
	require.NoError(t, err)

	b, err := os.ReadFile(res.Bindings)
	require.NoError(t, err)
	assert.Contains(t, string(b), "GGMLSysVersion")
	assert.Contains(t, string(b), "func GgmlBackendIsBlas() int32")
	assert.Equal(t, 1, strings.Count(string(b), "type GgmlTensor ="))
}

func TestDryRun(t *testing.T) {
	f := newFixture(t, "macos", "aarch64-apple-darwin", backend.Request{Metal: true})

	res, err := DryRun(f.opts)
	require.NoError(t, err)

	assert.Empty(t, f.runner.cmds)
	assert.NoDirExists(t, f.opts.Env.OutDir)
	assert.Len(t, res.Plan.Filter(link.Framework), 5)

	built, err := Run(context.Background(), f.opts)
	require.NoError(t, err)
	assert.Equal(t, res.Output, built.Output)
}
