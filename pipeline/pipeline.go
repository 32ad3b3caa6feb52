// Package pipeline runs the ggml build end to end: probe the platform,
// resolve backends, build the native library, emit bindings and plan the
// link. Stages run strictly in order and the first failure stops the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmorganca/ggml-sys/backend"
	"github.com/jmorganca/ggml-sys/bindgen"
	"github.com/jmorganca/ggml-sys/cmake"
	"github.com/jmorganca/ggml-sys/discover"
	"github.com/jmorganca/ggml-sys/envconfig"
	"github.com/jmorganca/ggml-sys/link"
	"github.com/jmorganca/ggml-sys/logutil"
	"github.com/jmorganca/ggml-sys/version"
)

type Stage string

const (
	StageProbe    Stage = "probe"
	StageResolve  Stage = "resolve"
	StagePreBuild Stage = "prebuild"
	StageBuild    Stage = "build"
	StageBindgen  Stage = "bindgen"
	StageLink     Stage = "link"
)

// StageError names the stage a build failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Reporter observes stage transitions, e.g. to draw progress.
type Reporter interface {
	StageStarted(name string)
	StageFinished(name string, err error)
}

type nopReporter struct{}

func (nopReporter) StageStarted(string)         {}
func (nopReporter) StageFinished(string, error) {}

// LinkFile is written next to the bindings and carries the link flags.
const LinkFile = "zlink.go"

type Options struct {
	Env     envconfig.BuildEnv
	Request backend.Request

	Runner     cmake.Runner
	Translator bindgen.Translator
	Reporter   Reporter

	// LookPath overrides tool discovery for the native build.
	LookPath func(string) (string, error)

	// Stdout receives the link directive lines. Defaults to os.Stdout.
	Stdout io.Writer
}

// Result describes a build. Skipped is set for documentation builds, which
// leave every other field zero.
type Result struct {
	Skipped bool

	Platform  discover.Platform
	Features  discover.FeatureSet
	Detection discover.DetectionMode
	Config    backend.Config
	CPU       backend.Defines
	Output    cmake.Output
	Bindings  string
	Plan      link.Plan
}

func (o Options) driver() *cmake.Driver {
	runner := o.Runner
	if runner == nil {
		runner = cmake.ExecRunner{}
	}
	return &cmake.Driver{
		SourceDir: o.Env.SourceDir,
		OutDir:    o.Env.OutDir,
		Parallel:  o.Env.Parallel,
		Runner:    runner,
		LookPath:  o.LookPath,
	}
}

func (o Options) reporter() Reporter {
	if o.Reporter == nil {
		return nopReporter{}
	}
	return o.Reporter
}

// Run executes every stage. A documentation build returns immediately
// without reading the platform or touching the filesystem.
func Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Env.DocsBuild {
		slog.Info("documentation build, skipping native build and bindings")
		return Result{Skipped: true}, nil
	}

	var res Result
	r := opts.reporter()

	if err := stage(r, StageProbe, "Probing platform", func() (err error) {
		res.Platform, res.Features, res.Detection, err = discover.Probe(opts.Env)
		return err
	}); err != nil {
		return res, err
	}

	if err := stage(r, StageResolve, "Resolving backends", func() (err error) {
		res.Config, err = backend.Resolve(res.Platform, opts.Request)
		res.CPU = backend.CPUDefines(res.Platform, res.Features)
		return err
	}); err != nil {
		return res, err
	}
	slog.Info("resolved backends", "backends", res.Config.Backends, "headers", res.Config.Headers)

	if err := stage(r, StageBuild, "Building ggml", func() (err error) {
		res.Output, err = opts.driver().Build(ctx, res.Config, res.CPU)
		return err
	}); err != nil {
		return res, err
	}

	if err := stage(r, StageBindgen, "Generating bindings", func() (err error) {
		translator := opts.Translator
		if translator == nil {
			translator = bindgen.HeaderTranslator{}
		}
		e := &bindgen.Emitter{
			Translator: translator,
			SourceDir:  opts.Env.SourceDir,
			Output:     opts.Env.BindingsPath,
			Version:    version.Version,
		}
		res.Bindings, err = e.Emit(ctx, res.Config.Headers)
		return err
	}); err != nil {
		return res, err
	}

	if err := stage(r, StageLink, "Planning link", func() error {
		res.Plan = link.New(res.Platform, res.Config, res.Output)
		dir := filepath.Dir(res.Bindings)
		if err := res.Plan.WriteCgo(filepath.Join(dir, LinkFile), filepath.Base(dir)); err != nil {
			return err
		}

		stdout := opts.Stdout
		if stdout == nil {
			stdout = os.Stdout
		}
		for _, line := range res.Plan.Lines() {
			if _, err := fmt.Fprintln(stdout, line); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return res, err
	}

	return res, nil
}

// DryRun resolves everything Run would build, without running tools or
// writing files.
func DryRun(opts Options) (Result, error) {
	var res Result
	var err error

	res.Platform, res.Features, res.Detection, err = discover.Probe(opts.Env)
	if err != nil {
		return res, &StageError{Stage: StageProbe, Err: err}
	}

	res.Config, err = backend.Resolve(res.Platform, opts.Request)
	if err != nil {
		return res, &StageError{Stage: StageResolve, Err: err}
	}
	res.CPU = backend.CPUDefines(res.Platform, res.Features)

	res.Output, _, err = opts.driver().Layout(res.Config, res.CPU)
	if err != nil {
		return res, &StageError{Stage: StageBuild, Err: err}
	}

	res.Bindings = opts.Env.BindingsPath
	res.Plan = link.New(res.Platform, res.Config, res.Output)
	return res, nil
}

func stage(r Reporter, name Stage, title string, fn func() error) error {
	done := logutil.Stage(title)
	r.StageStarted(string(name))

	err := fn()
	r.StageFinished(string(name), err)
	if err != nil {
		// the pre-build step runs inside the native build
		if name == StageBuild && errors.Is(err, cmake.ErrPreBuild) {
			name = StagePreBuild
		}
		return &StageError{Stage: name, Err: err}
	}
	done()
	return nil
}
