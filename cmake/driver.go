// Package cmake drives the out-of-tree CMake build of ggml.
package cmake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jmorganca/ggml-sys/backend"
)

// ErrPreBuild marks failures of a backend's pre-build step.
var ErrPreBuild = fmt.Errorf("pre-build step: %w", ErrExternalTool)

// Target is the single CMake target built; dependents are never built.
const Target = "ggml"

// Output locates a finished native build.
type Output struct {
	// Source is the absolute ggml source tree the build was made from.
	Source string
	// Root is the configuration-specific build root.
	Root string
	// LibDir holds the compiled library under its OS naming convention.
	LibDir string
	// Fingerprint names Root.
	Fingerprint string
}

// Driver builds ggml from SourceDir into a directory under OutDir.
type Driver struct {
	SourceDir string
	OutDir    string
	Parallel  int
	Runner    Runner

	// LookPath finds required tools; nil means exec.LookPath.
	LookPath func(string) (string, error)
}

func (d *Driver) lookPath() func(string) (string, error) {
	if d.LookPath != nil {
		return d.LookPath
	}
	return lookPath
}

// Layout returns where a build of cfg lives and the stamp identifying it,
// without touching the filesystem.
func (d *Driver) Layout(cfg backend.Config, cpu backend.Defines) (Output, Stamp, error) {
	source, err := filepath.Abs(d.SourceDir)
	if err != nil {
		return Output{}, Stamp{}, err
	}

	stamp := Stamp{Source: source, Config: cfg, CPU: cpu}
	fp, err := stamp.Fingerprint()
	if err != nil {
		return Output{}, stamp, fmt.Errorf("fingerprint configuration: %w", err)
	}

	out := Output{Source: source, Root: filepath.Join(d.OutDir, fp), Fingerprint: fp}
	out.LibDir = filepath.Join(out.Root, "build")
	return out, stamp, nil
}

// Build runs cfg's pre-build step, then configures and builds the ggml
// target. The build root is keyed by the fingerprint of the configuration,
// so changing any option yields a fresh CMake tree rather than a stale one.
func (d *Driver) Build(ctx context.Context, cfg backend.Config, cpu backend.Defines) (Output, error) {
	reqs := RequiredTools(cfg)
	if err := CheckRequiredTools(d.lookPath(), reqs); err != nil {
		// with cmake present, only the pre-build tool can be missing
		if cfg.PreBuild != nil && CheckRequiredTools(d.lookPath(), reqs[:1]) == nil {
			return Output{}, fmt.Errorf("%w: %v", ErrPreBuild, err)
		}
		return Output{}, err
	}

	out, stamp, err := d.Layout(cfg, cpu)
	if err != nil {
		return Output{}, err
	}

	if cfg.PreBuild != nil {
		if err := d.preBuild(ctx, out.Source, *cfg.PreBuild); err != nil {
			return out, err
		}
	}

	if stampExists(out.Root) {
		slog.Info("reusing native build tree", "root", out.Root)
	} else {
		if err := os.MkdirAll(out.Root, 0o755); err != nil {
			return out, err
		}
		if err := writeStamp(out.Root, stamp); err != nil {
			return out, fmt.Errorf("write %s: %w", StampName, err)
		}
	}

	if err := d.Runner.Run(ctx, Cmd{Name: "cmake", Args: configureArgs(out.Source, out.LibDir, cfg, cpu)}); err != nil {
		return out, toolError("cmake configure", err)
	}

	if err := d.Runner.Run(ctx, Cmd{Name: "cmake", Args: buildArgs(out.LibDir, d.Parallel)}); err != nil {
		return out, toolError("cmake build", err)
	}

	return out, nil
}

func (d *Driver) preBuild(ctx context.Context, source string, step backend.Command) error {
	name := step.Name
	if resolved, ok := resolveTool(d.lookPath(), ToolRequirement{Name: name, Alternatives: alternatives[name]}); ok {
		name = resolved
	}

	cmd := Cmd{Name: name, Args: step.Args, Dir: filepath.Join(source, step.Dir)}
	if err := d.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPreBuild, step, err)
	}
	return nil
}

// toolError keeps ErrExternalTool in the chain whatever the Runner returned.
func toolError(step string, err error) error {
	if errors.Is(err, ErrExternalTool) {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrExternalTool, step, err)
}

func configureArgs(source, buildDir string, cfg backend.Config, cpu backend.Defines) []string {
	args := []string{
		"-S", source,
		"-B", buildDir,
		"-DCMAKE_BUILD_TYPE=Release",
		"-DBUILD_SHARED_LIBS=ON",
	}
	if cfg.IsDisabled(backend.Accelerate) {
		args = append(args, "-DGGML_ACCELERATE=OFF")
	}
	args = append(args, cpu.Args()...)
	return append(args, cfg.Defines.Args()...)
}

func buildArgs(buildDir string, parallel int) []string {
	args := []string{"--build", buildDir, "--target", Target, "--config", "Release"}
	if parallel > 0 {
		args = append(args, "--parallel", strconv.Itoa(parallel))
	}
	return args
}
