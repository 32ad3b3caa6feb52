// Package link computes how consumers link against the built ggml library.
package link

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmorganca/ggml-sys/backend"
	"github.com/jmorganca/ggml-sys/cmake"
	"github.com/jmorganca/ggml-sys/discover"
)

type Kind string

const (
	RerunIfChanged Kind = "rerun-if-changed"
	SearchPath     Kind = "search-path"
	Library        Kind = "lib"
	Framework      Kind = "framework"
)

// Prefix starts every directive line written to stdout.
const Prefix = "ggml-sys:"

type Directive struct {
	Kind  Kind
	Value string
}

func (d Directive) String() string {
	return Prefix + string(d.Kind) + "=" + d.Value
}

// metalFrameworks are linked together whenever Metal is enabled.
var metalFrameworks = []string{"Foundation", "Metal", "MetalKit", "MetalPerformanceShaders"}

// Plan is the derived link configuration of one build.
type Plan struct {
	// Rerun lists the paths whose changes invalidate the build.
	Rerun []string

	// Directives are ordered: search paths, then libraries, then frameworks.
	Directives []Directive
}

// New derives the plan for a finished build.
func New(p discover.Platform, cfg backend.Config, out cmake.Output) Plan {
	plan := Plan{
		Rerun: []string{out.Source},
		Directives: []Directive{
			{Kind: SearchPath, Value: out.LibDir},
			{Kind: Library, Value: cmake.Target},
		},
	}

	if p.TargetOS != discover.OSMacOS {
		return plan
	}

	if cfg.Enabled(backend.Accelerate) {
		plan.Directives = append(plan.Directives, Directive{Kind: Framework, Value: "Accelerate"})
	}
	if cfg.Enabled(backend.Metal) {
		for _, f := range metalFrameworks {
			plan.Directives = append(plan.Directives, Directive{Kind: Framework, Value: f})
		}
	}
	return plan
}

// Filter returns the directives of kind k in order.
func (p Plan) Filter(k Kind) []Directive {
	var ds []Directive
	for _, d := range p.Directives {
		if d.Kind == k {
			ds = append(ds, d)
		}
	}
	return ds
}

// Lines renders the plan as one directive per line, rerun triggers first.
func (p Plan) Lines() []string {
	lines := make([]string, 0, len(p.Rerun)+len(p.Directives))
	for _, r := range p.Rerun {
		lines = append(lines, Directive{Kind: RerunIfChanged, Value: r}.String())
	}
	for _, d := range p.Directives {
		lines = append(lines, d.String())
	}
	return lines
}

// LDFlags renders the plan as linker flags. Search paths are also added as
// runtime paths since ggml is built as a shared library.
func (p Plan) LDFlags(rel func(string) string) string {
	if rel == nil {
		rel = func(s string) string { return s }
	}

	var flags []string
	for _, d := range p.Directives {
		switch d.Kind {
		case SearchPath:
			flags = append(flags, "-L"+rel(d.Value), "-Wl,-rpath,"+rel(d.Value))
		case Library:
			flags = append(flags, "-l"+d.Value)
		case Framework:
			flags = append(flags, "-framework", d.Value)
		}
	}
	return strings.Join(flags, " ")
}

// WriteCgo writes a Go file next to the bindings carrying the plan as a
// #cgo LDFLAGS line. Paths are spelled relative to ${SRCDIR}.
func (p Plan) WriteCgo(path, pkg string) error {
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return err
	}

	rel := func(s string) string {
		r, err := filepath.Rel(dir, s)
		if err != nil {
			return filepath.ToSlash(s)
		}
		return "${SRCDIR}/" + filepath.ToSlash(r)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by ggml-sys. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	fmt.Fprintf(&b, "// #cgo LDFLAGS: %s\n", p.LDFlags(rel))
	b.WriteString("import \"C\"\n")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return err
	}
	slog.Info("wrote link flags", "path", path)
	return nil
}
