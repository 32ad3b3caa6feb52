// Package backend decides which optional ggml backends a build enables and
// translates that decision into CMake options, headers and pre-build steps.
package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmorganca/ggml-sys/discover"
)

// ErrUnsupported is returned for configurations ggml-sys refuses to build.
var ErrUnsupported = errors.New("unsupported configuration")

// Backend is an optional acceleration path ggml can be built with.
type Backend string

const (
	CUDA       Backend = "cuda"
	BLAS       Backend = "blas"
	Vulkan     Backend = "vulkan"
	Metal      Backend = "metal"
	Kompute    Backend = "kompute"
	Accelerate Backend = "accelerate"
)

// CoreHeader is the mandatory ggml header; it always leads the header set.
const CoreHeader = "include/ggml.h"

// Command is an external program run on behalf of a backend. Dir is relative
// to the ggml source tree.
type Command struct {
	Name string   `cbor:"1,keyasint"`
	Args []string `cbor:"2,keyasint"`
	Dir  string   `cbor:"3,keyasint"`
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Define is a single -DKEY=VALUE option for the native build.
type Define struct {
	Key   string `cbor:"1,keyasint"`
	Value string `cbor:"2,keyasint"`
}

func (d Define) String() string {
	return "-D" + d.Key + "=" + d.Value
}

// Defines is an ordered set of native build options.
type Defines []Define

func (ds Defines) Map() map[string]string {
	m := make(map[string]string, len(ds))
	for _, d := range ds {
		m[d.Key] = d.Value
	}
	return m
}

func (ds Defines) Args() []string {
	args := make([]string, 0, len(ds))
	for _, d := range ds {
		args = append(args, d.String())
	}
	return args
}

// entry is the static description of one backend.
type entry struct {
	backend  Backend
	define   string
	header   string
	preBuild *Command
}

// backends lists the opt-in backends in evaluation order. The order fixes
// the header order of the generated bindings.
var backends = []entry{
	{backend: CUDA, define: "GGML_CUDA", header: "include/ggml-cuda.h"},
	{backend: BLAS, define: "GGML_BLAS", header: "include/ggml-blas.h"},
	{
		backend: Vulkan,
		define:  "GGML_VULKAN",
		header:  "include/ggml-vulkan.h",
		// the Vulkan backend compiles against a generated shader header
		preBuild: &Command{Name: "python", Args: []string{"-m", "ggml_vk_generate_shaders"}, Dir: "src"},
	},
	{backend: Metal, define: "GGML_METAL", header: "include/ggml-metal.h"},
	{backend: Kompute, define: "GGML_KOMPUTE", header: "include/ggml-kompute.h"},
}

var accelerate = entry{backend: Accelerate, define: "GGML_ACCELERATE"}

// Config is the fully decided backend configuration of one build.
type Config struct {
	Backends []Backend `cbor:"1,keyasint"`
	Headers  []string  `cbor:"2,keyasint"`
	PreBuild *Command  `cbor:"3,keyasint,omitempty"`
	Defines  Defines   `cbor:"4,keyasint"`
	// Disabled lists default-on backends the request switched off.
	Disabled []Backend `cbor:"5,keyasint,omitempty"`
}

func (c Config) Enabled(b Backend) bool {
	for _, e := range c.Backends {
		if e == b {
			return true
		}
	}
	return false
}

// IsDisabled reports whether a default-on backend was explicitly negated.
func (c Config) IsDisabled(b Backend) bool {
	for _, d := range c.Disabled {
		if d == b {
			return true
		}
	}
	return false
}

// Resolve validates req against p and returns the resulting configuration.
// It is a pure function: the same inputs always give an equal Config.
func Resolve(p discover.Platform, req Request) (Config, error) {
	if req.Static {
		return Config{}, fmt.Errorf("%w: static ggml libraries are not available, build the dynamic library instead", ErrUnsupported)
	}

	cfg := Config{Headers: []string{CoreHeader}}
	enable := func(s entry) {
		cfg.Backends = append(cfg.Backends, s.backend)
		cfg.Defines = append(cfg.Defines, Define{Key: s.define, Value: "ON"})
		if s.header != "" {
			cfg.Headers = append(cfg.Headers, s.header)
		}
		if s.preBuild != nil {
			cmd := *s.preBuild
			cmd.Args = append([]string(nil), s.preBuild.Args...)
			cfg.PreBuild = &cmd
		}
	}

	for _, s := range backends {
		if req.wants(s.backend) {
			enable(s)
		}
	}

	if req.Metal && p.TargetOS != discover.OSMacOS {
		slog.Warn("metal backend requested for a non-macOS target", "target", p.TargetTriple)
	}

	if p.TargetOS == discover.OSMacOS {
		if req.NoAccelerate {
			cfg.Disabled = append(cfg.Disabled, Accelerate)
		} else {
			enable(accelerate)
		}
	}

	return cfg, nil
}

// CPUDefines returns the CPU instruction set options for the native build.
// A native build lets ggml tune for the build machine; a cross build pins
// each switchable instruction set to the declared features.
func CPUDefines(p discover.Platform, fs discover.FeatureSet) Defines {
	if !p.CrossCompile {
		return Defines{{Key: "GGML_NATIVE", Value: "ON"}}
	}

	ds := Defines{{Key: "GGML_NATIVE", Value: "OFF"}}
	for _, f := range []discover.Feature{discover.FeatureAVX, discover.FeatureAVX2, discover.FeatureFMA, discover.FeatureF16C} {
		value := "OFF"
		if fs.Has(f) {
			value = "ON"
		}
		ds = append(ds, Define{Key: "GGML_" + strings.ToUpper(string(f)), Value: value})
	}
	return ds
}
