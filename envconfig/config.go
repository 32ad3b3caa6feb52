package envconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// ErrMissingEnv is returned when a variable the build cannot run without is unset.
var ErrMissingEnv = errors.New("required environment variable not set")

const (
	defaultSourceDir    = "ggml"
	defaultOutDir       = "build/ggml"
	defaultBindingsPath = "bindings/ggml/zbindings.go"
	defaultToolchain    = "/opt/rocm"
)

// BuildEnv is every environment-sourced input of a build, read once by Load.
// Components receive it by value and never consult the process environment.
type BuildEnv struct {
	// Set via GGML_SYS_TARGET_OS in the environment
	TargetOS string
	// Set via GGML_SYS_TARGET in the environment
	Target string
	// Set via GGML_SYS_HOST in the environment
	Host string
	// Set via GGML_SYS_TARGET_FEATURES in the environment
	TargetFeatures string
	// Set via GGML_SYS_FEATURES in the environment
	Features []string
	// Set via GGML_SYS_DOCS in the environment
	DocsBuild bool
	// Set via ROCM_PATH in the environment
	ToolchainRoot string

	// Set via GGML_SYS_SOURCE in the environment
	SourceDir string
	// Set via GGML_SYS_OUT_DIR in the environment
	OutDir string
	// Set via GGML_SYS_BINDINGS in the environment
	BindingsPath string
	// Set via GGML_SYS_PARALLEL in the environment
	Parallel int
	// Set via GGML_SYS_DEBUG in the environment
	LogLevel slog.Level
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func (e BuildEnv) AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"GGML_SYS_TARGET_OS":       {"GGML_SYS_TARGET_OS", e.TargetOS, "Target operating system (linux, macos, windows, ...)"},
		"GGML_SYS_TARGET":          {"GGML_SYS_TARGET", e.Target, "Target triple (e.g. x86_64-unknown-linux-gnu)"},
		"GGML_SYS_HOST":            {"GGML_SYS_HOST", e.Host, "Host triple of the machine running the build"},
		"GGML_SYS_TARGET_FEATURES": {"GGML_SYS_TARGET_FEATURES", e.TargetFeatures, "Comma separated CPU features declared for cross builds"},
		"GGML_SYS_FEATURES":        {"GGML_SYS_FEATURES", strings.Join(e.Features, ","), "Comma separated backends to enable (cuda,blas,vulkan,metal,kompute,no_accelerate)"},
		"GGML_SYS_DOCS":            {"GGML_SYS_DOCS", e.DocsBuild, "Documentation build; skip every build step"},
		"ROCM_PATH":                {"ROCM_PATH", e.ToolchainRoot, "ROCm toolchain root (default \"/opt/rocm\")"},
		"GGML_SYS_SOURCE":          {"GGML_SYS_SOURCE", e.SourceDir, "ggml source tree (default \"ggml\")"},
		"GGML_SYS_OUT_DIR":         {"GGML_SYS_OUT_DIR", e.OutDir, "Root of native build trees (default \"build/ggml\")"},
		"GGML_SYS_BINDINGS":        {"GGML_SYS_BINDINGS", e.BindingsPath, "Generated binding file (default \"bindings/ggml/zbindings.go\")"},
		"GGML_SYS_PARALLEL":        {"GGML_SYS_PARALLEL", e.Parallel, "Parallel native build jobs (default: cmake decides)"},
		"GGML_SYS_DEBUG":           {"GGML_SYS_DEBUG", e.LogLevel, "Show additional debug information (e.g. GGML_SYS_DEBUG=1)"},
	}
}

// Require reports ErrMissingEnv for the first unset platform descriptor.
func (e BuildEnv) Require() error {
	for _, v := range []struct{ name, value string }{
		{"GGML_SYS_TARGET_OS", e.TargetOS},
		{"GGML_SYS_TARGET", e.Target},
		{"GGML_SYS_HOST", e.Host},
	} {
		if v.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingEnv, v.name)
		}
	}
	return nil
}

// Clean quotes and spaces from the value. Unset variables fall back to the
// manifest, so env always wins over the file.
func clean(key string) string {
	if v := strings.Trim(os.Getenv(key), "\"' "); v != "" {
		return v
	}
	return strings.Trim(GetConfigValue(key), "\"' ")
}

// Present reports whether k is set in the environment at all. Markers such
// as GGML_SYS_DOCS count when set to "", "0" or "false".
func Present(k string) bool {
	_, ok := os.LookupEnv(k)
	return ok
}

func Uint(key string, defaultValue uint) uint {
	if s := clean(key); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			return defaultValue
		}
		return uint(n)
	}
	return defaultValue
}

func String(key, defaultValue string) string {
	if s := clean(key); s != "" {
		return s
	}
	return defaultValue
}

func List(key string) []string {
	var out []string
	for _, s := range strings.Split(clean(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LogLevel maps GGML_SYS_DEBUG onto a slog level: unset is INFO, truthy is
// DEBUG and 2 or more is TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := clean("GGML_SYS_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// Load reads the build environment. It does not validate presence of the
// platform descriptors; callers that need them call Require.
func Load() BuildEnv {
	return BuildEnv{
		TargetOS:       clean("GGML_SYS_TARGET_OS"),
		Target:         clean("GGML_SYS_TARGET"),
		Host:           clean("GGML_SYS_HOST"),
		TargetFeatures: clean("GGML_SYS_TARGET_FEATURES"),
		Features:       List("GGML_SYS_FEATURES"),
		DocsBuild:      Present("GGML_SYS_DOCS"),
		ToolchainRoot:  String("ROCM_PATH", defaultToolchain),
		SourceDir:      String("GGML_SYS_SOURCE", defaultSourceDir),
		OutDir:         String("GGML_SYS_OUT_DIR", filepath.FromSlash(defaultOutDir)),
		BindingsPath:   String("GGML_SYS_BINDINGS", filepath.FromSlash(defaultBindingsPath)),
		Parallel:       int(Uint("GGML_SYS_PARALLEL", 0)),
		LogLevel:       LogLevel(),
	}
}

// NativeTriple returns a target triple for the toolchain running this
// process, used when the caller asks to build for the current machine.
func NativeTriple() (triple, targetOS string) {
	arch := map[string]string{
		"amd64": "x86_64",
		"386":   "i686",
		"arm64": "aarch64",
		"arm":   "armv7",
	}[runtime.GOARCH]
	if arch == "" {
		arch = runtime.GOARCH
	}

	switch runtime.GOOS {
	case "darwin":
		return arch + "-apple-darwin", "macos"
	case "windows":
		return arch + "-pc-windows-msvc", "windows"
	case "linux":
		return arch + "-unknown-linux-gnu", "linux"
	default:
		return arch + "-unknown-" + runtime.GOOS, runtime.GOOS
	}
}
