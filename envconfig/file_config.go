package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ManifestName is the project-local manifest looked up in the working directory.
const ManifestName = "ggml-sys.toml"

// Config represents the TOML manifest structure
type Config struct {
	Target struct {
		OS       string   `toml:"os"`
		Triple   string   `toml:"triple"`
		Host     string   `toml:"host"`
		Features []string `toml:"features"`
	} `toml:"target"`

	Features struct {
		CUDA         bool `toml:"cuda"`
		BLAS         bool `toml:"blas"`
		Vulkan       bool `toml:"vulkan"`
		Metal        bool `toml:"metal"`
		Kompute      bool `toml:"kompute"`
		NoAccelerate bool `toml:"no_accelerate"`
		Static       bool `toml:"static"`
	} `toml:"features"`

	Build struct {
		Source   string `toml:"source"`
		OutDir   string `toml:"out_dir"`
		Bindings string `toml:"bindings"`
		Parallel int    `toml:"parallel"`
	} `toml:"build"`

	Logging struct {
		Debug bool `toml:"debug"`
	} `toml:"logging"`
}

// features returns the enabled [features] toggles in GGML_SYS_FEATURES form.
func (c *Config) features() []string {
	var out []string
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"cuda", c.Features.CUDA},
		{"blas", c.Features.BLAS},
		{"vulkan", c.Features.Vulkan},
		{"metal", c.Features.Metal},
		{"kompute", c.Features.Kompute},
		{"no_accelerate", c.Features.NoAccelerate},
		{"static", c.Features.Static},
	} {
		if f.on {
			out = append(out, f.name)
		}
	}
	return out
}

var (
	configOnce     sync.Once
	config         *Config
	configPath     string
	explicitConfig string
)

// UseConfigFile pins the manifest to path instead of searching for one. An
// empty path restores the search. The next lookup reloads the file.
func UseConfigFile(path string) {
	explicitConfig = path
	configOnce = sync.Once{}
	config, configPath = nil, ""
}

// ConfigPath returns the manifest that was loaded, if any.
func ConfigPath() string {
	GetConfigValue("")
	return configPath
}

// GetConfigPaths returns the list of possible manifest paths, project-local first
func GetConfigPaths() []string {
	if explicitConfig != "" {
		return []string{explicitConfig}
	}

	paths := []string{ManifestName}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "ggml-sys", "config.toml"))
		}
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			paths = append(paths, filepath.Join(xdgConfig, "ggml-sys", "config.toml"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths,
				filepath.Join(home, ".config", "ggml-sys", "config.toml"),
				filepath.Join(home, ".ggml-sys", "config.toml"),
			)
		}
	}

	return paths
}

// loadConfig loads the first available manifest
func loadConfig() (*Config, string, error) {
	for _, path := range GetConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			var cfg Config
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, "", fmt.Errorf("error parsing config file %s: %w", path, err)
			}
			return &cfg, path, nil
		} else if explicitConfig != "" {
			return nil, "", fmt.Errorf("config file %s: %w", path, err)
		}
	}
	return nil, "", nil
}

// GetConfigValue returns the value for a given environment variable key from the manifest
func GetConfigValue(key string) string {
	configOnce.Do(func() {
		var err error
		config, configPath, err = loadConfig()
		if err != nil {
			slog.Warn("failed to load config file", "error", err)
		} else if config != nil {
			slog.Debug("loaded config file", "path", configPath)
		}
	})

	if config == nil {
		return ""
	}

	switch key {
	case "GGML_SYS_TARGET_OS":
		return config.Target.OS
	case "GGML_SYS_TARGET":
		return config.Target.Triple
	case "GGML_SYS_HOST":
		return config.Target.Host
	case "GGML_SYS_TARGET_FEATURES":
		return strings.Join(config.Target.Features, ",")
	case "GGML_SYS_FEATURES":
		return strings.Join(config.features(), ",")
	case "GGML_SYS_SOURCE":
		return config.Build.Source
	case "GGML_SYS_OUT_DIR":
		return config.Build.OutDir
	case "GGML_SYS_BINDINGS":
		return config.Build.Bindings
	case "GGML_SYS_PARALLEL":
		if config.Build.Parallel > 0 {
			return fmt.Sprintf("%d", config.Build.Parallel)
		}
	case "GGML_SYS_DEBUG":
		if config.Logging.Debug {
			return "true"
		}
	}

	return ""
}

// GenerateExampleConfig returns a commented example manifest
func GenerateExampleConfig() string {
	return `# ggml-sys manifest
# Environment variables (GGML_SYS_*) override every value in this file.

[target]
# Target operating system: linux, macos, windows
# os = "linux"
# triple = "x86_64-unknown-linux-gnu"
# host = "x86_64-unknown-linux-gnu"
# CPU features assumed when cross compiling
# features = ["avx", "avx2", "fma", "f16c"]

[features]
cuda = false
blas = false
vulkan = false
metal = false
kompute = false
# Disable the Accelerate framework that is enabled by default on macOS
no_accelerate = false
# Static ggml libraries are not supported and always fail the build
static = false

[build]
source = "ggml"
out_dir = "build/ggml"
bindings = "bindings/ggml/zbindings.go"
# Parallel native build jobs (default: 0 = let cmake decide)
parallel = 0

[logging]
debug = false
`
}
