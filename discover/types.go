package discover

import (
	"strings"
)

// OS is the operating system a build targets.
type OS string

const (
	OSLinux   OS = "linux"
	OSMacOS   OS = "macos"
	OSWindows OS = "windows"
	OSOther   OS = "other"
)

// ParseOS maps a target OS identifier onto the OS enumeration. Go's "darwin"
// is accepted as an alias of macos; anything unknown is OSOther.
func ParseOS(s string) OS {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linux":
		return OSLinux
	case "macos", "darwin":
		return OSMacOS
	case "windows":
		return OSWindows
	default:
		return OSOther
	}
}

// Platform describes the machine building ggml and the machine it builds for.
type Platform struct {
	HostTriple   string `json:"host"`
	TargetTriple string `json:"target"`
	TargetOS     OS     `json:"target_os"`
	CrossCompile bool   `json:"cross_compile"`
}

// Arch returns the architecture component of the target triple.
func (p Platform) Arch() string {
	arch, _, _ := strings.Cut(p.TargetTriple, "-")
	return arch
}

// Feature is one token of the CPU capability vocabulary.
type Feature string

const (
	FeatureFMA  Feature = "fma"
	FeatureAVX  Feature = "avx"
	FeatureAVX2 Feature = "avx2"
	FeatureF16C Feature = "f16c"
	FeatureSSE3 Feature = "sse3"
)

// Vocabulary is the fixed, ordered set of recognized CPU features.
var Vocabulary = []Feature{FeatureFMA, FeatureAVX, FeatureAVX2, FeatureF16C, FeatureSSE3}

func recognized(f Feature) bool {
	for _, v := range Vocabulary {
		if v == f {
			return true
		}
	}
	return false
}

// FeatureSet is a subset of Vocabulary.
type FeatureSet map[Feature]struct{}

func (fs FeatureSet) Has(f Feature) bool {
	_, ok := fs[f]
	return ok
}

// List returns the members in Vocabulary order.
func (fs FeatureSet) List() []Feature {
	out := []Feature{}
	for _, f := range Vocabulary {
		if fs.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (fs FeatureSet) String() string {
	var sb strings.Builder
	for i, f := range fs.List() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(f))
	}
	return sb.String()
}

// DetectionMode records which path populated a FeatureSet.
type DetectionMode string

const (
	DetectionLive     DetectionMode = "live"
	DetectionDeclared DetectionMode = "declared"
)
