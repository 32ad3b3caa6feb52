package discover

import (
	"log/slog"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/cpu"
)

var (
	runtimeGOARCH = runtime.GOARCH

	// hostDetectors query the running processor. golang.org/x/sys/cpu does
	// not expose F16C, so that one comes from cpuid.
	hostDetectors = map[Feature]func() bool{
		FeatureFMA:  func() bool { return cpu.X86.HasFMA },
		FeatureAVX:  func() bool { return cpu.X86.HasAVX },
		FeatureAVX2: func() bool { return cpu.X86.HasAVX2 },
		FeatureF16C: func() bool { return cpuid.CPU.Supports(cpuid.F16C) },
		FeatureSSE3: func() bool { return cpu.X86.HasSSE3 },
	}
)

// canDetectLive reports whether the processor running this build can be
// probed directly. Only the x86 family is.
func canDetectLive() bool {
	switch runtimeGOARCH {
	case "386", "amd64":
		return true
	}
	return false
}

// HostFeatures probes the running processor for every vocabulary token.
func HostFeatures() FeatureSet {
	fs := FeatureSet{}
	for _, f := range Vocabulary {
		detect, ok := hostDetectors[f]
		if ok && detect() {
			slog.Debug("CPU has feature", "feature", f)
			fs[f] = struct{}{}
		}
	}
	return fs
}

// DeclaredFeatures intersects a comma separated feature list with the
// vocabulary. Unrecognized tokens are dropped silently.
func DeclaredFeatures(declared string) FeatureSet {
	fs := FeatureSet{}
	for _, tok := range strings.Split(declared, ",") {
		f := Feature(strings.TrimSpace(tok))
		if recognized(f) {
			fs[f] = struct{}{}
		}
	}
	return fs
}

// Features picks live detection when host and target are the same machine
// and that machine can be probed, and the declared list otherwise. Exactly
// one of the two paths runs.
func Features(p Platform, declared string) (FeatureSet, DetectionMode) {
	if !p.CrossCompile && canDetectLive() {
		return HostFeatures(), DetectionLive
	}
	return DeclaredFeatures(declared), DetectionDeclared
}
