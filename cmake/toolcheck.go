package cmake

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/jmorganca/ggml-sys/backend"
)

var lookPath = exec.LookPath

// ToolRequirement describes a build tool dependency.
type ToolRequirement struct {
	// Name is the primary tool binary name (e.g. "cmake").
	Name string

	// Alternatives can satisfy the requirement when Name is missing.
	Alternatives []string

	// Purpose is why the build needs the tool.
	Purpose string
}

// RequiredTools returns the tools a build of cfg launches.
func RequiredTools(cfg backend.Config) []ToolRequirement {
	reqs := []ToolRequirement{{Name: "cmake", Purpose: "ggml native build"}}
	if cfg.PreBuild != nil {
		reqs = append(reqs, ToolRequirement{
			Name:         cfg.PreBuild.Name,
			Alternatives: alternatives[cfg.PreBuild.Name],
			Purpose:      "pre-build step " + cfg.PreBuild.String(),
		})
	}
	return reqs
}

var alternatives = map[string][]string{
	"python": {"python3"},
}

// resolveTool returns the first of name and its alternatives found in PATH.
func resolveTool(look func(string) (string, error), req ToolRequirement) (string, bool) {
	for _, name := range append([]string{req.Name}, req.Alternatives...) {
		if _, err := look(name); err == nil {
			return name, true
		}
	}
	return "", false
}

// CheckRequiredTools verifies every requirement is satisfied, reporting all
// missing tools at once.
func CheckRequiredTools(look func(string) (string, error), requirements []ToolRequirement) error {
	var missing []string
	for _, req := range requirements {
		if _, ok := resolveTool(look, req); !ok {
			missing = append(missing, fmt.Sprintf("%s (%s)", req.Name, req.Purpose))
		}
	}

	switch len(missing) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%w: %s not found in PATH", ErrExternalTool, missing[0])
	default:
		return fmt.Errorf("%w: missing required tools: %s", ErrExternalTool, strings.Join(missing, ", "))
	}
}
