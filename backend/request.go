package backend

import (
	"fmt"
	"strings"
)

// Request holds the backend toggles of a build. Every field is off by
// default; Accelerate needs no toggle because it is on by default on macOS.
type Request struct {
	CUDA         bool
	BLAS         bool
	Vulkan       bool
	Metal        bool
	Kompute      bool
	NoAccelerate bool
	// Static asks for a static ggml library. It is always rejected.
	Static bool
}

func (r Request) wants(b Backend) bool {
	switch b {
	case CUDA:
		return r.CUDA
	case BLAS:
		return r.BLAS
	case Vulkan:
		return r.Vulkan
	case Metal:
		return r.Metal
	case Kompute:
		return r.Kompute
	}
	return false
}

// toggles maps feature tokens onto Request fields.
func (r *Request) toggles() map[string]*bool {
	return map[string]*bool{
		"cuda":          &r.CUDA,
		"blas":          &r.BLAS,
		"vulkan":        &r.Vulkan,
		"metal":         &r.Metal,
		"kompute":       &r.Kompute,
		"no_accelerate": &r.NoAccelerate,
		"static":        &r.Static,
	}
}

// Set switches the toggle named by token on or off.
func (r *Request) Set(token string, on bool) error {
	t, ok := r.toggles()[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return fmt.Errorf("%w: unknown feature %q", ErrUnsupported, token)
	}
	*t = on
	return nil
}

// ParseRequest builds a Request from feature tokens such as those in
// GGML_SYS_FEATURES. Unknown tokens are an error so a typo cannot silently
// produce a CPU-only build.
func ParseRequest(tokens []string) (Request, error) {
	var r Request
	for _, tok := range tokens {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		if err := r.Set(tok, true); err != nil {
			return Request{}, err
		}
	}
	return r, nil
}

// Tokens returns the enabled toggles in a stable order.
func (r Request) Tokens() []string {
	var out []string
	for _, t := range []struct {
		name string
		on   bool
	}{
		{"cuda", r.CUDA},
		{"blas", r.BLAS},
		{"vulkan", r.Vulkan},
		{"metal", r.Metal},
		{"kompute", r.Kompute},
		{"no_accelerate", r.NoAccelerate},
		{"static", r.Static},
	} {
		if t.on {
			out = append(out, t.name)
		}
	}
	return out
}
