// Package bindgen translates the ggml headers selected for a build into a
// Go binding file.
package bindgen

import (
	"context"
	"errors"
	"path/filepath"
)

// ErrTranslation is returned when the headers cannot be translated or the
// translation is not valid Go.
var ErrTranslation = errors.New("binding translation failed")

// VersionConstant is the synthetic constant carrying the ggml-sys version.
const VersionConstant = "GGMLSysVersion"

// Derive names a capability every translated type must have.
type Derive string

const (
	DeriveCopy  Derive = "copy"
	DeriveDebug Derive = "debug"
	DeriveEq    Derive = "eq"
	DeriveOrd   Derive = "ord"
	DeriveHash  Derive = "hash"
)

// Constant is an extra string constant injected into the output.
type Constant struct {
	Name  string
	Value string
}

// Request describes one translation.
type Request struct {
	// Package is the Go package clause of the output.
	Package string

	// Headers are translated in order as one translation unit. Their
	// includes are followed.
	Headers []string

	// Allowlist restricts output to declarations made in these files.
	Allowlist []string

	// IncludeDirs become -I flags of the cgo preamble.
	IncludeDirs []string

	Derives []Derive

	// ImplDebug asks for a String method on every enum type.
	ImplDebug bool

	// Merge drops repeated declarations of the same name.
	Merge bool

	// Sort orders declarations by kind and name instead of header order.
	Sort bool

	Constants []Constant
}

// NewRequest returns the request used for every ggml build: the header set
// doubles as the allowlist and all options are enabled.
func NewRequest(pkg string, headers, includeDirs []string, version string) Request {
	return Request{
		Package:     pkg,
		Headers:     headers,
		Allowlist:   headers,
		IncludeDirs: includeDirs,
		Derives:     []Derive{DeriveCopy, DeriveDebug, DeriveEq, DeriveOrd, DeriveHash},
		ImplDebug:   true,
		Merge:       true,
		Sort:        true,
		Constants:   []Constant{{Name: VersionConstant, Value: version}},
	}
}

func (r Request) allowed(file string) bool {
	file = filepath.Clean(file)
	for _, a := range r.Allowlist {
		if filepath.Clean(a) == file {
			return true
		}
	}
	return false
}

// Translator turns a Request into Go source.
type Translator interface {
	Translate(ctx context.Context, req Request) ([]byte, error)
}
