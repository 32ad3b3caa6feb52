package bindgen

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
)

// Emitter writes the bindings for a header set to a fixed path.
type Emitter struct {
	Translator Translator

	// SourceDir is the ggml checkout the header paths are relative to.
	SourceDir string

	// Output is the binding file. Its directory names the Go package.
	Output string

	Version string
}

// Emit translates headers, given relative to SourceDir, and writes the
// result to Output, replacing any previous bindings.
func (e *Emitter) Emit(ctx context.Context, headers []string) (string, error) {
	source, err := filepath.Abs(e.SourceDir)
	if err != nil {
		return "", err
	}
	output, err := filepath.Abs(e.Output)
	if err != nil {
		return "", err
	}

	paths := make([]string, len(headers))
	var includes []string
	seen := make(map[string]bool)
	for i, h := range headers {
		paths[i] = filepath.Join(source, filepath.FromSlash(h))
		if dir := filepath.Dir(paths[i]); !seen[dir] {
			seen[dir] = true
			includes = append(includes, includeDir(filepath.Dir(output), dir))
		}
	}

	req := NewRequest(packageName(output), paths, includes, e.Version)
	src, err := e.Translator.Translate(ctx, req)
	if err != nil {
		if errors.Is(err, ErrTranslation) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrTranslation, err)
	}

	if _, err := parser.ParseFile(token.NewFileSet(), output, src, parser.AllErrors); err != nil {
		return "", fmt.Errorf("%w: output is not valid Go: %v", ErrTranslation, err)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(output, src, 0o644); err != nil {
		return "", err
	}

	slog.Info("wrote bindings", "path", output, "headers", len(headers))
	return output, nil
}

// includeDir spells dir relative to the binding package so the generated
// file does not embed machine paths.
func includeDir(pkgDir, dir string) string {
	rel, err := filepath.Rel(pkgDir, dir)
	if err != nil {
		return filepath.ToSlash(dir)
	}
	return "${SRCDIR}/" + filepath.ToSlash(rel)
}

func packageName(output string) string {
	name := filepath.Base(filepath.Dir(output))
	if !isIdent(name) {
		return "ggml"
	}
	return name
}
