package bindgen

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"modernc.org/cc/v4"

	"github.com/jmorganca/ggml-sys/logutil"
)

// HeaderTranslator is the built-in Translator. It preprocesses and parses
// the headers as one translation unit with modernc.org/cc/v4, following
// their includes, and emits a cgo file exposing the constants, enums, type
// aliases and function wrappers declared in allowlisted files whose
// signatures have a direct Go spelling. Aliases onto C types are comparable
// and copyable in Go, which covers the copy, eq and hash derives; ord and
// debug come from enums being integers with a String method.
type HeaderTranslator struct {
	// Config is the base parser configuration. Nil asks the host C compiler
	// for its predefined macros and system include paths.
	Config *cc.Config

	// Prelude replaces the predefined macros and builtins fed ahead of the
	// headers. It must declare int __predefined_declarator.
	Prelude string
}

func (t HeaderTranslator) Translate(ctx context.Context, req Request) ([]byte, error) {
	var headers []string
	for _, h := range req.Headers {
		if !req.allowed(h) {
			slog.Debug("skipping header outside allowlist", "header", h)
			continue
		}
		if _, err := os.Stat(h); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTranslation, err)
		}
		headers = append(headers, h)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var decls []decl
	if len(headers) > 0 {
		ast, err := t.parse(headers)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTranslation, err)
		}
		decls = extract(ast, req.Allowlist)
		logutil.Trace("parsed headers", "headers", len(headers), "declarations", len(decls))
	}

	if req.Merge {
		decls = merge(decls)
	}
	if req.Sort {
		sortDecls(decls)
	}

	g := newGenerator(req, decls)
	src := g.generate()
	out, err := format.Source(src)
	if err != nil {
		return nil, fmt.Errorf("%w: format output: %v", ErrTranslation, err)
	}
	return out, nil
}

// parse reads headers as one translation unit. Quoted includes resolve next
// to the including file, then in the header directories.
func (t HeaderTranslator) parse(headers []string) (*cc.AST, error) {
	base := t.Config
	if base == nil {
		var err error
		if base, err = cc.NewConfig(runtime.GOOS, runtime.GOARCH); err != nil {
			return nil, err
		}
	}

	cfg := *base
	cfg.Header = true
	cfg.EvalAllMacros = true
	cfg.FS = onceFS{}
	cfg.IncludePaths = []string{""}
	seen := make(map[string]bool)
	for _, h := range headers {
		if dir := filepath.Dir(absPath(h)); !seen[dir] {
			seen[dir] = true
			cfg.IncludePaths = append(cfg.IncludePaths, dir)
		}
	}
	cfg.IncludePaths = append(cfg.IncludePaths, base.IncludePaths...)

	sources := []cc.Source{
		{Name: "<predefined>", Value: cfg.Predefined},
		{Name: "<builtin>", Value: cc.Builtin},
	}
	if t.Prelude != "" {
		sources = []cc.Source{{Name: "<prelude>", Value: t.Prelude}}
	}
	for _, h := range headers {
		sources = append(sources, cc.Source{Name: absPath(h), FS: cfg.FS})
	}
	return cc.Translate(&cfg, sources)
}

// merge keeps the first declaration of each name and kind.
func merge(decls []decl) []decl {
	seen := make(map[string]bool)
	out := decls[:0]
	for _, d := range decls {
		key := strconv.Itoa(int(d.kind)) + ":" + d.name + ":" + d.cType
		if d.name != "" && seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

func sortDecls(decls []decl) {
	sort.SliceStable(decls, func(i, j int) bool {
		if decls[i].kind != decls[j].kind {
			return decls[i].kind < decls[j].kind
		}
		return decls[i].name < decls[j].name
	})
}

// goType is the Go side of a C type in a wrapper signature.
type goType struct {
	name string
	// toC and fromC wrap an expression crossing into and out of C.
	toC   func(string) string
	fromC func(string) string
}

func identity(s string) string { return s }

var scalars = map[string][2]string{
	"bool":     {"bool", "C.bool"},
	"_Bool":    {"bool", "C.bool"},
	"int":      {"int32", "C.int"},
	"int8_t":   {"int8", "C.int8_t"},
	"uint8_t":  {"uint8", "C.uint8_t"},
	"int16_t":  {"int16", "C.int16_t"},
	"uint16_t": {"uint16", "C.uint16_t"},
	"int32_t":  {"int32", "C.int32_t"},
	"uint32_t": {"uint32", "C.uint32_t"},
	"int64_t":  {"int64", "C.int64_t"},
	"uint64_t": {"uint64", "C.uint64_t"},
	"size_t":   {"uint64", "C.size_t"},
	"float":    {"float32", "C.float"},
	"double":   {"float64", "C.double"},
}

// exactWidth scalars may be passed by pointer without copying.
var exactWidth = map[string]bool{
	"int8_t": true, "uint8_t": true, "int16_t": true, "uint16_t": true,
	"int32_t": true, "uint32_t": true, "int64_t": true, "uint64_t": true,
	"float": true, "double": true,
}

type generator struct {
	req   Request
	decls []decl

	// names maps C type spellings ("struct ggml_tensor", "ggml_fp16_t") to
	// their declaration.
	names map[string]decl

	// declared holds the C spellings whose Go type made it into the output.
	declared map[string]bool
	aliases  map[string]bool

	used    map[string]bool
	imports map[string]bool
	buf     bytes.Buffer
}

func newGenerator(req Request, decls []decl) *generator {
	g := &generator{
		req:      req,
		decls:    decls,
		names:    make(map[string]decl),
		declared: make(map[string]bool),
		aliases:  make(map[string]bool),
		used:     make(map[string]bool),
		imports:  make(map[string]bool),
	}
	for _, d := range decls {
		if (d.kind == kindEnum || d.kind == kindType) && d.name != "" {
			if _, ok := g.names[spelling(d.cType)]; !ok {
				g.names[spelling(d.cType)] = d
			}
		}
	}
	return g
}

// spelling turns a cgo type name back into C: struct_ggml_tensor is
// struct ggml_tensor.
func spelling(cgo string) string {
	for _, k := range []string{"struct_", "union_", "enum_"} {
		if strings.HasPrefix(cgo, k) {
			return strings.Replace(cgo, "_", " ", 1)
		}
	}
	return cgo
}

func (g *generator) generate() []byte {
	for _, c := range g.req.Constants {
		g.claim(c.Name)
		fmt.Fprintf(&g.buf, "const %s = %q\n\n", c.Name, c.Value)
	}

	// functions go last so every type they mention has been declared
	for _, d := range g.decls {
		switch d.kind {
		case kindConst:
			if g.claim(d.name) {
				fmt.Fprintf(&g.buf, "const %s = %s\n\n", d.name, d.value)
			}
		case kindEnum:
			g.enum(d)
		case kindType:
			name := goName(d.name)
			if g.aliases[name] {
				// typedef struct ggml_foo ggml_foo names one type twice
				g.declared[spelling(d.cType)] = true
				continue
			}
			if g.claim(name) {
				g.aliases[name] = true
				g.declared[spelling(d.cType)] = true
				fmt.Fprintf(&g.buf, "type %s = C.%s\n\n", name, d.cType)
			}
		}
	}
	for _, d := range g.decls {
		if d.kind == kindFunc {
			g.function(d)
		}
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "// Code generated by ggml-sys. DO NOT EDIT.\n\n")
	fmt.Fprintf(&out, "package %s\n\n", g.req.Package)
	out.WriteString("/*\n")
	for _, dir := range g.req.IncludeDirs {
		fmt.Fprintf(&out, "#cgo CFLAGS: -I%s\n", dir)
	}
	for _, h := range g.req.Headers {
		if g.req.allowed(h) {
			fmt.Fprintf(&out, "#include %q\n", filepath.Base(h))
		}
	}
	out.WriteString("*/\n")
	out.WriteString("import \"C\"\n\n")

	if len(g.imports) > 0 {
		imports := make([]string, 0, len(g.imports))
		for i := range g.imports {
			imports = append(imports, i)
		}
		sort.Strings(imports)
		out.WriteString("import (\n")
		for _, i := range imports {
			fmt.Fprintf(&out, "\t%q\n", i)
		}
		out.WriteString(")\n\n")
	}

	out.Write(g.buf.Bytes())
	return out.Bytes()
}

// claim reserves a Go identifier, reporting false when it is taken.
func (g *generator) claim(name string) bool {
	if g.used[name] {
		slog.Debug("skipping duplicate identifier", "name", name)
		return false
	}
	g.used[name] = true
	return true
}

func (g *generator) enum(d decl) {
	if len(d.members) == 0 {
		return
	}

	typ := ""
	if d.name != "" {
		if typ = goName(d.name); !g.claim(typ) {
			return
		}
		g.declared[spelling(d.cType)] = true
		fmt.Fprintf(&g.buf, "type %s int32\n\n", typ)
	}

	var names [][2]string
	g.buf.WriteString("const (\n")
	for _, m := range d.members {
		name := exportName(m)
		if !g.claim(name) {
			continue
		}
		names = append(names, [2]string{name, m})
		if typ != "" {
			fmt.Fprintf(&g.buf, "\t%s %s = C.%s\n", name, typ, m)
		} else {
			fmt.Fprintf(&g.buf, "\t%s = C.%s\n", name, m)
		}
	}
	g.buf.WriteString(")\n\n")

	if typ == "" || !g.req.ImplDebug || len(names) == 0 {
		return
	}

	// a slice rather than a switch since enumerators may share a value
	table := "_" + typ + "_names"
	fmt.Fprintf(&g.buf, "var %s = []struct {\n\tv %s\n\ts string\n}{\n", table, typ)
	for _, n := range names {
		fmt.Fprintf(&g.buf, "\t{%s, %q},\n", n[0], n[1])
	}
	g.buf.WriteString("}\n\n")

	g.imports["strconv"] = true
	fmt.Fprintf(&g.buf, "func (v %s) String() string {\n", typ)
	fmt.Fprintf(&g.buf, "\tfor _, n := range %s {\n\t\tif n.v == v {\n\t\t\treturn n.s\n\t\t}\n\t}\n", table)
	fmt.Fprintf(&g.buf, "\treturn %q + strconv.FormatInt(int64(v), 10) + \")\"\n}\n\n", typ+"(")
}

func (g *generator) function(d decl) {
	name := goName(d.name)
	if g.used[name] {
		return
	}

	var sig, args []string
	pnames := make(map[string]bool)
	for _, p := range d.params {
		t, ok := g.goType(p.typ, false)
		if !ok {
			logutil.Trace("skipping function", "name", d.name, "param", p.name)
			return
		}
		pname := paramName(p.name)
		for pnames[pname] || pname == name {
			pname += "_"
		}
		pnames[pname] = true
		sig = append(sig, pname+" "+t.name)
		args = append(args, t.toC(pname))
	}

	call := fmt.Sprintf("C.%s(%s)", d.name, strings.Join(args, ", "))
	if d.ret.base == "void" && d.ret.ptr == 0 {
		g.claim(name)
		fmt.Fprintf(&g.buf, "func %s(%s) {\n\t%s\n}\n\n", name, strings.Join(sig, ", "), call)
		return
	}

	ret, ok := g.goType(d.ret, true)
	if !ok {
		logutil.Trace("skipping function", "name", d.name, "return", d.ret.base)
		return
	}
	g.claim(name)
	fmt.Fprintf(&g.buf, "func %s(%s) %s {\n\treturn %s\n}\n\n", name, strings.Join(sig, ", "), ret.name, ret.fromC(call))
}

func (g *generator) goType(t cType, result bool) (goType, bool) {
	if t.array {
		return goType{}, false
	}

	switch t.ptr {
	case 0:
		if s, ok := scalars[t.base]; ok {
			return goType{
				name:  s[0],
				toC:   func(e string) string { return s[1] + "(" + e + ")" },
				fromC: func(e string) string { return s[0] + "(" + e + ")" },
			}, true
		}
		d, ok := g.names[t.base]
		if !ok || !g.declared[t.base] {
			return goType{}, false
		}
		if d.kind == kindEnum {
			typ := goName(d.name)
			return goType{
				name:  typ,
				toC:   func(e string) string { return "C." + d.cType + "(" + e + ")" },
				fromC: func(e string) string { return typ + "(" + e + ")" },
			}, true
		}
		return goType{name: goName(d.name), toC: identity, fromC: identity}, true

	case 1:
		switch {
		case t.base == "void":
			g.imports["unsafe"] = true
			return goType{name: "unsafe.Pointer", toC: identity, fromC: identity}, true
		case t.base == "char" && t.isConst && result:
			return goType{name: "string", fromC: func(e string) string { return "C.GoString(" + e + ")" }}, true
		case exactWidth[t.base]:
			s := scalars[t.base]
			g.imports["unsafe"] = true
			return goType{
				name:  "*" + s[0],
				toC:   func(e string) string { return "(*" + s[1] + ")(unsafe.Pointer(" + e + "))" },
				fromC: func(e string) string { return "(*" + s[0] + ")(unsafe.Pointer(" + e + "))" },
			}, true
		}
		if d, ok := g.names[t.base]; ok && g.declared[t.base] && d.kind == kindType && d.isStruct {
			return goType{name: "*" + goName(d.name), toC: identity, fromC: identity}, true
		}
	}
	return goType{}, false
}

// goName converts a C identifier to an exported Go one: ggml_new_tensor
// becomes GgmlNewTensor.
func goName(c string) string {
	var b strings.Builder
	for _, part := range strings.Split(c, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

func exportName(c string) string {
	if isExported(c) {
		return c
	}
	return goName(c)
}

var goKeywords = map[string]bool{
	"break": true, "case": true, "chan": true, "const": true, "continue": true,
	"default": true, "defer": true, "else": true, "fallthrough": true, "for": true,
	"func": true, "go": true, "goto": true, "if": true, "import": true,
	"interface": true, "map": true, "package": true, "range": true, "return": true,
	"select": true, "struct": true, "switch": true, "type": true, "var": true,
	"C": true, "unsafe": true, "strconv": true,
}

func paramName(c string) string {
	if goKeywords[c] {
		return c + "_"
	}
	return c
}
