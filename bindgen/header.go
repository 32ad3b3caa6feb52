package bindgen

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"modernc.org/cc/v4"

	"github.com/jmorganca/ggml-sys/logutil"
)

type declKind int

const (
	kindConst declKind = iota
	kindEnum
	kindType
	kindFunc
)

// decl is one top-level declaration found in a header.
type decl struct {
	kind declKind
	name string
	file string

	// value is the literal of a constant.
	value string

	// cType is the cgo spelling of a type declaration, e.g. struct_ggml_tensor.
	cType string

	// isStruct marks types that are, or alias, a struct or union.
	isStruct bool

	// members are the enumerators of an enum, in declaration order.
	members []string

	ret    cType
	params []param
}

type cType struct {
	base    string
	ptr     int
	isConst bool
	array   bool
}

type param struct {
	name string
	typ  cType
}

var (
	intSuffix  = regexp.MustCompile(`(?i)[ul]+$`)
	pragmaOnce = regexp.MustCompile(`(?m)^[ \t]*#[ \t]*pragma[ \t]+once[ \t]*$`)
)

// extract collects the declarations of ast made in the allowlisted files.
// Object-like macros come first, ordered by allowlist position and offset,
// followed by the declarations in translation unit order.
func extract(ast *cc.AST, allowlist []string) []decl {
	rank := make(map[string]int)
	for i, a := range allowlist {
		if _, ok := rank[absPath(a)]; !ok {
			rank[absPath(a)] = i
		}
	}
	keep := func(file string) bool {
		_, ok := rank[absPath(file)]
		return file != "" && ok
	}

	decls := macros(ast, rank)
	for l := ast.TranslationUnit; l != nil; l = l.TranslationUnit {
		ed := l.ExternalDeclaration
		if ed == nil || ed.Case != cc.ExternalDeclarationDecl {
			continue
		}
		for _, d := range declaration(ed.Declaration) {
			if keep(d.file) {
				decls = append(decls, d)
			}
		}
	}
	return decls
}

func macros(ast *cc.AST, rank map[string]int) []decl {
	type found struct {
		decl
		rank   int
		offset int
	}

	var all []found
	for name, m := range ast.Macros {
		if m.IsFnLike || !isExported(name) {
			continue
		}
		pos := m.Position()
		r, ok := rank[absPath(pos.Filename)]
		if pos.Filename == "" || !ok {
			continue
		}
		value, ok := macroValue(ast, m)
		if !ok {
			continue
		}
		all = append(all, found{decl{kind: kindConst, name: name, file: pos.Filename, value: value}, r, pos.Offset})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].rank != all[j].rank {
			return all[i].rank < all[j].rank
		}
		return all[i].offset < all[j].offset
	})

	decls := make([]decl, 0, len(all))
	for _, f := range all {
		decls = append(decls, f.decl)
	}
	return decls
}

// macroValue returns the integer a macro stands for. A lone literal keeps its
// spelling; expressions over literals and other macros are evaluated.
func macroValue(ast *cc.AST, m *cc.Macro) (string, bool) {
	list := m.ReplacementList()
	if len(list) == 0 {
		return "", false
	}
	if len(list) == 1 {
		if v, ok := intLiteral(list[0].SrcStr()); ok {
			return v, true
		}
	}

	for _, tok := range list {
		if s := tok.SrcStr(); isIdent(s) && ast.Macros[s] == nil {
			return "", false
		}
	}

	switch v := m.Value().(type) {
	case cc.Int64Value:
		return strconv.FormatInt(int64(v), 10), true
	case cc.UInt64Value:
		return strconv.FormatUint(uint64(v), 10), true
	}
	return "", false
}

// intLiteral normalizes an integer literal such as (-1), 0x10u or 64.
func intLiteral(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = intSuffix.ReplaceAllString(s, "")

	if _, err := strconv.ParseUint(s, 0, 64); err != nil || s == "" {
		return "", false
	}
	if neg {
		s = "-" + s
	}
	return s, true
}

// tagged is the struct, union or enum specifier of a declaration.
type tagged struct {
	keyword string
	tag     string
	file    string

	// body is set when the declaration defines the members.
	body    bool
	members []string
}

func specifier(ds *cc.DeclarationSpecifiers) (tagged, bool) {
	for ; ds != nil; ds = ds.DeclarationSpecifiers {
		ts := ds.TypeSpecifier
		switch {
		case ts == nil:
		case ts.EnumSpecifier != nil:
			s := ts.EnumSpecifier
			t := tagged{
				keyword: "enum",
				tag:     s.Token2.SrcStr(),
				file:    s.Token.Position().Filename,
				body:    s.Case == cc.EnumSpecifierDef,
			}
			for l := s.EnumeratorList; l != nil; l = l.EnumeratorList {
				t.members = append(t.members, l.Enumerator.Token.SrcStr())
			}
			return t, true
		case ts.StructOrUnionSpecifier != nil:
			s := ts.StructOrUnionSpecifier
			return tagged{
				keyword: s.StructOrUnion.Token.SrcStr(),
				tag:     s.Token.SrcStr(),
				file:    s.StructOrUnion.Token.Position().Filename,
				body:    s.Case == cc.StructOrUnionSpecifierDef,
			}, true
		}
	}
	return tagged{}, false
}

func isConstQualified(ds *cc.DeclarationSpecifiers) bool {
	for ; ds != nil; ds = ds.DeclarationSpecifiers {
		if q := ds.TypeQualifier; q != nil && q.Case == cc.TypeQualifierConst {
			return true
		}
	}
	return false
}

func declaration(n *cc.Declaration) []decl {
	if n == nil || n.Case != cc.DeclarationDecl {
		return nil
	}

	ds := n.DeclarationSpecifiers
	spec, hasSpec := specifier(ds)
	if n.InitDeclaratorList == nil {
		if d, ok := tagDecl(spec); hasSpec && ok {
			return []decl{d}
		}
		return nil
	}

	var decls []decl
	for l := n.InitDeclaratorList; l != nil; l = l.InitDeclaratorList {
		dr := l.InitDeclarator.Declarator
		name := dr.NameTok()
		file := name.Position().Filename
		if dr.IsTypename() {
			decls = append(decls, typedefDecls(dr, file, spec)...)
			continue
		}
		if d, ok := funcDecl(dr, isConstQualified(ds)); ok {
			d.file = file
			decls = append(decls, d)
		}
	}
	return decls
}

// tagDecl handles struct, union and enum declarations that are not
// typedefs, with or without a body.
func tagDecl(spec tagged) (decl, bool) {
	if spec.keyword == "enum" {
		if !spec.body {
			return decl{}, false
		}
		d := decl{kind: kindEnum, file: spec.file, members: spec.members}
		if spec.tag != "" {
			d.name, d.cType = spec.tag, "enum_"+spec.tag
		}
		return d, true
	}

	if spec.tag == "" {
		return decl{}, false
	}
	return decl{kind: kindType, name: spec.tag, file: spec.file, cType: spec.keyword + "_" + spec.tag, isStruct: true}, true
}

func typedefDecls(dr *cc.Declarator, file string, spec tagged) []decl {
	name := dr.Name()
	switch dr.Type().Kind() {
	case cc.Array, cc.Function:
		return nil
	case cc.Enum:
		if spec.body {
			return []decl{{kind: kindEnum, name: name, file: file, cType: name, members: spec.members}}
		}
	case cc.Struct, cc.Union:
		decls := []decl{{kind: kindType, name: name, file: file, cType: name, isStruct: true}}
		if spec.body && spec.tag != "" && spec.tag != name {
			decls = append(decls, decl{kind: kindType, name: spec.tag, file: spec.file, cType: spec.keyword + "_" + spec.tag, isStruct: true})
		}
		return decls
	}
	return []decl{{kind: kindType, name: name, file: file, cType: name}}
}

func funcDecl(dr *cc.Declarator, constResult bool) (decl, bool) {
	ft, ok := dr.Type().(*cc.FunctionType)
	if !ok || dr.IsStatic() || ft.IsVariadic() {
		return decl{}, false
	}

	ret, ok := convertType(ft.Result())
	if !ok {
		logutil.Trace("skipping declaration", "name", dr.Name(), "return", ft.Result().String())
		return decl{}, false
	}
	ret.isConst = ret.isConst || constResult

	d := decl{kind: kindFunc, name: dr.Name(), ret: ret}
	params := ft.Parameters()
	if len(params) == 1 && params[0].Type().Kind() == cc.Void {
		params = nil
	}
	for i, p := range params {
		typ, ok := convertType(p.Type())
		if !ok {
			logutil.Trace("skipping declaration", "name", d.name, "param", i)
			return decl{}, false
		}
		name := p.Name()
		if name == "" {
			name = "arg" + strconv.Itoa(i)
		}
		d.params = append(d.params, param{name: name, typ: typ})
	}
	return d, true
}

var kindNames = map[cc.Kind]string{
	cc.Void:      "void",
	cc.Bool:      "_Bool",
	cc.Char:      "char",
	cc.SChar:     "signed char",
	cc.UChar:     "unsigned char",
	cc.Short:     "short",
	cc.UShort:    "unsigned short",
	cc.Int:       "int",
	cc.UInt:      "unsigned int",
	cc.Long:      "long",
	cc.ULong:     "unsigned long",
	cc.LongLong:  "long long",
	cc.ULongLong: "unsigned long long",
	cc.Float:     "float",
	cc.Double:    "double",
}

// convertType spells t the way the generator looks types up: typedef names
// stay as written, tagged types become "struct ggml_tensor".
func convertType(t cc.Type) (cType, bool) {
	var ct cType
	for {
		if td := t.Typedef(); td != nil {
			ct.base = td.Name()
			ct.isConst = ct.isConst || t.Attributes().IsConst()
			return ct, true
		}

		switch x := t.(type) {
		case *cc.PointerType:
			ct.ptr++
			t = x.Elem()
		case *cc.ArrayType:
			ct.array = true
			t = x.Elem()
		case *cc.StructType:
			return taggedType(ct, "struct", x.Tag())
		case *cc.UnionType:
			return taggedType(ct, "union", x.Tag())
		case *cc.EnumType:
			return taggedType(ct, "enum", x.Tag())
		default:
			name, ok := kindNames[t.Kind()]
			ct.base = name
			ct.isConst = ct.isConst || t.Attributes().IsConst()
			return ct, ok
		}
	}
}

func taggedType(ct cType, keyword string, tag cc.Token) (cType, bool) {
	name := tag.SrcStr()
	ct.base = keyword + " " + name
	return ct, name != ""
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// onceFS reads headers from disk. A #pragma once line becomes an include
// guard keyed on the file's path.
type onceFS struct{}

func (onceFS) Open(name string) (fs.File, error) {
	src, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(name)
	if err != nil {
		return nil, err
	}

	if loc := pragmaOnce.FindIndex(src); loc != nil {
		sum := sha256.Sum256([]byte(filepath.Clean(name)))
		guard := fmt.Sprintf("GGML_SYS_ONCE_%x", sum[:8])

		var b bytes.Buffer
		b.Write(src[:loc[0]])
		fmt.Fprintf(&b, "#ifndef %s\n#define %s", guard, guard)
		b.Write(src[loc[1]:])
		b.WriteString("\n#endif\n")
		src = b.Bytes()
	}
	return headerFile{Reader: bytes.NewReader(src), info: info}, nil
}

type headerFile struct {
	*bytes.Reader
	info fs.FileInfo
}

func (f headerFile) Stat() (fs.FileInfo, error) { return f.info, nil }

func (headerFile) Close() error { return nil }

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func isExported(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}
