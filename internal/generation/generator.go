// Package generation writes ahead-of-time trampolines: typed Go wrappers
// that call hooks around an original function without reflection.
package generation

import (
	"fmt"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/dave/jennifer/jen"

	"methodtrace/internal/metadata"
	"methodtrace/internal/signature"
)

const (
	DefaultHooksPackage    = "methodtrace/internal/trampoline"
	DefaultMetadataPackage = "methodtrace/internal/metadata"

	header = "Code generated by methodtrace. DO NOT EDIT."
)

// Go names that need no declaration in generated code.
var builtInTypes = map[string]bool{
	"bool": true, "rune": true, "string": true, "byte": true, "uintptr": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"float32": true, "float64": true, "error": true, "any": true,
}

// Reserved identifiers of the generated wrapper functions.
var reserved = map[string]bool{"original": true, "hooks": true, "start": true}

// Method is one registered wrapper.
type Method struct {
	Record *metadata.MethodRecord
	Ident  string
}

type Generator struct {
	Methods         []Method
	Types           map[string]bool
	PackageName     string
	OutputPath      string
	HooksPackage    string
	MetadataPackage string

	idents map[string]bool
}

func NewGenerator(packageName string, outputPath string) *Generator {
	return &Generator{
		Types:           make(map[string]bool),
		PackageName:     packageName,
		OutputPath:      outputPath,
		HooksPackage:    DefaultHooksPackage,
		MetadataPackage: DefaultMetadataPackage,
		idents:          make(map[string]bool),
	}
}

// RegisterMethod adds a wrapper for record. Methods whose signature cannot
// be reproduced are refused with the classifier's error.
func (generator *Generator) RegisterMethod(record *metadata.MethodRecord) error {
	shape, err := signature.Classify(record)
	if err != nil {
		return err
	}
	if shape.IsGeneric {
		return &signature.UnsupportedSignatureError{Method: record.FullName(), Reason: "generic methods have no ahead-of-time wrapper"}
	}

	ident := exported(sanitize(record.Name))
	if generator.idents[ident] {
		ident = fmt.Sprintf("%s_%x", ident, record.Token.Index)
	}
	generator.idents[ident] = true
	generator.Methods = append(generator.Methods, Method{Record: record, Ident: ident})

	if record.HasThis() {
		generator.RegisterType(record.DeclaringType.Name)
	}
	generator.RegisterType(record.ReturnTypeName)
	for _, param := range record.Params {
		generator.RegisterType(param.TypeName)
	}
	return nil
}

// RegisterType declares the named type, minus pointer and slice markers,
// as an opaque handle unless it is a Go built-in.
func (generator *Generator) RegisterType(name string) {
	base := sanitize(baseName(name))
	if base == "" || builtInTypes[base] {
		return
	}
	generator.Types[base] = true
}

// Generate writes the wrappers and the type declarations under OutputPath.
func (generator *Generator) Generate() error {
	if err := os.MkdirAll(generator.OutputPath, os.ModePerm); err != nil {
		return err
	}

	if err := generator.typesFile().Save(filepath.Join(generator.OutputPath, "types.go")); err != nil {
		return fmt.Errorf("save types: %w", err)
	}
	if err := generator.methodsFile().Save(filepath.Join(generator.OutputPath, generator.PackageName+".go")); err != nil {
		return fmt.Errorf("save methods: %w", err)
	}
	return nil
}

// Render writes the wrappers as one Go source file.
func (generator *Generator) Render(w io.Writer) error {
	return generator.methodsFile().Render(w)
}

// RenderTypes writes the type declarations as one Go source file.
func (generator *Generator) RenderTypes(w io.Writer) error {
	return generator.typesFile().Render(w)
}

func (generator *Generator) typesFile() *jen.File {
	file := jen.NewFile(generator.PackageName)
	file.HeaderComment(header)

	names := make([]string, 0, len(generator.Types))
	for name := range generator.Types {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		file.Type().Id(name).Uintptr()
	}
	return file
}

func (generator *Generator) methodsFile() *jen.File {
	file := jen.NewFile(generator.PackageName)
	file.HeaderComment(header)

	for _, m := range generator.Methods {
		generator.writeMethod(file, m)
	}
	return file
}

func (generator *Generator) writeMethod(file *jen.File, m Method) {
	record := m.Record
	tokenIdent := m.Ident + "Token"
	params := paramNames(record)

	file.Commentf("%s is the MethodDef token of %s.", tokenIdent, record.FullName())
	file.Var().Id(tokenIdent).Op("=").Qual(generator.MetadataPackage, "TokenFromRaw").Call(jen.Lit(int(record.Token.Raw())))

	signatureOf := func(g *jen.Group) {
		if record.HasThis() {
			g.Id("this").Add(typeExpr(record.DeclaringType.Name))
		}
		for i, param := range record.Params {
			g.Id(params[i]).Add(typeExpr(param.TypeName))
		}
	}
	funcType := func() *jen.Statement {
		return jen.Func().ParamsFunc(signatureOf).Do(func(s *jen.Statement) {
			if record.ReturnTypeName != "" {
				s.Add(typeExpr(record.ReturnTypeName))
			}
		})
	}

	file.Commentf("%s wraps original so every call runs hooks.", m.Ident)
	file.Func().Id(m.Ident).
		Params(
			jen.Id("original").Add(funcType()),
			jen.Id("hooks").Qual(generator.HooksPackage, "Hooks"),
		).
		Add(funcType()).
		Block(
			jen.Return(funcType().BlockFunc(func(g *jen.Group) {
				g.Id("start").Op(":=").Id("hooks").Dot("OnEnter").Call(jen.Id(tokenIdent))
				g.Defer().Id("hooks").Dot("OnExit").Call(jen.Id(tokenIdent), jen.Id("start"))
				call := jen.Id("original").CallFunc(func(g *jen.Group) {
					if record.HasThis() {
						g.Id("this")
					}
					for i := range record.Params {
						g.Id(params[i])
					}
				})
				if record.ReturnTypeName != "" {
					g.Return(call)
				} else {
					g.Add(call)
				}
			})),
		).
		Line()
}

// paramNames returns usable, distinct Go names for the parameters.
func paramNames(record *metadata.MethodRecord) []string {
	seen := map[string]bool{"this": record.HasThis()}
	names := make([]string, len(record.Params))
	for i, param := range record.Params {
		name := sanitize(param.Name)
		if name == "" || name == "_" {
			name = fmt.Sprintf("arg%d", i)
		}
		if token.IsKeyword(name) || reserved[name] || builtInTypes[name] {
			name += "_"
		}
		for seen[name] {
			name += "_"
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

func typeExpr(name string) *jen.Statement {
	statement := &jen.Statement{}
	for done := false; !done; {
		switch {
		case strings.HasPrefix(name, "*"):
			statement.Op("*")
			name = name[1:]
		case strings.HasPrefix(name, "[]"):
			statement.Index()
			name = name[2:]
		default:
			done = true
		}
	}
	base := sanitize(name)
	if base == "" {
		base = "uintptr"
	}
	return statement.Id(base)
}

func baseName(name string) string {
	return strings.TrimLeft(name, "*[]")
}

// sanitize turns a metadata name into a Go identifier.
func sanitize(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
			sb.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				sb.WriteRune('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

func exported(name string) string {
	if name == "" {
		return "X"
	}
	runes := []rune(name)
	if !unicode.IsUpper(runes[0]) {
		if unicode.IsLetter(runes[0]) {
			runes[0] = unicode.ToUpper(runes[0])
		} else {
			return "X" + name
		}
	}
	return string(runes)
}
