package generation

import (
	"bytes"
	"errors"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"methodtrace/internal/metadata"
	"methodtrace/internal/signature"
)

func param(name, typeName string, ordinal int) metadata.ParameterRecord {
	p := metadata.NewDetachedParameter(name, metadata.ParamIn, metadata.NilToken, ordinal)
	p.TypeName = typeName
	return p
}

func messageBox() *metadata.MethodRecord {
	return &metadata.MethodRecord{
		Token:         metadata.NewToken(metadata.KindMethodDef, 0x1234),
		Name:          "MessageBoxW",
		DeclaringType: metadata.TypeRecord{Namespace: "Windows.Win32.UI.WindowsAndMessaging", Name: "Apis", Visibility: metadata.Public},
		Params: []metadata.ParameterRecord{
			param("hWnd", "HWND", 0),
			param("lpText", "*uint16", 1),
			param("type", "uint32", 2),
		},
		ReturnTypeName: "int32",
	}
}

func render(t *testing.T, generator *Generator) (string, string) {
	t.Helper()
	var methods, types bytes.Buffer
	require.NoError(t, generator.Render(&methods))
	require.NoError(t, generator.RenderTypes(&types))

	for name, src := range map[string][]byte{"methods": methods.Bytes(), "types": types.Bytes()} {
		_, err := parser.ParseFile(token.NewFileSet(), name+".go", src, parser.AllErrors)
		require.NoError(t, err, "generated %s:\n%s", name, src)
	}
	return methods.String(), types.String()
}

func TestRenderStaticMethod(t *testing.T) {
	generator := NewGenerator("win32trace", t.TempDir())
	require.NoError(t, generator.RegisterMethod(messageBox()))

	methods, types := render(t, generator)
	assert.Contains(t, methods, "// Code generated by methodtrace. DO NOT EDIT.")
	assert.Contains(t, methods, `"methodtrace/internal/metadata"`)
	assert.Contains(t, methods, `"methodtrace/internal/trampoline"`)
	assert.Contains(t, methods, "var MessageBoxWToken = metadata.TokenFromRaw(100667956)")
	assert.Contains(t, methods,
		"func MessageBoxW(original func(hWnd HWND, lpText *uint16, type_ uint32) int32, hooks trampoline.Hooks) func(hWnd HWND, lpText *uint16, type_ uint32) int32 {")
	assert.Contains(t, methods, "start := hooks.OnEnter(MessageBoxWToken)")
	assert.Contains(t, methods, "defer hooks.OnExit(MessageBoxWToken, start)")
	assert.Contains(t, methods, "return original(hWnd, lpText, type_)")

	assert.Contains(t, types, "type HWND uintptr")
	assert.NotContains(t, types, "uint16")
}

func TestRenderInstanceMethodWithoutResult(t *testing.T) {
	generator := NewGenerator("shoptrace", t.TempDir())
	require.NoError(t, generator.RegisterMethod(&metadata.MethodRecord{
		Token:             metadata.NewToken(metadata.KindMethodDef, 2),
		Name:              "clear",
		DeclaringType:     metadata.TypeRecord{Name: "Cart", Visibility: metadata.Public},
		CallingConvention: metadata.ConvHasThis,
		Params: []metadata.ParameterRecord{
			param("", "[]Item", 0),
			param("start", "bool", 1),
		},
	}))

	methods, types := render(t, generator)
	assert.Contains(t, methods, "func Clear(original func(this Cart, arg0 []Item, start_ bool), hooks trampoline.Hooks) func(this Cart, arg0 []Item, start_ bool) {")
	assert.Contains(t, methods, "\t\toriginal(this, arg0, start_)\n")
	assert.NotContains(t, methods, "return original")

	assert.Contains(t, types, "type Cart uintptr")
	assert.Contains(t, types, "type Item uintptr")
}

func TestDuplicateNamesGetSuffix(t *testing.T) {
	generator := NewGenerator("win32trace", t.TempDir())
	first := messageBox()
	second := messageBox()
	second.Token = metadata.NewToken(metadata.KindMethodDef, 0x99)
	require.NoError(t, generator.RegisterMethod(first))
	require.NoError(t, generator.RegisterMethod(second))

	var idents []string
	for _, m := range generator.Methods {
		idents = append(idents, m.Ident)
	}
	if diff := cmp.Diff([]string{"MessageBoxW", "MessageBoxW_99"}, idents); diff != "" {
		t.Errorf("idents (-want +got):\n%s", diff)
	}
	render(t, generator)
}

func TestRegisterRefusesUnsupported(t *testing.T) {
	generator := NewGenerator("win32trace", t.TempDir())
	for _, record := range []*metadata.MethodRecord{
		{Name: "wsprintfW", CallingConvention: metadata.ConvVarArg},
		{Name: "Map", CallingConvention: metadata.ConvGeneric, GenericArity: 1},
	} {
		err := generator.RegisterMethod(record)
		var unsupported *signature.UnsupportedSignatureError
		assert.True(t, errors.As(err, &unsupported), "%s: %v", record.Name, err)
	}
	assert.Empty(t, generator.Methods)
}

func TestGenerateWritesFiles(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "out")
	generator := NewGenerator("win32trace", out)
	require.NoError(t, generator.RegisterMethod(messageBox()))
	require.NoError(t, generator.Generate())

	for _, name := range []string{"types.go", "win32trace.go"} {
		src, err := os.ReadFile(filepath.Join(out, name))
		require.NoError(t, err)
		assert.Contains(t, string(src), "package win32trace")
	}
}

func TestSanitize(t *testing.T) {
	for in, want := range map[string]string{
		"List`1":  "List_1",
		"9lives":  "_9lives",
		"Ns.Type": "Ns_Type",
		"déjà_vu": "déjà_vu",
		"":        "",
	} {
		assert.Equal(t, want, sanitize(in), "sanitize(%q)", in)
	}
	assert.Equal(t, "Clear", exported("clear"))
	assert.Equal(t, "X_1", exported("_1"))
}
