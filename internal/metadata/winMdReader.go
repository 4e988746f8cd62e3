// Package metadata describes instrumentation targets: tokens, method and
// parameter records, the providers that resolve them and the guard that
// decides whether they may be instrumented.
package metadata

import (
	"debug/pe"
	"fmt"
	"sync"

	"github.com/microsoft/go-winmd"
	"github.com/microsoft/go-winmd/flags"
)

const (
	typeVisibilityMask = 0x00000007
	typeInterface      = 0x00000020
)

// The map of basic element types to Go equivalents
var builtInElementTypes = map[flags.ElementType]string{
	flags.ElementType_BOOLEAN: "bool",
	flags.ElementType_CHAR:    "rune",
	flags.ElementType_STRING:  "string",
	flags.ElementType_I1:      "int8",
	flags.ElementType_I2:      "int16",
	flags.ElementType_I4:      "int32",
	flags.ElementType_I8:      "int64",
	flags.ElementType_U1:      "uint8",
	flags.ElementType_U2:      "uint16",
	flags.ElementType_U4:      "uint32",
	flags.ElementType_U8:      "uint64",
	flags.ElementType_R4:      "float32",
	flags.ElementType_R8:      "float64",
}

// WinMdReader is a Provider backed by the metadata tables of a compiled
// module (.winmd or managed .dll).
type WinMdReader struct {
	metadata *winmd.Metadata

	mu    sync.Mutex
	cache map[Token]*MethodRecord
}

// NewReader opens the module under the given path.
func NewReader(path string) (*WinMdReader, error) {
	peFile, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer peFile.Close()

	winmdMetadata, err := winmd.New(peFile)
	if err != nil {
		return nil, fmt.Errorf("read metadata of %s: %w", path, err)
	}

	return &WinMdReader{
		metadata: winmdMetadata,
		cache:    make(map[Token]*MethodRecord),
	}, nil
}

// Method implements Provider. Only MethodDef tokens resolve.
func (reader *WinMdReader) Method(token Token) (*MethodRecord, error) {
	if token.Kind != KindMethodDef || token.Index == 0 || token.Index > reader.metadata.Tables.MethodDef.Len {
		return nil, &MetadataNotFoundError{Token: token}
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if cached, found := reader.cache[token]; found {
		return cached, nil
	}

	record, err := reader.readMethod(token)
	if err != nil {
		return nil, err
	}
	reader.cache[token] = record
	return record, nil
}

// Lookup is the MethodLookup backing parameters read by this reader.
func (reader *WinMdReader) Lookup(token Token) (*MethodRecord, bool) {
	record, err := reader.Method(token)
	return record, err == nil
}

// FindMethod returns the first method with the given name.
func (reader *WinMdReader) FindMethod(name string) (*MethodRecord, bool) {
	table := reader.metadata.Tables.MethodDef
	for idx := uint32(0); idx < table.Len; idx++ {
		methodDef, err := table.Record(winmd.Index(idx))
		if err != nil {
			return nil, false
		}
		if methodDef.Name.String() == name {
			record, err := reader.Method(NewToken(KindMethodDef, idx+1))
			return record, err == nil
		}
	}
	return nil, false
}

// Methods lists the tokens of every method in the module.
func (reader *WinMdReader) Methods() []Token {
	count := reader.metadata.Tables.MethodDef.Len
	tokens := make([]Token, 0, count)
	for idx := uint32(1); idx <= count; idx++ {
		tokens = append(tokens, NewToken(KindMethodDef, idx))
	}
	return tokens
}

func (reader *WinMdReader) readMethod(token Token) (*MethodRecord, error) {
	methodDef, err := reader.metadata.Tables.MethodDef.Record(winmd.Index(token.Index - 1))
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", token, err)
	}

	header, err := ParseSignatureHeader([]byte(methodDef.Signature))
	if err != nil {
		return nil, fmt.Errorf("method %s signature: %w", methodDef.Name.String(), err)
	}
	methodSignature, err := reader.metadata.MethodDefSignature(methodDef.Signature)
	if err != nil {
		return nil, fmt.Errorf("method %s signature: %w", methodDef.Name.String(), err)
	}

	record := &MethodRecord{
		Token:             token,
		Name:              methodDef.Name.String(),
		CallingConvention: header.Convention,
		GenericArity:      header.GenericArity,
	}
	record.ReturnType, record.ReturnTypeName = reader.typeOf(methodSignature.RetType.Type)

	declaringType, found := reader.declaringType(token.Index - 1)
	if found {
		record.DeclaringType = declaringType
	}

	// Param rows are optional per parameter and sequence 0 describes the
	// return value, so rows are matched to signature positions by sequence.
	names := make(map[int]winmd.Param)
	for idx := methodDef.ParamList.Start; idx < methodDef.ParamList.End; idx++ {
		param, err := reader.metadata.Tables.Param.Record(idx)
		if err != nil {
			return nil, fmt.Errorf("method %s parameter: %w", record.Name, err)
		}
		if param.Sequence == 0 {
			continue
		}
		names[int(param.Sequence)-1] = *param
	}

	for i, methodParam := range methodSignature.Param {
		typeToken, typeName := reader.typeOf(methodParam.Type)
		name := fmt.Sprintf("arg%d", i)
		var attrs ParamAttributes
		if row, found := names[i]; found {
			name = row.Name.String()
			attrs = ParamAttributes(row.Flags)
		}
		param := NewParameter(name, attrs, typeToken, i, token, reader.Lookup)
		param.TypeName = typeName
		record.Params = append(record.Params, param)
	}

	return record, nil
}

func (reader *WinMdReader) declaringType(methodIndex uint32) (TypeRecord, bool) {
	table := reader.metadata.Tables.TypeDef
	for idx := uint32(0); idx < table.Len; idx++ {
		typeDef, err := table.Record(winmd.Index(idx))
		if err != nil {
			return TypeRecord{}, false
		}
		if uint32(typeDef.MethodList.Start) <= methodIndex && methodIndex < uint32(typeDef.MethodList.End) {
			typeFlags := uint32(typeDef.Flags)
			return TypeRecord{
				Token:       NewToken(KindTypeDef, idx+1),
				Namespace:   typeDef.Namespace.String(),
				Name:        typeDef.Name.String(),
				Visibility:  Visibility(typeFlags & typeVisibilityMask),
				IsInterface: typeFlags&typeInterface != 0,
			}, true
		}
	}
	return TypeRecord{}, false
}

// typeOf maps a signature type to a token and a Go type name.
func (reader *WinMdReader) typeOf(sigType winmd.SigType) (Token, string) {
	if name, found := builtInElementTypes[sigType.Kind]; found {
		return NewToken(KindPrimitive, uint32(sigType.Kind)), name
	}

	switch sigType.Kind {
	case flags.ElementType_VOID:
		return NilToken, ""
	case flags.ElementType_PTR:
		innerSigType, _ := sigType.Value.(winmd.SigType)
		token, name := reader.typeOf(innerSigType)
		return token, "*" + name
	case flags.ElementType_SZARRAY, flags.ElementType_ARRAY:
		innerSigType, _ := sigType.Value.(winmd.SigType)
		token, name := reader.typeOf(innerSigType)
		return token, "[]" + name
	}

	codedIndex, ok := sigType.Value.(winmd.CodedIndex)
	if !ok {
		return NewToken(KindPrimitive, uint32(sigType.Kind)), "uintptr"
	}
	typeRef, err := reader.metadata.Tables.TypeRef.Record(codedIndex.Index)
	if err != nil {
		return NewToken(KindTypeRef, uint32(codedIndex.Index)+1), "uintptr"
	}
	return NewToken(KindTypeRef, uint32(codedIndex.Index)+1), typeRef.Name.String()
}
