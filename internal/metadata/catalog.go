package metadata

import (
	"fmt"
	"reflect"
	"sync"
)

// Provider resolves method tokens to records. Implementations return a
// *MetadataNotFoundError for tokens they do not know.
type Provider interface {
	Method(token Token) (*MethodRecord, error)
}

// TypeSpec declares a type in a Catalog.
type TypeSpec struct {
	Namespace   string
	Name        string
	Visibility  Visibility
	IsInterface bool
	NoTrace     bool
}

// ParamSpec declares a parameter in a Catalog.
type ParamSpec struct {
	Name       string
	Attributes ParamAttributes
	Type       reflect.Type
}

// MethodSpec declares a method in a Catalog.
type MethodSpec struct {
	Name         string
	Type         Token // declaring type, NilToken for package level functions
	HasThis      bool
	GenericArity int
	Convention   CallingConvention // extra bits on top of HasThis/Generic
	Params       []ParamSpec
	Returns      reflect.Type
	NoTrace      bool
}

// Catalog is an in-process Provider. Programs declare the types and
// methods they want to make instrumentable and get tokens back.
// Catalog is safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	types      map[Token]TypeRecord
	methods    map[Token]*MethodRecord
	typeTokens map[reflect.Type]Token
	next       map[TokenKind]uint32
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		types:      make(map[Token]TypeRecord),
		methods:    make(map[Token]*MethodRecord),
		typeTokens: make(map[reflect.Type]Token),
		next:       make(map[TokenKind]uint32),
	}
}

// allocate hands out row indexes starting at 1, like metadata tables.
func (c *Catalog) allocate(kind TokenKind) Token {
	c.next[kind]++
	return NewToken(kind, c.next[kind])
}

// DefineType adds a type and returns its TypeDef token.
func (c *Catalog) DefineType(spec TypeSpec) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.allocate(KindTypeDef)
	c.types[token] = TypeRecord{
		Token:       token,
		Namespace:   spec.Namespace,
		Name:        spec.Name,
		Visibility:  spec.Visibility,
		IsInterface: spec.IsInterface,
		NoTrace:     spec.NoTrace,
	}
	return token
}

// DefineMethod adds a method and returns its MethodDef token.
func (c *Catalog) DefineMethod(spec MethodSpec) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var declaringType TypeRecord
	if !spec.Type.IsNil() {
		t, found := c.types[spec.Type]
		if !found {
			return NilToken, &MetadataNotFoundError{Token: spec.Type}
		}
		declaringType = t
	}
	if spec.GenericArity < 0 {
		return NilToken, fmt.Errorf("method %s: negative generic arity %d", spec.Name, spec.GenericArity)
	}

	conv := spec.Convention
	if spec.HasThis {
		conv |= ConvHasThis
	}
	if spec.GenericArity > 0 {
		conv |= ConvGeneric
	}

	token := c.allocate(KindMethodDef)
	record := &MethodRecord{
		Token:             token,
		Name:              spec.Name,
		DeclaringType:     declaringType,
		CallingConvention: conv,
		GenericArity:      spec.GenericArity,
		NoTrace:           spec.NoTrace,
	}
	if spec.Returns != nil {
		record.ReturnType = c.typeToken(spec.Returns)
		record.ReturnTypeName = spec.Returns.String()
	}
	for i, p := range spec.Params {
		param := NewParameter(p.Name, p.Attributes, c.typeToken(p.Type), i, token, c.Lookup)
		if p.Type != nil {
			param.TypeName = p.Type.String()
		}
		record.Params = append(record.Params, param)
	}
	c.methods[token] = record
	return token, nil
}

// typeToken gives every distinct Go type a stable TypeSpec token.
func (c *Catalog) typeToken(t reflect.Type) Token {
	if t == nil {
		return NilToken
	}
	if token, found := c.typeTokens[t]; found {
		return token
	}
	token := c.allocate(KindTypeSpec)
	c.typeTokens[t] = token
	return token
}

// Method implements Provider.
func (c *Catalog) Method(token Token) (*MethodRecord, error) {
	record, found := c.Lookup(token)
	if !found {
		return nil, &MetadataNotFoundError{Token: token}
	}
	return record, nil
}

// Lookup is the MethodLookup backing parameters created by this catalog.
func (c *Catalog) Lookup(token Token) (*MethodRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, found := c.methods[token]
	return record, found
}

// Type returns a declared type.
func (c *Catalog) Type(token Token) (TypeRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, found := c.types[token]
	return t, found
}

// DefineFunc declares a method whose parameters are taken from the Go
// function type of fn. With hasThis set, the first Go parameter is the
// receiver and is not listed as a declared parameter.
func (c *Catalog) DefineFunc(typeToken Token, name string, hasThis bool, fn any) (Token, error) {
	fnType := reflect.TypeOf(fn)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return NilToken, fmt.Errorf("method %s: %T is not a function", name, fn)
	}
	first := 0
	if hasThis {
		if fnType.NumIn() == 0 {
			return NilToken, fmt.Errorf("method %s: instance method without receiver argument", name)
		}
		first = 1
	}
	spec := MethodSpec{Name: name, Type: typeToken, HasThis: hasThis}
	for i := first; i < fnType.NumIn(); i++ {
		spec.Params = append(spec.Params, ParamSpec{
			Name: fmt.Sprintf("arg%d", i-first),
			Type: fnType.In(i),
		})
	}
	if fnType.NumOut() > 0 {
		spec.Returns = fnType.Out(0)
	}
	return c.DefineMethod(spec)
}

// FindMethod returns the method with the lowest token whose name or full
// name is name.
func (c *Catalog) FindMethod(name string) (*MethodRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var found *MethodRecord
	for _, record := range c.methods {
		if record.Name != name && record.FullName() != name {
			continue
		}
		if found == nil || record.Token.Index < found.Token.Index {
			found = record
		}
	}
	return found, found != nil
}
