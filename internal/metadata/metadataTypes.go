package metadata

import "strings"

// CallingConvention is the header byte of a method signature (ECMA-335
// II.23.2.1): a convention in the low nibble plus modifier bits.
type CallingConvention uint8

const (
	ConvDefault  CallingConvention = 0x00
	ConvC        CallingConvention = 0x01
	ConvStdCall  CallingConvention = 0x02
	ConvThisCall CallingConvention = 0x03
	ConvFastCall CallingConvention = 0x04
	ConvVarArg   CallingConvention = 0x05

	ConvGeneric      CallingConvention = 0x10
	ConvHasThis      CallingConvention = 0x20
	ConvExplicitThis CallingConvention = 0x40

	convKindMask CallingConvention = 0x0f
)

// Kind strips the modifier bits.
func (c CallingConvention) Kind() CallingConvention {
	return c & convKindMask
}

func (c CallingConvention) IsGeneric() bool { return c&ConvGeneric != 0 }
func (c CallingConvention) HasThis() bool { return c&ConvHasThis != 0 }
func (c CallingConvention) HasExplicitThis() bool { return c&ConvExplicitThis != 0 }

func (c CallingConvention) String() string {
	var name string
	switch c.Kind() {
	case ConvDefault:
		name = "default"
	case ConvC:
		name = "cdecl"
	case ConvStdCall:
		name = "stdcall"
	case ConvThisCall:
		name = "thiscall"
	case ConvFastCall:
		name = "fastcall"
	case ConvVarArg:
		name = "vararg"
	default:
		name = "unknown"
	}
	parts := []string{name}
	if c.IsGeneric() {
		parts = append(parts, "generic")
	}
	if c.HasThis() {
		parts = append(parts, "instance")
	}
	if c.HasExplicitThis() {
		parts = append(parts, "explicit-this")
	}
	return strings.Join(parts, "|")
}

// Visibility is the visibility mask of a type's attribute word
// (ECMA-335 II.23.1.15).
type Visibility uint8

const (
	NotPublic               Visibility = 0x0
	Public                  Visibility = 0x1
	NestedPublic            Visibility = 0x2
	NestedPrivate           Visibility = 0x3
	NestedFamily            Visibility = 0x4
	NestedAssembly          Visibility = 0x5
	NestedFamilyAndAssembly Visibility = 0x6
	NestedFamilyOrAssembly  Visibility = 0x7
)

// IsAccessible reports whether code outside the declaring module may
// name the type.
func (v Visibility) IsAccessible() bool {
	return v == Public || v == NestedPublic
}

// TypeRecord describes the type declaring a method.
type TypeRecord struct {
	Token       Token
	Namespace   string
	Name        string
	Visibility  Visibility
	IsInterface bool
	NoTrace     bool
}

// FullName is the namespace qualified type name.
func (t TypeRecord) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// MethodRecord is what a Provider knows about a method. Records are never
// mutated once a provider has handed them out.
type MethodRecord struct {
	Token             Token
	Name              string
	DeclaringType     TypeRecord
	CallingConvention CallingConvention
	GenericArity      int
	Params            []ParameterRecord
	ReturnType        Token
	ReturnTypeName    string
	NoTrace           bool
}

// HasThis reports whether the method takes an implicit receiver.
func (m *MethodRecord) HasThis() bool {
	return m.CallingConvention.HasThis()
}

// FullName is `Namespace.Type.Method`.
func (m *MethodRecord) FullName() string {
	if m.DeclaringType.Name == "" {
		return m.Name
	}
	return m.DeclaringType.FullName() + "." + m.Name
}
