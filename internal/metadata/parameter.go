package metadata

import "fmt"

// ParamAttributes is the attribute word of a Param row (ECMA-335 II.23.1.13).
type ParamAttributes uint16

const (
	ParamIn              ParamAttributes = 0x0001
	ParamOut             ParamAttributes = 0x0002
	ParamLcid            ParamAttributes = 0x0004
	ParamRetval          ParamAttributes = 0x0008
	ParamOptional        ParamAttributes = 0x0010
	ParamHasDefault      ParamAttributes = 0x1000
	ParamHasFieldMarshal ParamAttributes = 0x2000

	ParamNone ParamAttributes = 0
)

// Has tests a flag.
func (a ParamAttributes) Has(flag ParamAttributes) bool {
	return a&flag == flag
}

// With returns a with flag set or cleared.
func (a ParamAttributes) With(flag ParamAttributes, on bool) ParamAttributes {
	if on {
		return a | flag
	}
	return a &^ flag
}

// MethodLookup resolves a method token to its record. ParameterRecord uses
// it to reach its owner without holding on to the owner itself.
type MethodLookup func(Token) (*MethodRecord, bool)

// ParameterRecord describes one declared parameter of a method.
type ParameterRecord struct {
	Name         string
	Attributes   ParamAttributes
	DeclaredType Token
	TypeName     string
	Ordinal      int

	owner  Token
	lookup MethodLookup
}

// NewParameter creates a parameter owned by method. The owner never changes
// afterwards.
func NewParameter(name string, attrs ParamAttributes, declaredType Token, ordinal int, method Token, lookup MethodLookup) ParameterRecord {
	if ordinal < 0 {
		panic(fmt.Sprintf("parameter %q: negative ordinal %d", name, ordinal))
	}
	return ParameterRecord{
		Name:         name,
		Attributes:   attrs,
		DeclaredType: declaredType,
		Ordinal:      ordinal,
		owner:        method,
		lookup:       lookup,
	}
}

// NewDetachedParameter creates a parameter that belongs to no method.
func NewDetachedParameter(name string, attrs ParamAttributes, declaredType Token, ordinal int) ParameterRecord {
	return NewParameter(name, attrs, declaredType, ordinal, NilToken, nil)
}

// Owner returns the token of the owning method, or NilToken when detached.
func (p ParameterRecord) Owner() Token {
	return p.owner
}

// IsDetached reports whether p has no owning method.
func (p ParameterRecord) IsDetached() bool {
	return p.owner.IsNil() || p.lookup == nil
}

// Sequence is the position of the parameter in the method's argument list
// as the runtime sees it. Slot 0 belongs to the receiver of an instance
// method, so ordinals shift by one there. Returns -1 when detached.
func (p ParameterRecord) Sequence() int {
	if p.IsDetached() {
		return -1
	}
	method, found := p.lookup(p.owner)
	if !found {
		return -1
	}
	if method.HasThis() {
		return p.Ordinal + 1
	}
	return p.Ordinal
}

func (p ParameterRecord) IsIn() bool { return p.Attributes.Has(ParamIn) }
func (p ParameterRecord) IsOut() bool { return p.Attributes.Has(ParamOut) }
func (p ParameterRecord) IsLcid() bool { return p.Attributes.Has(ParamLcid) }
func (p ParameterRecord) IsReturnValue() bool { return p.Attributes.Has(ParamRetval) }
func (p ParameterRecord) IsOptional() bool { return p.Attributes.Has(ParamOptional) }
func (p ParameterRecord) HasDefault() bool { return p.Attributes.Has(ParamHasDefault) }
func (p ParameterRecord) HasFieldMarshal() bool { return p.Attributes.Has(ParamHasFieldMarshal) }

func (p *ParameterRecord) SetIn(on bool) { p.Attributes = p.Attributes.With(ParamIn, on) }
func (p *ParameterRecord) SetOut(on bool) { p.Attributes = p.Attributes.With(ParamOut, on) }
func (p *ParameterRecord) SetLcid(on bool) { p.Attributes = p.Attributes.With(ParamLcid, on) }
func (p *ParameterRecord) SetReturnValue(on bool) { p.Attributes = p.Attributes.With(ParamRetval, on) }
func (p *ParameterRecord) SetOptional(on bool) { p.Attributes = p.Attributes.With(ParamOptional, on) }
func (p *ParameterRecord) SetHasDefault(on bool) { p.Attributes = p.Attributes.With(ParamHasDefault, on) }
func (p *ParameterRecord) SetHasFieldMarshal(on bool) { p.Attributes = p.Attributes.With(ParamHasFieldMarshal, on) }
