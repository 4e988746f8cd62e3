package metadata

import "fmt"

// TokenKind is the table a token points into. Values follow the ECMA-335
// II.22 table numbers so that raw tokens read from a module round-trip.
type TokenKind uint8

const (
	KindModule     TokenKind = 0x00
	KindTypeRef    TokenKind = 0x01
	KindTypeDef    TokenKind = 0x02
	KindField      TokenKind = 0x04
	KindMethodDef  TokenKind = 0x06
	KindParam      TokenKind = 0x08
	KindMemberRef  TokenKind = 0x0a
	KindTypeSpec   TokenKind = 0x1b
	KindMethodSpec TokenKind = 0x2b
	KindString     TokenKind = 0x70

	// KindPrimitive is not a table. Its index is a signature element type
	// code (I4, STRING, ...) so built-in parameter types get a token too.
	KindPrimitive TokenKind = 0xfe
)

var kindNames = map[TokenKind]string{
	KindModule:     "Module",
	KindTypeRef:    "TypeRef",
	KindTypeDef:    "TypeDef",
	KindField:      "Field",
	KindMethodDef:  "MethodDef",
	KindParam:      "Param",
	KindMemberRef:  "MemberRef",
	KindTypeSpec:   "TypeSpec",
	KindMethodSpec: "MethodSpec",
	KindString:     "String",
	KindPrimitive:  "Primitive",
}

func (k TokenKind) String() string {
	if name, found := kindNames[k]; found {
		return name
	}
	return fmt.Sprintf("Kind(0x%02x)", uint8(k))
}

// Token names an entity within a module's symbol space. Tokens are
// comparable and two tokens are equal when kind and index are.
type Token struct {
	Kind  TokenKind
	Index uint32
}

// NilToken is the zero token. It never names an entity.
var NilToken = Token{}

const indexMask = 0x00ffffff

// NewToken builds a token. Indexes wider than 24 bits are truncated, the
// same way the metadata format stores them.
func NewToken(kind TokenKind, index uint32) Token {
	return Token{Kind: kind, Index: index & indexMask}
}

// TokenFromRaw unpacks a token in its `kind<<24 | index` form.
func TokenFromRaw(raw uint32) Token {
	return Token{Kind: TokenKind(raw >> 24), Index: raw & indexMask}
}

// Raw packs the token as `kind<<24 | index`.
func (t Token) Raw() uint32 {
	return uint32(t.Kind)<<24 | t.Index&indexMask
}

// IsNil reports whether t is the zero token.
func (t Token) IsNil() bool {
	return t == NilToken
}

func (t Token) String() string {
	return fmt.Sprintf("%s(0x%08x)", t.Kind, t.Raw())
}
