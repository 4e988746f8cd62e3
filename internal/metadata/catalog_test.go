package metadata

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Basket struct{}

func (b *Basket) Total(ctx context.Context, discount float64) (int, error) { return 0, nil }

func TestCatalogDefineFunc(t *testing.T) {
	catalog := NewCatalog()
	basket := catalog.DefineType(TypeSpec{Namespace: "shop", Name: "Basket", Visibility: Public})
	token, err := catalog.DefineFunc(basket, "Total", true, (*Basket).Total)
	require.NoError(t, err)
	assert.Equal(t, NewToken(KindMethodDef, 1), token)

	record, err := catalog.Method(token)
	require.NoError(t, err)
	assert.Equal(t, "shop.Basket.Total", record.FullName())
	assert.True(t, record.HasThis())
	assert.Equal(t, ConvHasThis, record.CallingConvention)
	assert.Equal(t, "int", record.ReturnTypeName)
	require.Len(t, record.Params, 2)
	assert.Equal(t, "arg0", record.Params[0].Name)
	assert.Equal(t, "context.Context", record.Params[0].TypeName)
	assert.Equal(t, "float64", record.Params[1].TypeName)
	assert.Equal(t, 1, record.Params[1].Ordinal)
	assert.Equal(t, KindTypeSpec, record.Params[0].DeclaredType.Kind)

	again, err := catalog.DefineFunc(basket, "Total2", true, (*Basket).Total)
	require.NoError(t, err)
	second, err := catalog.Method(again)
	require.NoError(t, err)
	assert.Equal(t, record.Params[1].DeclaredType, second.Params[1].DeclaredType, "a Go type keeps its token")

	declared, found := catalog.Type(basket)
	require.True(t, found)
	assert.Equal(t, "shop.Basket", declared.FullName())
}

func TestCatalogDefineFuncErrors(t *testing.T) {
	catalog := NewCatalog()
	_, err := catalog.DefineFunc(NilToken, "NotFunc", false, 42)
	assert.ErrorContains(t, err, "is not a function")
	_, err = catalog.DefineFunc(NilToken, "NoReceiver", true, func() {})
	assert.ErrorContains(t, err, "without receiver")
}

func TestCatalogDefineMethod(t *testing.T) {
	catalog := NewCatalog()

	_, err := catalog.DefineMethod(MethodSpec{Name: "Orphan", Type: NewToken(KindTypeDef, 7)})
	var notFound *MetadataNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, NewToken(KindTypeDef, 7), notFound.Token)

	_, err = catalog.DefineMethod(MethodSpec{Name: "Bad", GenericArity: -1})
	assert.ErrorContains(t, err, "negative generic arity")

	token, err := catalog.DefineMethod(MethodSpec{
		Name:         "Map",
		GenericArity: 2,
		Returns:      reflect.TypeFor[error](),
	})
	require.NoError(t, err)
	record, err := catalog.Method(token)
	require.NoError(t, err)
	assert.True(t, record.CallingConvention.IsGeneric())
	assert.Equal(t, 2, record.GenericArity)
	assert.Equal(t, "Map", record.FullName())
	assert.Equal(t, "error", record.ReturnTypeName)
}

func TestCatalogMissingMethod(t *testing.T) {
	_, err := NewCatalog().Method(NewToken(KindMethodDef, 1))
	var notFound *MetadataNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "no metadata for MethodDef(0x06000001)", err.Error())
}

func TestCatalogFindMethod(t *testing.T) {
	catalog := NewCatalog()
	first := catalog.DefineType(TypeSpec{Namespace: "a", Name: "First"})
	second := catalog.DefineType(TypeSpec{Namespace: "b", Name: "Second"})
	one, err := catalog.DefineMethod(MethodSpec{Name: "Run", Type: first})
	require.NoError(t, err)
	two, err := catalog.DefineMethod(MethodSpec{Name: "Run", Type: second})
	require.NoError(t, err)

	record, found := catalog.FindMethod("Run")
	require.True(t, found)
	assert.Equal(t, one, record.Token)

	record, found = catalog.FindMethod("b.Second.Run")
	require.True(t, found)
	assert.Equal(t, two, record.Token)

	_, found = catalog.FindMethod("Walk")
	assert.False(t, found)
}
