package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamCheck(t *testing.T) {
	tests := []struct {
		name    string
		param   Param
		wantErr bool
	}{
		{"string", String("a"), false},
		{"int", Int(3), false},
		{"int32 declared int", Param{Value: int32(3), Type: TypeInt}, false},
		{"bool", Bool(true), false},
		{"null", Null(), false},
		{"nil string", NullableString(nil), false},
		{"nil int", NullableInt(nil), false},
		{"int declared string", Param{Value: 5, Type: TypeString}, true},
		{"string declared int", Param{Value: "5", Type: TypeInt}, true},
		{"int declared bool", Param{Value: 1, Type: TypeBool}, true},
		{"value declared null", Param{Value: "x", Type: TypeNull}, true},
		{"unknown type", Param{Value: "x", Type: ParamType(42)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.param.check()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParamsNormalizeStripsColon(t *testing.T) {
	p := Params{":email": String("a@b.c"), "id": Int(1)}
	n := p.normalize()
	assert.Equal(t, String("a@b.c"), n["email"])
	assert.Equal(t, Int(1), n["id"])
	assert.Len(t, n, 2)
}

func TestNullableConstructors(t *testing.T) {
	s := "x"
	var i int64 = 9
	assert.Equal(t, "x", NullableString(&s).Value)
	assert.Equal(t, int64(9), NullableInt(&i).Value)
	assert.Nil(t, NullableString(nil).Value)
	assert.Equal(t, TypeInt, NullableInt(nil).Type)
}

func TestAsInt64(t *testing.T) {
	for _, v := range []any{int64(7), int32(7), 7, float64(7), []byte("7"), "7"} {
		n, ok := AsInt64(v)
		require.True(t, ok, "%T", v)
		assert.Equal(t, int64(7), n)
	}
	_, ok := AsInt64("seven")
	assert.False(t, ok)
	_, ok = AsInt64(nil)
	assert.False(t, ok)
}
