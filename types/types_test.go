package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringToColumnType(t *testing.T) {
	for _, s := range []string{"int", "long", "float", "double", "bool"} {
		ct, err := StringToColumnType(s)
		require.NoError(t, err)
		require.Equal(t, s, ct.String())
	}
	_, err := StringToColumnType("decimal(10,2)")
	require.Error(t, err)
}

func TestColumnTypesToString(t *testing.T) {
	s := ColumnTypesToString([]ColumnType{ColumnTypeInt64, ColumnTypeFloat64, ColumnTypeBool})
	require.Equal(t, "long,double,bool", s)
	require.True(t, ColumnTypesEqual(ColumnTypeInt32, ColumnTypeInt32))
	require.False(t, ColumnTypesEqual(ColumnTypeInt32, ColumnTypeInt64))
}

func TestAddressOf(t *testing.T) {
	p := AddressOf(1153)
	require.Equal(t, 1153, *p)
	b := AddressOf(true)
	require.True(t, *b)
}
