package types

import (
	"strings"

	"github.com/spirit-labs/preagg/errors"
)

type ColumnTypeID int

const (
	ColumnTypeIDInt32 = iota + 1
	ColumnTypeIDInt64
	ColumnTypeIDFloat32
	ColumnTypeIDFloat64
	ColumnTypeIDBool
)

var ColumnTypeInt32 = &scalarType{id: ColumnTypeIDInt32}
var ColumnTypeInt64 = &scalarType{id: ColumnTypeIDInt64}
var ColumnTypeFloat32 = &scalarType{id: ColumnTypeIDFloat32}
var ColumnTypeFloat64 = &scalarType{id: ColumnTypeIDFloat64}
var ColumnTypeBool = &scalarType{id: ColumnTypeIDBool}

type scalarType struct {
	id ColumnTypeID
}

func (n scalarType) ID() ColumnTypeID {
	return n.id
}

func (n scalarType) String() string {
	switch n.id {
	case ColumnTypeIDInt32:
		return "int"
	case ColumnTypeIDInt64:
		return "long"
	case ColumnTypeIDFloat32:
		return "float"
	case ColumnTypeIDFloat64:
		return "double"
	case ColumnTypeIDBool:
		return "bool"
	default:
		panic("unexpected type")
	}
}

func StringToColumnType(sColumnType string) (ColumnType, error) {
	var cType ColumnType
	switch strings.TrimSpace(sColumnType) {
	case "int":
		cType = ColumnTypeInt32
	case "long":
		cType = ColumnTypeInt64
	case "float":
		cType = ColumnTypeFloat32
	case "double":
		cType = ColumnTypeFloat64
	case "bool":
		cType = ColumnTypeBool
	default:
		return nil, errors.Errorf("invalid type '%s'", sColumnType)
	}
	return cType, nil
}

func ColumnTypesToString(columnTypes []ColumnType) string {
	var sb strings.Builder
	for i, ct := range columnTypes {
		sb.WriteString(ct.String())
		if i != len(columnTypes)-1 {
			sb.WriteString(",")
		}
	}
	return sb.String()
}

type ColumnType interface {
	ID() ColumnTypeID
	String() string
}

func ColumnTypesEqual(ct1 ColumnType, ct2 ColumnType) bool {
	return ct1.ID() == ct2.ID()
}
