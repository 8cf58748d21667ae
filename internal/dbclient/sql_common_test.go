package dbclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hotelpipe/internal/etl"
)

func TestKindOf(t *testing.T) {
	cases := map[string]etl.ColumnType{
		"BIGINT":            etl.TypeInteger,
		"int":               etl.TypeInteger,
		"INT8":              etl.TypeInteger,
		"UNSIGNED BIGINT":   etl.TypeInteger,
		"tinyint(1)":        etl.TypeInteger,
		"DOUBLE":            etl.TypeFloat,
		"FLOAT8":            etl.TypeFloat,
		"DECIMAL(10,2)":     etl.TypeFloat,
		"DOUBLE PRECISION":  etl.TypeFloat,
		"TEXT":              etl.TypeText,
		"VARCHAR(255)":      etl.TypeText,
		"CHARACTER VARYING": etl.TypeText,
		"INTERVAL":          "",
		"POINT":             "",
		"TIMESTAMP":         "",
		"":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, kindOf(in), in)
	}
}
