package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int
	}{
		{"Int", 42, 42},
		{"Int64", int64(42), 42},
		{"JSONNumber", float64(1500), 1500},
		{"NumberToken", json.Number("1500"), 1500},
		{"NumericString", "1500", 1500},
		{"Bytes", []byte("7"), 7},
		{"Garbage", "not a number", 0},
		{"Nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToInt(tt.val))
		})
	}
}

func TestToString(t *testing.T) {
	assert.Equal(t, "abc", ToString("abc"))
	assert.Equal(t, `{"a":1}`, ToString(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "abc", ToString([]byte("abc")))
	assert.Equal(t, "42", ToString(42))
	assert.Equal(t, "", ToString(nil))
}

func TestToBool(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want bool
	}{
		{"True", true, true},
		{"One", 1, true},
		{"JSONOne", float64(1), true},
		{"StringOne", "1", true},
		{"StringTrue", "TRUE", true},
		{"Zero", 0, false},
		{"Empty", "", false},
		{"Other", "yes", false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToBool(tt.val))
		})
	}
}
