package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"b": 1, "a": []any{"x", true, nil}, "c": map[string]any{"z": 1, "y": 2}})
	require.NoError(t, err)
	require.Equal(t, `{"a":["x",true,null],"b":1,"c":{"y":2,"z":1}}`, string(data))
}

func TestMarshalStructFieldOrderIndependent(t *testing.T) {
	type ab struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	type ba struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	h1, _, err := Hash(ab{B: "x", A: 1})
	require.NoError(t, err)
	h2, _, err := Hash(ba{A: 1, B: "x"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestMarshalNormalizesUnicode(t *testing.T) {
	// "é" 的组合形式与预组合形式
	composed, err := Marshal(map[string]string{"name": "caf\u00e9"})
	require.NoError(t, err)
	decomposed, err := Marshal(map[string]string{"name": "cafe\u0301"})
	require.NoError(t, err)
	require.Equal(t, composed, decomposed)
}

func TestMarshalKeyCollision(t *testing.T) {
	_, err := Marshal(map[string]int{"caf\u00e9": 1, "cafe\u0301": 2})
	require.ErrorIs(t, err, ErrKeyCollision)
}

func TestMarshalKeepsNumberText(t *testing.T) {
	data, err := Marshal(map[string]any{"n": 12345678901234567, "f": 1.5})
	require.NoError(t, err)
	require.Equal(t, `{"f":1.5,"n":12345678901234567}`, string(data))
}
