package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValue_Accessors(t *testing.T) {
	n, ok := Number(3).AsNumber()
	require.True(t, ok)
	require.Equal(t, float64(3), n)

	_, ok = Number(3).AsString()
	require.False(t, ok)

	require.True(t, Null().IsNull())
}

func TestValue_JSONRoundTrip(t *testing.T) {
	v := Mapping(map[string]Value{
		"count": Number(2),
		"tags":  Sequence(String("a"), String("b")),
		"ok":    Bool(true),
	})

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal(data, &decoded))

	m, ok := decoded.AsMapping()
	require.True(t, ok)
	n, _ := m["count"].AsNumber()
	require.Equal(t, float64(2), n)
}

func TestValue_YAMLDecode(t *testing.T) {
	var v Value
	require.NoError(t, yaml.Unmarshal([]byte("a: 1\nb: two\nc: [1, 2]\n"), &v))

	m, ok := v.AsMapping()
	require.True(t, ok)

	n, ok := m["a"].AsNumber()
	require.True(t, ok)
	require.Equal(t, float64(1), n)

	s, ok := m["b"].AsString()
	require.True(t, ok)
	require.Equal(t, "two", s)

	seq, ok := m["c"].AsSequence()
	require.True(t, ok)
	require.Len(t, seq, 2)
}

func TestPayload_OkAndErr(t *testing.T) {
	p := Ok(Number(1))
	require.True(t, p.IsOk())
	v, ok := p.Value()
	require.True(t, ok)
	n, _ := v.AsNumber()
	require.Equal(t, float64(1), n)

	e := ErrEmpty()
	require.False(t, e.IsOk())
	_, ok = e.Value()
	require.False(t, ok)
}
