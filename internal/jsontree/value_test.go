package jsontree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKinds(t *testing.T) {
	v, err := Parse([]byte(`{"s":"x","n":1.5,"b":true,"z":null,"a":[1,"two"],"o":{"k":"v"}}`))
	require.NoError(t, err)
	require.Equal(t, Object, v.Kind)

	keys := make([]string, 0, len(v.Members))
	for _, m := range v.Members {
		keys = append(keys, m.Key)
	}
	assert.Equal(t, []string{"s", "n", "b", "z", "a", "o"}, keys)

	s, ok := v.Field("s")
	require.True(t, ok)
	assert.Equal(t, String, s.Kind)
	assert.Equal(t, "x", s.Str)

	n, _ := v.Field("n")
	assert.Equal(t, Number, n.Kind)
	assert.Equal(t, "1.5", n.Number.String())

	b, _ := v.Field("b")
	assert.True(t, b.Bool)

	z, _ := v.Field("z")
	assert.Equal(t, Null, z.Kind)

	a, _ := v.Field("a")
	require.Equal(t, Array, a.Kind)
	assert.Len(t, a.Items, 2)

	o, _ := v.Field("o")
	inner, ok := o.Field("k")
	require.True(t, ok)
	assert.Equal(t, "v", inner.Str)

	_, ok = v.Field("missing")
	assert.False(t, ok)
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, input := range []string{``, `{`, `{"a":}`, `{"a":1} trailing`, `[1,2`, `{1:2}`} {
		_, err := Parse([]byte(input))
		assert.ErrorIs(t, err, ErrInvalid, "input %q", input)
	}
}

func TestParseDepthLimit(t *testing.T) {
	deep := strings.Repeat("[", maxDepth+2) + strings.Repeat("]", maxDepth+2)
	_, err := Parse([]byte(deep))
	require.ErrorIs(t, err, ErrTooDeep)
}

func TestFieldDuplicateKeyLastWins(t *testing.T) {
	v, err := Parse([]byte(`{"image":"first","image":"second"}`))
	require.NoError(t, err)

	got, ok := v.Field("image")
	require.True(t, ok)
	assert.Equal(t, "second", got.Str)
}

func TestFindStringOrder(t *testing.T) {
	v, err := Parse([]byte(`{"b":[{"x":"skip"},{"y":"hit-1"}],"a":"hit-2"}`))
	require.NoError(t, err)

	found, ok := FindString(v, func(s string) (string, bool) {
		return s, strings.HasPrefix(s, "hit")
	})
	require.True(t, ok)
	assert.Equal(t, "hit-1", found)

	_, ok = FindString(v, func(string) (string, bool) { return "", false })
	assert.False(t, ok)
}

func TestFindStringDuplicateKeys(t *testing.T) {
	v, err := Parse([]byte(`{"a":"x","b":"hit-b","a":"hit-a","c":{"d":"hit-stale","d":1}}`))
	require.NoError(t, err)

	var seen []string
	found, ok := FindString(v, func(s string) (string, bool) {
		seen = append(seen, s)
		return s, strings.HasPrefix(s, "hit")
	})
	require.True(t, ok)
	assert.Equal(t, "hit-a", found)
	assert.Equal(t, []string{"hit-a"}, seen)

	c, _ := v.Field("c")
	_, ok = FindString(c, func(s string) (string, bool) { return s, true })
	assert.False(t, ok, "overwritten string must not be visited")
}

func TestUnique(t *testing.T) {
	v, err := Parse([]byte(`{"a":1,"b":2,"a":3,"c":4,"b":5}`))
	require.NoError(t, err)
	require.Len(t, v.Members, 5)

	got := v.Unique()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, "3", got[0].Value.Number.String())
	assert.Equal(t, "b", got[1].Key)
	assert.Equal(t, "5", got[1].Value.Number.String())
	assert.Equal(t, "c", got[2].Key)

	assert.Nil(t, Value{Kind: Array}.Unique())
}

func TestValueBytes(t *testing.T) {
	v, err := Parse([]byte(`[137, 80, 78, 71]`))
	require.NoError(t, err)

	b, ok := v.Bytes()
	require.True(t, ok)
	assert.Equal(t, []byte{137, 80, 78, 71}, b)

	v, err = Parse([]byte(`[1, 256]`))
	require.NoError(t, err)
	_, ok = v.Bytes()
	assert.False(t, ok)

	_, ok = Value{Kind: String, Str: "x"}.Bytes()
	assert.False(t, ok)
}
