package knowledge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalValueRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   Value
		json string
	}{
		{"text", KindText, Text("Help businesses grow"), `"Help businesses grow"`},
		{"empty text", KindText, Text(""), `""`},
		{"list", KindList, List{"churn", "runway"}, `["churn","runway"]`},
		{"empty list", KindList, List{}, `[]`},
		{"nil list", KindList, List(nil), `[]`},
		{"score", KindScore, Score(0.85), `0.85`},
		{"zero score", KindScore, Score(0), `0`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.json, string(data))

			back, err := UnmarshalValue(tt.kind, data)
			require.NoError(t, err)
			assert.True(t, Equal(tt.in, back), "round trip changed value: %v vs %v", tt.in, back)
		})
	}
}

func TestUnmarshalValueUnknownKind(t *testing.T) {
	_, err := UnmarshalValue(Kind("blob"), []byte(`"x"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown value kind")
}

func TestEqualListsOrderInsensitive(t *testing.T) {
	a := List{"pricing", "churn", "hiring"}
	b := List{"churn", "hiring", "pricing"}
	assert.True(t, Equal(a, b))

	c := List{"churn", "hiring"}
	assert.False(t, Equal(a, c))
}

func TestEqualTextTrimsWhitespace(t *testing.T) {
	assert.True(t, Equal(Text("  mission  "), Text("mission")))
	assert.False(t, Equal(Text("mission"), Text("vision")))
}

func TestEqualKindMismatch(t *testing.T) {
	assert.False(t, Equal(Text("0.85"), Score(0.85)))
	assert.False(t, Equal(List{"a"}, Text("a")))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(Text("")))
	assert.True(t, IsEmpty(Text("   \t\n")))
	assert.True(t, IsEmpty(List{}))
	assert.True(t, IsEmpty(List{"", "  "}))
	assert.True(t, IsEmpty(Score(math.NaN())))

	assert.False(t, IsEmpty(Text("x")))
	assert.False(t, IsEmpty(List{"", "x"}))
	assert.False(t, IsEmpty(Score(0)))
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(KindText, "Empower entrepreneurs")
	require.NoError(t, err)
	assert.Equal(t, Text("Empower entrepreneurs"), v)

	v, err = ParseValue(KindList, `["a","b"]`)
	require.NoError(t, err)
	assert.Equal(t, List{"a", "b"}, v)

	v, err = ParseValue(KindList, "a, b , c")
	require.NoError(t, err)
	assert.Equal(t, List{"a", "b", "c"}, v)

	v, err = ParseValue(KindScore, "0.85")
	require.NoError(t, err)
	assert.Equal(t, Score(0.85), v)

	_, err = ParseValue(KindScore, "strong")
	require.Error(t, err)
}

func TestFromPayload(t *testing.T) {
	v, err := FromPayload("mission text")
	require.NoError(t, err)
	assert.Equal(t, Text("mission text"), v)

	v, err = FromPayload(0.85)
	require.NoError(t, err)
	assert.Equal(t, Score(0.85), v)

	v, err = FromPayload([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, List{"a", "b"}, v)

	_, err = FromPayload([]any{"a", 1})
	require.Error(t, err)

	_, err = FromPayload(map[string]any{"nested": true})
	require.Error(t, err)
}

func TestValidateField(t *testing.T) {
	require.NoError(t, ValidateField(KeyMission, Text("x")))
	require.NoError(t, ValidateField(KeyHealthScore, Score(0.5)))
	require.NoError(t, ValidateField(KeyChallenges, List{"churn"}))

	err := ValidateField(Key("favoriteColor"), Text("blue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown knowledge field")

	err = ValidateField(KeyMission, Score(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected text")

	err = ValidateField(KeyMission, nil)
	require.Error(t, err)
}

func TestKeysSortedAndComplete(t *testing.T) {
	keys := Keys()
	assert.Len(t, keys, len(Registry))
	for i := 1; i < len(keys); i++ {
		assert.Less(t, string(keys[i-1]), string(keys[i]))
	}
}
