package near

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNEAR(t *testing.T) {
	cases := map[string]string{
		"0.1":  "100000000000000000000000",
		"5":    "5000000000000000000000000",
		"1.5":  "1500000000000000000000000",
		"0":    "0",
		".25":  "250000000000000000000000",
		"1e-0": "",
	}
	for in, want := range cases {
		got, err := ParseNEAR(in)
		if want == "" {
			assert.Error(t, err, in)
			continue
		}
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}
}

func TestFormatNEAR(t *testing.T) {
	assert.Equal(t, "0.1", MustParseNEAR("0.1").FormatNEAR())
	assert.Equal(t, "5", MustParseNEAR("5").FormatNEAR())
	assert.Equal(t, "0.00859", MustParseYocto("8590000000000000000000").FormatNEAR())
}

func TestAmountArithmetic(t *testing.T) {
	a := MustParseNEAR("1")
	b := MustParseNEAR("0.4")

	diff, ok := a.Sub(b)
	require.True(t, ok)
	assert.Equal(t, "0.6", diff.FormatNEAR())

	_, ok = b.Sub(a)
	assert.False(t, ok)

	assert.Equal(t, 1, a.Cmp(b))
	assert.Equal(t, "0.05", a.MulDiv(500, 10000).FormatNEAR())
}

func TestAmountU128(t *testing.T) {
	a := MustParseYocto("340282366920938463463374607431768211455")
	assert.Equal(t, a, AmountFromU128(a.U128()))

	one := OneYocto().U128()
	assert.Equal(t, byte(1), one[0])

	_, err := ParseYocto("340282366920938463463374607431768211456")
	assert.Error(t, err)
}

func TestAmountJSON(t *testing.T) {
	var payload struct {
		Price Amount `json:"price"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price":"1000000000000000000000000"}`), &payload))
	assert.Equal(t, "1", payload.Price.FormatNEAR())

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":"1000000000000000000000000"}`, string(raw))
}
