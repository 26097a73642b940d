package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  string
	}{
		{name: "empty", value: "", want: ""},
		{name: "whitespace_only", value: "   ", want: ""},
		{name: "short_value_fully_masked", value: "abcd", want: "****"},
		{name: "keeps_last_four", value: "supersecret", want: "****cret"},
		{name: "keeps_key_prefix", value: "qg_live_abcdef123456", want: "qg_live_****3456"},
		{name: "short_suffix_after_prefix", value: "qg_abc", want: "qg_****"},
		{name: "trailing_underscore", value: "token_", want: "****ken_"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MaskSecret(tc.value))
		})
	}
}

func TestMaskJSON(t *testing.T) {
	input := map[string]any{
		"api_key": "qg_live_abcdef123456",
		"count":   7,
		"nested": map[string]any{
			"password": "hunter22",
		},
		"list": []any{"secretvalue", 42},
		"  ":   "dropped with blank key",
	}

	masked := MaskJSON(input)
	require := assert.New(t)
	require.Equal("qg_live_****3456", masked["api_key"])
	require.Equal(7, masked["count"])
	require.Equal(map[string]any{"password": "****er22"}, masked["nested"])
	require.Equal([]any{"****alue", 42}, masked["list"])
	require.NotContains(masked, "  ")

	assert.Nil(t, MaskJSON(nil))
	assert.Nil(t, MaskJSON(map[string]any{" ": "only blank keys"}))
}
