package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_MarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		duration Duration
		expected string
	}{
		{"zero", Duration(0), `"0s"`},
		{"30 seconds", Duration(30 * time.Second), `"30s"`},
		{"5 minutes", Duration(5 * time.Minute), `"5m0s"`},
		{"1 hour", Duration(time.Hour), `"1h0m0s"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(tt.duration)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(b))
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Duration
		wantErr  bool
	}{
		{"string seconds", `"30s"`, Duration(30 * time.Second), false},
		{"string minutes", `"5m"`, Duration(5 * time.Minute), false},
		{"string composite", `"1h30m"`, Duration(90 * time.Minute), false},
		{"number nanoseconds", `1000000000`, Duration(time.Second), false},
		{"null", `null`, Duration(0), false},
		{"bad string", `"not-a-duration"`, 0, true},
		{"bool", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestDuration_YAMLRoundtrip(t *testing.T) {
	t.Parallel()

	in := Duration(45 * time.Second)
	b, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, "45s\n", string(b))

	var out Duration
	require.NoError(t, yaml.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestDuration_UnmarshalYAMLErrors(t *testing.T) {
	t.Parallel()

	var d Duration
	assert.Error(t, yaml.Unmarshal([]byte(`"bogus"`), &d))
	assert.Error(t, yaml.Unmarshal([]byte("[1, 2]"), &d))
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	type target struct {
		Timeout Duration `mapstructure:"timeout"`
	}

	tests := []struct {
		name     string
		input    map[string]any
		expected Duration
		wantErr  bool
	}{
		{"string", map[string]any{"timeout": "15s"}, Duration(15 * time.Second), false},
		{"int64", map[string]any{"timeout": int64(time.Minute)}, Duration(time.Minute), false},
		{"float64", map[string]any{"timeout": float64(time.Second)}, Duration(time.Second), false},
		{"bad string", map[string]any{"timeout": "soon"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out target
			dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
				DecodeHook: DurationDecodeHook(),
				Result:     &out,
			})
			require.NoError(t, err)

			err = dec.Decode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out.Timeout)
		})
	}
}
