package persist_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/cochange/pkg/persist"
)

type testState struct {
	Name   string         `json:"name"   yaml:"name"`
	Count  int            `json:"count"  yaml:"count"`
	Values map[string]int `json:"values" yaml:"values"`
}

func sampleState() testState {
	return testState{Name: "test", Count: 42, Values: map[string]int{"a": 1, "b": 2}}
}

func TestCodecs_RoundTrip(t *testing.T) {
	t.Parallel()

	codecs := map[string]persist.Codec{
		"json":     persist.NewJSONCodec(),
		"yaml":     persist.NewYAMLCodec(),
		"json+lz4": persist.NewLZ4Codec(persist.NewJSONCodec()),
		"yaml+lz4": persist.NewLZ4Codec(persist.NewYAMLCodec()),
	}

	for name, codec := range codecs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer

			require.NoError(t, codec.Encode(&buf, sampleState()))

			var decoded testState

			require.NoError(t, codec.Decode(&buf, &decoded))
			assert.Equal(t, sampleState(), decoded)
		})
	}
}

func TestJSONCodec_CompactNoIndent(t *testing.T) {
	t.Parallel()

	codec := &persist.JSONCodec{}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, sampleState()))

	assert.LessOrEqual(t, strings.Count(buf.String(), "\n"), 1)
}

func TestJSONCodec_PrettyPrint(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, persist.NewJSONCodec().Encode(&buf, sampleState()))

	assert.Contains(t, buf.String(), "\n  \"name\"")
}

func TestJSONCodec_Errors(t *testing.T) {
	t.Parallel()

	codec := persist.NewJSONCodec()

	var decoded testState

	err := codec.Decode(strings.NewReader("not valid json{{{"), &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json decode")

	err = codec.Encode(&bytes.Buffer{}, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json encode")
}

func TestYAMLCodec_DecodeError(t *testing.T) {
	t.Parallel()

	var decoded testState

	err := persist.NewYAMLCodec().Decode(strings.NewReader("name: [unterminated"), &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yaml decode")
}

func TestLZ4Codec_CompressesRepetitiveData(t *testing.T) {
	t.Parallel()

	state := testState{Name: strings.Repeat("src/internal/cochange/graph.go ", 500)}

	var plain, packed bytes.Buffer

	require.NoError(t, persist.NewJSONCodec().Encode(&plain, state))
	require.NoError(t, persist.NewLZ4Codec(persist.NewJSONCodec()).Encode(&packed, state))

	assert.Less(t, packed.Len(), plain.Len())
}

func TestCodec_Extensions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".json", persist.NewJSONCodec().Extension())
	assert.Equal(t, ".yaml", persist.NewYAMLCodec().Extension())
	assert.Equal(t, ".yaml.lz4", persist.NewLZ4Codec(persist.NewYAMLCodec()).Extension())
}

func TestCodecFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		ext  string
	}{
		{path: "graph.json", ext: ".json"},
		{path: "out/graph.JSON", ext: ".json"},
		{path: "graph.yaml", ext: ".yaml"},
		{path: "graph.yml", ext: ".yaml"},
		{path: "graph.json.lz4", ext: ".json.lz4"},
		{path: "graph.yml.lz4", ext: ".yaml.lz4"},
	}

	for _, tt := range tests {
		codec, err := persist.CodecFor(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.ext, codec.Extension(), tt.path)
	}

	_, err := persist.CodecFor("graph.gob")
	require.ErrorIs(t, err, persist.ErrUnknownFormat)

	_, err = persist.CodecFor("graph.lz4")
	require.ErrorIs(t, err, persist.ErrUnknownFormat)
}

func TestCodecByName(t *testing.T) {
	t.Parallel()

	codec, err := persist.CodecByName("", false)
	require.NoError(t, err)
	assert.Equal(t, ".json", codec.Extension())

	codec, err = persist.CodecByName("yaml", true)
	require.NoError(t, err)
	assert.Equal(t, ".yaml.lz4", codec.Extension())

	_, err = persist.CodecByName("toml", false)
	require.ErrorIs(t, err, persist.ErrUnknownFormat)
}
