package persist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/cochange/pkg/persist"
)

func TestSaveFile_LoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	codec := persist.NewJSONCodec()

	require.NoError(t, persist.SaveFile(path, codec, sampleState()))

	var loaded testState

	require.NoError(t, persist.LoadFile(path, codec, &loaded))
	assert.Equal(t, sampleState(), loaded)
}

func TestSaveFile_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, persist.SaveFile(path, persist.NewJSONCodec(), sampleState()))
	require.NoError(t, persist.SaveFile(path, persist.NewJSONCodec(), sampleState()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestSaveFile_EncodeErrorKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	codec := persist.NewJSONCodec()

	require.NoError(t, persist.SaveFile(path, codec, sampleState()))

	err := persist.SaveFile(path, codec, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode")

	var loaded testState

	require.NoError(t, persist.LoadFile(path, codec, &loaded))
	assert.Equal(t, sampleState(), loaded)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveFile_InvalidDirectory(t *testing.T) {
	t.Parallel()

	err := persist.SaveFile("/nonexistent/path/that/does/not/exist/x.json", persist.NewJSONCodec(), sampleState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create")
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := persist.NewJSONCodec()

	var state testState

	err := persist.LoadFile(filepath.Join(dir, "missing.json"), codec, &state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("not json{{{"), 0o600))

	err = persist.LoadFile(corrupt, codec, &state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"state.json", "state.yaml", "state.json.lz4"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), name)

			p, err := persist.NewPersister[testState](path)
			require.NoError(t, err)
			assert.Equal(t, path, p.Path())

			original := sampleState()
			require.NoError(t, p.Save(&original))

			loaded, err := p.Load()
			require.NoError(t, err)
			assert.Equal(t, original, *loaded)
		})
	}
}

func TestPersister_UnknownExtension(t *testing.T) {
	t.Parallel()

	_, err := persist.NewPersister[testState]("state.bin")
	require.ErrorIs(t, err, persist.ErrUnknownFormat)
}

func TestPersister_LoadMissingFile(t *testing.T) {
	t.Parallel()

	p := persist.NewPersisterWithCodec[testState](filepath.Join(t.TempDir(), "missing.yaml"), persist.NewYAMLCodec())

	_, err := p.Load()
	assert.Error(t, err)
}
