package levenshtein_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/cochange/pkg/levenshtein"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"", "a", 1},
		{"a", "", 1},
		{"a", "a", 0},
		{"kitten", "sitting", 3},
		{"Fön", "Föm", 1},
		{"insert", "inser", 1},
		{"abc", "def", 3},
	}

	var ctx levenshtein.Context

	for _, tt := range tests {
		assert.Equal(t, tt.want, ctx.Distance(tt.s1, tt.s2), "%q -> %q", tt.s1, tt.s2)
	}
}

func TestClosest(t *testing.T) {
	t.Parallel()

	paths := []string{"cmd/main.go", "internal/server/server.go", "internal/server/pool.go"}

	var ctx levenshtein.Context

	got, ok := ctx.Closest("internal/server/servre.go", slices.Values(paths), 2)
	assert.True(t, ok)
	assert.Equal(t, "internal/server/server.go", got)

	got, ok = ctx.Closest("cmd/main.go", slices.Values(paths), 0)
	assert.True(t, ok)
	assert.Equal(t, "cmd/main.go", got)

	_, ok = ctx.Closest("docs/README.md", slices.Values(paths), 2)
	assert.False(t, ok)

	_, ok = ctx.Closest("x", slices.Values([]string(nil)), 5)
	assert.False(t, ok)
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	paths := []string{"a.go", "pkg/persist/codec.go"}

	got, ok := levenshtein.Suggest("pkg/persist/codek.go", slices.Values(paths))
	assert.True(t, ok)
	assert.Equal(t, "pkg/persist/codec.go", got)

	_, ok = levenshtein.Suggest("zzzzzz", slices.Values(paths))
	assert.False(t, ok)
}
