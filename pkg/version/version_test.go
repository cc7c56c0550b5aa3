package version_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/cochange/pkg/version"
)

func TestString(t *testing.T) {
	version.Init()
	version.Init()

	out := version.String()

	assert.True(t, strings.HasPrefix(out, version.Version+" (commit: "), out)
	assert.Contains(t, out, "built: "+version.Date)
	assert.NotEmpty(t, version.Version)
}
