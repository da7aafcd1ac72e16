package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "specforge")
	assert.Contains(t, out, "commit")
}
